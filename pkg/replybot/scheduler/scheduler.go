// Package scheduler runs named periodic jobs on robfig/cron. ReplyBot uses
// it for the timed snapshot of the learned-response table.
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler manages named cron jobs.
type Scheduler struct {
	cron *cron.Cron

	// ids maps job names to their cron entry IDs for removal.
	ids map[string]cron.EntryID

	// running tracks jobs currently executing so a slow run is not
	// overlapped by the next tick.
	running map[string]bool

	started bool
	logger  *slog.Logger
	mu      sync.Mutex
}

// New creates a stopped scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithParser(specParser)),
		ids:     make(map[string]cron.EntryID),
		running: make(map[string]bool),
		logger:  logger.With("component", "scheduler"),
	}
}

// Add registers fn under name. expr may be a cron expression, a descriptor
// ("@hourly", "@every 30m") or a phrase understood by ParseSchedule.
func (s *Scheduler) Add(name, expr string, fn func()) error {
	if name == "" || fn == nil {
		return fmt.Errorf("job needs a name and a function")
	}
	spec, err := ParseSchedule(expr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ids[name]; exists {
		return fmt.Errorf("job %q already exists", name)
	}

	id, err := s.cron.AddFunc(spec, func() { s.execute(name, fn) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	s.ids[name] = id

	s.logger.Info("job added", "name", name, "schedule", spec)
	return nil
}

// Remove unregisters a job.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.ids[name]
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	s.cron.Remove(id)
	delete(s.ids, name)
	s.logger.Info("job removed", "name", name)
	return nil
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.ids))
	for name := range s.ids {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Next returns the next run time of a job. It is zero until Start.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.ids[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.ids))
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("scheduler stop timed out")
	}
	s.logger.Info("scheduler stopped")
}

// execute runs one tick of a job, skipping it if the previous run is still
// active. Panics are logged and do not stop the scheduler.
func (s *Scheduler) execute(name string, fn func()) {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.Warn("job still running, skipping tick", "name", name)
		return
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()

		if r := recover(); r != nil {
			s.logger.Error("scheduled job panicked", "name", name, "panic", r)
		}
	}()

	s.logger.Debug("running job", "name", name)
	fn()
}
