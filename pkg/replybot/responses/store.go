package responses

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultResponsesFile = "./learned.json"
	defaultSnapshotDir   = "./backups"

	snapshotPrefix = "responses_"
	snapshotExt    = ".json"

	// snapshotTimeLayout is an ISO-8601 timestamp with ':' and '.' replaced
	// so the name is valid on every filesystem and sorts chronologically.
	snapshotTimeLayout = "2006-01-02T15-04-05.000Z"
)

// StoreConfig configures where the table lives on disk.
type StoreConfig struct {
	// Path is the primary JSON record.
	Path string `yaml:"responses_file"`

	// SnapshotDir receives timestamped copies of the table.
	SnapshotDir string `yaml:"snapshot_dir"`

	// SnapshotRetention keeps only the newest N snapshots (0 = keep all).
	SnapshotRetention int `yaml:"snapshot_retention"`
}

// Store loads and saves the learned-response table.
//
// Failures never escape as panics: Load degrades to an empty table, Save
// and Snapshot log and return an error wrapping ErrPersistence so callers
// may decide whether to surface it.
type Store struct {
	cfg    StoreConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a Store, applying defaults for empty paths.
func NewStore(cfg StoreConfig, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = defaultResponsesFile
	}
	if cfg.SnapshotDir == "" {
		cfg.SnapshotDir = defaultSnapshotDir
	}
	return &Store{
		cfg:    cfg,
		logger: logger.With("component", "responses"),
		now:    time.Now,
	}
}

// Path returns the primary record location.
func (s *Store) Path() string { return s.cfg.Path }

// SnapshotDir returns the snapshot directory.
func (s *Store) SnapshotDir() string { return s.cfg.SnapshotDir }

// Load reads the persisted table. A missing file yields an empty table.
// An unreadable or corrupt file also yields an empty table; the corrupt
// file is renamed aside so the next Save cannot overwrite it.
func (s *Store) Load() *Table {
	data, err := os.ReadFile(s.cfg.Path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("no learned responses yet", "path", s.cfg.Path)
		return NewTable()
	}
	if err != nil {
		s.logger.Warn("failed to read learned responses, starting empty",
			"path", s.cfg.Path, "error", err)
		return NewTable()
	}

	t := NewTable()
	if len(strings.TrimSpace(string(data))) == 0 {
		return t
	}
	if err := t.UnmarshalJSON(data); err != nil {
		s.logger.Warn("learned responses file is corrupt, starting empty",
			"path", s.cfg.Path, "error", err)
		s.quarantine()
		return NewTable()
	}

	s.logger.Info("loaded learned responses", "count", t.Len(), "path", s.cfg.Path)
	return t
}

// quarantine moves a corrupt record out of the way.
func (s *Store) quarantine() {
	bak := s.cfg.Path + ".corrupt-" + s.now().UTC().Format(snapshotTimeLayout)
	if err := os.Rename(s.cfg.Path, bak); err != nil {
		s.logger.Warn("failed to move corrupt responses file aside", "error", err)
		return
	}
	s.logger.Warn("corrupt responses file moved aside", "backup", bak)
}

// Save writes the full table to the primary record atomically.
func (s *Store) Save(t *Table) error {
	data, err := t.MarshalIndented()
	if err != nil {
		return s.fail("save", err)
	}
	if err := writeFileAtomic(s.cfg.Path, data); err != nil {
		return s.fail("save", err)
	}
	s.logger.Debug("responses saved", "count", t.Len(), "path", s.cfg.Path)
	return nil
}

// Snapshot writes a timestamped copy of the table into the snapshot
// directory and returns its path.
func (s *Store) Snapshot(t *Table) (string, error) {
	data, err := t.MarshalIndented()
	if err != nil {
		return "", s.fail("snapshot", err)
	}
	if err := os.MkdirAll(s.cfg.SnapshotDir, 0o755); err != nil {
		return "", s.fail("snapshot", err)
	}

	base := snapshotPrefix + s.now().UTC().Format(snapshotTimeLayout)
	path, f, err := createUnique(s.cfg.SnapshotDir, base, snapshotExt)
	if err != nil {
		return "", s.fail("snapshot", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", s.fail("snapshot", err)
	}
	if err := f.Close(); err != nil {
		return "", s.fail("snapshot", err)
	}

	s.logger.Info("backup created", "path", path, "count", t.Len())
	s.prune()
	return path, nil
}

// Snapshots lists snapshot files, oldest first.
func (s *Store) Snapshots() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.SnapshotDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: listing snapshots: %w", ErrPersistence, err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ti, si := snapshotOrder(names[i])
		tj, sj := snapshotOrder(names[j])
		if ti != tj {
			return ti < tj
		}
		return si < sj
	})

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(s.cfg.SnapshotDir, n)
	}
	return paths, nil
}

// snapshotOrder splits a snapshot name into its timestamp and the collision
// counter added by createUnique, so "<ts>-1" sorts after "<ts>". Names that
// do not follow the layout sort by their full stem.
func snapshotOrder(name string) (string, int) {
	stem := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotExt)
	if i := strings.LastIndex(stem, "Z-"); i >= 0 {
		if seq, err := strconv.Atoi(stem[i+2:]); err == nil {
			return stem[:i+1], seq
		}
	}
	return stem, 0
}

// prune removes the oldest snapshots beyond the retention limit.
func (s *Store) prune() {
	if s.cfg.SnapshotRetention <= 0 {
		return
	}
	paths, err := s.Snapshots()
	if err != nil {
		s.logger.Warn("snapshot prune skipped", "error", err)
		return
	}
	for len(paths) > s.cfg.SnapshotRetention {
		if err := os.Remove(paths[0]); err != nil {
			s.logger.Warn("failed to prune snapshot", "path", paths[0], "error", err)
		}
		paths = paths[1:]
	}
}

func (s *Store) fail(op string, err error) error {
	s.logger.Error("responses "+op+" failed", "path", s.cfg.Path, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// createUnique creates dir/base+ext exclusively, falling back to
// dir/base-N+ext when the name is taken.
func createUnique(dir, base, ext string) (string, *os.File, error) {
	for i := 0; i < 1000; i++ {
		name := base + ext
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return path, f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", nil, err
		}
	}
	return "", nil, fmt.Errorf("no free snapshot name for %s", base)
}
