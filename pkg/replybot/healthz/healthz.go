// Package healthz serves the liveness and readiness endpoints probed by the
// process supervisor or hosting platform.
package healthz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ReadyFunc reports whether the messaging client is ready.
type ReadyFunc func() bool

// NewHandler returns the router:
//
//	GET /         200 "ReplyBot is running!"
//	GET /healthz  200 "OK" when ready, 500 "Client not ready" otherwise
func NewHandler(name string, ready ReadyFunc) http.Handler {
	if name == "" {
		name = "ReplyBot"
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, name+" is running!")
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && ready() {
			writeText(w, http.StatusOK, "OK")
			return
		}
		writeText(w, http.StatusInternalServerError, "Client not ready")
	})
	return r
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	w.Write([]byte(body))
}

// Server runs the health endpoints until its context ends.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a server listening on addr.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With("component", "healthz"),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.srv.Addr }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("health server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("health server shutdown: %w", err)
	}
	s.logger.Info("health server stopped")
	return nil
}

// Probe performs GET <baseURL>/healthz and returns an error unless it
// answers 200.
func Probe(ctx context.Context, client *http.Client, baseURL string) error {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probing %s: %w", baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not healthy: %s", resp.Status)
	}
	return nil
}
