package healthz

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestHandler(t *testing.T) {
	t.Parallel()
	var ready atomic.Bool
	h := NewHandler("", ready.Load)

	t.Run("root", func(t *testing.T) {
		code, body := get(t, h, "/")
		if code != http.StatusOK || body != "ReplyBot is running!" {
			t.Errorf("got %d %q", code, body)
		}
	})

	t.Run("not ready", func(t *testing.T) {
		code, body := get(t, h, "/healthz")
		if code != http.StatusInternalServerError || body != "Client not ready" {
			t.Errorf("got %d %q", code, body)
		}
	})

	t.Run("ready", func(t *testing.T) {
		ready.Store(true)
		defer ready.Store(false)
		code, body := get(t, h, "/healthz")
		if code != http.StatusOK || body != "OK" {
			t.Errorf("got %d %q", code, body)
		}
	})

	t.Run("unknown path", func(t *testing.T) {
		if code, _ := get(t, h, "/metrics"); code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", code)
		}
	})

	t.Run("nil ready func is not ready", func(t *testing.T) {
		if code, _ := get(t, NewHandler("x", nil), "/healthz"); code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", code)
		}
	})
}

func TestProbe(t *testing.T) {
	t.Parallel()
	var ready atomic.Bool
	srv := httptest.NewServer(NewHandler("ReplyBot", ready.Load))
	defer srv.Close()

	if err := Probe(context.Background(), srv.Client(), srv.URL); err == nil {
		t.Error("expected probe to fail while not ready")
	}
	ready.Store(true)
	if err := Probe(context.Background(), srv.Client(), srv.URL); err != nil {
		t.Errorf("expected probe to pass, got %v", err)
	}
}

func TestServerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	// Reserve a free port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	s := NewServer(addr, NewHandler("ReplyBot", func() bool { return true }), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := Probe(context.Background(), nil, "http://"+addr); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server did not come up")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
