package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"birdquest/db"
)

const shutdownTimeout = 10 * time.Second

// Listener serves BirdQuest's operational endpoints on top of the store
// prepared by the bootstrapper.
type Listener struct {
	Store   db.Store
	Outcome db.Outcome
	Debug   bool
	Log     *zap.SugaredLogger
}

// Handler returns the routes served by Run.
func (s *Listener) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.Debug {
		mux.HandleFunc("GET /status", s.handleStatus)
	}
	return s.logRequests(mux)
}

// Run starts an HTTP server listening on addr. It returns nil once ctx is
// cancelled and the server has shut down.
func (s *Listener) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Listener) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		s.Log.Errorf("handleHealth: db ping failed: %v", err)
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}

type statusResponse struct {
	Bootstrap string           `json:"bootstrap"`
	Tables    map[string]int64 `json:"tables"`
}

func (s *Listener) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.Store.TableCounts(r.Context())
	if err != nil {
		s.Log.Errorf("handleStatus: counting rows: %v", err)
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{Bootstrap: string(s.Outcome), Tables: counts})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Listener) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.Log.Debugw("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
