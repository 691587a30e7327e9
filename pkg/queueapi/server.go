// Package queueapi exposes pkg/queue's per-topic Merkle DAG over HTTP, port
// 53333. It mirrors pkg/stateapi's mux-per-entity shape, but the queue has
// no per-instance authorization: a topic is either world-writable by any
// authenticated node or not, so the only gate is signature verification
// already performed inside pkg/queue.Store.ApplyForeign/Enqueue.
package queueapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/metrics"
	"github.com/cuemby/formation/pkg/queue"
)

type Server struct {
	store *queue.Store
	mux *http.ServeMux
	http *http.Server
}

func NewServer(store *queue.Store) *Server {
	s := &Server{store: store, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /queue/write_local", s.writeLocal)
	s.mux.HandleFunc("POST /queue/write_op", s.writeOp)
	s.mux.HandleFunc("GET /queue/{topic}/get", s.read)
	s.mux.HandleFunc("GET /queue/{topic}/{n}/get_n", s.readN)
	s.mux.HandleFunc("GET /queue/{topic}/{idx}/get_after", s.readAfter)
	s.mux.HandleFunc("GET /queue/get", s.dump)
}

// Start runs the HTTP server until ctx is cancelled or it errors.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr: addr,
		Handler: s.instrument(s.mux),
		ReadTimeout: 5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	log.WithComponent("queueapi").Info().Str("addr", addr).Msg("queue api listening")

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop() error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, http.StatusText(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
