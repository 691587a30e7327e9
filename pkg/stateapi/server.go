// Package stateapi is the HTTP surface of the replicated state store:
// per-entity get/list/create/update/delete, foreign-op merge, and
// bootstrap snapshot transfer over a plain ServeMux with fixed listener
// timeouts, in place of a gRPC server.
package stateapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cuemby/formation/pkg/auth"
	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/metrics"
	"github.com/cuemby/formation/pkg/state"
)

// Server is the state store's HTTP listener.
type Server struct {
	store *state.Store
	mw *auth.Middleware
	mux *http.ServeMux
	http *http.Server
}

// NewServer builds the state API and registers every route.
func NewServer(store *state.Store, mw *auth.Middleware) *Server {
	s := &Server{store: store, mw: mw, mux: http.NewServeMux()}
	s.registerAccountRoutes()
	s.registerInstanceRoutes()
	s.registerNodeRoutes()
	s.registerPeerRoutes()
	s.registerCIDRRoutes()
	s.registerDnsZoneRoutes()
	s.registerMergeRoutes()
	return s
}

// Mux exposes the underlying handler so a caller (cmd/formationd) can mount
// additional routes (pkg/overlayapi's join/leave handshake) on the same
// listener as the state API.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// Start runs the HTTP server until ctx is cancelled or it errors.
func (s *Server) Start(ctx context.Context, addr string) error {
	log.WithComponent("stateapi").Info().Str("addr", addr).Msg("state API listening")
	s.http = &http.Server{
		Addr: addr,
		Handler: instrument(s.mux),
		ReadTimeout: 5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

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

// instrument wraps every request with the generic API request counters, a
// plain ServeMux with metrics mounted alongside rather than woven through
// each handler.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, http.StatusText(rw.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
