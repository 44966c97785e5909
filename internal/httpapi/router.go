// Package httpapi exposes the operational HTTP surface of the ledger process:
// liveness, readiness and Prometheus metrics.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kasaplus/ledger/internal/metrics"
)

// ReadyChecker reports whether the backing store can serve requests.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// Server wires ops handlers and middleware using Chi.
type Server struct {
	ready ReadyChecker
	log   *slog.Logger
	rt    *chi.Mux
}

// New constructs the ops server. The logger is used by request logging and
// panic recovery.
func New(ready ReadyChecker, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))
	r.Use(metricsMiddleware)

	s := &Server{ready: ready, log: logger, rt: r}
	s.routes()
	return s
}

// Handler exposes the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.rt }

func (s *Server) routes() {
	s.rt.Get("/healthz", s.healthz)
	s.rt.Get("/readyz", s.readyz)
	s.rt.Method(http.MethodGet, "/metrics", metrics.Handler())
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	toJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.ready.Ready(r.Context()); err != nil {
		s.log.Warn("readiness check failed", "req_id", chimw.GetReqID(r.Context()), "err", err)
		toJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	toJSON(w, http.StatusOK, statusResponse{Status: "ready"})
}
