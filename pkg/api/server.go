// Package api exposes the local HTTP status surface of a flock node: health,
// the membership snapshot, and Prometheus metrics. It is a read-only
// observer of the facade.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/flocknet/flock/pkg/node"
)

// Server serves the status API for one node.
type Server struct {
	node     *node.Node
	gatherer prometheus.Gatherer
	log      *logrus.Logger
}

// NewServer creates a status server. gatherer may be nil to disable the
// /metrics endpoint.
func NewServer(n *node.Node, gatherer prometheus.Gatherer, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{node: n, gatherer: gatherer, log: log}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/members", s.handleMembers)
		r.Get("/info", s.handleInfo)
	})

	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.node.Members()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": out})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	members, err := s.node.Members()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":      s.node.Addr().String(),
		"member_count": len(members),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("write response failed")
	}
}
