// Package admin exposes a chi-routed introspection HTTP API for a
// running client process: health, Prometheus metrics, and a snapshot
// of the tracked server table, grounded on the corpus's
// chi.NewRouter()-plus-health-endpoint pattern.
package admin

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/titanclass/flip-flop-protocol/exchange"
	"github.com/titanclass/flip-flop-protocol/metrics"
)

// ServerView is one row of the /servers JSON dump.
type ServerView struct {
	Addr       byte      `json:"addr"`
	LastOffset uint32    `json:"last_offset"`
	LastSeen   time.Time `json:"last_seen"`
}

// ClientView reports a client's server table; exchange.Client
// satisfies this directly via its Servers method.
type ClientView interface {
	Servers() []exchange.ServerRecord
}

// Server wires a ClientView and a metrics registry into a chi router.
type Server struct {
	router  chi.Router
	client  ClientView
	metrics *metrics.Metrics
	healthy atomic.Bool
}

// New builds an admin Server. client supplies the /servers table,
// m supplies /metrics; either may be nil to omit its capability.
func New(client ClientView, m *metrics.Metrics) *Server {
	s := &Server{client: client, metrics: m}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/servers", s.handleServers)
	if m != nil {
		r.Get("/metrics", m.Handler().ServeHTTP)
	}
	s.router = r

	return s
}

// MarkHealthy flips /healthz to 200, to be called once by the owner
// after the first successful exchange.
func (s *Server) MarkHealthy() { s.healthy.Store(true) }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.healthy.Load() {
		http.Error(w, "no successful exchange yet", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	var views []ServerView
	if s.client != nil {
		for _, rec := range s.client.Servers() {
			views = append(views, ServerView{
				Addr:       rec.Addr,
				LastOffset: rec.LastOffset,
				LastSeen:   rec.LastSeenMonotonic,
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

// ServeHTTP implements http.Handler, mounting the router directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
