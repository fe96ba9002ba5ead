// Package observability implements the optional read-only status
// server named by spec.md §6's config schema
// (`observability.listen_address`). It serves summary counts (/stats)
// and per-backend stats (/backends) as JSON; the aggregator's metrics
// snapshot is not exposed. It never accepts writes or
// routes any proxied traffic — those are layer-7 concerns this system
// does not have.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"l4lb/internal/backend"
	"l4lb/internal/lbcontext"
)

// Server is the management status HTTP server.
type Server struct {
	ctx       *lbcontext.Context
	startTime time.Time
	srv       *http.Server
}

// New builds a Server bound to listenAddr. Call Start to begin
// listening.
func New(ctx *lbcontext.Context, listenAddr string, startTime time.Time) *Server {
	s := &Server{ctx: ctx, startTime: startTime}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /backends", s.handleBackends)

	s.srv = &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening in a background goroutine and returns
// immediately.
func (s *Server) Start() {
	go func() {
		slog.Info("observability: listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("observability: server error", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type statsResponse struct {
	Uptime          string `json:"uptime"`
	ActiveConns     int64  `json:"active_conns"`
	BackendsTotal   int    `json:"backends_total"`
	BackendsHealthy int    `json:"backends_healthy"`
	BackendsDrained int    `json:"backends_draining"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	table := s.ctx.RouteTable()
	healthy, draining := 0, 0
	for _, b := range table.Iter() {
		if b.IsAlive() {
			healthy++
		}
		if b.IsDraining() {
			draining++
		}
	}

	jsonOK(w, statsResponse{
		Uptime:          time.Since(s.startTime).Round(time.Second).String(),
		ActiveConns:     s.ctx.TotalActiveConnections(),
		BackendsTotal:   table.Len(),
		BackendsHealthy: healthy,
		BackendsDrained: draining,
	})
}

func (s *Server) handleBackends(w http.ResponseWriter, _ *http.Request) {
	table := s.ctx.RouteTable()
	stats := make([]backend.Stats, 0, table.Len())
	for _, b := range table.Iter() {
		stats = append(stats, b.Snapshot())
	}
	jsonOK(w, stats)
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
