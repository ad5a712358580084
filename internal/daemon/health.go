package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
	"git.home.luguber.info/inful/clashchain/internal/logfields"
	"git.home.luguber.info/inful/clashchain/internal/metrics"
	"git.home.luguber.info/inful/clashchain/internal/version"
)

// HealthStatus represents the overall health of the daemon
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusStarting  HealthStatus = "starting"
)

// HealthResponse is served on /healthz.
type HealthResponse struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Uptime    string       `json:"uptime"`
	Version   string       `json:"version"`
	Runs      int64        `json:"runs"`
	Failures  int64        `json:"failures"`
	LastRun   *RunStatus   `json:"last_run,omitempty"`
}

// Health summarizes the daemon from its last run. A failed run is unhealthy
// and a run with failed units is degraded.
func (d *Daemon) Health() *HealthResponse {
	total, failed := d.Runs()
	resp := &HealthResponse{
		Status:    HealthStatusStarting,
		Timestamp: time.Now(),
		Version:   version.Version,
		Runs:      total,
		Failures:  failed,
		LastRun:   d.Status(),
	}
	if !d.started.IsZero() {
		resp.Uptime = time.Since(d.started).Round(time.Second).String()
	}
	switch last := resp.LastRun; {
	case last == nil:
	case last.Error != "":
		resp.Status = HealthStatusUnhealthy
	case last.Degraded:
		resp.Status = HealthStatusDegraded
	default:
		resp.Status = HealthStatusHealthy
	}
	return resp
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := d.Health()
	w.Header().Set("Content-Type", "application/json")
	if resp.Status == HealthStatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode health response", logfields.Error(err))
	}
}

func (d *Daemon) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(d.registry))
	mux.HandleFunc("/healthz", d.handleHealth)
	return mux
}

type httpServer struct {
	srv *http.Server
	ln  net.Listener
}

// startHTTPServer binds addr before returning so an unusable address fails
// the watch command instead of a background goroutine.
func startHTTPServer(addr string, h http.Handler) (*httpServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to bind metrics listener").
			WithContext("addr", addr).
			Build()
	}
	s := &httpServer{
		srv: &http.Server{Handler: h, ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second, IdleTimeout: 120 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics listener failed", logfields.Error(err))
		}
	}()
	return s, nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *httpServer) Addr() string { return s.ln.Addr().String() }

func (s *httpServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		slog.Warn("Metrics listener shutdown failed", logfields.Error(err))
	}
}
