// Package admin serves the localhost operations API: health and readiness
// probes, the Prometheus metrics exposition, live configuration reload and
// forced call teardown. The listener is meant to stay on a loopback or
// otherwise trusted address; the API carries no authentication.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/session"
)

// shutdownTimeout bounds the graceful drain of in-flight admin requests.
const shutdownTimeout = 5 * time.Second

// CallManager is the slice of the session manager the API needs.
type CallManager interface {
	Calls() []session.Summary
	HangupCall(channelID string) error
}

// Config configures the admin server.
type Config struct {
	// ListenAddr is the address the API binds, e.g. "127.0.0.1:8088".
	ListenAddr string

	// ConfigPath is the file /config/reload re-reads.
	ConfigPath string
}

// Server is the admin HTTP API.
type Server struct {
	cfg     Config
	store   *config.Store
	manager CallManager
	health  *health.Handler
	metrics *observe.Metrics
	log     *slog.Logger
}

// NewServer creates the admin API. manager may be nil before the session
// manager exists, in which case the call endpoints report 404.
func NewServer(cfg Config, store *config.Store, manager CallManager, h *health.Handler, met *observe.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		manager: manager,
		health:  h,
		metrics: met,
		log:     log,
	}
}

// Handler builds the routed handler with the observability middleware
// applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /calls", s.listCalls)
	mux.HandleFunc("POST /calls/{id}/hangup", s.hangupCall)
	mux.HandleFunc("POST /config/reload", s.reloadConfig)
	return observe.Middleware(s.metrics)(mux)
}

// Run binds the listener and serves until ctx is cancelled. A bind failure
// is returned immediately so startup can fail fast.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("admin: bind %s: %w", s.cfg.ListenAddr, err)
	}
	s.log.Info("admin api listening", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// callEntry is one row of the /calls listing.
type callEntry struct {
	ChannelID    string    `json:"channel_id"`
	CallerName   string    `json:"caller_name,omitempty"`
	CallerNumber string    `json:"caller_number,omitempty"`
	Context      string    `json:"context,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Phase        string    `json:"phase"`
	StartedAt    time.Time `json:"started_at"`
	DurationSec  float64   `json:"duration_sec"`
}

func (s *Server) listCalls(w http.ResponseWriter, _ *http.Request) {
	entries := []callEntry{}
	if s.manager != nil {
		now := time.Now()
		for _, c := range s.manager.Calls() {
			entries = append(entries, callEntry{
				ChannelID:    c.ChannelID,
				CallerName:   c.CallerName,
				CallerNumber: c.CallerNumber,
				Context:      c.Context,
				Provider:     c.Provider,
				Phase:        c.Phase,
				StartedAt:    c.StartedAt,
				DurationSec:  now.Sub(c.StartedAt).Seconds(),
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": entries})
}

func (s *Server) hangupCall(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.manager == nil {
		writeError(w, http.StatusNotFound, "no call manager")
		return
	}
	if err := s.manager.HangupCall(id); err != nil {
		if errors.Is(err, session.ErrCallNotFound) {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("admin hangup requested", "channel", id)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "hangup_requested"})
}

// reloadResult is the /config/reload response body.
type reloadResult struct {
	Applied         bool     `json:"applied"`
	RestartRequired []string `json:"restart_required"`
	Warnings        []string `json:"warnings"`
}

func (s *Server) reloadConfig(w http.ResponseWriter, _ *http.Request) {
	next, err := config.Load(s.cfg.ConfigPath)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	diff, err := s.store.Apply(next)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res := reloadResult{
		Applied:         len(diff.Hot) > 0,
		RestartRequired: diff.RestartRequired,
		Warnings:        []string{},
	}
	if res.RestartRequired == nil {
		res.RestartRequired = []string{}
	}
	if len(diff.RestartRequired) > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%d key(s) need a process restart to take effect", len(diff.RestartRequired)))
	}
	s.log.Info("config reloaded",
		"applied", res.Applied,
		"hot", len(diff.Hot),
		"restart_required", len(diff.RestartRequired))
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
