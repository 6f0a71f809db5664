// Package api serves the doctor over HTTP: trigger a run, read the last
// status snapshot, and scrape Prometheus gauges of the last summary.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulyops/sysdoctor/internal/config"
	"github.com/paulyops/sysdoctor/internal/doctor"
	"github.com/paulyops/sysdoctor/internal/fsys"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxRequestBody bounds POST /doctor/run bodies. A mode is a few bytes.
const maxRequestBody = 4 << 10

// Runner executes one doctor pass.
type Runner interface {
	Run(ctx context.Context, mode config.Mode) (*doctor.Report, error)
}

// RunnerFunc adapts a function to [Runner].
type RunnerFunc func(ctx context.Context, mode config.Mode) (*doctor.Report, error)

// Run implements [Runner].
func (f RunnerFunc) Run(ctx context.Context, mode config.Mode) (*doctor.Report, error) {
	return f(ctx, mode)
}

// Config configures a [Server].
type Config struct {
	// Runner executes doctor passes. Required.
	Runner Runner
	// StatusPath is the status snapshot file served by GET /doctor/status.
	StatusPath string
	// AllowSurgical permits POST /doctor/run with mode "surgical".
	AllowSurgical bool
	// FS reads the snapshot. Defaults to the OS filesystem.
	FS     fsys.FS
	Logger *slog.Logger
	// NewJobID and Now are overridden in tests.
	NewJobID func() string
	Now      func() time.Time
}

// Server is the HTTP front end of the doctor.
type Server struct {
	runner        Runner
	statusPath    string
	allowSurgical bool
	fs            fsys.FS
	logger        *slog.Logger
	newJobID      func() string
	now           func() time.Time
	metrics       *gauges

	mu       sync.RWMutex
	snapshot *doctor.Snapshot
}

// NewServer returns a Server for cfg.
func NewServer(cfg Config) *Server {
	if cfg.FS == nil {
		cfg.FS = fsys.OSFS{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.NewJobID == nil {
		cfg.NewJobID = func() string { return "doctor_" + uuid.NewString() }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{
		runner:        cfg.Runner,
		statusPath:    cfg.StatusPath,
		allowSurgical: cfg.AllowSurgical,
		fs:            cfg.FS,
		logger:        cfg.Logger,
		newJobID:      cfg.NewJobID,
		now:           cfg.Now,
		metrics:       newGauges(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /doctor/run", s.handleRun)
	mux.HandleFunc("GET /doctor/status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	return mux
}

type runRequest struct {
	Mode string `json:"mode"`
}

type runResponse struct {
	Success bool           `json:"success"`
	Report  *doctor.Report `json:"report"`
	JobID   string         `json:"jobId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if req.Mode == "" {
		req.Mode = string(config.ModeScan)
	}
	mode, err := config.ParseMode(req.Mode)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid mode. Must be scan, repair, or surgical")
		return
	}
	if mode == config.ModeSurgical && !s.allowSurgical {
		s.sendError(w, http.StatusForbidden, "Surgical mode not allowed")
		return
	}

	jobID := s.newJobID()
	s.logger.Info("starting doctor run via API", "mode", mode, "job", jobID)
	rep, err := s.runner.Run(r.Context(), mode)
	switch {
	case errors.Is(err, doctor.ErrRunInProgress):
		s.metrics.runs.WithLabelValues(string(mode), "busy").Inc()
		s.sendError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.metrics.runs.WithLabelValues(string(mode), "error").Inc()
		s.logger.Error("doctor run failed", "mode", mode, "job", jobID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Doctor run failed: "+err.Error())
		return
	}

	s.metrics.runs.WithLabelValues(string(mode), "completed").Inc()
	s.metrics.observeReport(rep)
	snap := doctor.SnapshotOf(rep)
	s.setSnapshot(&snap)
	s.logger.Info("doctor run completed via API",
		"mode", mode, "job", jobID,
		"ok", rep.Summary.OK, "warn", rep.Summary.Warn, "fail", rep.Summary.Fail,
		"duration_ms", rep.Duration)
	s.writeJSON(w, http.StatusOK, runResponse{Success: true, Report: rep, JobID: jobID})
}

// statusResponse is the snapshot plus the time it was served. LastRun is
// null until the first run.
type statusResponse struct {
	LastRun       *time.Time     `json:"lastRun"`
	Summary       doctor.Summary `json:"summary"`
	FailingChecks []string       `json:"failingChecks"`
	Mode          config.Mode    `json:"mode"`
	Timestamp     time.Time      `json:"timestamp"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.Snapshot()
	if snap == nil {
		err := s.Reload()
		switch {
		case errors.Is(err, os.ErrNotExist):
			snap = &doctor.Snapshot{Mode: config.ModeScan}
		case err != nil:
			s.logger.Warn("reading status snapshot", "path", s.statusPath, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to read status")
			return
		default:
			snap = s.Snapshot()
		}
	}
	resp := statusResponse{
		Summary:       snap.Summary,
		FailingChecks: snap.FailingChecks,
		Mode:          snap.Mode,
		Timestamp:     s.now().UTC(),
	}
	if resp.FailingChecks == nil {
		resp.FailingChecks = []string{}
	}
	if !snap.LastRun.IsZero() {
		last := snap.LastRun
		resp.LastRun = &last
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// Snapshot returns the cached status snapshot, or nil before the first
// load.
func (s *Server) Snapshot() *doctor.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Reload re-reads the status snapshot from disk into the cache.
func (s *Server) Reload() error {
	snap, err := doctor.ReadStatus(s.fs, s.statusPath)
	if err != nil {
		return err
	}
	s.setSnapshot(snap)
	return nil
}

func (s *Server) setSnapshot(snap *doctor.Snapshot) {
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
	s.metrics.observeSnapshot(snap)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response failed", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// Serve listens on addr and serves until ctx is cancelled, then drains
// in-flight requests for up to shutdownTimeout. Runs can be long, so there
// is no write timeout.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.serve(ctx, ln)
}

const shutdownTimeout = 10 * time.Second

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("http server listening", "address", ln.Addr().String())

	serveDone := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// gauges are the Prometheus collectors served on /metrics. Each server owns
// its registry so tests and multiple servers never collide.
type gauges struct {
	registry     *prometheus.Registry
	checks       *prometheus.GaugeVec
	lastRun      prometheus.Gauge
	lastDuration prometheus.Gauge
	runs         *prometheus.CounterVec
}

func newGauges() *gauges {
	g := &gauges{
		registry: prometheus.NewRegistry(),
		checks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "doctor_checks",
			Help: "Number of checks per status in the last doctor run.",
		}, []string{"status"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "doctor_last_run_timestamp_seconds",
			Help: "Unix time of the last doctor run.",
		}),
		lastDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "doctor_last_run_duration_seconds",
			Help: "Duration of the last doctor run triggered through the API.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "doctor_api_runs_total",
			Help: "Doctor runs requested through the API by mode and result.",
		}, []string{"mode", "result"}),
	}
	g.registry.MustRegister(g.checks, g.lastRun, g.lastDuration, g.runs)
	return g
}

func (g *gauges) observeSnapshot(s *doctor.Snapshot) {
	g.checks.WithLabelValues(string(doctor.StatusOK)).Set(float64(s.Summary.OK))
	g.checks.WithLabelValues(string(doctor.StatusWarn)).Set(float64(s.Summary.Warn))
	g.checks.WithLabelValues(string(doctor.StatusFail)).Set(float64(s.Summary.Fail))
	if !s.LastRun.IsZero() {
		g.lastRun.Set(float64(s.LastRun.Unix()))
	}
}

func (g *gauges) observeReport(r *doctor.Report) {
	g.lastDuration.Set(float64(r.Duration) / 1000)
}
