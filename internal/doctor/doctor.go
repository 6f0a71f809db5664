package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulyops/sysdoctor/internal/audit"
	"github.com/paulyops/sysdoctor/internal/config"
	"github.com/paulyops/sysdoctor/internal/fsys"
	"github.com/paulyops/sysdoctor/internal/metrics"
	"github.com/paulyops/sysdoctor/internal/notify"
	"github.com/paulyops/sysdoctor/internal/shell"
	"github.com/paulyops/sysdoctor/internal/telemetry"
)

// TelemetrySink receives one event per check execution.
type TelemetrySink interface {
	Emit(ctx context.Context, e telemetry.Event) error
}

// SavepointCreator takes a savepoint before a mutating run.
type SavepointCreator interface {
	Create(ctx context.Context) (string, error)
}

// Deps are the collaborators of a [Doctor]. Zero fields are built from the
// config: a whitelisted shell runner in Dir, the nine checks, a git
// savepoint manager, webhook senders and the OTel sink.
type Deps struct {
	Dir        string
	Checks     []Check
	Fixer      *Fixer
	Savepoints SavepointCreator
	Audit      audit.Recorder
	Telemetry  TelemetrySink
	Notifiers  []notify.Sender
	FS         fsys.FS
	Logger     *slog.Logger
	Progress   Progress
	Hostname   func() (string, error)
	Now        func() time.Time
}

// Doctor orchestrates one configured check set. Runs are serialized by a
// lock file in the working directory.
type Doctor struct {
	cfg        *config.Doctor
	dir        string
	checks     []Check
	fixer      *Fixer
	savepoints SavepointCreator
	audit      audit.Recorder
	telemetry  TelemetrySink
	notifiers  []notify.Sender
	fs         fsys.FS
	logger     *slog.Logger
	progress   Progress
	hostname   func() (string, error)
	now        func() time.Time
}

// New assembles a Doctor for cfg, filling unset deps with production
// implementations.
func New(cfg *config.Doctor, deps Deps) *Doctor {
	d := &Doctor{
		cfg:        cfg,
		dir:        deps.Dir,
		checks:     deps.Checks,
		fixer:      deps.Fixer,
		savepoints: deps.Savepoints,
		audit:      deps.Audit,
		telemetry:  deps.Telemetry,
		notifiers:  deps.Notifiers,
		fs:         deps.FS,
		logger:     deps.Logger,
		progress:   deps.Progress,
		hostname:   deps.Hostname,
		now:        deps.Now,
	}
	if d.dir == "" {
		d.dir = "."
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.audit == nil {
		d.audit = audit.Discard
	}
	if d.telemetry == nil {
		d.telemetry = telemetry.Sink{}
	}
	if d.fs == nil {
		d.fs = fsys.OSFS{}
	}
	if d.progress == nil {
		d.progress = nopProgress{}
	}
	if d.hostname == nil {
		d.hostname = os.Hostname
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.notifiers == nil {
		d.notifiers = notify.FromConfig(cfg.Notifications)
	}

	var runner *shell.Runner
	if d.checks == nil || d.fixer == nil || d.savepoints == nil {
		runner = shell.New(cfg.WhitelistCommands,
			shell.WithDir(d.dir),
			shell.WithTimeout(time.Duration(cfg.CommandTimeoutSeconds)*time.Second))
	}
	if d.checks == nil {
		d.checks = NewChecks(CheckDeps{
			Config:  cfg,
			Dir:     d.dir,
			Shell:   runner,
			Metrics: metrics.NewCollector(runner, d.dir, metrics.WithLogger(d.logger)),
			FS:      d.fs,
		})
	}
	if d.fixer == nil {
		d.fixer = NewFixer(runner, cfg.Commands, d.audit, d.logger)
	}
	if d.savepoints == nil {
		sp := NewSavepoints(d.dir, runner, cfg.Commands.Install, cfg.AllowSurgical, d.audit, d.logger)
		sp.Keep(statePaths(cfg)...)
		d.savepoints = sp
	}
	return d
}

// Run executes one doctor pass in mode. The only errors are
// [ErrRunInProgress] and lock failures; everything else is captured in the
// report or logged.
func (d *Doctor) Run(ctx context.Context, mode config.Mode) (*Report, error) {
	if mode == "" {
		mode = config.ModeScan
	}
	release, err := acquireRunLock(d.dir)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	d.logger.Info("starting system doctor", "mode", mode, "allowSurgical", d.cfg.AllowSurgical)

	rep := &Report{
		Mode:          mode,
		Checks:        []CheckResult{},
		FailingChecks: []string{},
		Repairs:       []RepairResult{},
	}

	if mode.Mutating() {
		sp, err := d.savepoints.Create(ctx)
		if err != nil {
			d.logger.Warn("failed to create savepoint", "error", err)
		} else {
			rep.Savepoint = sp
			d.logger.Info("created git savepoint", "savepoint", sp)
		}
	}

	var enabled []Check
	for _, c := range d.checks {
		if d.cfg.Enabled(c.Name()) {
			enabled = append(enabled, c)
		}
	}

	d.progress.Begin(len(enabled))
	for _, c := range enabled {
		r := d.runCheck(ctx, c)
		d.observe(ctx, r)
		d.progress.CheckDone(r)
		rep.Checks = append(rep.Checks, r)
	}
	d.progress.End()

	if mode.Mutating() {
		d.repair(ctx, mode, enabled, rep)
	}

	for _, r := range rep.Checks {
		switch r.Status {
		case StatusOK:
			rep.Summary.OK++
		case StatusWarn:
			rep.Summary.Warn++
		default:
			rep.Summary.Fail++
			rep.FailingChecks = append(rep.FailingChecks, r.Name)
		}
	}
	rep.Duration = time.Since(start).Milliseconds()
	rep.Timestamp = d.now().UTC()

	d.finish(ctx, rep)
	return rep, nil
}

// repair sends every failing check with a fix through the risk gate and the
// fixer, re-running checks whose fix succeeded.
func (d *Doctor) repair(ctx context.Context, mode config.Mode, enabled []Check, rep *Report) {
	for i := range rep.Checks {
		r := rep.Checks[i]
		if r.Status != StatusFail || r.Fix == nil {
			continue
		}
		action := *r.Fix
		if ok, reason := riskGate(mode, d.cfg.AllowSurgical, rep.Savepoint, action); !ok {
			d.logger.Warn("skipping risky repair", "check", r.Name, "fix", action.Type, "reason", reason)
			rep.Repairs = append(rep.Repairs, RepairResult{
				Check: r.Name, Action: action, Skipped: true, Reason: reason,
			})
			continue
		}

		d.logger.Info("executing repair", "check", r.Name, "fix", action.Type)
		success := d.fixer.Execute(ctx, action, d.cfg.OrgID)
		rep.Repairs = append(rep.Repairs, RepairResult{Check: r.Name, Action: action, Success: success})
		if !success {
			continue
		}
		recheck := d.runCheck(ctx, enabled[i])
		d.observe(ctx, recheck)
		rep.Checks[i] = recheck
	}
}

// riskGate decides whether action may run. Non-risky actions always may;
// risky ones need surgical mode, allowSurgical and a savepoint from this run.
func riskGate(mode config.Mode, allowSurgical bool, savepoint string, action RepairAction) (bool, string) {
	if !action.Risky {
		return true, ""
	}
	switch {
	case mode != config.ModeSurgical:
		return false, "risky fix requires surgical mode"
	case !allowSurgical:
		return false, "risky fix requires allowSurgical"
	case savepoint == "":
		return false, "risky fix requires a savepoint"
	}
	return true, ""
}

// runCheck runs c, converting errors and panics into a fail result. The
// duration is always the check's own elapsed time.
func (d *Doctor) runCheck(ctx context.Context, c Check) (res CheckResult) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res = failedResult(fmt.Errorf("panic: %v", p))
		}
		res.Name = c.Name()
		res.Duration = time.Since(start).Milliseconds()
	}()

	r, err := c.Run(ctx)
	if err != nil {
		return failedResult(err)
	}
	if r == nil {
		return failedResult(errors.New("no result"))
	}
	return *r
}

func failedResult(err error) CheckResult {
	return CheckResult{
		Status:  StatusFail,
		Message: "Check failed: " + err.Error(),
		Details: map[string]any{"error": err.Error()},
	}
}

// observe emits the per-check telemetry event and log line.
func (d *Doctor) observe(ctx context.Context, r CheckResult) {
	telemetry.RecordCheck(ctx, r.Name, string(r.Status), float64(r.Duration))
	sideChannel(d.logger, "telemetry", d.telemetry.Emit(ctx, telemetry.Event{
		Type:  "doctor.check." + string(r.Status),
		OrgID: d.cfg.OrgID,
		Payload: map[string]any{
			"check":    r.Name,
			"status":   string(r.Status),
			"duration": r.Duration,
			"message":  r.Message,
		},
	}))
	d.logger.Info("check completed", "check", r.Name, "status", r.Status, "duration_ms", r.Duration)
}

// finish runs the best-effort tail of a run: status snapshot,
// notifications, audit record and run metrics.
func (d *Doctor) finish(ctx context.Context, rep *Report) {
	statusPath := d.resolve(d.cfg.StatusPage)
	if err := WriteStatus(d.fs, statusPath, rep); err != nil {
		sideChannel(d.logger, "status", err)
	} else {
		d.logger.Info("status page updated", "path", statusPath)
	}

	if rep.Summary.Fail > 0 && len(d.notifiers) > 0 {
		host, err := d.hostname()
		if err != nil {
			host = "unknown-host"
		}
		failed := notify.SendAll(ctx, d.notifiers, NotificationPayload(rep, host))
		for channel, err := range failed {
			sideChannel(d.logger, "notify:"+channel, err)
		}
	}

	sideChannel(d.logger, "audit", d.audit.Record(audit.Record{
		Action: audit.ActionRun,
		OrgID:  d.cfg.OrgID,
		Entity: "system",
		Metadata: map[string]any{
			"mode":          string(rep.Mode),
			"summary":       rep.Summary,
			"failingChecks": rep.FailingChecks,
			"duration":      rep.Duration,
			"savepoint":     rep.Savepoint,
		},
	}))

	telemetry.RecordRun(ctx, string(rep.Mode), rep.Summary.OK, rep.Summary.Warn, rep.Summary.Fail, float64(rep.Duration))
	d.logger.Info("system doctor completed",
		"mode", rep.Mode,
		"ok", rep.Summary.OK, "warn", rep.Summary.Warn, "fail", rep.Summary.Fail,
		"duration_ms", rep.Duration, "savepoint", rep.Savepoint)
}

func (d *Doctor) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(d.dir, path)
}

// NotificationPayload builds the chat alert for a report with failures.
func NotificationPayload(rep *Report, host string) notify.Payload {
	failing := strings.Join(rep.FailingChecks, ", ")
	if failing == "" {
		failing = "None"
	}
	return notify.Payload{
		Text: fmt.Sprintf("🩺 PaulyOps Doctor: %d FAIL on %s", rep.Summary.Fail, host),
		Attachments: []notify.Attachment{{
			Color: notify.ColorDanger,
			Fields: []notify.Field{
				{Title: "Failing Checks", Value: failing, Short: true},
				{Title: "Mode", Value: string(rep.Mode), Short: true},
				{Title: "Duration", Value: fmt.Sprintf("%dms", rep.Duration), Short: true},
			},
		}},
	}
}

// Options configure the package-level entry points.
type Options struct {
	// Mode is the run posture; it overrides any mode in the config file.
	Mode config.Mode
	// Dir is the working directory holding doctor.config.json. Default ".".
	Dir      string
	FS       fsys.FS
	Logger   *slog.Logger
	Progress Progress
}

func (o *Options) defaults() {
	if o.Dir == "" {
		o.Dir = "."
	}
	if o.FS == nil {
		o.FS = fsys.OSFS{}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Run loads the config from opts.Dir and executes one doctor pass. A
// missing or invalid config is returned as an error and no report is
// produced.
func Run(ctx context.Context, opts Options) (*Report, error) {
	opts.defaults()
	cfg, err := config.Load(opts.FS, opts.Dir)
	if err != nil {
		return nil, err
	}
	cfg.Mode = opts.Mode

	rec, closeAudit := openAudit(opts, cfg)
	defer closeAudit()

	d := New(cfg, Deps{
		Dir:      opts.Dir,
		Audit:    rec,
		FS:       opts.FS,
		Logger:   opts.Logger,
		Progress: opts.Progress,
	})
	return d.Run(ctx, opts.Mode)
}

// Rollback loads the config from opts.Dir and restores savepoint id.
func Rollback(ctx context.Context, opts Options, id string) error {
	opts.defaults()
	cfg, err := config.Load(opts.FS, opts.Dir)
	if err != nil {
		return err
	}
	release, err := acquireRunLock(opts.Dir)
	if err != nil {
		return err
	}
	defer release()

	rec, closeAudit := openAudit(opts, cfg)
	defer closeAudit()

	sh := shell.New(cfg.WhitelistCommands,
		shell.WithDir(opts.Dir),
		shell.WithTimeout(time.Duration(cfg.CommandTimeoutSeconds)*time.Second))
	sp := NewSavepoints(opts.Dir, sh, cfg.Commands.Install, cfg.AllowSurgical, rec, opts.Logger)
	sp.Keep(statePaths(cfg)...)
	return sp.Rollback(ctx, id, cfg.OrgID)
}

// statePaths are the untracked files the doctor itself owns in the work tree.
func statePaths(cfg *config.Doctor) []string {
	return []string{cfg.StatusPage, cfg.AuditLog, RunLockFile}
}

// ListSavepoints returns the savepoints in opts.Dir, newest first.
func ListSavepoints(ctx context.Context, opts Options) ([]string, error) {
	opts.defaults()
	return NewSavepoints(opts.Dir, nil, "", false, nil, opts.Logger).List(ctx)
}

// StatusPath loads the config from opts.Dir and returns the resolved status
// snapshot path.
func StatusPath(opts Options) (string, error) {
	opts.defaults()
	cfg, err := config.Load(opts.FS, opts.Dir)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(cfg.StatusPage) {
		return cfg.StatusPage, nil
	}
	return filepath.Join(opts.Dir, cfg.StatusPage), nil
}

// openAudit opens the configured JSONL audit log. When it cannot be opened
// the failure is logged and records are discarded.
func openAudit(opts Options, cfg *config.Doctor) (audit.Recorder, func()) {
	path := cfg.AuditLog
	if !filepath.IsAbs(path) {
		path = filepath.Join(opts.Dir, path)
	}
	fr, err := audit.NewFileRecorder(path)
	if err != nil {
		sideChannel(opts.Logger, "audit", err)
		return audit.Discard, func() {}
	}
	return fr, func() {
		fr.Close() //nolint:errcheck // best-effort close
	}
}
