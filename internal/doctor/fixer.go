package doctor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/paulyops/sysdoctor/internal/audit"
	"github.com/paulyops/sysdoctor/internal/config"
	"github.com/paulyops/sysdoctor/internal/telemetry"
)

// repairHandler performs one kind of remediation and reports success.
type repairHandler func(ctx context.Context, a RepairAction) bool

// Fixer maps repair actions onto remediation routines. Automatic routines
// run configured commands through the whitelisted shell; the rest log that
// they need an operator and report failure.
type Fixer struct {
	shell    CommandRunner
	commands config.Commands
	audit    audit.Recorder
	logger   *slog.Logger
	handlers map[RepairKind]repairHandler
}

// NewFixer returns a Fixer that runs cmds through sh. A nil recorder
// discards audit records; a nil logger discards logs.
func NewFixer(sh CommandRunner, cmds config.Commands, rec audit.Recorder, logger *slog.Logger) *Fixer {
	if rec == nil {
		rec = audit.Discard
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	f := &Fixer{shell: sh, commands: cmds, audit: rec, logger: logger}
	f.handlers = map[RepairKind]repairHandler{
		RepairPrismaGenerate:    f.command(func() string { return f.commands.PrismaGenerate }, "Regenerate Prisma client"),
		RepairPrismaMigrate:     f.command(func() string { return f.commands.PrismaMigrateDeploy }, "Apply database migrations"),
		RepairDepsInstall:       f.command(func() string { return f.commands.Install }, "Install dependencies"),
		RepairBuildFix:          f.command(func() string { return f.commands.Build }, "Rebuild project"),
		RepairEnvSetup:          f.manual("environment setup"),
		RepairDBConnect:         f.manual("database connection"),
		RepairDiskCleanup:       f.manual("disk cleanup"),
		RepairSystemOptimize:    f.manual("system optimization"),
		RepairProviderEmergency: f.manual("provider emergency"),
		RepairProviderFallback:  f.providerFallback,
	}
	return f
}

// Execute runs the remediation for a, auditing the attempt before and the
// outcome after. It never panics; unknown kinds and failing routines
// return false.
func (f *Fixer) Execute(ctx context.Context, a RepairAction, orgID string) bool {
	if orgID == "" {
		orgID = "system"
	}
	start := time.Now()
	f.logger.Info("executing repair action",
		"action", a.Type, "description", a.Description, "risky", a.Risky)

	sideChannel(f.logger, "audit", f.audit.Record(audit.Record{
		Action:   audit.ActionRepair,
		OrgID:    orgID,
		Entity:   "system",
		EntityID: string(a.Type),
		Metadata: map[string]any{
			"check":   string(a.Type),
			"action":  a.Description,
			"risky":   a.Risky,
			"command": a.Command,
		},
	}))

	h, ok := f.handlers[a.Type]
	if !ok {
		f.logger.Warn("unknown repair action type", "action", a.Type)
		return false
	}

	success := f.invoke(ctx, h, a)
	elapsed := time.Since(start).Milliseconds()
	telemetry.RecordRepair(ctx, string(a.Type), a.Risky, success)

	sideChannel(f.logger, "audit", f.audit.Record(audit.Record{
		Action:   audit.ActionRepairResult,
		OrgID:    orgID,
		Entity:   "system",
		EntityID: string(a.Type),
		Metadata: map[string]any{
			"check":    string(a.Type),
			"success":  success,
			"duration": elapsed,
		},
	}))
	f.logger.Info("repair action completed",
		"action", a.Type, "success", success, "duration_ms", elapsed)
	return success
}

// invoke calls h and converts a panic into failure.
func (f *Fixer) invoke(ctx context.Context, h repairHandler, a RepairAction) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			f.logger.Error("repair action panicked", "action", a.Type, "panic", fmt.Sprint(p))
			ok = false
		}
	}()
	return h(ctx, a)
}

// command returns a handler that runs the configured command. The command
// is looked up at call time so tests can swap commands after construction.
func (f *Fixer) command(cmd func() string, desc string) repairHandler {
	return func(ctx context.Context, a RepairAction) bool {
		res := f.shell.RunSafe(ctx, cmd(), desc)
		if !res.Success {
			f.logger.Warn("repair command failed", "action", a.Type, "error", res.Error)
		}
		return res.Success
	}
}

// manual returns a handler for remediations that need an operator.
func (f *Fixer) manual(what string) repairHandler {
	return func(_ context.Context, a RepairAction) bool {
		f.logger.Warn(what+" requires manual intervention",
			"action", a.Type, "description", a.Description)
		return false
	}
}

// providerFallback acknowledges that traffic already moved to the fallback.
func (f *Fixer) providerFallback(_ context.Context, a RepairAction) bool {
	f.logger.Info("provider fallback acknowledged", "description", a.Description)
	return true
}

// sideChannel logs a failed best-effort write. Every audit, telemetry,
// notification and status error of a run funnels through here.
func sideChannel(logger *slog.Logger, sink string, err error) {
	if err != nil {
		logger.Warn("side channel failed", "sink", sink, "error", err)
	}
}
