package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulyops/sysdoctor/internal/config"
	"github.com/paulyops/sysdoctor/internal/dbprobe"
	"github.com/paulyops/sysdoctor/internal/fsys"
	"github.com/paulyops/sysdoctor/internal/metrics"
	"github.com/paulyops/sysdoctor/internal/providers"
	"github.com/paulyops/sysdoctor/internal/shell"
)

// CheckNames is the declared run order.
var CheckNames = []string{
	"env",
	"db",
	"prismaGenerate",
	"prismaMigrate",
	"depsSync",
	"build",
	"disk",
	"memoryCpu",
	"providers",
}

// Severity multipliers applied to the configured thresholds.
const (
	severeFreeFactor = 0.5
	severeLoadFactor = 2.0
)

// CommandRunner is the subset of [shell.Runner] checks and fixes use.
type CommandRunner interface {
	RunSafe(ctx context.Context, command, description string) shell.Result
}

// MetricsSource produces fresh host metrics on every call.
type MetricsSource interface {
	Collect(ctx context.Context) metrics.System
}

// CheckDeps are the collaborators the check set reads from.
type CheckDeps struct {
	Config    *config.Doctor
	Dir       string
	Shell     CommandRunner
	Metrics   MetricsSource
	FS        fsys.FS
	LookupEnv func(string) (string, bool)
	DBProbe   dbprobe.Func
	Providers *providers.Registry
	Prober    providers.Prober
}

// NewChecks returns all nine checks in declared order.
func NewChecks(d CheckDeps) []Check {
	if d.LookupEnv == nil {
		d.LookupEnv = os.LookupEnv
	}
	if d.FS == nil {
		d.FS = fsys.OSFS{}
	}
	if d.DBProbe == nil {
		d.DBProbe = dbprobe.Probe
	}
	if d.Prober == nil {
		d.Prober = providers.HTTPProber{}
	}
	if d.Providers == nil {
		d.Providers = providers.NewRegistry(d.Config.Providers)
	}
	cmds := d.Config.Commands
	th := d.Config.Thresholds
	return []Check{
		&EnvCheck{Required: d.Config.RequiredEnv, LookupEnv: d.LookupEnv},
		&DBCheck{LookupEnv: d.LookupEnv, Probe: d.DBProbe},
		&CommandCheck{
			CheckName:   "prismaGenerate",
			Shell:       d.Shell,
			Command:     cmds.PrismaGenerate,
			Description: "Generate Prisma client",
			OKMessage:   "Prisma client is up to date",
			OKDetails:   map[string]any{"generated": true},
			FailMessage: "Prisma client needs regeneration",
			Fix:         RepairAction{Type: RepairPrismaGenerate, Command: cmds.PrismaGenerate, Description: "Regenerate Prisma client"},
		},
		&MigrateCheck{Shell: d.Shell, StatusCommand: cmds.PrismaMigrateStatus, DeployCommand: cmds.PrismaMigrateDeploy},
		&DepsSyncCheck{FS: d.FS, Dir: d.Dir, InstallCommand: cmds.Install},
		&CommandCheck{
			CheckName:   "build",
			Shell:       d.Shell,
			Command:     cmds.Build,
			Description: "Test build process",
			OKMessage:   "Build process successful",
			OKDetails:   map[string]any{"built": true},
			FailMessage: "Build process failed",
			Fix:         RepairAction{Type: RepairBuildFix, Command: cmds.Build, Description: "Rebuild project"},
		},
		&DiskCheck{Metrics: d.Metrics, MinFreePct: th.DiskFreePctMin},
		&MemoryCPUCheck{Metrics: d.Metrics, MinMemFreePct: th.MemFreePctMin, MaxLoad: th.CPULoadMax},
		&ProvidersCheck{Registry: d.Providers, Prober: d.Prober},
	}
}

// --- env ---

// EnvCheck verifies the required environment variables are set and non-empty.
type EnvCheck struct {
	Required  []string
	LookupEnv func(string) (string, bool)
}

// Name returns the check identifier.
func (c *EnvCheck) Name() string { return "env" }

// Run reports missing variables.
func (c *EnvCheck) Run(context.Context) (*CheckResult, error) {
	missing := []string{}
	present := []string{}
	for _, name := range c.Required {
		if v, ok := c.LookupEnv(name); ok && v != "" {
			present = append(present, name)
		} else {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return &CheckResult{
			Status:  StatusOK,
			Message: fmt.Sprintf("All required environment variables present (%d)", len(present)),
			Details: map[string]any{"present": present},
		}, nil
	}
	list := strings.Join(missing, ", ")
	return &CheckResult{
		Status:  StatusFail,
		Message: "Missing required environment variables: " + list,
		Details: map[string]any{"missing": missing, "present": present},
		Fix: &RepairAction{
			Type:        RepairEnvSetup,
			Description: "Set missing environment variables: " + list,
		},
	}, nil
}

// --- db ---

// DBCheck probes DATABASE_URL with a trivial query.
type DBCheck struct {
	LookupEnv func(string) (string, bool)
	Probe     dbprobe.Func
}

// Name returns the check identifier.
func (c *DBCheck) Name() string { return "db" }

// Run connects to the database and runs SELECT 1.
func (c *DBCheck) Run(ctx context.Context) (*CheckResult, error) {
	fix := &RepairAction{
		Type:        RepairDBConnect,
		Description: "Check DATABASE_URL and database server status",
	}
	url, _ := c.LookupEnv("DATABASE_URL")
	if url == "" {
		return &CheckResult{
			Status:  StatusFail,
			Message: "Database connection failed: DATABASE_URL not set",
			Details: map[string]any{"error": "DATABASE_URL not set"},
			Fix:     fix,
		}, nil
	}
	if err := c.Probe(ctx, url); err != nil {
		return &CheckResult{
			Status:  StatusFail,
			Message: "Database connection failed: " + err.Error(),
			Details: map[string]any{"error": err.Error()},
			Fix:     fix,
		}, nil
	}
	return &CheckResult{
		Status:  StatusOK,
		Message: "Database connection successful",
		Details: map[string]any{"connected": true},
	}, nil
}

// --- prismaGenerate, build ---

// CommandCheck passes when a whitelisted command exits zero.
type CommandCheck struct {
	CheckName   string
	Shell       CommandRunner
	Command     string
	Description string
	OKMessage   string
	OKDetails   map[string]any
	FailMessage string
	Fix         RepairAction
}

// Name returns the check identifier.
func (c *CommandCheck) Name() string { return c.CheckName }

// Run executes the command through the whitelist.
func (c *CommandCheck) Run(ctx context.Context) (*CheckResult, error) {
	res := c.Shell.RunSafe(ctx, c.Command, c.Description)
	if res.Success {
		return &CheckResult{Status: StatusOK, Message: c.OKMessage, Details: c.OKDetails}, nil
	}
	fix := c.Fix
	return &CheckResult{
		Status:  StatusFail,
		Message: c.FailMessage,
		Details: map[string]any{"error": failureText(res)},
		Fix:     &fix,
	}, nil
}

// failureText prefers the runner's error (which carries stderr) over stdout.
func failureText(res shell.Result) string {
	if res.Error != "" {
		return res.Error
	}
	return res.Output
}

// --- prismaMigrate ---

// MigrateCheck inspects the migration status command's output.
type MigrateCheck struct {
	Shell         CommandRunner
	StatusCommand string
	DeployCommand string
}

// Name returns the check identifier.
func (c *MigrateCheck) Name() string { return "prismaMigrate" }

// Run warns on pending migrations and fails when the status command fails.
func (c *MigrateCheck) Run(ctx context.Context) (*CheckResult, error) {
	res := c.Shell.RunSafe(ctx, c.StatusCommand, "Check Prisma migration status")
	if !res.Success {
		return &CheckResult{
			Status:  StatusFail,
			Message: "Failed to check migration status",
			Details: map[string]any{"error": failureText(res)},
			Fix:     c.fix("Apply database migrations"),
		}, nil
	}
	if strings.Contains(res.Output, "Pending") || strings.Contains(res.Output, "not applied") {
		return &CheckResult{
			Status:  StatusWarn,
			Message: "Database has pending migrations",
			Details: map[string]any{"status": res.Output},
			Fix:     c.fix("Apply pending database migrations"),
		}, nil
	}
	return &CheckResult{
		Status:  StatusOK,
		Message: "Database migrations are up to date",
		Details: map[string]any{"status": res.Output},
	}, nil
}

func (c *MigrateCheck) fix(desc string) *RepairAction {
	return &RepairAction{Type: RepairPrismaMigrate, Command: c.DeployCommand, Description: desc, Risky: true}
}

// --- depsSync ---

// Dependency layout inspected by [DepsSyncCheck].
const (
	NodeModulesDir = "node_modules"
	LockFile       = "pnpm-lock.yaml"
)

// DepsSyncCheck compares node_modules against the lockfile.
type DepsSyncCheck struct {
	FS             fsys.FS
	Dir            string
	InstallCommand string
}

// Name returns the check identifier.
func (c *DepsSyncCheck) Name() string { return "depsSync" }

// Run fails when node_modules is missing and warns when the lockfile is
// newer than node_modules.
func (c *DepsSyncCheck) Run(context.Context) (*CheckResult, error) {
	nmPath := filepath.Join(c.Dir, NodeModulesDir)
	lockPath := filepath.Join(c.Dir, LockFile)

	nm, err := c.FS.Stat(nmPath)
	if errors.Is(err, os.ErrNotExist) {
		return &CheckResult{
			Status:  StatusFail,
			Message: "node_modules directory missing",
			Details: map[string]any{"missing": NodeModulesDir},
			Fix:     c.fix("Install dependencies"),
		}, nil
	}
	if err != nil {
		return c.failed(err), nil
	}
	lock, err := c.FS.Stat(lockPath)
	if err != nil {
		return c.failed(err), nil
	}
	if lock.ModTime().After(nm.ModTime()) {
		return &CheckResult{
			Status:  StatusWarn,
			Message: "Dependencies out of sync with lockfile",
			Details: map[string]any{
				"lockfileModified":    lock.ModTime(),
				"nodeModulesModified": nm.ModTime(),
			},
			Fix: c.fix("Sync dependencies with lockfile"),
		}, nil
	}
	return &CheckResult{
		Status:  StatusOK,
		Message: "Dependencies are in sync",
		Details: map[string]any{"synced": true},
	}, nil
}

func (c *DepsSyncCheck) failed(err error) *CheckResult {
	return &CheckResult{
		Status:  StatusFail,
		Message: "Dependency check failed: " + err.Error(),
		Details: map[string]any{"error": err.Error()},
		Fix:     c.fix("Reinstall dependencies"),
	}
}

func (c *DepsSyncCheck) fix(desc string) *RepairAction {
	return &RepairAction{Type: RepairDepsInstall, Command: c.InstallCommand, Description: desc}
}

// --- disk ---

// DiskCheck compares free disk space against the configured minimum.
type DiskCheck struct {
	Metrics    MetricsSource
	MinFreePct int
}

// Name returns the check identifier.
func (c *DiskCheck) Name() string { return "disk" }

// Run warns below the threshold and fails below half of it.
func (c *DiskCheck) Run(ctx context.Context) (*CheckResult, error) {
	free := c.Metrics.Collect(ctx).DiskFreePercent
	threshold := c.MinFreePct
	details := map[string]any{"freePercent": free, "threshold": threshold}

	switch {
	case free >= threshold:
		return &CheckResult{
			Status:  StatusOK,
			Message: fmt.Sprintf("Disk space adequate (%d%% free)", free),
			Details: details,
		}, nil
	case float64(free) >= float64(threshold)*severeFreeFactor:
		return &CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("Low disk space: %d%% free", free),
			Details: details,
			Fix: &RepairAction{
				Type:        RepairDiskCleanup,
				Description: fmt.Sprintf("Low disk space: %d%% free (threshold: %d%%)", free, threshold),
			},
		}, nil
	}
	return &CheckResult{
		Status:  StatusFail,
		Message: fmt.Sprintf("Critical disk space: %d%% free", free),
		Details: details,
		Fix: &RepairAction{
			Type:        RepairDiskCleanup,
			Description: fmt.Sprintf("Critical disk space: %d%% free (threshold: %d%%)", free, threshold),
			Risky:       true,
		},
	}, nil
}

// --- memoryCpu ---

// MemoryCPUCheck compares free memory and load average against thresholds.
type MemoryCPUCheck struct {
	Metrics       MetricsSource
	MinMemFreePct int
	MaxLoad       float64
}

// Name returns the check identifier.
func (c *MemoryCPUCheck) Name() string { return "memoryCpu" }

// Run warns on a moderate breach and fails when free memory is under half
// the minimum or load exceeds twice the maximum.
func (c *MemoryCPUCheck) Run(ctx context.Context) (*CheckResult, error) {
	m := c.Metrics.Collect(ctx)
	mem, load := m.MemoryFreePercent, m.CPULoad
	details := map[string]any{
		"memFreePercent": mem,
		"cpuLoad":        load,
		"memThreshold":   c.MinMemFreePct,
		"cpuThreshold":   c.MaxLoad,
	}
	memOK := mem >= c.MinMemFreePct
	cpuOK := load <= c.MaxLoad
	if memOK && cpuOK {
		return &CheckResult{
			Status:  StatusOK,
			Message: fmt.Sprintf("Memory and CPU healthy (%d%% mem free, %.2f CPU load)", mem, load),
			Details: details,
		}, nil
	}

	var issues []string
	if !memOK {
		issues = append(issues, fmt.Sprintf("Low memory: %d%% free", mem))
	}
	if !cpuOK {
		issues = append(issues, fmt.Sprintf("High CPU: %.2f load", load))
	}
	msg := "System resource issues: " + strings.Join(issues, ", ")

	status := StatusWarn
	if float64(mem) < float64(c.MinMemFreePct)*severeFreeFactor || load > c.MaxLoad*severeLoadFactor {
		status = StatusFail
	}
	return &CheckResult{
		Status:  status,
		Message: msg,
		Details: details,
		Fix:     &RepairAction{Type: RepairSystemOptimize, Description: msg},
	}, nil
}

// --- providers ---

// ProvidersCheck probes the primary provider and, when it is down, the
// fallback.
type ProvidersCheck struct {
	Registry *providers.Registry
	Prober   providers.Prober
}

// Name returns the check identifier.
func (c *ProvidersCheck) Name() string { return "providers" }

// Run reports ok while the primary is healthy, warn while only the fallback
// is, and fail when both are down.
func (c *ProvidersCheck) Run(ctx context.Context) (*CheckResult, error) {
	primary, secondary := c.Registry.Current(), c.Registry.Fallback()
	primaryErr := c.probe(ctx, primary)
	details := map[string]any{
		"primaryProvider":   primary,
		"secondaryProvider": secondary,
		"primaryHealthy":    primaryErr == nil,
	}
	if primaryErr == nil {
		return &CheckResult{
			Status:  StatusOK,
			Message: "Primary provider healthy: " + primary,
			Details: details,
		}, nil
	}
	details["primaryError"] = primaryErr.Error()

	secondaryErr := c.probe(ctx, secondary)
	details["secondaryHealthy"] = secondaryErr == nil
	if secondaryErr == nil {
		return &CheckResult{
			Status:  StatusWarn,
			Message: "Using fallback provider: " + secondary,
			Details: details,
			Fix: &RepairAction{
				Type:        RepairProviderFallback,
				Description: "Primary provider down, using fallback: " + secondary,
			},
		}, nil
	}
	details["secondaryError"] = secondaryErr.Error()
	return &CheckResult{
		Status:  StatusFail,
		Message: "All external providers down",
		Details: details,
		Fix: &RepairAction{
			Type:        RepairProviderEmergency,
			Description: "All providers down - emergency mode",
			Risky:       true,
		},
	}, nil
}

// probe checks a provider by name. Names missing from the registry (the
// implicit local fallback) are healthy.
func (c *ProvidersCheck) probe(ctx context.Context, name string) error {
	p, ok := c.Registry.Lookup(name)
	if !ok {
		return nil
	}
	return c.Prober.Probe(ctx, p)
}
