// Package doctor runs the system health checks, repairs what it safely can
// and reports the outcome.
//
// A run loads doctor.config.json, takes the single-run lock, creates a git
// savepoint when it may mutate anything, runs the enabled checks in a fixed
// order, sends failing checks that carry a fix through the risk gate to the
// [Fixer], re-runs each repaired check, and finally writes the status
// snapshot, notifies chat channels and records an audit entry.
package doctor

import (
	"context"
	"time"

	"github.com/paulyops/sysdoctor/internal/config"
)

// Status is the outcome of a single check.
type Status string

const (
	// StatusOK means the check passed.
	StatusOK Status = "ok"
	// StatusWarn means the check found a non-critical issue.
	StatusWarn Status = "warn"
	// StatusFail means the check found a critical problem.
	StatusFail Status = "fail"
)

// RepairKind is the closed set of remediations a check can ask for.
type RepairKind string

// Repair kinds. Every kind has exactly one handler in the [Fixer].
const (
	RepairEnvSetup          RepairKind = "env_setup"
	RepairDBConnect         RepairKind = "db_connect"
	RepairPrismaGenerate    RepairKind = "prisma_generate"
	RepairPrismaMigrate     RepairKind = "prisma_migrate"
	RepairDepsInstall       RepairKind = "deps_install"
	RepairBuildFix          RepairKind = "build_fix"
	RepairDiskCleanup       RepairKind = "disk_cleanup"
	RepairSystemOptimize    RepairKind = "system_optimize"
	RepairProviderFallback  RepairKind = "provider_fallback"
	RepairProviderEmergency RepairKind = "provider_emergency"
)

// RepairKinds lists every kind in declaration order.
var RepairKinds = []RepairKind{
	RepairEnvSetup,
	RepairDBConnect,
	RepairPrismaGenerate,
	RepairPrismaMigrate,
	RepairDepsInstall,
	RepairBuildFix,
	RepairDiskCleanup,
	RepairSystemOptimize,
	RepairProviderFallback,
	RepairProviderEmergency,
}

// RepairAction describes a possible remediation for a non-ok check.
type RepairAction struct {
	Type        RepairKind `json:"type"`
	Command     string     `json:"command,omitempty"`
	Description string     `json:"description"`
	// Risky actions only run in surgical mode with allowSurgical set and a
	// savepoint taken in the same run.
	Risky bool `json:"risky"`
}

// CheckResult is the outcome of one check execution.
type CheckResult struct {
	Name    string         `json:"name"`
	Status  Status         `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Fix     *RepairAction  `json:"fix,omitempty"`
	// Duration in milliseconds.
	Duration int64 `json:"duration"`
}

// RepairResult records one fix considered during a run.
type RepairResult struct {
	Check   string       `json:"check"`
	Action  RepairAction `json:"action"`
	Success bool         `json:"success"`
	// Skipped is set when the risk gate refused the action; it never ran.
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Summary counts final check statuses.
type Summary struct {
	OK   int `json:"ok"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Report is the terminal artifact of a run.
type Report struct {
	Timestamp     time.Time      `json:"timestamp"`
	Mode          config.Mode    `json:"mode"`
	Summary       Summary        `json:"summary"`
	Checks        []CheckResult  `json:"checks"`
	FailingChecks []string       `json:"failingChecks"`
	Duration      int64          `json:"duration"`
	Savepoint     string         `json:"savepoint,omitempty"`
	Repairs       []RepairResult `json:"repairs"`
}

// Healthy reports whether no check failed.
func (r *Report) Healthy() bool { return r.Summary.Fail == 0 }

// Check is a single read-only diagnostic. A returned error is converted by
// the orchestrator into a fail result; implementations need not set Name or
// Duration.
type Check interface {
	Name() string
	Run(ctx context.Context) (*CheckResult, error)
}

// Progress observes the first pass over the checks. Begin is called once
// with the number of enabled checks, CheckDone after each check, and End
// when the pass is over, before any repair runs.
type Progress interface {
	Begin(total int)
	CheckDone(r CheckResult)
	End()
}

type nopProgress struct{}

func (nopProgress) Begin(int) {}
func (nopProgress) CheckDone(CheckResult) {}
func (nopProgress) End() {}
