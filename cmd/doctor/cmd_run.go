package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/paulyops/sysdoctor/internal/config"
	"github.com/paulyops/sysdoctor/internal/doctor"
	"github.com/paulyops/sysdoctor/internal/telemetry"
)

type runOptions struct {
	mode       config.Mode
	noProgress bool
	jsonOut    bool
}

// doRun executes one doctor pass and prints the report. Returns 0 when no
// check failed.
func doRun(ctx context.Context, opts runOptions, stdout, stderr io.Writer) int {
	logger := newLogger(stderr)
	tp, err := telemetry.Init(ctx, "doctor", version)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
	} else {
		defer tp.Shutdown(context.Background()) //nolint:errcheck // best-effort flush
	}

	var progress doctor.Progress
	if !opts.noProgress && !opts.jsonOut {
		progress = newBarProgress(stderr)
	}

	if !opts.jsonOut {
		fmt.Fprintf(stdout, "🩺 PaulyOps System Doctor - %s mode\n%s\n", //nolint:errcheck // best-effort stdout
			strings.ToUpper(string(opts.mode)), strings.Repeat("=", 50))
	}

	rep, err := doctor.Run(ctx, doctor.Options{
		Mode:     opts.mode,
		Dir:      workDir(),
		Logger:   logger,
		Progress: progress,
	})
	switch {
	case errors.Is(err, config.ErrNotFound):
		fmt.Fprintf(stderr, "💥 Doctor failed: %v in %s\n", err, workDir()) //nolint:errcheck // best-effort stderr
		return 1
	case err != nil:
		fmt.Fprintf(stderr, "💥 Doctor failed: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	if opts.jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintf(stderr, "doctor: encoding report: %v\n", err) //nolint:errcheck // best-effort stderr
			return 1
		}
	} else {
		printReport(stdout, rep)
	}
	if !rep.Healthy() {
		return 1
	}
	return 0
}

// printReport writes the human-readable summary table.
func printReport(w io.Writer, rep *doctor.Report) {
	ok := color.New(color.FgGreen).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()
	rule := strings.Repeat("-", 50)
	out := func(format string, args ...any) {
		fmt.Fprintf(w, format, args...) //nolint:errcheck // best-effort stdout
	}

	out("\n📊 %s\n%s\n", bold("Health Check Summary"), rule)
	out("✅ OK:     %s\n", ok(rep.Summary.OK))
	out("⚠️  WARN:   %s\n", warn(rep.Summary.Warn))
	out("❌ FAIL:   %s\n", fail(rep.Summary.Fail))
	out("⏱️  Time:   %dms\n", rep.Duration)

	if len(rep.FailingChecks) > 0 {
		out("\n❌ Failing Checks:\n")
		for _, name := range rep.FailingChecks {
			out("   • %s\n", name)
		}
	}

	if len(rep.Repairs) > 0 {
		out("\n🔧 Repairs Attempted:\n")
		for _, r := range rep.Repairs {
			mark := fail("❌")
			switch {
			case r.Skipped:
				mark = warn("⏭️ ")
			case r.Success:
				mark = ok("✅")
			}
			line := fmt.Sprintf("   %s %s: %s", mark, r.Check, r.Action.Description)
			if r.Skipped {
				line += " (skipped: " + r.Reason + ")"
			}
			out("%s\n", line)
		}
	}

	if rep.Savepoint != "" {
		out("\n💾 Savepoint: %s\n", rep.Savepoint)
	}

	out("\n📄 %s\n%s\n", bold("Detailed Results:"), rule)
	for _, c := range rep.Checks {
		var mark string
		switch c.Status {
		case doctor.StatusOK:
			mark = ok("✅")
		case doctor.StatusWarn:
			mark = warn("⚠️ ")
		default:
			mark = fail("❌")
		}
		dur := ""
		if c.Duration > 0 {
			dur = fmt.Sprintf(" (%dms)", c.Duration)
		}
		out("%s %s: %s%s\n", mark, c.Name, c.Message, dur)
	}

	out("\n%s\n", strings.Repeat("=", 50))
	if rep.Healthy() {
		out("%s\n", ok("✅ System is healthy!"))
	} else {
		out("%s\n", fail("❌ System has issues that require attention"))
	}
}
