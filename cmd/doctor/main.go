// doctor is the PaulyOps system doctor CLI: health checks, safe repairs and
// git-savepoint rollback for one deployment.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulyops/sysdoctor/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errExit is a sentinel error returned by cobra RunE functions to signal
// non-zero exit. The command has already written its own error to stderr.
var errExit = errors.New("exit")

// dirFlag holds the value of the --dir persistent flag. Empty means the
// current directory.
var dirFlag string

// run executes the doctor CLI with the given args, writing output to stdout
// and errors to stderr. Returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errExit) {
			fmt.Fprintf(stderr, "doctor: %v\n", err) //nolint:errcheck // best-effort stderr
		}
		return 1
	}
	return 0
}

const usage = `Usage: doctor <scan|repair|surgical>

Modes:
  scan     - Run health checks only (read-only)
  repair   - Run checks and attempt safe repairs
  surgical - Run checks and attempt all repairs (including risky ones)
`

// newRootCmd creates the root cobra command with all subcommands. The root
// itself takes the run mode as its only positional argument.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts runOptions
	root := &cobra.Command{
		Use:   "doctor <scan|repair|surgical>",
		Short: "PaulyOps system doctor: health checks, safe repairs and rollback",
		Long: `Run the system health checks against the current deployment.

scan only reports. repair also attempts safe fixes for failing checks and
re-checks them. surgical additionally attempts risky fixes, which requires
allowSurgical in doctor.config.json and a git savepoint taken by the run.

Exits 0 when no check fails, 1 otherwise.`,
		Example: `  doctor scan
  doctor repair --no-progress
  doctor surgical --json`,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				fmt.Fprint(stderr, usage) //nolint:errcheck // best-effort stderr
				return errExit
			}
			mode, err := config.ParseMode(args[0])
			if err != nil {
				fmt.Fprintf(stderr, "doctor: unknown command %q\n\n%s", args[0], usage) //nolint:errcheck // best-effort stderr
				return errExit
			}
			opts.mode = mode
			if doRun(cmd.Context(), opts, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dirFlag, "dir", "",
		"working directory holding doctor.config.json (default: current directory)")
	root.Flags().BoolVar(&opts.noProgress, "no-progress", false, "do not show a progress bar")
	root.Flags().BoolVar(&opts.jsonOut, "json", false, "print the full report as JSON")
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		newServeCmd(stderr),
		newStatusCmd(stdout, stderr),
		newRollbackCmd(stdout, stderr),
		newAuditCmd(stdout, stderr),
		newProvidersCmd(stdout, stderr),
		newVersionCmd(stdout),
	)
	root.AddCommand(newGenDocCmd(stdout, stderr, root))
	return root
}

// workDir returns the --dir flag value or ".".
func workDir() string {
	if dirFlag != "" {
		return dirFlag
	}
	return "."
}
