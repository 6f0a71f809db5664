package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/paulyops/sysdoctor/internal/doctor"
	"github.com/spf13/cobra"
)

func newRollbackCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback [savepoint]",
		Short: "Restore a git savepoint taken by a repair run",
		Long: `Restore the work tree to a savepoint tag taken by a repair or surgical
run, remove untracked files and reinstall dependencies. The status snapshot,
audit log and run lock are kept. Only doctor-savepoint-* tags are accepted.

Requires allowSurgical in doctor.config.json. Without an argument, lists
the available savepoints, newest first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var code int
			if len(args) == 0 {
				code = doListSavepoints(cmd.Context(), stdout, stderr)
			} else {
				code = doRollback(cmd.Context(), args[0], stdout, stderr)
			}
			if code != 0 {
				return errExit
			}
			return nil
		},
	}
}

func doListSavepoints(ctx context.Context, stdout, stderr io.Writer) int {
	ids, err := doctor.ListSavepoints(ctx, doctor.Options{Dir: workDir()})
	if err != nil {
		fmt.Fprintf(stderr, "doctor rollback: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if len(ids) == 0 {
		fmt.Fprintln(stdout, "No savepoints.") //nolint:errcheck // best-effort stdout
		return 0
	}
	for _, id := range ids {
		fmt.Fprintln(stdout, id) //nolint:errcheck // best-effort stdout
	}
	return 0
}

func doRollback(ctx context.Context, id string, stdout, stderr io.Writer) int {
	err := doctor.Rollback(ctx, doctor.Options{Dir: workDir(), Logger: newLogger(stderr)}, id)
	switch {
	case errors.Is(err, doctor.ErrSurgicalDisabled):
		fmt.Fprintf(stderr, "doctor rollback: %v (set allowSurgical in doctor.config.json)\n", err) //nolint:errcheck // best-effort stderr
		return 1
	case err != nil:
		fmt.Fprintf(stderr, "doctor rollback: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Rolled back to %s\n", id) //nolint:errcheck // best-effort stdout
	return 0
}
