package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/paulyops/sysdoctor/internal/doctor"
	"github.com/paulyops/sysdoctor/internal/fsys"
	"github.com/spf13/cobra"
)

func newStatusCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last status snapshot without running checks",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doStatus(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doStatus prints the snapshot written by the last run. Exits 1 when that
// run had failures.
func doStatus(stdout, stderr io.Writer) int {
	path, err := doctor.StatusPath(doctor.Options{Dir: workDir()})
	if err != nil {
		fmt.Fprintf(stderr, "doctor status: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	snap, err := doctor.ReadStatus(fsys.OSFS{}, path)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(stdout, "No doctor run recorded yet.") //nolint:errcheck // best-effort stdout
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "doctor status: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	failing := "none"
	if len(snap.FailingChecks) > 0 {
		failing = strings.Join(snap.FailingChecks, ", ")
	}
	fmt.Fprintf(stdout, "Last run: %s (%s)\nOK: %d  WARN: %d  FAIL: %d\nFailing: %s\n", //nolint:errcheck // best-effort stdout
		snap.LastRun.Local().Format("2006-01-02 15:04:05"), snap.Mode,
		snap.Summary.OK, snap.Summary.Warn, snap.Summary.Fail, failing)
	if snap.Summary.Fail > 0 {
		return 1
	}
	return 0
}
