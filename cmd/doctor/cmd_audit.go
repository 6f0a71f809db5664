package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/paulyops/sysdoctor/internal/audit"
	"github.com/paulyops/sysdoctor/internal/config"
	"github.com/paulyops/sysdoctor/internal/fsys"
	"github.com/spf13/cobra"
)

func newAuditCmd(stdout, stderr io.Writer) *cobra.Command {
	var actionFilter, sinceFlag string
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the doctor audit log",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if cmdAudit(actionFilter, sinceFlag, limit, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&actionFilter, "action", "", "Filter by action (e.g. doctor.repair)")
	cmd.Flags().StringVar(&sinceFlag, "since", "", "Show records since duration ago (e.g. 1h, 30m)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Show only the newest N records")
	return cmd
}

// cmdAudit resolves the audit log path from the config.
func cmdAudit(actionFilter, sinceFlag string, limit int, stdout, stderr io.Writer) int {
	cfg, err := config.Load(fsys.OSFS{}, workDir())
	if err != nil {
		fmt.Fprintf(stderr, "doctor audit: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	path := cfg.AuditLog
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir(), path)
	}
	return doAudit(path, actionFilter, sinceFlag, limit, stdout, stderr)
}

// doAudit reads and displays audit records. Accepts the path directly for
// testability.
func doAudit(path, actionFilter, sinceFlag string, limit int, stdout, stderr io.Writer) int {
	filter := audit.Filter{Action: actionFilter, Limit: limit}
	if sinceFlag != "" {
		d, err := time.ParseDuration(sinceFlag)
		if err != nil {
			fmt.Fprintf(stderr, "doctor audit: invalid --since %q: %v\n", sinceFlag, err) //nolint:errcheck // best-effort stderr
			return 1
		}
		filter.Since = time.Now().Add(-d)
	}

	records, err := audit.ReadFiltered(path, filter)
	if err != nil {
		fmt.Fprintf(stderr, "doctor audit: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if len(records) == 0 {
		fmt.Fprintln(stdout, "No audit records.") //nolint:errcheck // best-effort stdout
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tACTION\tORG\tENTITY\tDETAILS\tTIME") //nolint:errcheck // best-effort stdout
	for _, r := range records {
		entity := r.Entity
		if r.EntityID != "" {
			entity += "/" + r.EntityID
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", //nolint:errcheck // best-effort stdout
			r.Seq, r.Action, r.OrgID, entity, metadataSummary(r.Metadata),
			r.Ts.Local().Format("2006-01-02 15:04:05"),
		)
	}
	tw.Flush() //nolint:errcheck // best-effort stdout
	return 0
}

// metadataSummary renders metadata as sorted key=value pairs, truncated for
// the table.
func metadataSummary(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	s := strings.Join(parts, " ")
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}
