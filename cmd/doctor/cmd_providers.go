package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/paulyops/sysdoctor/internal/config"
	"github.com/paulyops/sysdoctor/internal/fsys"
	"github.com/paulyops/sysdoctor/internal/providers"
	"github.com/spf13/cobra"
)

func newProvidersCmd(stdout, stderr io.Writer) *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Show the ranked storage providers",
		Long: `Show the storage providers from doctor.config.json in priority order,
with the primary and fallback the providers check would use.

With --probe, each enabled provider's healthUrl is requested.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(fsys.OSFS{}, workDir())
			if err != nil {
				fmt.Fprintf(stderr, "doctor providers: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			var prober providers.Prober
			if probe {
				prober = providers.HTTPProber{}
			}
			if doProviders(cmd.Context(), providers.NewRegistry(cfg.Providers), prober, stdout) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "probe each enabled provider's health URL")
	return cmd
}

// doProviders prints the registry. A nil prober skips health probes. Returns
// 1 when a probe fails.
func doProviders(ctx context.Context, reg *providers.Registry, prober providers.Prober, stdout io.Writer) int {
	primary, fallback := reg.Current(), reg.Fallback()
	code := 0

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	header := "PRIORITY\tNAME\tENABLED\tROLE"
	if prober != nil {
		header += "\tHEALTH"
	}
	fmt.Fprintln(tw, header) //nolint:errcheck // best-effort stdout
	for _, p := range reg.ByPriority() {
		role := "-"
		switch {
		case p.Enabled && p.Name == primary:
			role = "primary"
		case p.Enabled && p.Name == fallback:
			role = "fallback"
		}
		line := fmt.Sprintf("%d\t%s\t%t\t%s", p.Priority, p.Name, p.Enabled, role)
		if prober != nil {
			health := "-"
			if p.Enabled {
				health = "ok"
				if err := prober.Probe(ctx, p); err != nil {
					health = "down: " + err.Error()
					code = 1
				}
			}
			line += "\t" + health
		}
		fmt.Fprintln(tw, line) //nolint:errcheck // best-effort stdout
	}
	tw.Flush() //nolint:errcheck // best-effort stdout

	var names []string
	for _, p := range reg.Available() {
		names = append(names, p.Name)
	}
	if len(names) == 0 {
		names = []string{providers.Local}
	}
	fmt.Fprintf(stdout, "\nAvailable: %s\n", strings.Join(names, ", ")) //nolint:errcheck // best-effort stdout
	return code
}
