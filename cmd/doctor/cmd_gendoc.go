package main

import (
	"fmt"
	"io"
	"os"

	"github.com/paulyops/sysdoctor/internal/docgen"
	"github.com/paulyops/sysdoctor/internal/fsys"
	"github.com/spf13/cobra"
)

const cliDocPath = "docs/reference/cli.md"

// newGenDocCmd creates the hidden "doctor gen-doc" subcommand, which writes
// docs/reference/cli.md from the real command tree. cmd/genschema invokes it
// from the repository root.
func newGenDocCmd(stdout, stderr io.Writer, root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:    "gen-doc",
		Short:  "Generate CLI reference documentation",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := os.Stat("go.mod"); err != nil {
				fmt.Fprintln(stderr, "gen-doc: must run from repository root (go.mod not found)") //nolint:errcheck // best-effort stderr
				return errExit
			}
			render := func(w io.Writer) error { return docgen.RenderCLI(w, root) }
			if err := docgen.Write(fsys.OSFS{}, cliDocPath, render); err != nil {
				fmt.Fprintf(stderr, "gen-doc: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			fmt.Fprintf(stdout, "Generated: %s\n", cliDocPath) //nolint:errcheck // best-effort stdout
			return nil
		},
	}
}
