// Command genschema generates the JSON Schema and markdown reference docs
// for doctor.config.json and the doctor CLI. Run from the repository root:
//
//	go run ./cmd/genschema
//
// Output:
//
//	docs/schema/doctor-config-schema.json
//	docs/reference/config.md
//	docs/reference/cli.md
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/paulyops/sysdoctor/internal/config"
	"github.com/paulyops/sysdoctor/internal/docgen"
	"github.com/paulyops/sysdoctor/internal/fsys"
)

const (
	schemaPath = "docs/schema/doctor-config-schema.json"
	configDoc  = "docs/reference/config.md"
	cliDoc     = "docs/reference/cli.md"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "genschema: %v\n", err) //nolint:errcheck // best-effort stderr
		os.Exit(1)
	}
}

func run() error {
	if _, err := os.Stat("go.mod"); err != nil {
		return fmt.Errorf("must run from repository root (go.mod not found)")
	}

	schema, err := config.Schema()
	if err != nil {
		return fmt.Errorf("generating config schema: %w", err)
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling schema: %w", err)
	}
	fs := fsys.OSFS{}
	if err := fsys.WriteAtomic(fs, schemaPath, append(data, '\n')); err != nil {
		return err
	}
	if err := docgen.Write(fs, configDoc, func(w io.Writer) error {
		return docgen.RenderConfig(w, schema)
	}); err != nil {
		return err
	}

	// The CLI reference needs the real command tree, which lives in package main.
	genDoc := exec.Command("go", "run", "./cmd/doctor", "gen-doc")
	genDoc.Stdout = io.Discard
	genDoc.Stderr = os.Stderr
	if err := genDoc.Run(); err != nil {
		return fmt.Errorf("generating CLI docs: %w", err)
	}

	fmt.Println("Generated:")
	for _, f := range []string{schemaPath, configDoc, cliDoc} {
		fmt.Printf("  %s\n", f)
	}
	return nil
}
