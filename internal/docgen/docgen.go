// Package docgen renders the markdown reference docs: the config reference
// from the doctor.config.json JSON Schema and the CLI reference from the
// cobra command tree.
package docgen

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/paulyops/sysdoctor/internal/fsys"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const generatedNote = "> Auto-generated, do not edit. Run `go run ./cmd/genschema` to regenerate.\n\n"

// Write renders into memory and atomically replaces path.
func Write(fs fsys.FS, path string, render func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	return fsys.WriteAtomic(fs, path, buf.Bytes())
}

// printer accumulates the first write error so renderers read linearly.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

// RenderConfig writes one section per schema definition, the root type
// first, each with a field table.
func RenderConfig(w io.Writer, s *jsonschema.Schema) error {
	p := &printer{w: w}
	title := s.Title
	if title == "" {
		title = "Configuration Reference"
	}
	p.printf("# %s\n\n", title)
	if s.Description != "" {
		p.printf("%s\n\n", s.Description)
	}
	p.printf(generatedNote)

	root := refName(s.Ref)
	names := make([]string, 0, len(s.Definitions))
	for name := range s.Definitions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if (names[i] == root) != (names[j] == root) {
			return names[i] == root
		}
		return names[i] < names[j]
	})

	for _, name := range names {
		def := s.Definitions[name]
		if def == nil || def.Properties == nil {
			continue
		}
		p.printf("## %s\n\n", name)
		if def.Description != "" {
			p.printf("%s\n\n", def.Description)
		}
		required := make(map[string]bool, len(def.Required))
		for _, r := range def.Required {
			required[r] = true
		}
		p.printf("| Field | Type | Required | Description |\n")
		p.printf("|-------|------|----------|-------------|\n")
		for pair := def.Properties.Oldest(); pair != nil; pair = pair.Next() {
			req := ""
			if required[pair.Key] {
				req = "**yes**"
			}
			p.printf("| `%s` | %s | %s | %s |\n", pair.Key, typeName(pair.Value), req, cell(pair.Value.Description))
		}
		p.printf("\n")
	}
	return p.err
}

// typeName is a Go-ish rendering of a property's schema type.
func typeName(prop *jsonschema.Schema) string {
	switch {
	case prop.Ref != "":
		return refName(prop.Ref)
	case prop.Type == "array" && prop.Items != nil:
		return "[]" + typeName(prop.Items)
	case prop.Type == "object" && prop.AdditionalProperties != nil:
		return "map[string]" + typeName(prop.AdditionalProperties)
	case prop.Type != "":
		return prop.Type
	}
	return "any"
}

func refName(ref string) string {
	return ref[strings.LastIndex(ref, "/")+1:]
}

// cell makes text safe for a markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

// RenderCLI writes a section per visible command: description, synopsis,
// example, local flags and subcommands.
func RenderCLI(w io.Writer, root *cobra.Command) error {
	p := &printer{w: w}
	p.printf("# CLI Reference\n\n")
	p.printf(generatedNote)
	if flags := visibleFlags(root.PersistentFlags()); len(flags) > 0 {
		p.printf("## Global Flags\n\n")
		flagTable(p, flags)
	}
	renderCommand(p, root)
	return p.err
}

func renderCommand(p *printer, cmd *cobra.Command) {
	p.printf("## %s\n\n", cmd.CommandPath())
	desc := cmd.Long
	if desc == "" {
		desc = cmd.Short
	}
	if desc != "" {
		p.printf("%s\n\n", strings.TrimSpace(desc))
	}
	p.printf("```\n%s\n```\n\n", cmd.UseLine())
	if cmd.Example != "" {
		p.printf("**Example:**\n\n```\n%s\n```\n\n", strings.TrimSpace(cmd.Example))
	}
	if flags := visibleFlags(cmd.LocalNonPersistentFlags()); len(flags) > 0 {
		flagTable(p, flags)
	}

	var children []*cobra.Command
	for _, c := range cmd.Commands() {
		if c.IsAvailableCommand() && c.Name() != "completion" {
			children = append(children, c)
		}
	}
	if len(children) > 0 {
		p.printf("| Subcommand | Description |\n|------------|-------------|\n")
		for _, c := range children {
			p.printf("| [%s](#%s) | %s |\n", c.CommandPath(), anchor(c.CommandPath()), cell(c.Short))
		}
		p.printf("\n")
	}
	for _, c := range children {
		renderCommand(p, c)
	}
}

func visibleFlags(fs *pflag.FlagSet) []*pflag.Flag {
	var out []*pflag.Flag
	fs.VisitAll(func(f *pflag.Flag) {
		if !f.Hidden && f.Name != "help" {
			out = append(out, f)
		}
	})
	return out
}

func flagTable(p *printer, flags []*pflag.Flag) {
	p.printf("| Flag | Type | Default | Description |\n|------|------|---------|-------------|\n")
	for _, f := range flags {
		name := "`--" + f.Name + "`"
		if f.Shorthand != "" {
			name = "`-" + f.Shorthand + "`, " + name
		}
		def := ""
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "[]" {
			def = "`" + f.DefValue + "`"
		}
		p.printf("| %s | %s | %s | %s |\n", name, f.Value.Type(), def, cell(f.Usage))
	}
	p.printf("\n")
}

func anchor(path string) string {
	return strings.ReplaceAll(strings.ToLower(path), " ", "-")
}
