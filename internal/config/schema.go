package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
)

// ModuleRoot finds the repo root by walking up from the current directory
// looking for go.mod. Returns the absolute path.
func ModuleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent of %s", dir)
		}
		dir = parent
	}
}

// Schema produces a JSON Schema for doctor.config.json. Field doc comments
// become descriptions, which requires running inside the source tree.
//
// AddGoComments needs the working directory at the module root so that the
// walked paths map onto import paths.
func Schema() (*jsonschema.Schema, error) {
	root, err := ModuleRoot()
	if err != nil {
		return nil, err
	}
	orig, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	if err := os.Chdir(root); err != nil {
		return nil, fmt.Errorf("chdir to module root: %w", err)
	}
	defer func() { _ = os.Chdir(orig) }()

	r := &jsonschema.Reflector{FieldNameTag: "json"}
	if err := r.AddGoComments("github.com/paulyops/sysdoctor", "./internal/config"); err != nil {
		return nil, fmt.Errorf("extracting Go comments: %w", err)
	}
	s := r.Reflect(&Doctor{})
	s.Title = "System Doctor Configuration"
	s.Description = "Schema for doctor.config.json, read at the start of every doctor run."
	return s, nil
}
