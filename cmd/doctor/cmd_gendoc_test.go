package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/paulyops/sysdoctor/internal/docgen"
)

func TestGenDocCoversCommandTree(t *testing.T) {
	var buf bytes.Buffer
	root := newRootCmd(&buf, &buf)

	var md bytes.Buffer
	if err := docgen.RenderCLI(&md, root); err != nil {
		t.Fatalf("RenderCLI: %v", err)
	}
	out := md.String()
	for _, cmd := range []string{"doctor", "doctor serve", "doctor status", "doctor rollback", "doctor audit", "doctor providers", "doctor version"} {
		if !strings.Contains(out, "## "+cmd+"\n") {
			t.Errorf("missing command %q in CLI reference", cmd)
		}
	}
	if strings.Contains(out, "gen-doc") {
		t.Error("hidden command gen-doc should not appear")
	}
	if !strings.Contains(out, "`--no-progress`") {
		t.Error("root run flags missing")
	}
}
