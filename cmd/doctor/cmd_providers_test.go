package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/paulyops/sysdoctor/internal/config"
	"github.com/paulyops/sysdoctor/internal/providers"
)

func TestDoProvidersListsByPriority(t *testing.T) {
	reg := providers.NewRegistry([]config.Provider{
		{Name: "s3", Priority: 3, Enabled: true},
		{Name: "gdrive", Priority: 1, Enabled: false},
		{Name: "dropbox", Priority: 2, Enabled: true},
	})
	var stdout bytes.Buffer
	if code := doProviders(context.Background(), reg, nil, &stdout); code != 0 {
		t.Fatalf("doProviders = %d", code)
	}
	out := stdout.String()
	if strings.Contains(out, "HEALTH") {
		t.Error("HEALTH column without --probe")
	}
	lines := strings.Split(out, "\n")
	if !strings.HasPrefix(lines[1], "1 ") || !strings.Contains(lines[1], "gdrive") || !strings.Contains(lines[1], "false") {
		t.Errorf("first row = %q, want disabled gdrive", lines[1])
	}
	if !strings.Contains(lines[2], "dropbox") || !strings.Contains(lines[2], "fallback") {
		t.Errorf("second row = %q, want dropbox as fallback", lines[2])
	}
	if !strings.Contains(out, "Available: dropbox, s3") {
		t.Errorf("output missing available list: %q", out)
	}
}

func TestDoProvidersProbe(t *testing.T) {
	reg := providers.NewRegistry(config.DefaultProviders())
	prober := providers.ProberFunc(func(_ context.Context, p config.Provider) error {
		if p.Name == "gdrive" {
			return errors.New("timeout")
		}
		return nil
	})
	var stdout bytes.Buffer
	if code := doProviders(context.Background(), reg, prober, &stdout); code != 1 {
		t.Errorf("doProviders with a down provider = %d, want 1", code)
	}
	out := stdout.String()
	for _, want := range []string{"HEALTH", "primary", "down: timeout", "Available: gdrive, dropbox, s3, local"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
