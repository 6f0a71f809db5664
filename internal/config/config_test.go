package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulyops/sysdoctor/internal/fsys"
)

const sampleJSON = `{
  // comments are allowed
  "mode": "scan",
  "allowSurgical": false,
  "checks": {"env": true, "disk": true, "build": false},
  "thresholds": {"diskFreePctMin": 10, "memFreePctMin": 15, "cpuLoadMax": 4.5},
  "notifications": {"slackWebhook": "${TEST_SLACK_HOOK}", "discordWebhook": ""},
  "statusPage": "public/status.json",
  "whitelistCommands": ["pnpm -w build", "pnpm -w install"],
}`

func TestParseJSON(t *testing.T) {
	cfg, err := ParseJSON([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if !cfg.Enabled("env") || !cfg.Enabled("disk") {
		t.Errorf("env/disk should be enabled: %v", cfg.Checks)
	}
	if cfg.Enabled("build") || cfg.Enabled("providers") {
		t.Errorf("build/providers should be disabled: %v", cfg.Checks)
	}
	if cfg.Thresholds.CPULoadMax != 4.5 {
		t.Errorf("CPULoadMax = %g, want 4.5", cfg.Thresholds.CPULoadMax)
	}
	if len(cfg.WhitelistCommands) != 2 {
		t.Errorf("WhitelistCommands = %v", cfg.WhitelistCommands)
	}
}

func TestParseJSONRejectsUnknownField(t *testing.T) {
	_, err := ParseJSON([]byte(`{"checks": {}, "bogus": 1}`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseJSONCorrupt(t *testing.T) {
	if _, err := ParseJSON([]byte(`{"checks": `)); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}

func TestParseTOML(t *testing.T) {
	cfg, err := ParseTOML([]byte(`
statusPage = "status.json"
whitelistCommands = ["pnpm -w build"]

[checks]
env = true

[thresholds]
diskFreePctMin = 20
memFreePctMin = 10
cpuLoadMax = 2.0

[[providers]]
name = "s3"
priority = 1
enabled = true
healthUrl = "https://s3.example.com/health"
`))
	if err != nil {
		t.Fatalf("ParseTOML: %v", err)
	}
	if cfg.Thresholds.DiskFreePctMin != 20 {
		t.Errorf("DiskFreePctMin = %d, want 20", cfg.Thresholds.DiskFreePctMin)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].HealthURL != "https://s3.example.com/health" {
		t.Errorf("Providers = %+v", cfg.Providers)
	}
}

func TestParseTOMLRejectsUnknownField(t *testing.T) {
	if _, err := ParseTOML([]byte("nonsense = 1\n")); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestResolveEnv(t *testing.T) {
	cfg := &Doctor{Notifications: Notifications{
		SlackWebhook:   "${SLACK}",
		DiscordWebhook: "https://discord.example/hook",
	}}
	cfg.ResolveEnv(func(k string) (string, bool) {
		if k == "SLACK" {
			return "https://hooks.slack.example/abc", true
		}
		return "", false
	})
	if cfg.Notifications.SlackWebhook != "https://hooks.slack.example/abc" {
		t.Errorf("SlackWebhook = %q", cfg.Notifications.SlackWebhook)
	}
	if cfg.Notifications.DiscordWebhook != "https://discord.example/hook" {
		t.Errorf("literal DiscordWebhook changed: %q", cfg.Notifications.DiscordWebhook)
	}
}

func TestResolveEnvUnset(t *testing.T) {
	cfg := &Doctor{Notifications: Notifications{DiscordWebhook: "${NOPE}"}}
	cfg.ResolveEnv(func(string) (string, bool) { return "", false })
	if cfg.Notifications.DiscordWebhook != "" {
		t.Errorf("unset ref should resolve to empty, got %q", cfg.Notifications.DiscordWebhook)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Doctor{}
	cfg.ApplyDefaults()
	if cfg.Commands.Build != DefaultBuild {
		t.Errorf("Build = %q", cfg.Commands.Build)
	}
	if cfg.CommandTimeoutSeconds != 120 {
		t.Errorf("CommandTimeoutSeconds = %d", cfg.CommandTimeoutSeconds)
	}
	if cfg.OrgID != "system" {
		t.Errorf("OrgID = %q", cfg.OrgID)
	}
	if len(cfg.RequiredEnv) != 3 {
		t.Errorf("RequiredEnv = %v", cfg.RequiredEnv)
	}
	if len(cfg.Providers) != 4 || cfg.Providers[0].Name != "gdrive" {
		t.Errorf("Providers = %+v", cfg.Providers)
	}
	if cfg.StatusPage == "" || cfg.AuditLog == "" {
		t.Error("StatusPage/AuditLog not defaulted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Doctor
		ok   bool
	}{
		{"zero", Doctor{}, true},
		{"negative disk", Doctor{Thresholds: Thresholds{DiskFreePctMin: -1}}, false},
		{"mem over 100", Doctor{Thresholds: Thresholds{MemFreePctMin: 101}}, false},
		{"negative cpu", Doctor{Thresholds: Thresholds{CPULoadMax: -0.5}}, false},
		{"memoryCpu without cpu cap", Doctor{Checks: map[string]bool{"memoryCpu": true}}, false},
		{"memoryCpu with cpu cap", Doctor{Checks: map[string]bool{"memoryCpu": true}, Thresholds: Thresholds{CPULoadMax: 2}}, true},
		{"memoryCpu disabled", Doctor{Checks: map[string]bool{"memoryCpu": false}}, true},
		{"blank whitelist", Doctor{WhitelistCommands: []string{"pnpm -w build", "  "}}, false},
		{"dup provider", Doctor{Providers: []Provider{{Name: "s3"}, {Name: "s3"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(fsys.NewFake(), "/app")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load error = %v, want ErrNotFound", err)
	}
}

func TestLoadJSONAppliesDefaultsAndEnv(t *testing.T) {
	t.Setenv("TEST_SLACK_HOOK", "https://hooks.example/slack")
	fs := fsys.NewFake()
	fs.Files[filepath.Join("/app", JSONFile)] = []byte(sampleJSON)

	cfg, err := Load(fs, "/app")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Notifications.SlackWebhook != "https://hooks.example/slack" {
		t.Errorf("SlackWebhook = %q", cfg.Notifications.SlackWebhook)
	}
	if cfg.Commands.Install != DefaultInstall {
		t.Errorf("Install = %q", cfg.Commands.Install)
	}
}

func TestLoadTOMLFallback(t *testing.T) {
	fs := fsys.NewFake()
	fs.Files[filepath.Join("/app", TOMLFile)] = []byte("statusPage = \"s.json\"\n[checks]\nenv = true\n")
	cfg, err := Load(fs, "/app")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StatusPage != "s.json" || !cfg.Enabled("env") {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadJSONWinsOverTOML(t *testing.T) {
	fs := fsys.NewFake()
	fs.Files[filepath.Join("/app", JSONFile)] = []byte(`{"statusPage": "from-json.json"}`)
	fs.Files[filepath.Join("/app", TOMLFile)] = []byte(`statusPage = "from-toml.json"`)
	cfg, err := Load(fs, "/app")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StatusPage != "from-json.json" {
		t.Errorf("StatusPage = %q, want from-json.json", cfg.StatusPage)
	}
}

func TestLoadCorruptIsError(t *testing.T) {
	fs := fsys.NewFake()
	fs.Files[filepath.Join("/app", JSONFile)] = []byte(`{not json`)
	_, err := Load(fs, "/app")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("Load error = %v, want parse error", err)
	}
}

func TestLoadReadError(t *testing.T) {
	fs := fsys.NewFake()
	fs.Errors[filepath.Join("/app", JSONFile)] = os.ErrPermission
	_, err := Load(fs, "/app")
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("Load error = %v, want permission error", err)
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"scan", "repair", "surgical", " SCAN "} {
		if _, err := ParseMode(s); err != nil {
			t.Errorf("ParseMode(%q): %v", s, err)
		}
	}
	if _, err := ParseMode("nuke"); err == nil {
		t.Error("ParseMode(nuke) should fail")
	}
	if ModeScan.Mutating() || !ModeRepair.Mutating() || !ModeSurgical.Mutating() {
		t.Error("Mutating() wrong")
	}
}

func TestMarshalRoundTripKeepsNames(t *testing.T) {
	cfg := &Doctor{Checks: map[string]bool{"env": true}}
	cfg.ApplyDefaults()
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"whitelistCommands"`) || !strings.Contains(string(data), `"allowSurgical"`) {
		t.Errorf("marshaled config missing camelCase keys:\n%s", data)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
}

func TestLoadRejectsMemoryCPUWithoutCap(t *testing.T) {
	fs := fsys.NewFake()
	fs.Files[filepath.Join("/app", JSONFile)] = []byte(`{"checks": {"memoryCpu": true}}`)
	_, err := Load(fs, "/app")
	if err == nil || !strings.Contains(err.Error(), "cpuLoadMax") {
		t.Fatalf("Load = %v, want cpuLoadMax error", err)
	}
}
