// Package config handles loading and parsing doctor.config.json (or the
// doctor.config.toml fallback) for the system doctor.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/paulyops/sysdoctor/internal/fsys"
	"github.com/tidwall/jsonc"
)

// File names searched for in the working directory, in order.
const (
	JSONFile = "doctor.config.json"
	TOMLFile = "doctor.config.toml"
)

// ErrNotFound is returned by [Load] when neither config file exists.
var ErrNotFound = errors.New("doctor.config.json not found")

// Mode is the run posture of a doctor invocation.
type Mode string

const (
	// ModeScan runs checks only.
	ModeScan Mode = "scan"
	// ModeRepair runs checks and attempts safe repairs.
	ModeRepair Mode = "repair"
	// ModeSurgical runs checks and attempts all repairs, including risky ones.
	ModeSurgical Mode = "surgical"
)

// ParseMode validates a user-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeScan, ModeRepair, ModeSurgical:
		return m, nil
	}
	return "", fmt.Errorf("invalid mode %q (want scan, repair, or surgical)", s)
}

// Mutating reports whether the mode may run fixes.
func (m Mode) Mutating() bool {
	return m == ModeRepair || m == ModeSurgical
}

// Doctor is the process-wide configuration for one doctor run. It is read
// once at the start of a run and not mutated afterwards.
type Doctor struct {
	// Mode from the file is ignored; the caller's mode always wins.
	Mode Mode `json:"mode,omitempty" toml:"mode,omitempty"`
	// AllowSurgical permits rollback and risky fixes in surgical mode.
	AllowSurgical bool `json:"allowSurgical" toml:"allowSurgical"`
	// Checks maps check name to enabled. Absent means disabled.
	Checks map[string]bool `json:"checks" toml:"checks"`
	// Thresholds for the resource checks.
	Thresholds Thresholds `json:"thresholds" toml:"thresholds"`
	// Notifications holds webhook URLs; "${VAR}" values are resolved from the environment.
	Notifications Notifications `json:"notifications" toml:"notifications"`
	// StatusPage is the path of the status snapshot written after every run.
	StatusPage string `json:"statusPage" toml:"statusPage"`
	// WhitelistCommands are the only commands the shell runner will execute.
	WhitelistCommands []string `json:"whitelistCommands" toml:"whitelistCommands"`

	// RequiredEnv lists the variables the env check requires.
	RequiredEnv []string `json:"requiredEnv,omitempty" toml:"requiredEnv,omitempty"`
	// Commands overrides the commands run by checks and fixes.
	Commands Commands `json:"commands,omitempty" toml:"commands,omitempty"`
	// Providers is the ranked list of external storage providers.
	Providers []Provider `json:"providers,omitempty" toml:"providers,omitempty"`
	// AuditLog is the JSONL file audit records are appended to.
	AuditLog string `json:"auditLog,omitempty" toml:"auditLog,omitempty"`
	// CommandTimeoutSeconds bounds every shell command. Default 120.
	CommandTimeoutSeconds int `json:"commandTimeoutSeconds,omitempty" toml:"commandTimeoutSeconds,omitempty"`
	// OrgID is the tenant recorded on audit and telemetry events. Default "system".
	OrgID string `json:"orgId,omitempty" toml:"orgId,omitempty"`
}

// Thresholds are the resource limits used by the disk and memoryCpu checks.
type Thresholds struct {
	DiskFreePctMin int     `json:"diskFreePctMin" toml:"diskFreePctMin"`
	MemFreePctMin  int     `json:"memFreePctMin" toml:"memFreePctMin"`
	CPULoadMax     float64 `json:"cpuLoadMax" toml:"cpuLoadMax"`
}

// Notifications holds the chat webhook endpoints. Empty disables a channel.
type Notifications struct {
	SlackWebhook   string `json:"slackWebhook" toml:"slackWebhook"`
	DiscordWebhook string `json:"discordWebhook" toml:"discordWebhook"`
}

// Commands are the external commands checks and fixes run. Each must also
// be permitted by WhitelistCommands.
type Commands struct {
	PrismaGenerate      string `json:"prismaGenerate,omitempty" toml:"prismaGenerate,omitempty"`
	PrismaMigrateStatus string `json:"prismaMigrateStatus,omitempty" toml:"prismaMigrateStatus,omitempty"`
	PrismaMigrateDeploy string `json:"prismaMigrateDeploy,omitempty" toml:"prismaMigrateDeploy,omitempty"`
	Install             string `json:"install,omitempty" toml:"install,omitempty"`
	Build               string `json:"build,omitempty" toml:"build,omitempty"`
}

// Provider is one ranked external backend. Priority 1 is the primary.
type Provider struct {
	Name     string `json:"name" toml:"name"`
	Priority int    `json:"priority" toml:"priority"`
	Enabled  bool   `json:"enabled" toml:"enabled"`
	// HealthURL is probed with GET; empty means always healthy.
	HealthURL string `json:"healthUrl,omitempty" toml:"healthUrl,omitempty"`
}

// Default commands, matching the pnpm workspace layout the doctor was built for.
const (
	DefaultPrismaGenerate      = "pnpm dlx prisma generate"
	DefaultPrismaMigrateStatus = "pnpm dlx prisma migrate status"
	DefaultPrismaMigrateDeploy = "pnpm dlx prisma migrate deploy"
	DefaultInstall             = "pnpm -w install"
	DefaultBuild               = "pnpm -w build"
)

// DefaultRequiredEnv is used when RequiredEnv is empty.
var DefaultRequiredEnv = []string{"DATABASE_URL", "NEXTAUTH_SECRET", "NEXTAUTH_URL"}

// DefaultProviders is used when Providers is empty.
func DefaultProviders() []Provider {
	return []Provider{
		{Name: "gdrive", Priority: 1, Enabled: true},
		{Name: "dropbox", Priority: 2, Enabled: true},
		{Name: "s3", Priority: 3, Enabled: true},
		{Name: "local", Priority: 4, Enabled: true},
	}
}

// Enabled reports whether the named check is switched on.
func (c *Doctor) Enabled(check string) bool {
	return c.Checks[check]
}

// ApplyDefaults fills zero-valued optional fields.
func (c *Doctor) ApplyDefaults() {
	if c.Checks == nil {
		c.Checks = map[string]bool{}
	}
	if c.StatusPage == "" {
		c.StatusPage = filepath.Join(".doctor", "status.json")
	}
	if c.AuditLog == "" {
		c.AuditLog = filepath.Join(".doctor", "audit.jsonl")
	}
	if len(c.RequiredEnv) == 0 {
		c.RequiredEnv = append([]string(nil), DefaultRequiredEnv...)
	}
	if len(c.Providers) == 0 {
		c.Providers = DefaultProviders()
	}
	if c.CommandTimeoutSeconds <= 0 {
		c.CommandTimeoutSeconds = 120
	}
	if c.OrgID == "" {
		c.OrgID = "system"
	}
	cmds := &c.Commands
	if cmds.PrismaGenerate == "" {
		cmds.PrismaGenerate = DefaultPrismaGenerate
	}
	if cmds.PrismaMigrateStatus == "" {
		cmds.PrismaMigrateStatus = DefaultPrismaMigrateStatus
	}
	if cmds.PrismaMigrateDeploy == "" {
		cmds.PrismaMigrateDeploy = DefaultPrismaMigrateDeploy
	}
	if cmds.Install == "" {
		cmds.Install = DefaultInstall
	}
	if cmds.Build == "" {
		cmds.Build = DefaultBuild
	}
}

// Validate rejects configurations the doctor cannot act on safely.
func (c *Doctor) Validate() error {
	if c.Thresholds.DiskFreePctMin < 0 || c.Thresholds.DiskFreePctMin > 100 {
		return fmt.Errorf("thresholds.diskFreePctMin must be within 0..100, got %d", c.Thresholds.DiskFreePctMin)
	}
	if c.Thresholds.MemFreePctMin < 0 || c.Thresholds.MemFreePctMin > 100 {
		return fmt.Errorf("thresholds.memFreePctMin must be within 0..100, got %d", c.Thresholds.MemFreePctMin)
	}
	if c.Thresholds.CPULoadMax < 0 {
		return fmt.Errorf("thresholds.cpuLoadMax must not be negative, got %g", c.Thresholds.CPULoadMax)
	}
	// A zero cap would fail memoryCpu on any load at all.
	if c.Enabled("memoryCpu") && c.Thresholds.CPULoadMax == 0 {
		return errors.New("thresholds.cpuLoadMax must be set when the memoryCpu check is enabled")
	}
	for i, w := range c.WhitelistCommands {
		if strings.TrimSpace(w) == "" {
			return fmt.Errorf("whitelistCommands[%d] is empty", i)
		}
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Load reads the doctor config from dir. doctor.config.json is preferred;
// doctor.config.toml is accepted when the JSON file is absent. Returns
// [ErrNotFound] when neither exists.
func Load(fs fsys.FS, dir string) (*Doctor, error) {
	jsonPath := filepath.Join(dir, JSONFile)
	data, err := fs.ReadFile(jsonPath)
	if err == nil {
		return finish(ParseJSON(data))
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading config %q: %w", jsonPath, err)
	}

	tomlPath := filepath.Join(dir, TOMLFile)
	data, err = fs.ReadFile(tomlPath)
	if err == nil {
		return finish(ParseTOML(data))
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return nil, fmt.Errorf("loading config %q: %w", tomlPath, err)
}

func finish(cfg *Doctor, err error) (*Doctor, error) {
	if err != nil {
		return nil, err
	}
	cfg.ResolveEnv(os.LookupEnv)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ParseJSON decodes JSON (comments and trailing commas allowed) into a
// Doctor config. Unknown fields are rejected.
func ParseJSON(data []byte) (*Doctor, error) {
	var cfg Doctor
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// ParseTOML decodes TOML data into a Doctor config.
func ParseTOML(data []byte) (*Doctor, error) {
	var cfg Doctor
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("parsing config: unknown field %q", undec[0].String())
	}
	return &cfg, nil
}

// ResolveEnv replaces webhook values of the form "${NAME}" with the named
// environment variable. An unset variable resolves to "", which disables
// the channel.
func (c *Doctor) ResolveEnv(lookup func(string) (string, bool)) {
	c.Notifications.SlackWebhook = expandRef(c.Notifications.SlackWebhook, lookup)
	c.Notifications.DiscordWebhook = expandRef(c.Notifications.DiscordWebhook, lookup)
}

func expandRef(v string, lookup func(string) (string, bool)) string {
	if !strings.HasPrefix(v, "${") || !strings.HasSuffix(v, "}") {
		return v
	}
	val, _ := lookup(v[2 : len(v)-1])
	return val
}

// Marshal encodes the config as indented JSON.
func (c *Doctor) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return append(data, '\n'), nil
}
