package doctor

import (
	"context"
	"errors"
	"sync"

	"github.com/paulyops/sysdoctor/internal/config"
	"github.com/paulyops/sysdoctor/internal/metrics"
	"github.com/paulyops/sysdoctor/internal/shell"
	"github.com/paulyops/sysdoctor/internal/telemetry"
)

// fakeRunner answers RunSafe from a canned table and records every command.
type fakeRunner struct {
	mu      sync.Mutex
	results map[string]shell.Result
	calls   []string
	panics  bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{results: map[string]shell.Result{}}
}

func (f *fakeRunner) RunSafe(_ context.Context, command, _ string) shell.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, command)
	if f.panics {
		panic("runner exploded")
	}
	if r, ok := f.results[command]; ok {
		return r
	}
	return shell.Result{Error: "command not in whitelist: " + command}
}

func (f *fakeRunner) ok(command, output string) {
	f.results[command] = shell.Result{Success: true, Output: output}
}

func (f *fakeRunner) fail(command, msg string) {
	f.results[command] = shell.Result{Error: msg}
}

func (f *fakeRunner) ran(command string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == command {
			n++
		}
	}
	return n
}

// fixedMetrics always reports the same snapshot.
type fixedMetrics struct {
	sys   metrics.System
	calls int
}

func (m *fixedMetrics) Collect(context.Context) metrics.System {
	m.calls++
	return m.sys
}

// fakeSavepoints hands out a fixed id or error.
type fakeSavepoints struct {
	id    string
	err   error
	calls int
}

func (s *fakeSavepoints) Create(context.Context) (string, error) {
	s.calls++
	return s.id, s.err
}

// fakeTelemetry captures emitted events.
type fakeTelemetry struct {
	events []telemetry.Event
	err    error
}

func (f *fakeTelemetry) Emit(_ context.Context, e telemetry.Event) error {
	f.events = append(f.events, e)
	return f.err
}

// stubCheck returns a scripted sequence of results, one per Run call. The
// last entry repeats.
type stubCheck struct {
	name    string
	results []*CheckResult
	err     error
	panics  bool
	runs    int
}

func (c *stubCheck) Name() string { return c.name }

func (c *stubCheck) Run(context.Context) (*CheckResult, error) {
	c.runs++
	if c.panics {
		panic("check exploded")
	}
	if c.err != nil {
		return nil, c.err
	}
	i := c.runs - 1
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	r := *c.results[i]
	return &r, nil
}

func result(status Status, fix *RepairAction) *CheckResult {
	return &CheckResult{Status: status, Message: string(status), Fix: fix}
}

// testConfig enables the named checks and applies defaults.
func testConfig(checks ...string) *config.Doctor {
	cfg := &config.Doctor{
		Checks:     map[string]bool{},
		Thresholds: config.Thresholds{DiskFreePctMin: 10, MemFreePctMin: 10, CPULoadMax: 4},
	}
	for _, c := range checks {
		cfg.Checks[c] = true
	}
	cfg.ApplyDefaults()
	return cfg
}

func envLookup(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

var errBoom = errors.New("boom")
