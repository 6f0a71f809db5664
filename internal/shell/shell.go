// Package shell runs whitelisted external commands for checks and fixes.
//
// The whitelist is the one security boundary in the doctor: every process a
// check or fix starts goes through [Runner.Run], which refuses anything that
// is not an exact whitelist entry or an entry followed by a space and
// further arguments.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/paulyops/sysdoctor/internal/telemetry"
)

// DefaultTimeout bounds a command when the caller passes zero.
const DefaultTimeout = 120 * time.Second

// ErrNotWhitelisted is returned when a command is rejected before execution.
var ErrNotWhitelisted = errors.New("command not in whitelist")

// Result is the never-failing outcome of [Runner.RunSafe].
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

// ExecFunc starts name with args in dir and returns stdout and stderr.
// Tests substitute it to avoid spawning processes.
type ExecFunc func(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, err error)

// Runner executes whitelisted commands in a fixed working directory.
type Runner struct {
	whitelist []string
	dir       string
	timeout   time.Duration
	exec      ExecFunc
}

// Option configures a [Runner].
type Option func(*Runner)

// WithDir sets the working directory commands run in.
func WithDir(dir string) Option { return func(r *Runner) { r.dir = dir } }

// WithTimeout sets the default per-command timeout.
func WithTimeout(d time.Duration) Option { return func(r *Runner) { r.timeout = d } }

// WithExec replaces process execution. Used by tests.
func WithExec(fn ExecFunc) Option { return func(r *Runner) { r.exec = fn } }

// New returns a Runner permitting only the given commands.
func New(whitelist []string, opts ...Option) *Runner {
	r := &Runner{
		whitelist: append([]string(nil), whitelist...),
		timeout:   DefaultTimeout,
		exec:      execCommand,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Allowed reports whether command is an exact whitelist entry or begins
// with an entry followed by a space.
func (r *Runner) Allowed(command string) bool {
	for _, allowed := range r.whitelist {
		if command == allowed || strings.HasPrefix(command, allowed+" ") {
			return true
		}
	}
	return false
}

// Run validates command against the whitelist and executes it with the
// given timeout (zero means the runner default). The command is split on
// whitespace and executed directly; no shell interprets it. Returns stdout.
func (r *Runner) Run(ctx context.Context, command string, timeout time.Duration) (string, error) {
	return r.run(ctx, command, "", timeout)
}

// RunSafe runs command with the default timeout and folds any error into
// the result. It never returns an error.
func (r *Runner) RunSafe(ctx context.Context, command, description string) Result {
	out, err := r.run(ctx, command, description, 0)
	if err != nil {
		return Result{Success: false, Output: out, Error: err.Error()}
	}
	return Result{Success: true, Output: out}
}

func (r *Runner) run(ctx context.Context, command, description string, timeout time.Duration) (string, error) {
	if !r.Allowed(command) {
		return "", fmt.Errorf("%w: %s", ErrNotWhitelisted, command)
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty command", ErrNotWhitelisted)
	}
	if timeout <= 0 {
		timeout = r.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, err := r.exec(ctx, r.dir, fields[0], fields[1:]...)
	elapsed := float64(time.Since(start).Milliseconds())
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		if msg := strings.TrimSpace(string(stderr)); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		err = fmt.Errorf("command failed: %s: %w", command, err)
	}
	telemetry.RecordCommand(ctx, command, description, elapsed, err, stdout, string(stderr))
	return string(stdout), err
}

func execCommand(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
