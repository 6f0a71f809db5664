// Package git provides the minimal Git operations behind doctor savepoints:
// tagging the current commit, and resetting the work tree back to a tag.
package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
)

// Git wraps git operations scoped to a working directory.
type Git struct {
	workDir string
}

// New returns a Git instance scoped to the given directory.
func New(workDir string) *Git {
	return &Git{workDir: workDir}
}

// IsWorkTree reports whether workDir is inside a git work tree.
func (g *Git) IsWorkTree(ctx context.Context) bool {
	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// CurrentBranch returns the current branch name. Returns "HEAD" if detached.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("getting current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// LastCommit returns the abbreviated hash of HEAD.
func (g *Git) LastCommit(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("getting last commit: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// HasUncommittedWork reports whether the working directory has uncommitted
// changes (staged or unstaged) or untracked files. Paths in ignore, relative
// to the working directory, are not counted.
func (g *Git) HasUncommittedWork(ctx context.Context, ignore ...string) bool {
	args := []string{"status", "--porcelain", "--untracked-files=all", "--", "."}
	for _, p := range ignore {
		args = append(args, ":(exclude)"+filepath.ToSlash(p))
	}
	out, err := g.run(ctx, args...)
	if err != nil {
		return true // assume dirty on error (safe default)
	}
	return strings.TrimSpace(out) != ""
}

// Tag creates a lightweight tag at HEAD.
func (g *Git) Tag(ctx context.Context, name string) error {
	if _, err := g.run(ctx, "tag", name); err != nil {
		return fmt.Errorf("creating tag %q: %w", name, err)
	}
	return nil
}

// TagExists reports whether a tag with the given name exists.
func (g *Git) TagExists(ctx context.Context, name string) bool {
	_, err := g.run(ctx, "rev-parse", "--verify", "--quiet", "refs/tags/"+name)
	return err == nil
}

// Tags lists tag names matching the glob pattern in descending version
// order, so numeric suffixes compare as numbers ("-10" before "-9").
func (g *Git) Tags(ctx context.Context, pattern string) ([]string, error) {
	out, err := g.run(ctx, "tag", "--list", "--sort=-version:refname", pattern)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	var tags []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			tags = append(tags, line)
		}
	}
	return tags, nil
}

// ResetHard discards all tracked changes and moves HEAD to ref.
func (g *Git) ResetHard(ctx context.Context, ref string) error {
	if _, err := g.run(ctx, "reset", "--hard", ref); err != nil {
		return fmt.Errorf("resetting to %q: %w", ref, err)
	}
	return nil
}

// Clean removes untracked files and directories. Paths in keep, relative to
// the working directory, are left in place.
func (g *Git) Clean(ctx context.Context, keep ...string) error {
	args := []string{"clean", "-fd"}
	if len(keep) > 0 {
		// -e patterns are anchored at the repository root, not workDir.
		prefix, err := g.run(ctx, "rev-parse", "--show-prefix")
		if err != nil {
			return fmt.Errorf("cleaning work tree: %w", err)
		}
		prefix = strings.TrimSpace(prefix)
		for _, p := range keep {
			args = append(args, "-e", "/"+path.Join(prefix, filepath.ToSlash(p)))
		}
	}
	if _, err := g.run(ctx, args...); err != nil {
		return fmt.Errorf("cleaning work tree: %w", err)
	}
	return nil
}

// gitEnvBlacklist lists git environment variables that must be stripped
// so subprocess git commands use the intended workDir, not a parent repo.
// This prevents leakage from pre-commit hooks or other git tooling.
var gitEnvBlacklist = map[string]bool{
	"GIT_DIR":                          true,
	"GIT_WORK_TREE":                    true,
	"GIT_INDEX_FILE":                   true,
	"GIT_OBJECT_DIRECTORY":             true,
	"GIT_ALTERNATE_OBJECT_DIRECTORIES": true,
}

// run executes a git command in the working directory. Git environment
// variables from the parent process are stripped to prevent interference
// (e.g., when called from a pre-commit hook context).
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.workDir
	// Build clean env: inherit everything except git-specific vars.
	for _, e := range os.Environ() {
		if k, _, ok := strings.Cut(e, "="); ok && gitEnvBlacklist[k] {
			continue
		}
		cmd.Env = append(cmd.Env, e)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}
