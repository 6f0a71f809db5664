package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulyops/sysdoctor/internal/audit"
	"github.com/paulyops/sysdoctor/internal/git"
)

// SavepointPrefix starts every savepoint tag.
const SavepointPrefix = "doctor-savepoint-"

// savepointLayout is an ISO-8601 timestamp with ':' and '.' replaced by '-'.
const savepointLayout = "2006-01-02T15-04-05"

// ErrSurgicalDisabled is returned by [Savepoints.Rollback] when the config
// does not set allowSurgical.
var ErrSurgicalDisabled = errors.New("surgical mode not allowed for rollback")

// Savepoints creates and restores git-tag savepoints.
type Savepoints struct {
	git            *git.Git
	dir            string
	keep           []string
	shell          CommandRunner
	installCommand string
	allowSurgical  bool
	audit          audit.Recorder
	logger         *slog.Logger
	now            func() time.Time
}

// NewSavepoints returns a savepoint manager for the repository at dir.
// Rollback reinstalls dependencies with installCommand through sh.
func NewSavepoints(dir string, sh CommandRunner, installCommand string, allowSurgical bool, rec audit.Recorder, logger *slog.Logger) *Savepoints {
	if rec == nil {
		rec = audit.Discard
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Savepoints{
		git:            git.New(dir),
		dir:            dir,
		shell:          sh,
		installCommand: installCommand,
		allowSurgical:  allowSurgical,
		audit:          rec,
		logger:         logger,
		now:            time.Now,
	}
}

// Keep marks paths that survive rollback: the doctor's own state (status
// snapshot, audit log, run lock) lives untracked in the work tree. Relative
// paths are taken from the repository directory; absolute paths outside it
// are ignored since the clean cannot reach them.
func (s *Savepoints) Keep(paths ...string) {
	root, err := filepath.Abs(s.dir)
	if err != nil {
		root = s.dir
	}
	for _, p := range paths {
		if filepath.IsAbs(p) {
			rel, err := filepath.Rel(root, p)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				continue
			}
			p = rel
		}
		s.keep = append(s.keep, filepath.Clean(p))
	}
}

// Create tags HEAD as doctor-savepoint-<timestamp>, adding a -N suffix when
// a savepoint was already taken within the same second.
func (s *Savepoints) Create(ctx context.Context) (string, error) {
	if !s.git.IsWorkTree(ctx) {
		return "", errors.New("creating savepoint: not inside a git work tree")
	}
	base := SavepointPrefix + s.now().UTC().Format(savepointLayout)
	name := base
	for n := 2; s.git.TagExists(ctx, name); n++ {
		if n > 100 {
			return "", fmt.Errorf("creating savepoint: too many savepoints named %s", base)
		}
		name = fmt.Sprintf("%s-%d", base, n)
	}
	if err := s.git.Tag(ctx, name); err != nil {
		return "", fmt.Errorf("creating savepoint: %w", err)
	}
	return name, nil
}

// List returns existing savepoints, newest first.
func (s *Savepoints) List(ctx context.Context) ([]string, error) {
	return s.git.Tags(ctx, SavepointPrefix+"*")
}

// Rollback discards all work-tree changes back to the savepoint, removes
// untracked files other than the kept paths and reinstalls dependencies. It
// is refused unless allowSurgical is set, and only doctor-savepoint-* tags
// are accepted. There is no partial rollback: the first failing
// step aborts with an error.
func (s *Savepoints) Rollback(ctx context.Context, id, orgID string) error {
	if !s.allowSurgical {
		return ErrSurgicalDisabled
	}
	if !strings.HasPrefix(id, SavepointPrefix) {
		return fmt.Errorf("rolling back: %q is not a doctor savepoint", id)
	}
	if !s.git.TagExists(ctx, id) {
		return fmt.Errorf("rolling back: unknown savepoint %q", id)
	}
	branch, _ := s.git.CurrentBranch(ctx)
	from, _ := s.git.LastCommit(ctx)
	discarded := s.git.HasUncommittedWork(ctx, s.keep...)
	if discarded {
		s.logger.Warn("rollback discards uncommitted changes", "savepoint", id)
	}

	if err := s.rollback(ctx, id); err != nil {
		return fmt.Errorf("rolling back to savepoint %s: %w", id, err)
	}

	if orgID == "" {
		orgID = "system"
	}
	sideChannel(s.logger, "audit", s.audit.Record(audit.Record{
		Action:   audit.ActionRollback,
		OrgID:    orgID,
		Entity:   "savepoint",
		EntityID: id,
		Metadata: map[string]any{"branch": branch, "fromCommit": from, "discardedChanges": discarded},
	}))
	s.logger.Info("rolled back to savepoint", "savepoint", id, "branch", branch, "from", from)
	return nil
}

func (s *Savepoints) rollback(ctx context.Context, id string) error {
	if err := s.git.ResetHard(ctx, id); err != nil {
		return err
	}
	if err := s.git.Clean(ctx, s.keep...); err != nil {
		return err
	}
	res := s.shell.RunSafe(ctx, s.installCommand, "Reinstall dependencies after rollback")
	if !res.Success {
		return fmt.Errorf("reinstalling dependencies: %s", res.Error)
	}
	return nil
}
