package doctor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulyops/sysdoctor/internal/audit"
	"github.com/paulyops/sysdoctor/internal/config"
	"github.com/paulyops/sysdoctor/internal/fsys"
)

// initRepo creates a git repo with one committed file.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	gitCmd(t, dir, "init")
	gitCmd(t, dir, "config", "user.email", "test@test.com")
	gitCmd(t, dir, "config", "user.name", "Test")
	writeFile(t, filepath.Join(dir, "app.txt"), "v1\n")
	gitCmd(t, dir, "add", "app.txt")
	gitCmd(t, dir, "commit", "-m", "init")
	return dir
}

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	for _, e := range os.Environ() {
		k, _, _ := strings.Cut(e, "=")
		if strings.HasPrefix(k, "GIT_") {
			continue
		}
		cmd.Env = append(cmd.Env, e)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %s: %v", strings.Join(args, " "), out, err)
	}
	return strings.TrimSpace(string(out))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestSavepoints(dir string, sh CommandRunner, allow bool, rec audit.Recorder) *Savepoints {
	sp := NewSavepoints(dir, sh, config.DefaultInstall, allow, rec, nil)
	sp.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }
	return sp
}

func TestSavepointCreate(t *testing.T) {
	dir := initRepo(t)
	sp := newTestSavepoints(dir, newFakeRunner(), false, nil)
	ctx := context.Background()

	first, err := sp.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first != "doctor-savepoint-2026-03-14T09-26-53" {
		t.Errorf("Create = %q", first)
	}
	second, err := sp.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if second != first+"-2" {
		t.Errorf("second Create = %q, want %q", second, first+"-2")
	}

	list, err := sp.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("List = %v, want 2 savepoints", list)
	}
}

func TestSavepointCreateOutsideRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	sp := newTestSavepoints(t.TempDir(), newFakeRunner(), false, nil)
	if _, err := sp.Create(context.Background()); err == nil {
		t.Error("Create outside a work tree should fail")
	}
}

func TestRollbackRequiresAllowSurgical(t *testing.T) {
	dir := initRepo(t)
	sh := newFakeRunner()
	sp := newTestSavepoints(dir, sh, false, nil)
	id, err := sp.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "app.txt"), "v2\n")

	err = sp.Rollback(context.Background(), id, "")
	if !errors.Is(err, ErrSurgicalDisabled) {
		t.Fatalf("Rollback = %v, want ErrSurgicalDisabled", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "app.txt"))
	if string(data) != "v2\n" {
		t.Error("refused rollback touched the work tree")
	}
	if len(sh.calls) != 0 {
		t.Errorf("refused rollback ran commands: %v", sh.calls)
	}
}

func TestRollbackUnknownSavepoint(t *testing.T) {
	dir := initRepo(t)
	sp := newTestSavepoints(dir, newFakeRunner(), true, nil)
	err := sp.Rollback(context.Background(), "doctor-savepoint-nope", "")
	if err == nil || !strings.Contains(err.Error(), "unknown savepoint") {
		t.Errorf("Rollback = %v, want unknown savepoint error", err)
	}
}

func TestRollbackRestoresTree(t *testing.T) {
	dir := initRepo(t)
	sh := newFakeRunner()
	sh.ok(config.DefaultInstall, "")
	rec := audit.NewFake()
	sp := newTestSavepoints(dir, sh, true, rec)
	ctx := context.Background()

	id, err := sp.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "app.txt"), "v2\n")
	gitCmd(t, dir, "commit", "-am", "v2")
	writeFile(t, filepath.Join(dir, "scratch.txt"), "junk\n")

	if err := sp.Rollback(ctx, id, "acme"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(dir, "app.txt"))
	if string(data) != "v1\n" {
		t.Errorf("app.txt = %q, want v1", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "scratch.txt")); !os.IsNotExist(err) {
		t.Error("untracked file survived rollback")
	}
	if sh.ran(config.DefaultInstall) != 1 {
		t.Error("rollback should reinstall dependencies")
	}

	if len(rec.Records) != 1 {
		t.Fatalf("got %d audit records, want 1", len(rec.Records))
	}
	r := rec.Records[0]
	if r.Action != audit.ActionRollback || r.EntityID != id || r.OrgID != "acme" {
		t.Errorf("audit record = %+v", r)
	}
	if r.Metadata["fromCommit"] == "" || r.Metadata["branch"] == "" {
		t.Errorf("metadata = %v", r.Metadata)
	}
	if r.Metadata["discardedChanges"] != true {
		t.Errorf("discardedChanges = %v, want true for untracked scratch.txt", r.Metadata["discardedChanges"])
	}
}

func TestRollbackKeepsDoctorState(t *testing.T) {
	dir := initRepo(t)
	sh := newFakeRunner()
	sh.ok(config.DefaultInstall, "")
	rec := audit.NewFake()
	sp := newTestSavepoints(dir, sh, true, rec)
	sp.Keep(".doctor/status.json", filepath.Join(dir, ".doctor", "audit.jsonl"), RunLockFile, "/elsewhere/state.json")
	ctx := context.Background()

	id, err := sp.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, ".doctor"), 0o755); err != nil {
		t.Fatal(err)
	}
	kept := []string{".doctor/status.json", ".doctor/audit.jsonl", RunLockFile}
	for _, p := range kept {
		writeFile(t, filepath.Join(dir, p), "state\n")
	}

	if err := sp.Rollback(ctx, id, ""); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	for _, p := range kept {
		if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
			t.Errorf("%s removed by rollback: %v", p, err)
		}
	}
	if got := rec.Records[0].Metadata["discardedChanges"]; got != false {
		t.Errorf("discardedChanges = %v, want false when only doctor state is untracked", got)
	}
}

func TestRollbackRejectsForeignTag(t *testing.T) {
	dir := initRepo(t)
	gitCmd(t, dir, "tag", "v1.0.0")
	sh := newFakeRunner()
	sp := newTestSavepoints(dir, sh, true, nil)
	writeFile(t, filepath.Join(dir, "app.txt"), "v2\n")

	err := sp.Rollback(context.Background(), "v1.0.0", "")
	if err == nil || !strings.Contains(err.Error(), "not a doctor savepoint") {
		t.Fatalf("Rollback(v1.0.0) = %v, want not a doctor savepoint", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "app.txt"))
	if string(data) != "v2\n" {
		t.Error("refused rollback touched the work tree")
	}
	if len(sh.calls) != 0 {
		t.Errorf("refused rollback ran commands: %v", sh.calls)
	}
}

func TestSavepointListNewestFirstPastNine(t *testing.T) {
	dir := initRepo(t)
	sp := newTestSavepoints(dir, newFakeRunner(), false, nil)
	ctx := context.Background()

	var created []string
	for range 11 {
		id, err := sp.Create(ctx)
		if err != nil {
			t.Fatal(err)
		}
		created = append(created, id)
	}
	list, err := sp.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 11 {
		t.Fatalf("List = %v, want 11 savepoints", list)
	}
	for i, id := range list {
		if want := created[len(created)-1-i]; id != want {
			t.Errorf("List[%d] = %s, want %s", i, id, want)
		}
	}
}

func TestRollbackInstallFailure(t *testing.T) {
	dir := initRepo(t)
	sh := newFakeRunner()
	sh.fail(config.DefaultInstall, "pnpm: not found")
	rec := audit.NewFake()
	sp := newTestSavepoints(dir, sh, true, rec)
	id, err := sp.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	err = sp.Rollback(context.Background(), id, "")
	if err == nil || !strings.Contains(err.Error(), "pnpm: not found") {
		t.Errorf("Rollback = %v, want install error", err)
	}
	if len(rec.Records) != 0 {
		t.Error("failed rollback should not be audited as done")
	}
}

func TestPackageRollbackAndList(t *testing.T) {
	dir := initRepo(t)
	writeFile(t, filepath.Join(dir, config.JSONFile), `{"allowSurgical": false, "checks": {}}`)
	ctx := context.Background()

	id, err := newTestSavepoints(dir, newFakeRunner(), false, nil).Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	list, err := ListSavepoints(ctx, Options{Dir: dir})
	if err != nil || len(list) != 1 || list[0] != id {
		t.Fatalf("ListSavepoints = %v, %v", list, err)
	}
	if err := Rollback(ctx, Options{Dir: dir}, id); !errors.Is(err, ErrSurgicalDisabled) {
		t.Errorf("Rollback = %v, want ErrSurgicalDisabled", err)
	}
}

func TestPackageRollbackPreservesAuditAndStatus(t *testing.T) {
	dir := initRepo(t)
	writeFile(t, filepath.Join(dir, config.JSONFile), `{
		"allowSurgical": true,
		"checks": {},
		"whitelistCommands": ["true"],
		"commands": {"install": "true"}
	}`)
	gitCmd(t, dir, "add", config.JSONFile)
	gitCmd(t, dir, "commit", "-m", "config")
	ctx := context.Background()

	if _, err := Run(ctx, Options{Dir: dir, Mode: config.ModeScan}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	id, err := newTestSavepoints(dir, newFakeRunner(), true, nil).Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := Rollback(ctx, Options{Dir: dir}, id); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	records, err := audit.ReadAll(filepath.Join(dir, ".doctor", "audit.jsonl"))
	if err != nil {
		t.Fatalf("reading audit log after rollback: %v", err)
	}
	if len(records) != 2 || records[0].Action != audit.ActionRun || records[1].Action != audit.ActionRollback {
		t.Fatalf("audit records = %+v, want run then rollback", records)
	}
	if got := records[1].Metadata["discardedChanges"]; got != false {
		t.Errorf("discardedChanges = %v, want false", got)
	}
	if _, err := ReadStatus(fsys.OSFS{}, filepath.Join(dir, ".doctor", "status.json")); err != nil {
		t.Errorf("status snapshot after rollback: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, RunLockFile)); err != nil {
		t.Errorf("run lock file after rollback: %v", err)
	}
}
