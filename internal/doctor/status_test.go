package doctor

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/paulyops/sysdoctor/internal/config"
	"github.com/paulyops/sysdoctor/internal/fsys"
)

func TestSnapshotOf(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	rep := &Report{Timestamp: ts, Mode: config.ModeRepair, Summary: Summary{OK: 3, Warn: 1}}
	s := SnapshotOf(rep)
	if !s.LastRun.Equal(ts) || s.Mode != config.ModeRepair || s.Summary != rep.Summary {
		t.Errorf("SnapshotOf = %+v", s)
	}
	if s.FailingChecks == nil {
		t.Error("FailingChecks should be an empty list, not nil")
	}
}

func TestWriteStatusRoundTrip(t *testing.T) {
	fs := fsys.NewFake()
	rep := &Report{
		Timestamp:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Mode:          config.ModeScan,
		Summary:       Summary{OK: 1, Fail: 1},
		FailingChecks: []string{"db"},
	}
	if err := WriteStatus(fs, "/srv/app/.doctor/status.json", rep); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}
	if _, ok := fs.Files["/srv/app/.doctor/.status.json.tmp"]; ok {
		t.Error("temp file left behind")
	}

	raw := fs.Files["/srv/app/.doctor/status.json"]
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"lastRun", "summary", "failingChecks", "mode"} {
		if _, ok := keys[k]; !ok {
			t.Errorf("snapshot missing key %q", k)
		}
	}
	if len(keys) != 4 {
		t.Errorf("snapshot has %d keys, want exactly 4", len(keys))
	}

	got, err := ReadStatus(fs, "/srv/app/.doctor/status.json")
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if got.Summary != rep.Summary || got.FailingChecks[0] != "db" {
		t.Errorf("ReadStatus = %+v", got)
	}
}

func TestReadStatusErrors(t *testing.T) {
	fs := fsys.NewFake()
	if _, err := ReadStatus(fs, "/missing.json"); err == nil {
		t.Error("expected error for missing snapshot")
	}
	fs.Files["/bad.json"] = []byte("{not json")
	_, err := ReadStatus(fs, "/bad.json")
	if err == nil || !strings.Contains(err.Error(), "parsing status snapshot") {
		t.Errorf("ReadStatus = %v", err)
	}
}
