package doctor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulyops/sysdoctor/internal/config"
	"github.com/paulyops/sysdoctor/internal/fsys"
)

// Snapshot is the reduced report written to the status page after every
// run and served without re-running checks.
type Snapshot struct {
	LastRun       time.Time   `json:"lastRun"`
	Summary       Summary     `json:"summary"`
	FailingChecks []string    `json:"failingChecks"`
	Mode          config.Mode `json:"mode"`
}

// SnapshotOf reduces r to its status snapshot.
func SnapshotOf(r *Report) Snapshot {
	failing := r.FailingChecks
	if failing == nil {
		failing = []string{}
	}
	return Snapshot{
		LastRun:       r.Timestamp,
		Summary:       r.Summary,
		FailingChecks: failing,
		Mode:          r.Mode,
	}
}

// WriteStatus atomically writes the snapshot of r to path, creating parent
// directories as needed.
func WriteStatus(fs fsys.FS, path string, r *Report) error {
	data, err := json.MarshalIndent(SnapshotOf(r), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status snapshot: %w", err)
	}
	if err := fsys.WriteAtomic(fs, path, append(data, '\n')); err != nil {
		return fmt.Errorf("writing status snapshot: %w", err)
	}
	return nil
}

// ReadStatus loads the snapshot at path.
func ReadStatus(fs fsys.FS, path string) (*Snapshot, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading status snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing status snapshot %q: %w", path, err)
	}
	return &s, nil
}
