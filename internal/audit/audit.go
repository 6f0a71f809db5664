// Package audit keeps the append-only trail of what the doctor did: runs,
// repair attempts and their outcomes, and rollbacks.
//
// The file recorder writes JSON lines to .doctor/audit.jsonl; the reader
// scans them back. Recording errors are returned so the orchestrator can
// log them in one place, but they never fail a run.
package audit

import "time"

// Action constants. Only actions we actually record today.
const (
	ActionRun          = "doctor.run"
	ActionRepair       = "doctor.repair"
	ActionRepairResult = "doctor.repair.result"
	ActionRollback     = "doctor.rollback"
)

// Record is a single audited action.
type Record struct {
	Seq      uint64         `json:"seq"`
	Action   string         `json:"action"`
	Ts       time.Time      `json:"ts"`
	OrgID    string         `json:"orgId"`
	UserID   string         `json:"userId,omitempty"`
	Entity   string         `json:"entity,omitempty"`
	EntityID string         `json:"entityId,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Recorder records audit entries. Safe for concurrent use.
type Recorder interface {
	Record(r Record) error
}

// Discard silently drops all records.
var Discard Recorder = discardRecorder{}

type discardRecorder struct{}

func (discardRecorder) Record(Record) error { return nil }
