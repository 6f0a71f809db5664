package audit

import "sync"

// Fake is an in-memory [Recorder] for testing. It captures all records in
// the Records slice and returns Err from every call. Safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	Records []Record
	Err     error
}

// NewFake returns a ready-to-use [Fake] recorder.
func NewFake() *Fake {
	return &Fake{}
}

// Record appends r to the Records slice.
func (f *Fake) Record(r Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Records = append(f.Records, r)
	return f.Err
}

// Actions returns the recorded actions in order.
func (f *Fake) Actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Records))
	for i, r := range f.Records {
		out[i] = r.Action
	}
	return out
}
