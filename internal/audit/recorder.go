package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileRecorder appends records to a JSONL file. It uses O_APPEND for
// cross-process safety and a mutex for in-process serialization.
type FileRecorder struct {
	mu   sync.Mutex
	path string
	file *os.File
	seq  uint64
}

// NewFileRecorder opens (or creates) the audit log at path. It scans any
// existing file to find the maximum sequence number so new records continue
// monotonically. Parent directories are created as needed.
func NewFileRecorder(path string) (*FileRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}

	// Scan existing file for max seq before opening for append.
	var maxSeq uint64
	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			var r Record
			if json.Unmarshal(scanner.Bytes(), &r) == nil && r.Seq > maxSeq {
				maxSeq = r.Seq
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close() //nolint:errcheck // closing after scan error
			return nil, fmt.Errorf("scanning audit log: %w", err)
		}
		f.Close() //nolint:errcheck // read-only scan
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &FileRecorder{path: path, file: file, seq: maxSeq}, nil
}

// Record appends r to the log. It auto-fills Seq and Ts (if zero).
func (fr *FileRecorder) Record(r Record) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if r.Ts.IsZero() {
		r.Ts = time.Now().UTC()
	}
	r.Seq = fr.seq + 1

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("audit: marshal %s: %w", r.Action, err)
	}
	data = append(data, '\n')
	if _, err := fr.file.Write(data); err != nil {
		return fmt.Errorf("audit: write %s: %w", r.Action, err)
	}
	fr.seq = r.Seq
	return nil
}

// Path returns the file the recorder appends to.
func (fr *FileRecorder) Path() string { return fr.path }

// List returns records matching the filter from the underlying file.
func (fr *FileRecorder) List(filter Filter) ([]Record, error) {
	return ReadFiltered(fr.path, filter)
}

// Close closes the underlying file.
func (fr *FileRecorder) Close() error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.file.Close()
}
