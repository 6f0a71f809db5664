package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Filter specifies predicates for ReadFiltered. Zero values are ignored.
type Filter struct {
	Action   string    // match records with this Action
	OrgID    string    // match records with this OrgID
	Since    time.Time // match records at or after this time
	AfterSeq uint64    // match records with Seq > AfterSeq (0 = no filter)
	Limit    int       // keep only the newest Limit matches (0 = all)
}

// ReadAll reads all records from the JSONL file at path.
// Returns (nil, nil) if the file is missing or empty.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue // skip malformed lines
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("scanning audit log: %w", err)
	}
	return records, nil
}

// ReadFiltered reads records from path and returns only those matching
// all non-zero fields in filter, oldest first.
func ReadFiltered(path string, filter Filter) ([]Record, error) {
	all, err := ReadAll(path)
	if err != nil {
		return nil, err
	}

	var result []Record
	for _, r := range all {
		if filter.AfterSeq > 0 && r.Seq <= filter.AfterSeq {
			continue
		}
		if filter.Action != "" && r.Action != filter.Action {
			continue
		}
		if filter.OrgID != "" && r.OrgID != filter.OrgID {
			continue
		}
		if !filter.Since.IsZero() && r.Ts.Before(filter.Since) {
			continue
		}
		result = append(result, r)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[len(result)-filter.Limit:]
	}
	return result, nil
}
