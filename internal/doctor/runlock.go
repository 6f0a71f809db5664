package doctor

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// RunLockFile is created in the working directory while a run is active.
const RunLockFile = ".doctor.lock"

// ErrRunInProgress is returned when another run holds the lock.
var ErrRunInProgress = errors.New("doctor run already in progress")

// acquireRunLock takes the non-blocking single-run lock for dir. The lock
// is an flock(2) on a fresh descriptor, so it also excludes concurrent
// runs inside the same process.
func acquireRunLock(dir string) (release func(), err error) {
	fl := flock.New(filepath.Join(dir, RunLockFile))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	return func() {
		fl.Unlock() //nolint:errcheck // best-effort unlock
	}, nil
}
