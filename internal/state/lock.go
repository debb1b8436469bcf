package state

import (
	"path/filepath"
	"sync"
)

// LockFile is the on-disk record name inside the state directory.
const LockFile = "router_state.json"

type routerState struct {
	Lock *string `json:"lock"`
}

// LockState holds the optional manual override backend. At most one
// backend can be locked; the lock is advisory to the router and does
// not affect tier computations.
type LockState struct {
	mu   sync.Mutex
	path string
}

// NewLockState creates a lock store rooted at dir.
func NewLockState(dir string) *LockState {
	return &LockState{path: filepath.Join(dir, LockFile)}
}

// Get returns the locked backend, if any.
func (l *LockState) Get() (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var st routerState
	if err := readRecord(l.path, &st); err != nil {
		return "", false, err
	}
	if st.Lock == nil || *st.Lock == "" {
		return "", false, nil
	}
	return *st.Lock, true, nil
}

// Set locks routing to the given backend and persists immediately.
func (l *LockState) Set(backend string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return writeRecord(l.path, routerState{Lock: &backend})
}

// Clear removes the lock and persists immediately.
func (l *LockState) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return writeRecord(l.path, routerState{Lock: nil})
}
