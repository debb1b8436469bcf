package state

import (
	"path/filepath"
	"sync"
	"time"
)

// CooldownFile is the on-disk record name inside the state directory.
const CooldownFile = "cooldowns.json"

// CooldownRegistry maps backends to an absolute expiry timestamp
// (epoch seconds). A backend is cooling down iff now < expiry. Expired
// entries are left in place; staleness is harmless since expiry is
// checked on every read.
type CooldownRegistry struct {
	mu   sync.Mutex
	path string
}

// NewCooldownRegistry creates a registry rooted at dir.
func NewCooldownRegistry(dir string) *CooldownRegistry {
	return &CooldownRegistry{path: filepath.Join(dir, CooldownFile)}
}

// Cooldown sets the backend's expiry to now+duration and persists
// immediately, overwriting any earlier expiry.
func (r *CooldownRegistry) Cooldown(backend string, now time.Time, duration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cooldowns := make(map[string]float64)
	if err := readRecord(r.path, &cooldowns); err != nil {
		return err
	}

	expiry := now.Add(duration)
	cooldowns[backend] = float64(expiry.UnixNano()) / float64(time.Second)

	return writeRecord(r.path, cooldowns)
}

// IsCoolingDown reports whether a stored expiry exists for the backend
// and now is before it.
func (r *CooldownRegistry) IsCoolingDown(backend string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cooldowns := make(map[string]float64)
	if err := readRecord(r.path, &cooldowns); err != nil {
		return false, err
	}

	expiry, ok := cooldowns[backend]
	if !ok {
		return false, nil
	}
	return float64(now.UnixNano())/float64(time.Second) < expiry, nil
}

// Load returns the full mapping of backend to epoch-seconds expiry,
// including stale entries.
func (r *CooldownRegistry) Load() (map[string]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cooldowns := make(map[string]float64)
	if err := readRecord(r.path, &cooldowns); err != nil {
		return nil, err
	}
	return cooldowns, nil
}
