package state

import (
	"path/filepath"
	"sync"
)

// DefaultWindow is the number of recent probe records kept per backend.
const DefaultWindow = 20

// MetricsFile is the on-disk record name inside the state directory.
const MetricsFile = "model_stats.json"

// ProbeRecord is one observed outcome for a backend. Records are
// immutable once created; Success is persisted as 0|1 to keep the file
// human-inspectable.
type ProbeRecord struct {
	Success   int     `json:"success"`
	Latency   float64 `json:"latency"`
	MaxTokens int     `json:"max_tokens"`
}

// Succeeded reports whether the record describes a successful call.
func (r ProbeRecord) Succeeded() bool {
	return r.Success != 0
}

// MetricsStore keeps a rolling window of ProbeRecords per backend,
// persisted to a single JSON file after every append. Access is
// serialized with an in-process mutex; cross-process writers are not
// coordinated (last writer wins).
type MetricsStore struct {
	mu     sync.Mutex
	path   string
	window int
}

// NewMetricsStore creates a store rooted at dir. A window of 0 uses
// DefaultWindow.
func NewMetricsStore(dir string, window int) *MetricsStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MetricsStore{
		path:   filepath.Join(dir, MetricsFile),
		window: window,
	}
}

// Record appends rec to the backend's window, creating the window if
// absent and evicting the oldest record when the window is full, then
// persists the full store.
func (s *MetricsStore) Record(backend string, rec ProbeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string][]ProbeRecord)
	if err := readRecord(s.path, &stats); err != nil {
		return err
	}

	win := append(stats[backend], rec)
	if len(win) > s.window {
		win = win[len(win)-s.window:]
	}
	stats[backend] = win

	return writeRecord(s.path, stats)
}

// Load returns the full mapping of backend to its recorded window.
func (s *MetricsStore) Load() (map[string][]ProbeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string][]ProbeRecord)
	if err := readRecord(s.path, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Snapshot is Load under a name that signals read-only use by
// classifiers; callers must not mutate the returned windows.
func (s *MetricsStore) Snapshot() (map[string][]ProbeRecord, error) {
	return s.Load()
}
