package localchains

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/chainsafe/cubist/pkg/fsutil"
)

const historyFile = "historical.json"

// History remembers how long each chain took to bootstrap. The durations
// are used as progress estimates on the next start.
type History struct {
	path string

	mu sync.Mutex
	// BootstrapMillis maps provider name to milliseconds.
	BootstrapMillis map[string]int64 `json:"server_bootstrap_times"`
}

// LoadHistory reads the history in cacheDir. A missing or unreadable file
// gives an empty history.
func LoadHistory(cacheDir string) *History {
	h := &History{path: filepath.Join(cacheDir, historyFile)}
	if err := fsutil.ReadJSON(h.path, h); err != nil || h.BootstrapMillis == nil {
		h.BootstrapMillis = map[string]int64{}
	}
	return h
}

// BootstrapDuration returns the last recorded duration of name.
func (h *History) BootstrapDuration(name string) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ms, ok := h.BootstrapMillis[name]
	return time.Duration(ms) * time.Millisecond, ok
}

// ETA is the recorded duration of name, or fallback.
func (h *History) ETA(name string, fallback time.Duration) time.Duration {
	if d, ok := h.BootstrapDuration(name); ok {
		return d
	}
	return fallback
}

// SetBootstrapDuration records d for name.
func (h *History) SetBootstrapDuration(name string, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.BootstrapMillis[name] = d.Milliseconds()
}

// Save writes the history back to the cache directory.
func (h *History) Save() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fsutil.WriteJSONAtomic(h.path, h)
}
