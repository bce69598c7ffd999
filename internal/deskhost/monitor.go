package deskhost

import (
	"sort"
	"sync"
)

// Monitor is the opaque-handle monitor record: handle, index,
// width, height, refresh rate, primary flag, device name.
type Monitor struct {
	Handle      uintptr
	Index       int
	Width       int
	Height      int
	RefreshRate int
	Primary     bool
	DeviceName  string
}

// MonitorSource is the per-platform enumeration collaborator; a real
// implementation is build-tagged per OS the way the teacher's
// monitor_windows.go/monitor_other.go split it.
type MonitorSource interface {
	Enumerate() ([]Monitor, error)
}

// MonitorRegistry is the cross-platform monitor enumeration cache:
// one mutex-guarded list, rebuilt on demand, normalized to dense
// [0..count) indices with the primary monitor first.
type MonitorRegistry struct {
	mu     sync.Mutex
	source MonitorSource
	cached []Monitor
}

// NewMonitorRegistry constructs a registry over the given platform source.
func NewMonitorRegistry(source MonitorSource) *MonitorRegistry {
	return &MonitorRegistry{source: source}
}

// List forces a fresh OS query, normalizes indices, and caches the result.
func (r *MonitorRegistry) List() ([]Monitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	monitors, err := r.source.Enumerate()
	if err != nil {
		return nil, err
	}

	sort.SliceStable(monitors, func(i, j int) bool {
		if monitors[i].Primary != monitors[j].Primary {
			return monitors[i].Primary // primary first
		}
		return false // stable: preserve original order otherwise
	})
	for i := range monitors {
		monitors[i].Index = i
	}

	r.cached = monitors
	return monitors, nil
}

// Cached returns the last-computed list without re-querying the OS.
func (r *MonitorRegistry) Cached() []Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Monitor, len(r.cached))
	copy(out, r.cached)
	return out
}

// ByIndex looks up a monitor from the cached list.
func (r *MonitorRegistry) ByIndex(index int) (Monitor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.cached {
		if m.Index == index {
			return m, true
		}
	}
	return Monitor{}, false
}
