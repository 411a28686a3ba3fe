package media

import "sync"

// Refs is the audio/video pair of one turn. Either may be empty.
type Refs struct {
	Audio string `json:"audioRef,omitempty"`
	Video string `json:"videoRef,omitempty"`
}

// Empty reports whether neither reference is set.
func (r Refs) Empty() bool {
	return r.Audio == "" && r.Video == ""
}

// Snapshot is a read-only view of the registry.
type Snapshot struct {
	Refs
	Generation uint64 `json:"generation"`
}

// Disposer releases whatever backs a superseded pair, e.g. a downloaded file
// or a frontend object URL. It runs outside the registry lock.
type Disposer func(old Refs)

// Registry holds the currently valid asset references. Replacing them bumps
// the generation, so observers can tell which pair a snapshot describes.
type Registry struct {
	mu      sync.RWMutex
	current Refs
	gen     uint64
	dispose Disposer
}

// NewRegistry creates an empty registry. dispose may be nil.
func NewRegistry(dispose Disposer) *Registry {
	return &Registry{dispose: dispose}
}

// Replace atomically swaps in next and returns its generation.
func (r *Registry) Replace(next Refs) uint64 {
	r.mu.Lock()
	old := r.current
	r.current = next
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	if r.dispose != nil && !old.Empty() {
		r.dispose(old)
	}
	return gen
}

// Clear drops the current pair.
func (r *Registry) Clear() uint64 {
	return r.Replace(Refs{})
}

// Current returns a copy of the current pair and its generation.
func (r *Registry) Current() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{Refs: r.current, Generation: r.gen}
}
