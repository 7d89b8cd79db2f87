package campaign

import (
	"sort"
	"sync"
	"time"
)

// Registry tracks campaigns whose worker is still alive, keyed by campaign id.
// The lock only guards map access; callers never hold it across I/O.
type Registry struct {
	mu sync.Mutex
	m  map[int64]*entry
}

type entry struct {
	cancelled    bool
	registeredAt time.Time
}

func NewRegistry() *Registry {
	return &Registry{m: map[int64]*entry{}}
}

// Register adds id with a cleared cancellation flag. It reports false if id is already present.
func (r *Registry) Register(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[id]; ok {
		return false
	}
	r.m[id] = &entry{registeredAt: time.Now()}
	return true
}

// Cancel sets the flag for id and reports whether id was registered.
func (r *Registry) Cancel(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.m[id]
	if ok {
		e.cancelled = true
	}
	return ok
}

func (r *Registry) Cancelled(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.m[id]
	return ok && e.cancelled
}

func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	delete(r.m, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []int64 {
	r.mu.Lock()
	out := make([]int64, 0, len(r.m))
	for id := range r.m {
		out = append(out, id)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
