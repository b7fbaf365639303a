package lanlink

import "sync"

// registry is an append-only list shared between a background goroutine
// and its owner. The lock is held only for the append or copy.
type registry[T any] struct {
	mu    sync.Mutex
	items []T
}

func (r *registry[T]) add(v T) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = append(r.items, v)
	return len(r.items)
}

func (r *registry[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.items)
}

func (r *registry[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}
