// Package pool provides the size-bucketed buffer pool and generic typed
// object pool that underlie every allocation on the game server's hot path.
package pool

import "sync"

// Resettable is implemented by types that can be pooled. Reset must clear
// every field a new Rent-er should not observe, but may preserve an
// externally managed payload reference the caller chose to keep.
type Resettable interface {
	Reset()
}

// Stats is a snapshot of a pool's bookkeeping counters.
type Stats struct {
	Available     int
	TotalCreated  int64
	TotalRented   int64
	TotalReturned int64
}

// Leaks reports total_created - available, the number of rented objects
// that have not been returned.
func (s Stats) Leaks() int64 {
	return s.TotalCreated - int64(s.Available)
}

// TypedPool is a pool of resettable elements of a single type. Rent returns
// a pre-existing element if one is available, else allocates a fresh one
// via new. Return resets the element and re-inserts it, discarding it
// instead if max_size would be exceeded.
type TypedPool[T Resettable] struct {
	mu      sync.Mutex
	free    []T
	newFn   func() T
	maxSize int

	totalCreated  int64
	totalRented   int64
	totalReturned int64
}

// NewTypedPool creates a pool pre-populated with initialSize elements
// (via newFn) and bounded at maxSize. newFn must return a usable zero-value
// element; it is called once per element, never concurrently.
func NewTypedPool[T Resettable](initialSize, maxSize int, newFn func() T) *TypedPool[T] {
	p := &TypedPool[T]{
		free:    make([]T, 0, initialSize),
		newFn:   newFn,
		maxSize: maxSize,
	}
	for i := 0; i < initialSize; i++ {
		p.free = append(p.free, newFn())
		p.totalCreated++
	}
	return p
}

// Rent removes and returns an element from the free list, allocating a new
// one if the list is empty. Rent never blocks and never fails.
func (p *TypedPool[T]) Rent() T {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalRented++

	n := len(p.free)
	if n == 0 {
		p.totalCreated++
		return p.newFn()
	}
	v := p.free[n-1]
	p.free = p.free[:n-1]
	return v
}

// Return resets v and re-inserts it into the free list, discarding it if
// that would exceed maxSize. Return is a no-op error-wise: it never fails.
func (p *TypedPool[T]) Return(v T) {
	v.Reset()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalReturned++
	if p.maxSize > 0 && len(p.free) >= p.maxSize {
		return
	}
	p.free = append(p.free, v)
}

// Stats returns a snapshot of the pool's bookkeeping counters.
func (p *TypedPool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Available:     len(p.free),
		TotalCreated:  p.totalCreated,
		TotalRented:   p.totalRented,
		TotalReturned: p.totalReturned,
	}
}
