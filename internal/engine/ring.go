package engine

// Ring is a fixed-capacity buffer with oldest-first eviction. It is the
// only growth mechanism histories and suspicious buffers are allowed to
// use: a long-lived process must never accumulate unbounded state.
//
// Ring is not safe for concurrent use; owners guard it with their own lock.
type Ring[T any] struct {
	buf  []T
	head int
	size int
}

// NewRing creates a ring holding at most capacity entries. Capacity is
// clamped to at least 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry when full.
func (r *Ring[T]) Push(v T) {
	tail := (r.head + r.size) % len(r.buf)
	r.buf[tail] = v
	if r.size < len(r.buf) {
		r.size++
	} else {
		r.head = (r.head + 1) % len(r.buf)
	}
}

// Len returns the number of stored entries.
func (r *Ring[T]) Len() int {
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Snapshot returns the entries oldest-first.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
