package predictor

// ring keeps the last cap values, oldest first.
type ring[T any] struct {
	buf  []T
	next int
	full bool
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, max(capacity, 1))}
}

func (r *ring[T]) Push(v T) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring[T]) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *ring[T]) Values() []T {
	if !r.full {
		return append([]T(nil), r.buf[:r.next]...)
	}
	ret := make([]T, 0, len(r.buf))
	ret = append(ret, r.buf[r.next:]...)
	return append(ret, r.buf[:r.next]...)
}

func (r *ring[T]) Clear() {
	r.next = 0
	r.full = false
	clear(r.buf)
}
