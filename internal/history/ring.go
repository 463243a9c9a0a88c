package history

// ring is a fixed-size circular buffer. When full, Push overwrites the
// oldest element. Not safe for concurrent use; History synchronizes it.
type ring[T any] struct {
	data  []T
	head  int // next write position
	tail  int // oldest element
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{data: make([]T, capacity)}
}

// push appends item and reports whether the oldest element was overwritten.
func (r *ring[T]) push(item T) (evicted bool) {
	r.data[r.head] = item
	r.head = (r.head + 1) % len(r.data)

	if r.count == len(r.data) {
		r.tail = (r.tail + 1) % len(r.data)
		return true
	}
	r.count++
	return false
}

// popFront removes the oldest element.
func (r *ring[T]) popFront() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	item := r.data[r.tail]
	r.data[r.tail] = zero // drop the reference
	r.tail = (r.tail + 1) % len(r.data)
	r.count--
	return item, true
}

// at returns the i-th element counted from the oldest.
func (r *ring[T]) at(i int) *T {
	return &r.data[(r.tail+i)%len(r.data)]
}

// front returns the oldest element without removing it.
func (r *ring[T]) front() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.data[r.tail], true
}

// slice copies elements [from, count) oldest first.
func (r *ring[T]) slice(from int) []T {
	if from < 0 {
		from = 0
	}
	if from >= r.count {
		return nil
	}
	out := make([]T, 0, r.count-from)
	for i := from; i < r.count; i++ {
		out = append(out, *r.at(i))
	}
	return out
}

func (r *ring[T]) len() int { return r.count }
func (r *ring[T]) cap() int { return len(r.data) }
