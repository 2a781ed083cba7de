package history

// node is one entry of a bounded list.
type node[T any] struct {
	id         string
	value      T
	prev, next *node[T]
}

// boundedList keeps at most capacity entries, newest at head; adding to a full
// list evicts the tail. It is not safe for concurrent use.
type boundedList[T any] struct {
	byID       map[string]*node[T]
	head, tail *node[T]
	capacity   int
}

func newBoundedList[T any](capacity int) *boundedList[T] {
	return &boundedList[T]{byID: make(map[string]*node[T]), capacity: capacity}
}

func (l *boundedList[T]) len() int { return len(l.byID) }

// push adds value at the head and returns true if an entry was evicted.
func (l *boundedList[T]) push(id string, value T) bool {
	n := &node[T]{id: id, value: value, next: l.head}
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
	l.byID[id] = n

	if l.capacity > 0 && len(l.byID) > l.capacity {
		l.remove(l.tail)
		return true
	}
	return false
}

func (l *boundedList[T]) get(id string) (T, bool) {
	n, ok := l.byID[id]
	if !ok {
		var zero T
		return zero, false
	}
	return n.value, true
}

func (l *boundedList[T]) remove(n *node[T]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	delete(l.byID, n.id)
	n.prev, n.next = nil, nil
}

// newest returns up to limit values, newest first. limit <= 0 means all.
func (l *boundedList[T]) newest(limit int) []T {
	if limit <= 0 || limit > len(l.byID) {
		limit = len(l.byID)
	}
	out := make([]T, 0, limit)
	for n := l.head; n != nil && len(out) < limit; n = n.next {
		out = append(out, n.value)
	}
	return out
}

func (l *boundedList[T]) each(fn func(T)) {
	for n := l.head; n != nil; n = n.next {
		fn(n.value)
	}
}
