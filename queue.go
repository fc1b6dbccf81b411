package cardwallet

// queue holds the work items a step machine still has to send to the card,
// in order.
type queue[T any] struct {
	elements []T
}

func newQueue[T any](elements ...T) queue[T] {
	return queue[T]{elements: append([]T(nil), elements...)}
}

func (q *queue[T]) dequeue() (T, bool) {
	var zero T
	if len(q.elements) == 0 {
		return zero, false
	}
	element := q.elements[0]
	q.elements = q.elements[1:]
	return element, true
}
