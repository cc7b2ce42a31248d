package network

import "sync"

// queue is an unbounded FIFO with a level-triggered readiness channel. The
// coordinator pushes to its own queues from inside Process, so pushing must
// never block.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{notify: make(chan struct{}, 1)}
}

func (q *queue[T]) push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// ready fires at least once after any push since the last drain.
func (q *queue[T]) ready() <-chan struct{} {
	return q.notify
}

func (q *queue[T]) drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
