package messaging

import "sync/atomic"

type node[T any] struct {
	value T
	next  *node[T]
}

// mpsc is a lock-free multi-producer single-consumer queue. Producers push
// onto a Treiber stack; the consumer swaps out the whole stack and reverses it
// in place, so taking never allocates.
type mpsc[T any] struct {
	head atomic.Pointer[node[T]]
}

func (q *mpsc[T]) push(v T) {
	n := &node[T]{value: v}
	for {
		old := q.head.Load()
		n.next = old
		if q.head.CompareAndSwap(old, n) {
			return
		}
	}
}

// takeAll removes everything pushed so far and returns it oldest first.
func (q *mpsc[T]) takeAll() *node[T] {
	var fifo *node[T]
	for n := q.head.Swap(nil); n != nil; {
		next := n.next
		n.next = fifo
		fifo = n
		n = next
	}
	return fifo
}

func (q *mpsc[T]) empty() bool { return q.head.Load() == nil }
