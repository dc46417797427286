package eventbus

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// TypedBus is a type-safe publish/subscribe bus for events of type T.
// Publishing never blocks. Subscribe channels drop events when their buffer
// is full and count them in Dropped; SubscribeQueued subscribers receive
// every event.
type TypedBus[T any] struct {
	mu      sync.RWMutex
	subs    []chan T
	queues  []*queue[T]
	buffer  int
	closed  bool
	dropped atomic.Uint64
}

// queue is an unbounded FIFO drained into out by its own goroutine.
type queue[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []T
	closing bool
	aborted bool
	out     chan T
	abort   chan struct{}
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{out: make(chan T), abort: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *queue[T]) push(e T) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *queue[T]) run() {
	defer close(q.out)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closing && !q.aborted {
			q.cond.Wait()
		}
		if q.aborted || len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		e := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()
		select {
		case q.out <- e:
		case <-q.abort:
			return
		}
	}
}

// close delivers the pending events and then closes out.
func (q *queue[T]) close() {
	q.mu.Lock()
	q.closing = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// stop discards the pending events and closes out.
func (q *queue[T]) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.aborted {
		return
	}
	q.aborted = true
	close(q.abort)
	q.cond.Broadcast()
}

// NewTyped creates a TypedBus with DefaultBuffer sized subscriptions.
func NewTyped[T any]() *TypedBus[T] { return NewTypedWithBuffer[T](DefaultBuffer) }

// NewTypedWithBuffer creates a TypedBus with the given subscriber capacity.
func NewTypedWithBuffer[T any](buffer int) *TypedBus[T] {
	if buffer < 0 {
		buffer = 0
	}
	return &TypedBus[T]{buffer: buffer}
}

// Publish sends the event to all subscribers.
func (b *TypedBus[T]) Publish(e T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
	for _, q := range b.queues {
		q.push(e)
	}
}

// Subscribe registers a subscriber and returns its channel.
func (b *TypedBus[T]) Subscribe() <-chan T {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, ch)
	}
	b.mu.Unlock()
	return ch
}

// SubscribeQueued registers a subscriber that never loses events: they are
// queued without bound until read. Use it for consumers whose work may
// block, such as storage or remote writes.
func (b *TypedBus[T]) SubscribeQueued() <-chan T {
	q := newQueue[T]()
	b.mu.Lock()
	if b.closed {
		q.close()
	} else {
		b.queues = append(b.queues, q)
	}
	b.mu.Unlock()
	return q.out
}

// Unsubscribe removes the subscriber and closes its channel. Events still
// queued for a SubscribeQueued subscriber are discarded.
func (b *TypedBus[T]) Unsubscribe(sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(ch)
			return
		}
	}
	for i, q := range b.queues {
		if q.out == sub {
			b.queues = append(b.queues[:i], b.queues[i+1:]...)
			q.stop()
			return
		}
	}
}

// Dropped returns the number of events lost to full subscriber buffers.
func (b *TypedBus[T]) Dropped() uint64 { return b.dropped.Load() }

// Close closes the bus and all subscriber channels. Queued subscribers
// receive their pending events before their channel closes.
func (b *TypedBus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	// queues stay listed so that Unsubscribe can still abort a drain
	for _, q := range b.queues {
		q.close()
	}
}
