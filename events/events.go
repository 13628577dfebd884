// Package events delivers notifications from worker goroutines to consumers
// without ever blocking the producer.
//
// A Queue accepts values with Push, buffers them in an unbounded FIFO and
// hands them out, in order, on the channel returned by C.  Workers call Push
// from their loop; consumers range over C from their own goroutine.
package events

import "sync"

// Queue is an unbounded, ordered, single-consumer notification queue
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	closed bool
	out    chan T
}

// NewQueue creates a queue and starts its delivery goroutine
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{out: make(chan T)}
	q.cond = sync.NewCond(&q.mu)
	go q.pump()
	return q
}

// Push enqueues v.  It never blocks on the consumer.  Push after Close drops v
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.buf = append(q.buf, v)
	q.cond.Signal()
}

// C returns the delivery channel.  It is closed after Close once every
// queued value has been delivered
func (q *Queue[T]) C() <-chan T {
	return q.out
}

// Len returns the number of values not yet handed to the consumer
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Close stops accepting values.  Values already queued are still delivered
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Signal()
}

func (q *Queue[T]) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		for len(q.buf) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.buf) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		v := q.buf[0]
		var zero T
		q.buf[0] = zero
		q.buf = q.buf[1:]
		q.mu.Unlock()
		q.out <- v
	}
}

// Broadcaster fans values out to any number of subscribers, each with its
// own Queue, so one slow subscriber does not delay the others
type Broadcaster[T any] struct {
	mu   sync.Mutex
	subs map[*Queue[T]]struct{}
}

// NewBroadcaster returns an empty Broadcaster
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[*Queue[T]]struct{})}
}

// Subscribe registers a new subscriber.  Call the returned function to
// unsubscribe, which closes the subscriber's queue
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	q := NewQueue[T]()
	b.mu.Lock()
	b.subs[q] = struct{}{}
	b.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, q)
			b.mu.Unlock()
			q.Close()
			// drain so the pump goroutine can exit
			go func() {
				for range q.C() {
				}
			}()
		})
	}
	return q.C(), cancel
}

// Subscribers is the number of current subscribers
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish pushes v to every subscriber
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for q := range b.subs {
		q.Push(v)
	}
}
