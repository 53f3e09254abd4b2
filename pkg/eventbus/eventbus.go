package eventbus

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// EventBus is a small lock-free pub/sub used to fan registry changes out to
// observers. Publishing never blocks: a subscriber that cannot keep up drops
// events rather than stalling the publisher.
type EventBus[T any] struct {
	subscribers   *xsync.Map[string, *subscriber[T]]
	isShutdown    atomic.Bool
	subscriberSeq atomic.Uint64
	bufferSize    int
}

type subscriber[T any] struct {
	id       string
	ch       chan T
	dropped  atomic.Uint64
	isActive atomic.Bool
}

const DefaultBufferSize = 100

// New creates a new EventBus with the default buffer size
func New[T any]() *EventBus[T] {
	return NewWithBuffer[T](DefaultBufferSize)
}

// NewWithBuffer creates a new EventBus with a custom per-subscriber buffer
func NewWithBuffer[T any](bufferSize int) *EventBus[T] {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &EventBus[T]{
		subscribers: xsync.NewMap[string, *subscriber[T]](),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel that receives events and a cleanup function.
// The subscription is also torn down when ctx is cancelled.
func (eb *EventBus[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	if eb.isShutdown.Load() {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	id := "sub_" + strconv.FormatUint(eb.subscriberSeq.Add(1), 10)
	ch := make(chan T, eb.bufferSize)

	sub := &subscriber[T]{id: id, ch: ch}
	sub.isActive.Store(true)

	eb.subscribers.Store(id, sub)

	go func() {
		<-ctx.Done()
		eb.unsubscribe(id)
	}()

	return ch, func() { eb.unsubscribe(id) }
}

// Publish sends an event to all active subscribers, returning the number of
// deliveries. Slow subscribers have the event counted as dropped instead.
func (eb *EventBus[T]) Publish(event T) int {
	if eb.isShutdown.Load() {
		return 0
	}

	delivered := 0
	eb.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		if !sub.isActive.Load() {
			return true
		}
		select {
		case sub.ch <- event:
			delivered++
		default:
			sub.dropped.Add(1)
		}
		return true
	})

	return delivered
}

// Shutdown stops the bus and closes all subscriber channels
func (eb *EventBus[T]) Shutdown() {
	if !eb.isShutdown.CompareAndSwap(false, true) {
		return
	}

	eb.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		if sub.isActive.CompareAndSwap(true, false) {
			close(sub.ch)
		}
		return true
	})
	eb.subscribers.Clear()
}

func (eb *EventBus[T]) unsubscribe(id string) {
	if sub, exists := eb.subscribers.LoadAndDelete(id); exists {
		if sub.isActive.CompareAndSwap(true, false) {
			close(sub.ch)
		}
	}
}
