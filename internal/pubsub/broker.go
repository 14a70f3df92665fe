package pubsub

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultChannelBufferSize = 64

// slowSubscriberTimeout bounds how long a publish will wait on a subscriber
// whose buffer is full before dropping the event for it.
const slowSubscriberTimeout = 2 * time.Second

type Broker[T any] struct {
	subs     map[chan Event[T]]context.CancelFunc
	mu       sync.RWMutex
	isClosed bool
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subs: make(map[chan Event[T]]context.CancelFunc),
	}
}

func (b *Broker[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed {
		return
	}
	b.isClosed = true

	for ch, cancel := range b.subs {
		cancel()
		close(ch)
		delete(b.subs, ch)
	}
}

// Subscribe returns a channel that receives every event published after the
// call. The subscription is removed when ctx is cancelled.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isClosed {
		closedCh := make(chan Event[T])
		close(closedCh)
		return closedCh
	}

	subCtx, subCancel := context.WithCancel(ctx)
	sub := make(chan Event[T], defaultChannelBufferSize)
	b.subs[sub] = subCancel

	go func() {
		<-subCtx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; ok {
			close(sub)
			delete(b.subs, sub)
		}
	}()

	return sub
}

func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.isClosed {
		slog.Warn("publish on closed broker", "type", eventType)
		return
	}

	event := Event[T]{Type: eventType, Payload: payload}

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Subscriber buffer is full. Hand off to a goroutine so one slow
			// consumer cannot stall the publisher.
			go func(sub chan Event[T]) {
				b.mu.RLock()
				closed := b.isClosed
				b.mu.RUnlock()
				if closed {
					return
				}
				select {
				case sub <- event:
				case <-time.After(slowSubscriberTimeout):
					slog.Warn("dropped event for slow subscriber", "type", event.Type)
				}
			}(ch)
		}
	}
}

func (b *Broker[T]) GetSubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
