package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
	lossless  bool
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of evt.Kind.
// Lossy subscribers with a full buffer miss the event; lossless subscribers
// block the publisher until they receive it or unsubscribe.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	// Deliver outside the lock so a blocked lossless subscriber never holds up
	// Subscribe, unsubscribe, or a subscriber that publishes in turn.
	for _, sub := range targets {
		if sub.lossless {
			select {
			case sub.ch <- evt:
			case <-sub.done:
			}
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// Events are dropped when the buffer is full. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	return b.subscribe(namespace, bufSize, false)
}

// SubscribeLossless is like Subscribe but never drops events: publishers wait
// for the subscriber instead. Use it for consumers that must see every event,
// such as history capture.
func (b *Bus) SubscribeLossless(namespace string, bufSize int) (<-chan Event, func()) {
	return b.subscribe(namespace, bufSize, true)
}

func (b *Bus) subscribe(namespace string, bufSize int, lossless bool) (<-chan Event, func()) {
	sub := &subscription{
		namespace: namespace,
		ch:        make(chan Event, bufSize),
		lossless:  lossless,
		done:      make(chan struct{}),
	}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	return sub.ch, func() {
		sub.closeOnce.Do(func() { close(sub.done) })
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
