// Package hooks publishes workflow progress events to registered
// subscribers. The executor, queue, and lifecycle managers emit events
// through a Bus; gateways, WebSocket fan-outs, and stream sinks subscribe to
// observe executions without coupling to the scheduler internals.
package hooks

import (
	"context"
	"errors"
	"sync"
)

type (
	// Bus fans events out to registered subscribers. It is safe for
	// concurrent Publish, Register, and Close operations.
	//
	// Delivery is synchronous in the publisher's goroutine and stops at the
	// first subscriber error, so a critical subscriber can halt an execution
	// by returning one. Subscribers that only observe should log failures
	// and return nil.
	Bus interface {
		// Publish delivers the event to every currently registered
		// subscriber in registration order, stopping at the first error.
		Publish(ctx context.Context, event Event) error

		// Register adds a subscriber and returns a Subscription whose Close
		// unregisters it. Register returns an error if sub is nil.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published events.
	//
	// HandleEvent should return an error only when processing failed in a
	// way that must halt the publisher; the Bus stops iterating at the first
	// error.
	Subscriber interface {
		HandleEvent(ctx context.Context, event Event) error
	}

	// Subscription is an active registration. Close is idempotent and
	// thread-safe; after it returns the subscriber receives no new events,
	// though an in-flight Publish may still deliver one.
	Subscription interface {
		Close() error
	}

	// SubscriberFunc adapts a function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, event Event) error

	bus struct {
		mu sync.RWMutex
		// subs preserves registration order so delivery order matches the
		// documented contract.
		subs []*subscription
	}

	subscription struct {
		bus  *bus
		sub  Subscriber
		once sync.Once
	}
)

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// NewBus constructs an in-memory event bus.
//
//	bus := hooks.NewBus()
//	sub, _ := bus.Register(hooks.SubscriberFunc(func(ctx context.Context, evt hooks.Event) error {
//	    fmt.Println(evt.Type())
//	    return nil
//	}))
//	defer sub.Close()
func NewBus() Bus {
	return &bus{}
}

// Publish delivers the event to a snapshot of the current subscribers, so
// registrations and closes during delivery do not affect this call. Returns
// the first subscriber error, if any.
func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	snapshot := make([]*subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.RUnlock()
	for _, s := range snapshot {
		if err := s.sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Register adds sub to the bus.
func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	s := &subscription{bus: b, sub: sub}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s, nil
}

// Close removes the subscriber from the bus. Always returns nil.
func (s *subscription) Close() error {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		for i, cur := range b.subs {
			if cur == s {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
	})
	return nil
}
