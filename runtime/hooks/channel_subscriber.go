package hooks

import "context"

// ChannelSubscriber forwards events to a buffered channel so callers can
// consume progress with a plain for-range loop. It bridges the synchronous
// bus to asynchronous consumers such as WebSocket writers.
//
// When the channel is full the event is dropped rather than blocking the
// publisher; progress events are advisory and must never stall the
// scheduler.
type ChannelSubscriber struct {
	ch chan Event
}

// NewChannelSubscriber constructs a subscriber buffering up to size events.
// A non-positive size falls back to 64.
func NewChannelSubscriber(size int) *ChannelSubscriber {
	if size <= 0 {
		size = 64
	}
	return &ChannelSubscriber{ch: make(chan Event, size)}
}

// HandleEvent enqueues the event, dropping it when the buffer is full or the
// context is done. Always returns nil.
func (s *ChannelSubscriber) HandleEvent(ctx context.Context, event Event) error {
	select {
	case s.ch <- event:
	case <-ctx.Done():
	default:
	}
	return nil
}

// Events returns the receive side of the buffer.
func (s *ChannelSubscriber) Events() <-chan Event {
	return s.ch
}
