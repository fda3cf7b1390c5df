package pulse

import (
	"context"
	"errors"

	clientspulse "github.com/weftworks/weft/features/stream/pulse/clients/pulse"
	"github.com/weftworks/weft/runtime/hooks"
)

// Streams bundles a publishing sink and subscriber factory over one pulse
// client so services manage a single Redis connection for both directions.
type Streams struct {
	sink   *Sink
	client clientspulse.Client
}

// StreamsOptions configures the helper returned by NewStreams.
type StreamsOptions struct {
	// Client serves both publishing and subscribing. Required, typically
	// built via features/stream/pulse/clients/pulse.
	Client clientspulse.Client
	// Sink holds optional overrides for the publishing side. Leave
	// zero-valued for defaults.
	Sink SinkOptions
}

// NewStreams constructs the sink/subscriber pair. Callers attach the sink to
// the engine's bus and keep the helper around to spawn subscribers later.
func NewStreams(opts StreamsOptions) (*Streams, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sinkOpts := opts.Sink
	sinkOpts.Client = opts.Client
	sink, err := NewSink(sinkOpts)
	if err != nil {
		return nil, err
	}
	return &Streams{sink: sink, client: opts.Client}, nil
}

// Sink exposes the publishing sink for bus registration.
func (s *Streams) Sink() *Sink { return s.sink }

// Attach registers the publishing sink on the bus.
func (s *Streams) Attach(bus hooks.Bus) (hooks.Subscription, error) {
	return s.sink.Attach(bus)
}

// NewSubscriber builds a subscriber that reuses the helper's client.
func (s *Streams) NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	opts.Client = s.client
	return NewSubscriber(opts)
}

// Close shuts down the publishing sink. Call after all subscribers have been
// canceled.
func (s *Streams) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
