package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/weftworks/weft/features/stream/pulse/clients/pulse"
	"github.com/weftworks/weft/runtime/hooks"
)

type (
	// EnvelopeDecoder turns raw stream payloads into hooks events. Custom
	// decoders can handle non-standard envelope layouts.
	EnvelopeDecoder func([]byte) (hooks.Event, error)

	// SubscriberOptions configures the consuming side.
	SubscriberOptions struct {
		// Client reads the streams. Required.
		Client clientspulse.Client
		// SinkName identifies the consumer group. Defaults to
		// "weft_subscriber".
		SinkName string
		// Buffer is the event channel capacity. Defaults to 64.
		Buffer int
		// Decoder deserializes payloads. Defaults to the envelope decoder
		// matching Sink's wire format.
		Decoder EnvelopeDecoder
	}

	// Subscriber consumes pulse streams and re-emits the entries as hooks
	// events so downstream consumers (WebSocket writers, CLIs) can use the
	// same type switches they use against an in-process bus.
	Subscriber struct {
		client clientspulse.Client
		name   string
		buffer int
		decode EnvelopeDecoder
	}

	// RemoteEvent is the hooks.Event implementation produced by the default
	// decoder. Payload carries the event-specific fields as raw JSON.
	RemoteEvent struct {
		kind        hooks.EventType
		executionID string
		timestamp   int64
		payload     json.RawMessage
	}
)

// Type returns the wire event type.
func (e *RemoteEvent) Type() hooks.EventType { return e.kind }

// ExecutionID returns the owning execution id, empty for lifecycle events.
func (e *RemoteEvent) ExecutionID() string { return e.executionID }

// Timestamp returns the publisher's Unix millisecond timestamp.
func (e *RemoteEvent) Timestamp() int64 { return e.timestamp }

// Payload returns the undecoded event-specific fields.
func (e *RemoteEvent) Payload() json.RawMessage { return e.payload }

// NewSubscriber constructs a pulse-backed subscriber. Only the Client field
// of opts is required.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &Subscriber{
		client: opts.Client,
		name:   opts.SinkName,
		buffer: opts.Buffer,
		decode: opts.Decoder,
	}
	if s.name == "" {
		s.name = "weft_subscriber"
	}
	if s.buffer <= 0 {
		s.buffer = 64
	}
	if s.decode == nil {
		s.decode = DecodeEnvelope
	}
	return s, nil
}

// SubscribeExecution consumes the per-execution stream for the given id.
func (s *Subscriber) SubscribeExecution(
	ctx context.Context,
	executionID string,
	opts ...streamopts.Sink,
) (<-chan hooks.Event, <-chan error, context.CancelFunc, error) {
	return s.Subscribe(ctx, ExecutionStream(executionID), opts...)
}

// Subscribe opens a consumer group on the named stream and returns channels
// for decoded events and errors. The returned cancel stops consumption and
// closes both channels.
//
//	events, errs, cancel, err := sub.SubscribeExecution(ctx, id)
//	defer cancel()
//	for evt := range events {
//	    // process evt
//	}
func (s *Subscriber) Subscribe(
	ctx context.Context,
	streamName string,
	opts ...streamopts.Sink,
) (<-chan hooks.Event, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(streamName)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make(chan hooks.Event, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, events, errs)
	stop := func() {
		cancel()
		sink.Close(context.Background())
	}
	return events, errs, stop, nil
}

// consume drains the sink, decodes entries, and acks each one after it has
// been handed off. The first decode or ack failure is reported on errs and
// ends consumption.
func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- hooks.Event, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			decoded, err := s.decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if err := sink.Ack(ctx, evt); err != nil {
				errs <- fmt.Errorf("pulse ack: %w", err)
				return
			}
		}
	}
}

// DecodeEnvelope parses the JSON envelope written by Sink into a
// RemoteEvent.
func DecodeEnvelope(payload []byte) (hooks.Event, error) {
	var env struct {
		Type        string          `json:"type"`
		ExecutionID string          `json:"execution_id"`
		Timestamp   int64           `json:"timestamp"`
		Payload     json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	return &RemoteEvent{
		kind:        hooks.EventType(env.Type),
		executionID: env.ExecutionID,
		timestamp:   env.Timestamp,
		payload:     env.Payload,
	}, nil
}
