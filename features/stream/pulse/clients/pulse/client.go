// Package pulse wraps goa.design/pulse streams behind the narrow surface the
// weft stream feature needs. Callers own the Redis connection, hand it to
// New, and get back typed handles that expose only publish, sink creation,
// and teardown.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// Options configures the pulse client.
	Options struct {
		// Redis backs the pulse streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds the entries kept per stream. Zero uses the
		// pulse default.
		StreamMaxLen int
		// StreamOptions, when set, contributes extra stream options per
		// opened stream. Nil results mean no extras.
		StreamOptions func(name string) []streamopts.Stream
		// OperationTimeout bounds individual Add calls. Zero disables the
		// per-operation deadline.
		OperationTimeout time.Duration
	}

	// Client is the subset of pulse used by the weft stream sink and
	// subscriber.
	Client interface {
		// Stream returns a handle to the named stream, creating it on
		// first use.
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
		// Close releases client-owned resources. The Redis connection
		// belongs to the caller and is left open.
		Close(ctx context.Context) error
	}

	// Stream publishes events and spawns sinks (consumer groups).
	Stream interface {
		// Add appends an event to the stream and returns the Redis entry
		// id (for example "1234567890-0").
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink creates a consumer group reading from this stream.
		NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
		// Destroy removes the stream and every entry in it.
		Destroy(ctx context.Context) error
	}

	// Sink is a consumer group over a pulse stream.
	Sink interface {
		// Subscribe returns the channel events arrive on.
		Subscribe() <-chan *streaming.Event
		// Ack marks an event processed, removing it from the pending list.
		Ack(context.Context, *streaming.Event) error
		// Close stops the sink.
		Close(context.Context)
	}
)

type client struct {
	rdb      *redis.Client
	maxLen   int
	extraFor func(name string) []streamopts.Stream
	timeout  time.Duration
}

// New constructs a pulse client over the given Redis connection. Only the
// Redis field of opts is required.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &client{
		rdb:      opts.Redis,
		maxLen:   opts.StreamMaxLen,
		extraFor: opts.StreamOptions,
		timeout:  opts.OperationTimeout,
	}, nil
}

func (c *client) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("stream name is required")
	}
	var all []streamopts.Stream
	if c.maxLen > 0 {
		all = append(all, streamopts.WithStreamMaxLen(c.maxLen))
	}
	if c.extraFor != nil {
		all = append(all, c.extraFor(name)...)
	}
	all = append(all, opts...)
	str, err := streaming.NewStream(name, c.rdb, all...)
	if err != nil {
		return nil, fmt.Errorf("create pulse stream: %w", err)
	}
	return &streamHandle{stream: str, timeout: c.timeout}, nil
}

// Close is a no-op: the Redis connection lifecycle belongs to the caller.
func (c *client) Close(context.Context) error { return nil }

// streamHandle applies the configured operation timeout around pulse calls.
type streamHandle struct {
	stream  *streaming.Stream
	timeout time.Duration
}

func (h *streamHandle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("event name is required")
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse add: %w", err)
	}
	return id, nil
}

func (h *streamHandle) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	sink, err := h.stream.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, err
	}
	return sinkAdapter{Sink: sink}, nil
}

func (h *streamHandle) Destroy(ctx context.Context) error {
	return h.stream.Destroy(ctx)
}

// sinkAdapter narrows streaming.Sink's Close signature to the Sink interface.
type sinkAdapter struct {
	*streaming.Sink
}

func (s sinkAdapter) Close(ctx context.Context) { s.Sink.Close(ctx) }
