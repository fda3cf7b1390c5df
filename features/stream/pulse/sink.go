// Package pulse bridges the in-process hooks bus to goa.design/pulse
// streams so progress events survive process boundaries. A Sink registered
// on the bus republishes every event to a per-execution stream; a
// Subscriber on another process turns the stream entries back into hooks
// events for local fan-out. The engine never imports this package; services
// that want durable streaming wire it in themselves.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	clientspulse "github.com/weftworks/weft/features/stream/pulse/clients/pulse"
	"github.com/weftworks/weft/runtime/hooks"
	"github.com/weftworks/weft/runtime/telemetry"
)

// LifecycleStream receives events that belong to no execution, such as
// module state transitions and plugin installs.
const LifecycleStream = "engine/lifecycle"

type (
	// SinkOptions configures the publishing side.
	SinkOptions struct {
		// Client publishes the envelopes. Required.
		Client clientspulse.Client
		// StreamID derives the target stream from an event. Defaults to
		// "execution/<id>", with LifecycleStream for events that carry no
		// execution id.
		StreamID func(hooks.Event) (string, error)
		// Marshal overrides envelope serialization, primarily for tests.
		Marshal func(Envelope) ([]byte, error)
		// Logger records publish failures. Defaults to a no-op logger.
		Logger telemetry.Logger
	}

	// Sink republishes hooks events onto pulse streams. It implements
	// hooks.Subscriber and never returns an error from HandleEvent:
	// streaming is an observer and must not halt executions, so failures
	// are logged and dropped.
	Sink struct {
		client   clientspulse.Client
		streamID func(hooks.Event) (string, error)
		marshal  func(Envelope) ([]byte, error)
		logger   telemetry.Logger
	}

	// Envelope is the wire form of a hooks event. Payload holds the
	// event-specific fields keyed by their wire names.
	Envelope struct {
		Type        string `json:"type"`
		ExecutionID string `json:"execution_id,omitempty"`
		// Timestamp is Unix milliseconds at event creation.
		Timestamp int64 `json:"timestamp"`
		Payload   any   `json:"payload,omitempty"`
	}
)

// NewSink constructs a pulse-backed publishing sink. Only the Client field
// of opts is required.
func NewSink(opts SinkOptions) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &Sink{
		client:   opts.Client,
		streamID: defaultStreamID,
		marshal:  defaultMarshal,
		logger:   telemetry.NewNoopLogger(),
	}
	if opts.StreamID != nil {
		s.streamID = opts.StreamID
	}
	if opts.Marshal != nil {
		s.marshal = opts.Marshal
	}
	if opts.Logger != nil {
		s.logger = opts.Logger
	}
	return s, nil
}

// Attach registers the sink on the bus and returns the subscription.
func (s *Sink) Attach(bus hooks.Bus) (hooks.Subscription, error) {
	return bus.Register(s)
}

// HandleEvent publishes the event to its stream. Always returns nil.
func (s *Sink) HandleEvent(ctx context.Context, event hooks.Event) error {
	if err := s.publish(ctx, event); err != nil {
		s.logger.Warn(ctx, "pulse publish failed",
			"event", string(event.Type()),
			"execution_id", event.ExecutionID(),
			"err", err)
	}
	return nil
}

func (s *Sink) publish(ctx context.Context, event hooks.Event) error {
	name, err := s.streamID(event)
	if err != nil {
		return err
	}
	str, err := s.client.Stream(name)
	if err != nil {
		return err
	}
	env := Envelope{
		Type:        string(event.Type()),
		ExecutionID: event.ExecutionID(),
		Timestamp:   event.Timestamp(),
		Payload:     payloadFor(event),
	}
	body, err := s.marshal(env)
	if err != nil {
		return err
	}
	_, err = str.Add(ctx, env.Type, body)
	return err
}

// Close releases the underlying client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// ExecutionStream names the pulse stream carrying events for one execution.
func ExecutionStream(executionID string) string {
	return fmt.Sprintf("execution/%s", executionID)
}

func defaultStreamID(event hooks.Event) (string, error) {
	if event.ExecutionID() == "" {
		return LifecycleStream, nil
	}
	return ExecutionStream(event.ExecutionID()), nil
}

func defaultMarshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// payloadFor flattens the event-specific fields into the wire shape. Errors
// are rendered as strings because error values do not serialize.
func payloadFor(event hooks.Event) any {
	switch e := event.(type) {
	case *hooks.TaskStartEvent:
		return map[string]any{
			"task_id":   e.TaskID,
			"node_id":   e.NodeID,
			"node_type": e.NodeType,
		}
	case *hooks.TaskCompleteEvent:
		return map[string]any{
			"task_id":    e.TaskID,
			"node_id":    e.NodeID,
			"result":     e.Result,
			"elapsed_ms": e.Elapsed.Milliseconds(),
		}
	case *hooks.TaskFailEvent:
		return map[string]any{
			"task_id": e.TaskID,
			"node_id": e.NodeID,
			"error":   errString(e.Err),
		}
	case *hooks.QueueUpdatedEvent:
		return e.Stats
	case *hooks.RollbackStartEvent:
		return map[string]any{"failed_node_id": e.FailedNodeID}
	case *hooks.RollbackCompleteEvent:
		return map[string]any{"rolled_back": e.RolledBack}
	case *hooks.ExecutionCompleteEvent:
		p := map[string]any{"state": e.State}
		if e.Err != nil {
			p["error"] = e.Err.Error()
		}
		return p
	case *hooks.ModuleStateEvent:
		return map[string]any{
			"module_id": e.ModuleID,
			"from":      e.From,
			"to":        e.To,
		}
	case *hooks.PluginInstalledEvent:
		return map[string]any{"url": e.URL, "dir": e.Dir}
	default:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
