package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"

	"github.com/weftworks/weft/runtime/hooks"
)

func TestSubscribeEmitsDecodedEvents(t *testing.T) {
	client := newFakeClient()
	sub, err := NewSubscriber(SubscriberOptions{Client: client})
	require.NoError(t, err)

	events, errs, cancel, err := sub.SubscribeExecution(context.Background(), "exec-9")
	require.NoError(t, err)
	defer cancel()

	st := client.stream("execution/exec-9")
	require.NotNil(t, st)
	require.NotNil(t, st.sink)

	body, err := json.Marshal(Envelope{
		Type:        string(hooks.EventTaskStart),
		ExecutionID: "exec-9",
		Timestamp:   time.Now().UnixMilli(),
		Payload:     map[string]any{"node_id": "a", "node_type": "math.add"},
	})
	require.NoError(t, err)
	st.sink.ch <- &streaming.Event{ID: "1-0", Payload: body}
	close(st.sink.ch)

	evt := <-events
	remote, ok := evt.(*RemoteEvent)
	require.True(t, ok)
	assert.Equal(t, hooks.EventTaskStart, remote.Type())
	assert.Equal(t, "exec-9", remote.ExecutionID())
	assert.Positive(t, remote.Timestamp())

	payload := make(map[string]any)
	require.NoError(t, json.Unmarshal(remote.Payload(), &payload))
	assert.Equal(t, "a", payload["node_id"])

	require.Eventually(t, func() bool {
		ids := st.sink.ackedIDs()
		return len(ids) == 1 && ids[0] == "1-0"
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, errs)
}

func TestSubscribeDecoderError(t *testing.T) {
	client := newFakeClient()
	sub, err := NewSubscriber(SubscriberOptions{
		Client: client,
		Decoder: func([]byte) (hooks.Event, error) {
			return nil, errors.New("decode error")
		},
	})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(context.Background(), "execution/exec-1")
	require.NoError(t, err)
	defer cancel()

	st := client.stream("execution/exec-1")
	st.sink.ch <- &streaming.Event{Payload: []byte("{}")}
	close(st.sink.ch)

	require.Empty(t, events)
	require.EqualError(t, <-errs, "pulse decode payload: decode error")
}

func TestDecodeEnvelopeRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeEnvelope([]byte("not json"))
	require.Error(t, err)
}

func TestStreamsRoundTrip(t *testing.T) {
	client := newFakeClient()
	streams, err := NewStreams(StreamsOptions{Client: client})
	require.NoError(t, err)

	bus := hooks.NewBus()
	reg, err := streams.Attach(bus)
	require.NoError(t, err)
	defer reg.Close()

	require.NoError(t, bus.Publish(context.Background(), hooks.NewExecutionCompleteEvent("exec-5", "completed", nil)))

	entries := client.stream("execution/exec-5").recorded()
	require.Len(t, entries, 1)

	sub, err := streams.NewSubscriber(SubscriberOptions{})
	require.NoError(t, err)
	events, errs, cancel, err := sub.SubscribeExecution(context.Background(), "exec-5")
	require.NoError(t, err)
	defer cancel()

	st := client.stream("execution/exec-5")
	st.sink.ch <- &streaming.Event{ID: "1-0", Payload: entries[0].payload}
	close(st.sink.ch)

	evt := <-events
	assert.Equal(t, hooks.EventExecutionComplete, evt.Type())
	assert.Equal(t, "exec-5", evt.ExecutionID())
	require.Empty(t, errs)

	require.NoError(t, streams.Close(context.Background()))
	assert.True(t, client.closed)
}

func TestNewSubscriberRequiresClient(t *testing.T) {
	_, err := NewSubscriber(SubscriberOptions{})
	require.Error(t, err)
}
