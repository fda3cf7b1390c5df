package pulse

import (
	"context"
	"errors"
	"sync"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/weftworks/weft/features/stream/pulse/clients/pulse"
)

// fakeClient hands out in-memory streams keyed by name.
type fakeClient struct {
	mu        sync.Mutex
	streams   map[string]*fakeStream
	streamErr error
	closed    bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{streams: make(map[string]*fakeStream)}
}

func (c *fakeClient) Stream(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.streams[name]
	if !ok {
		st = &fakeStream{name: name}
		c.streams[name] = st
	}
	return st, nil
}

func (c *fakeClient) Close(context.Context) error {
	c.closed = true
	return nil
}

// stream returns the named stream without creating it, nil when absent.
func (c *fakeClient) stream(name string) *fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[name]
}

type entry struct {
	event   string
	payload []byte
}

type fakeStream struct {
	name string

	mu      sync.Mutex
	entries []entry
	addErr  error
	sink    *fakeSink
}

func (s *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	if s.addErr != nil {
		return "", s.addErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{event: event, payload: payload})
	return "1-0", nil
}

func (s *fakeStream) NewSink(_ context.Context, _ string, _ ...streamopts.Sink) (clientspulse.Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == nil {
		s.sink = &fakeSink{ch: make(chan *streaming.Event, 16)}
	}
	return s.sink, nil
}

func (s *fakeStream) Destroy(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}

func (s *fakeStream) recorded() []entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entry(nil), s.entries...)
}

type fakeSink struct {
	ch chan *streaming.Event

	mu     sync.Mutex
	acked  []string
	closed bool
}

func (s *fakeSink) Subscribe() <-chan *streaming.Event { return s.ch }

func (s *fakeSink) Ack(_ context.Context, evt *streaming.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sink closed")
	}
	s.acked = append(s.acked, evt.ID)
	return nil
}

func (s *fakeSink) Close(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSink) ackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acked...)
}
