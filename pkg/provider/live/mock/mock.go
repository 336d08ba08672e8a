// Package mock provides test doubles for the live package interfaces.
//
// Use Transport to verify Connect calls and hand out controlled streams. Use
// Stream to inject inbound events and inspect the frames that were sent.
//
// Example:
//
//	st := mock.NewStream()
//	tr := &mock.Transport{Stream: st}
//	...
//	st.Emit(live.Event{Kind: live.EventTurnComplete})
//	st.Finish(nil) // normal close
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/wicara/pkg/audio"
	"github.com/MrWong99/wicara/pkg/provider/live"
)

// Compile-time interface assertions.
var (
	_ live.Transport = (*Transport)(nil)
	_ live.Stream    = (*Stream)(nil)
)

// ConnectCall records a single invocation of Transport.Connect.
type ConnectCall struct {
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Transport is a mock implementation of live.Transport.
type Transport struct {
	mu sync.Mutex

	// Stream is returned by Connect. If nil, Connect returns a new Stream.
	Stream *Stream

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectHook, if set, runs inside Connect before it returns. Tests use it
	// to observe or block the connecting phase.
	ConnectHook func(ctx context.Context)

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Stream, ConnectErr.
func (t *Transport) Connect(ctx context.Context, cfg live.SessionConfig) (live.Stream, error) {
	t.mu.Lock()
	t.ConnectCalls = append(t.ConnectCalls, ConnectCall{Cfg: cfg})
	hook := t.ConnectHook
	t.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ConnectErr != nil {
		return nil, t.ConnectErr
	}
	if t.Stream == nil {
		t.Stream = NewStream()
	}
	return t.Stream, nil
}

// Calls returns the number of Connect invocations.
func (t *Transport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ConnectCalls)
}

// Stream is a mock implementation of live.Stream.
type Stream struct {
	events chan live.Event

	mu    sync.Mutex
	ended bool
	err   error

	// SendErr, if non-nil, is returned from Send.
	SendErr error

	// Sent records every frame passed to Send, in order.
	Sent []audio.TransportFrame

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewStream returns a Stream with a buffered event channel.
func NewStream() *Stream {
	return &Stream{events: make(chan live.Event, 64)}
}

// Send implements live.Stream.
func (s *Stream) Send(_ context.Context, frame audio.TransportFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return live.ErrClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.Sent = append(s.Sent, frame)
	return nil
}

// Events implements live.Stream.
func (s *Stream) Events() <-chan live.Event { return s.events }

// Err implements live.Stream.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements live.Stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.Finish(nil)
	return nil
}

// Emit delivers ev as an inbound event. It is a no-op after the stream ended.
func (s *Stream) Emit(ev live.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
}

// Finish ends the stream, recording err (nil for a normal close) and closing
// the events channel. Subsequent calls are no-ops.
func (s *Stream) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.events)
}

// SentFrames returns a snapshot of Sent.
func (s *Stream) SentFrames() []audio.TransportFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.TransportFrame, len(s.Sent))
	copy(out, s.Sent)
	return out
}

// Closes returns CloseCallCount.
func (s *Stream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}
