// Package live defines the Transport interface for real-time duplex voice
// backends.
//
// A Transport opens a [Stream]: a long-lived bidirectional channel that
// accepts captured audio as [audio.TransportFrame] values and delivers typed
// [Event] values back: synthesized audio, transcript fragments for both
// speakers, turn boundaries and barge-in notifications. The Gemini Live API
// is the reference backend (see live/gemini).
//
// Inbound audio is delivered still encoded. Decoding belongs to the consumer
// so that a malformed frame can be dropped without ending the stream.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/wicara/pkg/audio"
)

// ErrClosed is returned by [Stream.Send] after the stream has ended.
var ErrClosed = errors.New("live: stream closed")

// TransportError reports a connection or stream failure. It is fatal to the
// stream it came from.
type TransportError struct {
	// Op names the failing step, e.g. "dial" or "read".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("live transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Channel identifies whose speech a transcript fragment belongs to.
type Channel int

const (
	// ChannelUser carries speech-to-text of the local speaker.
	ChannelUser Channel = iota

	// ChannelModel carries the text of the model's spoken reply.
	ChannelModel
)

// String returns the human-readable name of the channel.
func (c Channel) String() string {
	switch c {
	case ChannelUser:
		return "user"
	case ChannelModel:
		return "model"
	default:
		return "unknown"
	}
}

// EventKind classifies inbound [Event] values.
type EventKind int

const (
	// EventAudio carries one chunk of synthesized speech in Event.Audio.
	EventAudio EventKind = iota

	// EventTranscript carries a text fragment in Event.Text for Event.Channel.
	EventTranscript

	// EventTurnComplete marks the end of one conversational exchange.
	EventTurnComplete

	// EventInterrupted reports that the user started speaking over the model;
	// audio already delivered for the current reply should be discarded.
	EventInterrupted
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "AUDIO"
	case EventTranscript:
		return "TRANSCRIPT"
	case EventTurnComplete:
		return "TURN_COMPLETE"
	case EventInterrupted:
		return "INTERRUPTED"
	default:
		return "UNKNOWN"
	}
}

// Event is one inbound message from the remote endpoint.
type Event struct {
	Kind EventKind

	// Audio is set for EventAudio. Data is still base64.
	Audio audio.TransportFrame

	// Channel and Text are set for EventTranscript.
	Channel Channel
	Text    string
}

// SessionConfig is the initial configuration for a new stream.
type SessionConfig struct {
	// Voice names the prebuilt voice the model speaks with, e.g. "Puck".
	Voice string

	// Instructions is the system prompt that sets the model's persona.
	Instructions string

	// LanguageCode is the BCP-47 language the model should speak, e.g.
	// "id-ID". Empty lets the model choose.
	LanguageCode string

	// InputTranscription requests speech-to-text of the user's audio.
	InputTranscription bool

	// OutputTranscription requests text of the model's spoken reply.
	OutputTranscription bool
}

// Stream is an open duplex session. Callers must call Close when done.
type Stream interface {
	// Send delivers one captured frame to the remote endpoint. It may block
	// until the frame is written or ctx is done. Returns [ErrClosed] once the
	// stream has ended, or a [*TransportError] on write failure.
	Send(ctx context.Context, frame audio.TransportFrame) error

	// Events returns the inbound event channel, in arrival order. The channel is
	// closed when the stream ends for any reason; check [Stream.Err] afterwards.
	Events() <-chan Event

	// Err returns the [*TransportError] that ended the stream, or nil if it
	// ended normally or is still open.
	Err() error

	// Close terminates the stream and closes the Events channel. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Transport opens streams to a live backend.
type Transport interface {
	// Connect opens a stream and returns once the remote endpoint has accepted
	// the configuration. ctx bounds the connection attempt only.
	//
	// Returns a [*TransportError] if the stream cannot be established.
	Connect(ctx context.Context, cfg SessionConfig) (Stream, error)
}
