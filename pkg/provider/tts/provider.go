// Package tts defines the Provider interface for one-shot text-to-speech
// backends.
//
// A provider turns a finished text into a single utterance of speech. The
// result is base64-encoded signed 16-bit little-endian mono PCM at
// [audio.OutputFormat] (24 kHz), ready for [audio.DecodeTransport] or for
// wrapping into a WAV file. The live conversation does not use this package.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/wicara/pkg/audio"
)

// ErrEmptyText is returned by providers when asked to synthesize blank text.
var ErrEmptyText = errors.New("tts: empty text")

// Format is the PCM layout every provider must return.
var Format = audio.OutputFormat

// Provider is the abstraction over any speech-synthesis backend.
type Provider interface {
	// Synthesize renders text as speech and returns base64 PCM16 at [Format].
	// It returns "" and a nil error when the backend answered without audio;
	// callers treat that as "nothing to play".
	Synthesize(ctx context.Context, text string) (string, error)
}
