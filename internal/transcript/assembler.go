// Package transcript reconstructs complete conversation turns from the
// streamed partial text a live voice session delivers.
//
// The live backend sends speech-to-text for the user and the text of the
// model's spoken reply as small fragments, interleaved with each other and
// with audio. An [Assembler] keeps one accumulator per speaker, appending
// fragments verbatim in arrival order, and only turns them into a [Turn] when
// the backend signals that the exchange is complete. No partial text is ever
// exposed as a Turn.
package transcript

import (
	"strings"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	// SpeakerUser is the local person practising.
	SpeakerUser Speaker = "user"

	// SpeakerModel is the remote voice model.
	SpeakerModel Speaker = "model"
)

// Turn is one finalized utterance. Turns are immutable once created.
type Turn struct {
	Speaker Speaker
	Text    string
}

// Assembler accumulates fragments for the user and model channels.
//
// An Assembler is not safe for concurrent use; it is owned by the session's
// event loop.
type Assembler struct {
	user  strings.Builder
	model strings.Builder
}

// Append adds fragment verbatim to the accumulator of speaker. Fragments for
// an unknown speaker are ignored.
func (a *Assembler) Append(speaker Speaker, fragment string) {
	switch speaker {
	case SpeakerUser:
		a.user.WriteString(fragment)
	case SpeakerModel:
		a.model.WriteString(fragment)
	}
}

// Complete finalizes the current exchange. Each accumulator is trimmed and,
// if non-empty, emitted as a Turn, the user turn always before the model
// turn. Both accumulators are then reset. A completion with nothing
// accumulated returns nil.
func (a *Assembler) Complete() []Turn {
	var turns []Turn
	if text := strings.TrimSpace(a.user.String()); text != "" {
		turns = append(turns, Turn{Speaker: SpeakerUser, Text: text})
	}
	if text := strings.TrimSpace(a.model.String()); text != "" {
		turns = append(turns, Turn{Speaker: SpeakerModel, Text: text})
	}
	a.Reset()
	return turns
}

// Pending returns the untrimmed text accumulated so far for speaker.
func (a *Assembler) Pending(speaker Speaker) string {
	switch speaker {
	case SpeakerUser:
		return a.user.String()
	case SpeakerModel:
		return a.model.String()
	}
	return ""
}

// Reset discards both accumulators.
func (a *Assembler) Reset() {
	a.user.Reset()
	a.model.Reset()
}

// Format renders turns one per line as "speaker: text", the layout used when
// a practice transcript is saved or printed.
func Format(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Speaker))
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	return b.String()
}
