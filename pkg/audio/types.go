package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// The two fixed profiles used by wicara. Capture is 16 kHz mono because that is
// what the live model accepts; synthesized speech arrives as 24 kHz mono.
var (
	InputFormat  = Format{SampleRate: 16000, Channels: 1}
	OutputFormat = Format{SampleRate: 24000, Channels: 1}
)

// MIMEType returns the transport tag for raw PCM16 in this format, e.g.
// "audio/pcm;rate=16000".
func (f Format) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// Valid reports whether both the sample rate and channel count are positive.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Duration returns the playback length of frames sample frames (one sample per
// channel) in this format.
func (f Format) Duration(frames int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// SampleBuffer is an ordered sequence of normalized samples in [-1.0, 1.0].
// Multi-channel buffers are interleaved; use [SampleBuffer.Deinterleave] to
// split them per channel.
type SampleBuffer struct {
	Samples []float32
	Format
}

// Frames returns the number of sample frames (samples per channel).
func (b SampleBuffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b SampleBuffer) Duration() time.Duration {
	return b.Format.Duration(b.Frames())
}

// Deinterleave splits the buffer into one slice per channel. Mono buffers
// return a single plane that aliases Samples.
func (b SampleBuffer) Deinterleave() [][]float32 {
	if b.Channels <= 1 {
		return [][]float32{b.Samples}
	}
	n := b.Frames()
	planes := make([][]float32, b.Channels)
	for c := range planes {
		planes[c] = make([]float32, n)
		for i := 0; i < n; i++ {
			planes[c][i] = b.Samples[i*b.Channels+c]
		}
	}
	return planes
}

// PcmFrame is raw signed 16-bit little-endian PCM. Its length is always a
// multiple of 2*Channels.
type PcmFrame struct {
	Data []byte
	Format
}

// Duration returns the playback length of the frame.
func (f PcmFrame) Duration() time.Duration {
	if f.Channels <= 0 {
		return 0
	}
	return f.Format.Duration(len(f.Data) / (2 * f.Channels))
}

// TransportFrame is the unit sent to the live model: base64 PCM plus a MIME
// tag identifying the format.
type TransportFrame struct {
	// Data is standard base64 of a [PcmFrame]'s bytes.
	Data string

	// MIMEType identifies the encoding, e.g. "audio/pcm;rate=16000".
	MIMEType string
}
