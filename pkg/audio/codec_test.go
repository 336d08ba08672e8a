package audio_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/wicara/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestBase64RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []string{
		"",
		"AA==",
		"AAE=",
		"AAEC",
		"U2FtcHVuIG51d3VuLg==",
	}
	for _, s := range tests {
		raw, err := audio.DecodeBase64(s)
		if err != nil {
			t.Fatalf("DecodeBase64(%q): %v", s, err)
		}
		if got := audio.EncodeBase64(raw); got != s {
			t.Errorf("EncodeBase64(DecodeBase64(%q)) = %q", s, got)
		}
	}
}

func TestDecodeBase64_Invalid(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"!!!!", "AAE", "A==="} {
		_, err := audio.DecodeBase64(s)
		var de *audio.DecodeError
		if !errors.As(err, &de) {
			t.Errorf("DecodeBase64(%q): want *DecodeError, got %v", s, err)
		}
	}
}

func TestFloatToPCM16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"half", 0.5, 16384},
		{"negative half", -0.5, -16384},
		{"full negative", -1, -32768},
		{"full positive clamps", 1, 32767},
		{"over range clamps", 1.7, 32767},
		{"under range clamps", -3, -32768},
		{"rounds up", 1.6 / 32768, 2},
		{"rounds down", 1.4 / 32768, 1},
		{"nan is silence", float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			frame, err := audio.FloatToPCM16(audio.SampleBuffer{
				Samples: []float32{tt.in},
				Format:  audio.InputFormat,
			})
			if err != nil {
				t.Fatalf("FloatToPCM16: %v", err)
			}
			got := bytesToSamples(frame.Data)
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("got %v, want [%d]", got, tt.want)
			}
		})
	}
}

func TestFloatToPCM16_InvalidFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		buf  audio.SampleBuffer
	}{
		{"zero format", audio.SampleBuffer{Samples: []float32{0}}},
		{"ragged stereo", audio.SampleBuffer{
			Samples: []float32{0, 0, 0},
			Format:  audio.Format{SampleRate: 16000, Channels: 2},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := audio.FloatToPCM16(tt.buf)
			var ee *audio.EncodeError
			if !errors.As(err, &ee) {
				t.Fatalf("want *EncodeError, got %v", err)
			}
		})
	}
}

func TestPCM16ToFloat(t *testing.T) {
	t.Parallel()

	pcm := audio.PcmFrame{
		Data:   samplesToBytes([]int16{0, 16384, -32768, 32767}),
		Format: audio.OutputFormat,
	}
	buf, err := audio.PCM16ToFloat(pcm, 1)
	if err != nil {
		t.Fatalf("PCM16ToFloat: %v", err)
	}
	want := []float32{0, 0.5, -1, 32767.0 / 32768.0}
	if len(buf.Samples) != len(want) {
		t.Fatalf("len = %d, want %d", len(buf.Samples), len(want))
	}
	for i := range want {
		if buf.Samples[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, buf.Samples[i], want[i])
		}
	}
	if buf.SampleRate != 24000 || buf.Channels != 1 {
		t.Errorf("format = %s, want 24000Hz/1ch", buf.Format)
	}
}

func TestPCM16ToFloat_Deinterleave(t *testing.T) {
	t.Parallel()

	pcm := audio.PcmFrame{
		Data:   samplesToBytes([]int16{100, -100, 200, -200}),
		Format: audio.Format{SampleRate: 24000, Channels: 2},
	}
	buf, err := audio.PCM16ToFloat(pcm, 2)
	if err != nil {
		t.Fatalf("PCM16ToFloat: %v", err)
	}
	planes := buf.Deinterleave()
	if len(planes) != 2 {
		t.Fatalf("planes = %d, want 2", len(planes))
	}
	if planes[0][0] != 100.0/32768 || planes[0][1] != 200.0/32768 {
		t.Errorf("left = %v", planes[0])
	}
	if planes[1][0] != -100.0/32768 || planes[1][1] != -200.0/32768 {
		t.Errorf("right = %v", planes[1])
	}
}

func TestPCM16ToFloat_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     []byte
		channels int
	}{
		{"odd byte count", []byte{1, 2, 3}, 1},
		{"partial stereo frame", []byte{1, 2, 3, 4, 5, 6}, 2},
		{"no channels", []byte{1, 2}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := audio.PCM16ToFloat(audio.PcmFrame{Data: tt.data, Format: audio.OutputFormat}, tt.channels)
			var de *audio.DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("want *DecodeError, got %v", err)
			}
		})
	}
}

func TestPCMRoundTrip_WithinQuantization(t *testing.T) {
	t.Parallel()

	in := make([]float32, 0, 2001)
	for i := -1000; i <= 1000; i++ {
		in = append(in, float32(i)/1000)
	}
	// Odd values that do not land on the grid.
	in = append(in, 0.123456, -0.987654, 0.00001, 1.0/3)

	pcm, err := audio.FloatToPCM16(audio.SampleBuffer{Samples: in, Format: audio.InputFormat})
	if err != nil {
		t.Fatalf("FloatToPCM16: %v", err)
	}
	out, err := audio.PCM16ToFloat(pcm, 1)
	if err != nil {
		t.Fatalf("PCM16ToFloat: %v", err)
	}

	const tolerance = 1.0 / 32768
	for i := range in {
		if d := math.Abs(float64(out.Samples[i] - in[i])); d > tolerance {
			t.Errorf("sample %d: in=%v out=%v diff=%v", i, in[i], out.Samples[i], d)
		}
	}
}

func TestEncodeTransport(t *testing.T) {
	t.Parallel()

	frame, err := audio.EncodeTransport(audio.SampleBuffer{
		Samples: []float32{0, 0.5},
		Format:  audio.InputFormat,
	})
	if err != nil {
		t.Fatalf("EncodeTransport: %v", err)
	}
	if frame.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q", frame.MIMEType)
	}
	raw, err := audio.DecodeBase64(frame.Data)
	if err != nil {
		t.Fatalf("DecodeBase64: %v", err)
	}
	if got := bytesToSamples(raw); got[0] != 0 || got[1] != 16384 {
		t.Errorf("payload = %v", got)
	}
}

func TestDecodeTransport_OddLength(t *testing.T) {
	t.Parallel()

	_, err := audio.DecodeTransport(audio.EncodeBase64([]byte{1, 2, 3}), audio.OutputFormat)
	var de *audio.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("want *DecodeError, got %v", err)
	}
}

func TestSampleBuffer_Duration(t *testing.T) {
	t.Parallel()

	buf := audio.SampleBuffer{Samples: make([]float32, 2400), Format: audio.OutputFormat}
	if got := buf.Duration(); got.Milliseconds() != 100 {
		t.Errorf("Duration = %v, want 100ms", got)
	}
	if got := audio.InputFormat.Duration(4096); got.Milliseconds() != 256 {
		t.Errorf("capture window = %v, want 256ms", got)
	}
}
