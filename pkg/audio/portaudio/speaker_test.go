package portaudio

import (
	"testing"
	"time"

	"github.com/MrWong99/wicara/pkg/audio"
)

// newTestSpeaker builds a speaker without a PortAudio stream so the render
// callback can be driven directly.
func newTestSpeaker() *speaker {
	return &speaker{
		format: audio.OutputFormat,
		ended:  make(chan []func(), 8),
		done:   make(chan struct{}),
	}
}

func constBuffer(frames int, v float32) audio.SampleBuffer {
	s := make([]float32, frames)
	for i := range s {
		s[i] = v
	}
	return audio.SampleBuffer{Samples: s, Format: audio.OutputFormat}
}

func TestRender_BackToBackVoices(t *testing.T) {
	t.Parallel()

	s := newTestSpeaker()
	endedA, endedB := false, false

	// 600 frames of 0.25, then 600 frames of 0.5 starting exactly at frame 600.
	if _, err := s.Play(constBuffer(600, 0.25), 0, func() { endedA = true }); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Play(constBuffer(600, 0.5), audio.OutputFormat.Duration(600), func() { endedB = true }); err != nil {
		t.Fatal(err)
	}

	out := make([]float32, 512)
	s.render(out)
	for i, v := range out {
		if v != 0.25 {
			t.Fatalf("buffer 1 frame %d = %v, want 0.25", i, v)
		}
	}

	s.render(out)
	for i, v := range out {
		want := float32(0.25)
		if 512+i >= 600 {
			want = 0.5
		}
		if v != want {
			t.Fatalf("buffer 2 frame %d = %v, want %v", i, v, want)
		}
	}

	// First voice finished inside buffer 2.
	select {
	case fns := <-s.ended:
		runAll(fns)
	default:
		t.Fatal("no completion dispatched for first voice")
	}
	if !endedA || endedB {
		t.Fatalf("ended = (%v, %v), want (true, false)", endedA, endedB)
	}

	s.render(out)
	for i, v := range out {
		want := float32(0.5)
		if 1024+i >= 1200 {
			want = 0
		}
		if v != want {
			t.Fatalf("buffer 3 frame %d = %v, want %v", i, v, want)
		}
	}
	runAll(<-s.ended)
	if !endedB {
		t.Fatal("second voice not completed")
	}

	if got := s.Now(); got != audio.OutputFormat.Duration(1536) {
		t.Errorf("Now = %v, want %v", got, audio.OutputFormat.Duration(1536))
	}
}

func TestRender_StoppedVoiceIsSilent(t *testing.T) {
	t.Parallel()

	s := newTestSpeaker()
	called := false
	v, err := s.Play(constBuffer(256, 1), 0, func() { called = true })
	if err != nil {
		t.Fatal(err)
	}
	v.Stop()
	v.Stop()

	out := make([]float32, 512)
	s.render(out)
	for i, x := range out {
		if x != 0 {
			t.Fatalf("frame %d = %v, want silence", i, x)
		}
	}
	select {
	case <-s.ended:
		t.Fatal("stopped voice dispatched a completion")
	default:
	}
	if called {
		t.Fatal("ended callback ran for stopped voice")
	}
}

func TestPlay_PastStartBeginsNow(t *testing.T) {
	t.Parallel()

	s := newTestSpeaker()
	out := make([]float32, 512)
	s.render(out)
	s.render(out)

	if _, err := s.Play(constBuffer(10, 1), 0, nil); err != nil {
		t.Fatal(err)
	}
	if got := s.voices[0].start; got != 1024 {
		t.Errorf("start frame = %d, want 1024", got)
	}
	if s.Now() != 1024*time.Second/24000 {
		t.Errorf("Now = %v", s.Now())
	}
}
