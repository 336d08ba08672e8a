package scheduler_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/wicara/pkg/audio"
	"github.com/MrWong99/wicara/pkg/audio/mock"
	"github.com/MrWong99/wicara/pkg/audio/scheduler"
)

// makeBuffer returns a silent 24 kHz mono buffer lasting d.
func makeBuffer(d time.Duration) audio.SampleBuffer {
	n := int(d * time.Duration(audio.OutputFormat.SampleRate) / time.Second)
	return audio.SampleBuffer{Samples: make([]float32, n), Format: audio.OutputFormat}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestSchedule_BackToBack(t *testing.T) {
	t.Parallel()

	spk := mock.NewSpeaker()
	s := scheduler.New(spk)

	arrivals := []struct {
		at  time.Duration
		dur time.Duration
	}{
		{0, ms(100)},
		{ms(5), ms(200)},
		{ms(10), ms(150)},
	}
	want := []time.Duration{0, ms(100), ms(300)}

	for i, a := range arrivals {
		spk.Clock.Set(a.at)
		_, start, err := s.Schedule(makeBuffer(a.dur))
		if err != nil {
			t.Fatalf("Schedule %d: %v", i, err)
		}
		if start != want[i] {
			t.Errorf("buffer %d start = %v, want %v", i, start, want[i])
		}
	}

	if got := s.NextStart(); got != ms(450) {
		t.Errorf("NextStart = %v, want 450ms", got)
	}
	if got := s.Pending(); got != 3 {
		t.Errorf("Pending = %d, want 3", got)
	}
	for i, c := range spk.Calls() {
		if c.At != want[i] {
			t.Errorf("Play %d at = %v, want %v", i, c.At, want[i])
		}
	}
}

func TestSchedule_LateArrivalStartsNow(t *testing.T) {
	t.Parallel()

	spk := mock.NewSpeaker()
	s := scheduler.New(spk)

	if _, _, err := s.Schedule(makeBuffer(ms(100))); err != nil {
		t.Fatal(err)
	}
	spk.Advance(ms(250))

	_, start, err := s.Schedule(makeBuffer(ms(50)))
	if err != nil {
		t.Fatal(err)
	}
	if start != ms(250) {
		t.Errorf("start = %v, want 250ms (never in the past)", start)
	}
}

func TestSchedule_UnderrunHook(t *testing.T) {
	t.Parallel()

	spk := mock.NewSpeaker()
	var (
		underruns []bool
		aheads    []time.Duration
	)
	s := scheduler.New(spk, scheduler.WithScheduledHook(func(ahead time.Duration, u bool) {
		aheads = append(aheads, ahead)
		underruns = append(underruns, u)
	}))

	_, _, _ = s.Schedule(makeBuffer(ms(100)))
	_, _, _ = s.Schedule(makeBuffer(ms(100)))
	spk.Advance(ms(500))
	_, _, _ = s.Schedule(makeBuffer(ms(100)))

	wantUnderrun := []bool{false, false, true}
	wantAhead := []time.Duration{ms(100), ms(200), ms(100)}
	for i := range wantUnderrun {
		if underruns[i] != wantUnderrun[i] {
			t.Errorf("schedule %d underrun = %v, want %v", i, underruns[i], wantUnderrun[i])
		}
		if aheads[i] != wantAhead[i] {
			t.Errorf("schedule %d ahead = %v, want %v", i, aheads[i], wantAhead[i])
		}
	}
}

func TestFlush_Interruption(t *testing.T) {
	t.Parallel()

	spk := mock.NewSpeaker()
	var (
		flushReason  scheduler.FlushReason
		flushDropped int
	)
	s := scheduler.New(spk, scheduler.WithFlushHook(func(r scheduler.FlushReason, n int) {
		flushReason, flushDropped = r, n
	}))

	handles := make([]scheduler.Handle, 0, 3)
	for _, d := range []time.Duration{ms(100), ms(200), ms(150)} {
		h, _, err := s.Schedule(makeBuffer(d))
		if err != nil {
			t.Fatal(err)
		}
		handles = append(handles, h)
	}

	spk.Advance(ms(50))
	if n := s.Flush(scheduler.ServerInterrupt); n != 3 {
		t.Errorf("Flush = %d, want 3", n)
	}

	for i, c := range spk.Calls() {
		if !c.Voice.Stopped() {
			t.Errorf("voice %d not stopped", i)
		}
	}
	for i, h := range handles {
		if s.Live(h) {
			t.Errorf("handle %d still live after flush", i)
		}
	}
	if s.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", s.Pending())
	}
	if flushReason != scheduler.ServerInterrupt || flushDropped != 3 {
		t.Errorf("flush hook = (%v, %d), want (SERVER_INTERRUPT, 3)", flushReason, flushDropped)
	}

	_, start, err := s.Schedule(makeBuffer(ms(80)))
	if err != nil {
		t.Fatal(err)
	}
	if start != ms(50) {
		t.Errorf("post-interrupt start = %v, want 50ms", start)
	}

	// Stopped voices never complete.
	spk.Advance(time.Second)
	for i, c := range spk.Calls()[:3] {
		if c.Voice.Done() {
			t.Errorf("flushed voice %d completed", i)
		}
	}
}

func TestNaturalCompletion(t *testing.T) {
	t.Parallel()

	spk := mock.NewSpeaker()
	idle := 0
	s := scheduler.New(spk, scheduler.WithIdleHook(func() { idle++ }))

	h1, _, _ := s.Schedule(makeBuffer(ms(100)))
	h2, _, _ := s.Schedule(makeBuffer(ms(100)))

	spk.Advance(ms(100))
	if s.Live(h1) {
		t.Error("first handle still live after completion")
	}
	if !s.Live(h2) {
		t.Error("second handle released early")
	}
	if idle != 0 {
		t.Errorf("idle hook fired with audio pending")
	}

	spk.Advance(ms(100))
	if s.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", s.Pending())
	}
	if idle != 1 {
		t.Errorf("idle hook fired %d times, want 1", idle)
	}
}

func TestStaleHandleAfterReuse(t *testing.T) {
	t.Parallel()

	spk := mock.NewSpeaker()
	s := scheduler.New(spk)

	old, _, _ := s.Schedule(makeBuffer(ms(100)))
	s.Flush(scheduler.LocalInterrupt)

	fresh, _, _ := s.Schedule(makeBuffer(ms(100)))
	if s.Live(old) {
		t.Error("stale handle reports live after its slot was reused")
	}
	if !s.Live(fresh) {
		t.Error("fresh handle not live")
	}
	if s.Live(scheduler.Handle{}) {
		t.Error("zero handle reports live")
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	spk := mock.NewSpeaker()
	s := scheduler.New(spk)
	_, _, _ = s.Schedule(makeBuffer(ms(100)))

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if spk.CallCountClose != 1 {
		t.Errorf("speaker closed %d times, want 1", spk.CallCountClose)
	}
	if !spk.Calls()[0].Voice.Stopped() {
		t.Error("pending voice not stopped on Close")
	}
	if _, _, err := s.Schedule(makeBuffer(ms(10))); !errors.Is(err, scheduler.ErrClosed) {
		t.Errorf("Schedule after Close = %v, want ErrClosed", err)
	}
}

func TestSchedule_PlayError(t *testing.T) {
	t.Parallel()

	spk := mock.NewSpeaker()
	spk.PlayError = errors.New("device gone")
	s := scheduler.New(spk)

	_, _, err := s.Schedule(makeBuffer(ms(100)))
	var de *audio.DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("want *DeviceError, got %v", err)
	}
	if s.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", s.Pending())
	}
}

func TestFlushReason_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		r    scheduler.FlushReason
		want string
	}{
		{scheduler.ServerInterrupt, "SERVER_INTERRUPT"},
		{scheduler.LocalInterrupt, "LOCAL_INTERRUPT"},
		{scheduler.SessionStop, "SESSION_STOP"},
		{scheduler.FlushReason(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.r.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.r), got, tt.want)
		}
	}
}
