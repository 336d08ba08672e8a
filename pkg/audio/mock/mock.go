// Package mock provides in-memory mock implementations of the [audio.Devices],
// [audio.Microphone], and [audio.Speaker] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// The [Speaker] runs on a manual [Clock]: time only moves when the test calls
// [Clock.Advance] (or [Speaker.Advance]), which also completes every voice
// whose scheduled end has been reached.
//
// Typical usage:
//
//	spk := mock.NewSpeaker()
//	mic := &mock.Microphone{}
//	devices := &mock.Devices{MicrophoneResult: mic, SpeakerResult: spk}
//	...
//	mic.Emit(audio.SampleBuffer{Samples: make([]float32, 4096), Format: audio.InputFormat})
//	spk.Advance(100 * time.Millisecond)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/wicara/pkg/audio"
)

// ─── Clock ────────────────────────────────────────────────────────────────────

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Duration
}

// Now returns the current clock reading.
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. Moving backwards is ignored.
func (c *Clock) Set(t time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.now {
		c.now = t
	}
}

// Advance moves the clock forward by d and returns the new reading.
func (c *Clock) Advance(d time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
	return c.now
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone]. Captured audio is
// simulated with [Microphone.Emit].
type Microphone struct {
	mu  sync.Mutex
	tap func(audio.SampleBuffer)

	// TapHook, when set, runs at the start of Tap before any lock is taken.
	TapHook func()

	// TapError is returned by Tap.
	TapError error

	// CloseError is returned by Close.
	CloseError error

	// CallCountTap records how many times Tap was called.
	CallCountTap int

	// CallCountUntap records how many times an untap function removed a tap.
	CallCountUntap int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Ops records "tap", "untap" and "close" in call order.
	Ops []string
}

// Tap implements [audio.Microphone].
func (m *Microphone) Tap(fn func(audio.SampleBuffer)) (func(), error) {
	if m.TapHook != nil {
		m.TapHook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountTap++
	m.Ops = append(m.Ops, "tap")
	if m.TapError != nil {
		return nil, m.TapError
	}
	m.tap = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.tap = nil
			m.CallCountUntap++
			m.Ops = append(m.Ops, "untap")
		})
	}, nil
}

// Close implements [audio.Microphone]. It removes any tap and records the call.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountClose++
	m.tap = nil
	m.Ops = append(m.Ops, "close")
	return m.CloseError
}

// Emit delivers buf to the active tap, as the capture thread would. It reports
// whether a tap received it.
func (m *Microphone) Emit(buf audio.SampleBuffer) bool {
	m.mu.Lock()
	fn := m.tap
	m.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(buf)
	return true
}

// Tapped reports whether a tap is currently registered.
func (m *Microphone) Tapped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tap != nil
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// PlayCall records a single [Speaker.Play] invocation.
type PlayCall struct {
	// Buffer is the buffer passed to Play.
	Buffer audio.SampleBuffer

	// At is the requested start time.
	At time.Duration

	// Voice is the voice returned for this call.
	Voice *Voice
}

// Voice is a mock [audio.Voice] scheduled on a [Speaker].
type Voice struct {
	mu      sync.Mutex
	start   time.Duration
	end     time.Duration
	ended   func()
	stopped bool
	done    bool
}

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
}

// Stopped reports whether Stop was called before the voice completed.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// Done reports whether the voice played to completion.
func (v *Voice) Done() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.done
}

// Start returns the effective start time on the speaker clock.
func (v *Voice) Start() time.Duration { return v.start }

// End returns the time at which the voice completes.
func (v *Voice) End() time.Duration { return v.end }

// Speaker is a mock implementation of [audio.Speaker] driven by a manual [Clock].
type Speaker struct {
	// Clock is the speaker's time source. NewSpeaker allocates one.
	Clock *Clock

	mu sync.Mutex

	// PlayError is returned by Play.
	PlayError error

	// CloseError is returned by Close.
	CloseError error

	// PlayCalls records every Play invocation in order.
	PlayCalls []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewSpeaker returns a Speaker with its own clock at zero.
func NewSpeaker() *Speaker {
	return &Speaker{Clock: &Clock{}}
}

// Now implements [audio.Speaker].
func (s *Speaker) Now() time.Duration { return s.Clock.Now() }

// Play implements [audio.Speaker]. The voice starts at max(at, Now()).
func (s *Speaker) Play(buf audio.SampleBuffer, at time.Duration, ended func()) (audio.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PlayError != nil {
		return nil, s.PlayError
	}
	start := max(at, s.Clock.Now())
	v := &Voice{start: start, end: start + buf.Duration(), ended: ended}
	s.PlayCalls = append(s.PlayCalls, PlayCall{Buffer: buf, At: at, Voice: v})
	return v, nil
}

// Close implements [audio.Speaker]. Every voice is stopped.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	for _, c := range s.PlayCalls {
		c.Voice.Stop()
	}
	return s.CloseError
}

// Calls returns a snapshot of PlayCalls.
func (s *Speaker) Calls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayCall, len(s.PlayCalls))
	copy(out, s.PlayCalls)
	return out
}

// Advance moves the clock forward by d and completes, in start order, every
// voice whose end has been reached and that was not stopped. Ended callbacks
// run synchronously on the caller's goroutine.
func (s *Speaker) Advance(d time.Duration) {
	now := s.Clock.Advance(d)

	var fire []func()
	for _, c := range s.Calls() {
		v := c.Voice
		v.mu.Lock()
		if !v.stopped && !v.done && v.end <= now {
			v.done = true
			if v.ended != nil {
				fire = append(fire, v.ended)
			}
		}
		v.mu.Unlock()
	}
	for _, fn := range fire {
		fn()
	}
}

// ─── Devices ──────────────────────────────────────────────────────────────────

// OpenMicrophoneCall records a single OpenMicrophone invocation.
type OpenMicrophoneCall struct {
	Format audio.Format
	Window int
}

// Devices is a mock implementation of [audio.Devices].
type Devices struct {
	mu sync.Mutex

	// MicrophoneResult is returned by OpenMicrophone.
	MicrophoneResult audio.Microphone

	// MicrophoneError is returned by OpenMicrophone.
	MicrophoneError error

	// SpeakerResult is returned by OpenSpeaker.
	SpeakerResult audio.Speaker

	// SpeakerError is returned by OpenSpeaker.
	SpeakerError error

	// MicrophoneCalls records all OpenMicrophone invocations.
	MicrophoneCalls []OpenMicrophoneCall

	// SpeakerCalls records the format of every OpenSpeaker invocation.
	SpeakerCalls []audio.Format
}

// OpenMicrophone implements [audio.Devices].
func (d *Devices) OpenMicrophone(_ context.Context, f audio.Format, window int) (audio.Microphone, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.MicrophoneCalls = append(d.MicrophoneCalls, OpenMicrophoneCall{Format: f, Window: window})
	if d.MicrophoneError != nil {
		return nil, d.MicrophoneError
	}
	return d.MicrophoneResult, nil
}

// OpenSpeaker implements [audio.Devices].
func (d *Devices) OpenSpeaker(_ context.Context, f audio.Format) (audio.Speaker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SpeakerCalls = append(d.SpeakerCalls, f)
	if d.SpeakerError != nil {
		return nil, d.SpeakerError
	}
	return d.SpeakerResult, nil
}

// Compile-time interface assertions.
var (
	_ audio.Devices    = (*Devices)(nil)
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Speaker    = (*Speaker)(nil)
	_ audio.Voice      = (*Voice)(nil)
)
