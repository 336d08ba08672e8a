// Package speech reads finished texts aloud and exports synthesized speech as
// WAV files.
//
// A [Reader] synthesizes a text once with a [tts.Provider] and plays the
// result through the same gapless scheduler the live session uses, so a
// "stop reading" action is a plain scheduler flush.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/wicara/internal/observe"
	"github.com/MrWong99/wicara/internal/script"
	"github.com/MrWong99/wicara/pkg/audio"
	"github.com/MrWong99/wicara/pkg/audio/scheduler"
	"github.com/MrWong99/wicara/pkg/provider/tts"
)

var (
	// ErrBusy is returned by [Reader.Speak] while another utterance plays.
	ErrBusy = errors.New("speech: already speaking")

	// ErrNoAudio is returned by [Reader.Synthesize] when the provider answered
	// without any audio.
	ErrNoAudio = errors.New("speech: provider returned no audio")
)

// Option configures a [Reader].
type Option func(*Reader)

// WithInstruction replaces the function that turns a text into the input sent
// to the provider. Default: [script.SpeechPrompt], which suits instructable
// voices. Providers that read their input verbatim want [script.CleanForSpeech].
func WithInstruction(fn func(string) string) Option {
	return func(r *Reader) {
		r.instruct = fn
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Reader) {
		r.metrics = m
	}
}

// WithProviderName sets the provider label used on metrics. Default: "tts".
func WithProviderName(name string) Option {
	return func(r *Reader) {
		r.name = name
	}
}

// Reader synthesizes and plays speech. At most one utterance plays at a time.
type Reader struct {
	tts      tts.Provider
	devices  audio.Devices
	instruct func(string) string
	metrics  *observe.Metrics
	name     string

	mu     sync.Mutex
	active *playback
}

// playback is one Speak call in flight.
type playback struct {
	sched    *scheduler.Scheduler
	stop     chan struct{}
	stopOnce sync.Once
}

func (p *playback) halt() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// NewReader returns a Reader. devices may be nil when only synthesis and
// export are needed.
func NewReader(p tts.Provider, devices audio.Devices, opts ...Option) *Reader {
	r := &Reader{
		tts:      p,
		devices:  devices,
		instruct: script.SpeechPrompt,
		name:     "tts",
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Synthesize renders text as speech and returns base64 PCM16 at
// [audio.OutputFormat].
func (r *Reader) Synthesize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", tts.ErrEmptyText
	}
	ctx, span := observe.StartSpan(ctx, "speech.synthesize")
	defer span.End()

	start := time.Now()
	data, err := r.tts.Synthesize(ctx, r.instruct(text))
	r.metrics.RecordProviderCall(ctx, r.name, "tts", time.Since(start), err)
	if err != nil {
		observe.Fail(span, err)
		return "", fmt.Errorf("speech: synthesize: %w", err)
	}
	if data == "" {
		observe.Fail(span, ErrNoAudio)
		return "", ErrNoAudio
	}
	return data, nil
}

// Speak plays base64 PCM16 at [audio.OutputFormat] on the output device. It
// blocks until playback finishes, [Reader.Stop] is called, or ctx is done, and
// returns ctx's error only in the last case. An empty payload plays nothing.
func (r *Reader) Speak(ctx context.Context, data string) error {
	buf, err := audio.DecodeTransport(data, audio.OutputFormat)
	if err != nil {
		return err
	}
	if len(buf.Samples) == 0 {
		return nil
	}
	if r.devices == nil {
		return &audio.DeviceError{Op: "open speaker", Err: errors.New("no audio devices configured")}
	}

	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return ErrBusy
	}
	p := &playback{stop: make(chan struct{})}
	r.active = p
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.active = nil
		r.mu.Unlock()
	}()

	spk, err := r.devices.OpenSpeaker(ctx, audio.OutputFormat)
	if err != nil {
		var de *audio.DeviceError
		if errors.As(err, &de) {
			return err
		}
		return &audio.DeviceError{Op: "open speaker", Err: err}
	}

	idle := make(chan struct{})
	var idleOnce sync.Once
	sched := scheduler.New(spk,
		scheduler.WithIdleHook(func() {
			idleOnce.Do(func() { close(idle) })
		}),
		scheduler.WithScheduledHook(func(ahead time.Duration, underrun bool) {
			r.metrics.RecordScheduled(ctx, ahead, underrun)
		}),
		scheduler.WithFlushHook(func(reason scheduler.FlushReason, _ int) {
			r.metrics.RecordFlush(ctx, reason.String())
		}),
	)
	r.mu.Lock()
	p.sched = sched
	r.mu.Unlock()
	defer func() {
		if err := sched.Close(); err != nil {
			observe.Logger(ctx).Warn("speech: close speaker", "err", err)
		}
	}()

	if _, _, err := sched.Schedule(buf); err != nil {
		return err
	}
	observe.Logger(ctx).Debug("speech: playing", "duration", buf.Duration())

	select {
	case <-idle:
		return nil
	case <-p.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cuts the current utterance short. It reports whether anything was
// playing.
func (r *Reader) Stop() bool {
	r.mu.Lock()
	p := r.active
	var sched *scheduler.Scheduler
	if p != nil {
		sched = p.sched
	}
	r.mu.Unlock()
	if p == nil {
		return false
	}
	if sched != nil {
		sched.Flush(scheduler.LocalInterrupt)
	}
	p.halt()
	return true
}

// Speaking reports whether an utterance is playing.
func (r *Reader) Speaking() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}
