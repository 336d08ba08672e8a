// Package scheduler plays decoded audio buffers back to back on an
// [audio.Speaker] with no gap and no overlap, and supports cancelling every
// buffer that has not finished playing.
//
// Each buffer is placed at max(nextStart, now) on the speaker clock and the
// cursor advances by the buffer's duration. Buffers arriving faster than real
// time queue up seamlessly; buffers arriving late start immediately instead of
// in the past.
//
// Scheduled buffers live in an index-addressed handle table owned by the
// [Scheduler]. A flush invalidates every live entry at once; a stale [Handle]
// can never cancel a newer buffer that reused its slot.
package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/wicara/pkg/audio"
)

// ErrClosed is returned by [Scheduler.Schedule] after [Scheduler.Close].
var ErrClosed = errors.New("scheduler: closed")

// FlushReason identifies why pending playback was discarded.
type FlushReason int

const (
	// ServerInterrupt indicates the remote model reported that the user began
	// speaking over its reply.
	ServerInterrupt FlushReason = iota

	// LocalInterrupt indicates the local caller cut playback short, e.g. a
	// "stop reading" action.
	LocalInterrupt

	// SessionStop indicates the owning session is tearing down.
	SessionStop
)

// String returns the human-readable name of the flush reason.
func (r FlushReason) String() string {
	switch r {
	case ServerInterrupt:
		return "SERVER_INTERRUPT"
	case LocalInterrupt:
		return "LOCAL_INTERRUPT"
	case SessionStop:
		return "SESSION_STOP"
	default:
		return "UNKNOWN"
	}
}

// Handle refers to one scheduled buffer. The zero Handle never refers to a
// live buffer.
type Handle struct {
	index uint32
	gen   uint32
}

// slot is one entry of the handle table. gen is bumped every time the slot is
// released, which invalidates outstanding handles to it.
type slot struct {
	gen   uint32
	live  bool
	voice audio.Voice
}

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithScheduledHook registers fn to run after each successful schedule. ahead
// is how much audio is queued in front of the playback clock once the buffer
// is placed; underrun reports that the cursor had fallen behind the clock.
func WithScheduledHook(fn func(ahead time.Duration, underrun bool)) Option {
	return func(s *Scheduler) {
		s.onScheduled = fn
	}
}

// WithFlushHook registers fn to run after each flush with the number of
// buffers that were discarded.
func WithFlushHook(fn func(reason FlushReason, dropped int)) Option {
	return func(s *Scheduler) {
		s.onFlush = fn
	}
}

// WithIdleHook registers fn to run whenever the last pending buffer plays to
// completion. It runs on the speaker's completion goroutine.
func WithIdleHook(fn func()) Option {
	return func(s *Scheduler) {
		s.onIdle = fn
	}
}

// Scheduler owns a [audio.Speaker] for its lifetime and schedules buffers on
// it gaplessly.
//
// All exported methods are safe for concurrent use, but buffers are placed in
// the order Schedule calls acquire the internal lock; callers that need
// arrival order must schedule from a single goroutine.
type Scheduler struct {
	speaker audio.Speaker

	onScheduled func(time.Duration, bool)
	onFlush     func(FlushReason, int)
	onIdle      func()

	mu        sync.Mutex
	nextStart time.Duration
	slots     []slot
	free      []uint32
	pending   int
	closed    bool
}

// New creates a Scheduler that takes ownership of speaker. The cursor starts
// at the speaker's current time.
func New(speaker audio.Speaker, opts ...Option) *Scheduler {
	s := &Scheduler{
		speaker:   speaker,
		nextStart: speaker.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule places buf at max(nextStart, now) and advances the cursor by its
// duration. It returns the handle of the buffer and its start time.
func (s *Scheduler) Schedule(buf audio.SampleBuffer) (Handle, time.Duration, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Handle{}, 0, ErrClosed
	}

	now := s.speaker.Now()
	underrun := s.nextStart < now
	start := max(s.nextStart, now)
	s.nextStart = start + buf.Duration()
	ahead := s.nextStart - now
	h := s.acquireLocked()
	s.mu.Unlock()

	voice, err := s.speaker.Play(buf, start, func() { s.complete(h) })
	if err != nil {
		s.mu.Lock()
		s.releaseLocked(h)
		s.mu.Unlock()
		return Handle{}, 0, &audio.DeviceError{Op: "play", Err: err}
	}

	s.mu.Lock()
	if s.validLocked(h) {
		s.slots[h.index].voice = voice
		voice = nil
	}
	s.mu.Unlock()

	// The handle was flushed, or completed, while Play was running.
	if voice != nil {
		voice.Stop()
	}

	if s.onScheduled != nil {
		s.onScheduled(ahead, underrun)
	}
	return h, start, nil
}

// Flush stops every pending buffer, empties the handle table and moves the
// cursor to the current clock time. Discarded audio never resumes. It returns
// the number of buffers that were stopped.
func (s *Scheduler) Flush(reason FlushReason) int {
	s.mu.Lock()
	voices, n := s.flushLocked()
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	if s.onFlush != nil {
		s.onFlush(reason, n)
	}
	return n
}

// Close flushes pending playback and releases the speaker. It is idempotent;
// subsequent calls are no-ops and return nil.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	voices, n := s.flushLocked()
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	if s.onFlush != nil {
		s.onFlush(SessionStop, n)
	}
	return s.speaker.Close()
}

// Pending returns the number of scheduled buffers that have neither completed
// nor been flushed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// NextStart returns the cursor: the earliest time the next buffer may start.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Live reports whether h still refers to a pending buffer.
func (s *Scheduler) Live(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validLocked(h)
}

// complete is the speaker's natural-completion callback for h.
func (s *Scheduler) complete(h Handle) {
	s.mu.Lock()
	released := s.releaseLocked(h)
	idle := released && s.pending == 0
	s.mu.Unlock()

	if idle && s.onIdle != nil {
		s.onIdle()
	}
}

// acquireLocked takes a free slot, growing the table when none is left.
// Must be called with s.mu held.
func (s *Scheduler) acquireLocked() Handle {
	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		s.slots = append(s.slots, slot{gen: 1})
		idx = uint32(len(s.slots) - 1)
	}
	s.slots[idx].live = true
	s.pending++
	return Handle{index: idx, gen: s.slots[idx].gen}
}

// releaseLocked frees the slot h refers to. It reports false for a stale
// handle. Must be called with s.mu held.
func (s *Scheduler) releaseLocked(h Handle) bool {
	if !s.validLocked(h) {
		return false
	}
	sl := &s.slots[h.index]
	sl.live = false
	sl.voice = nil
	sl.gen++
	s.free = append(s.free, h.index)
	s.pending--
	return true
}

// flushLocked invalidates every live slot and returns their voices along with
// the number of slots released. Must be called with s.mu held.
func (s *Scheduler) flushLocked() ([]audio.Voice, int) {
	var voices []audio.Voice
	n := s.pending
	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.live {
			continue
		}
		if sl.voice != nil {
			voices = append(voices, sl.voice)
		}
		sl.live = false
		sl.voice = nil
		sl.gen++
		s.free = append(s.free, uint32(i))
	}
	s.pending = 0
	s.nextStart = s.speaker.Now()
	return voices, n
}

func (s *Scheduler) validLocked(h Handle) bool {
	return h.gen != 0 && int(h.index) < len(s.slots) &&
		s.slots[h.index].live && s.slots[h.index].gen == h.gen
}
