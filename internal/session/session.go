// Package session runs one live voice-practice conversation: microphone
// capture streamed to a remote voice model, the model's speech played back
// gaplessly, and both sides transcribed into turns.
//
// A [Session] is an explicit state machine:
//
//	Idle ──Start──▶ Connecting ──stream open──▶ Active
//	                    │                          │
//	                    ├─device/connect error─▶ Error ◀─transport error─┤
//	                    │                          │
//	any ──Stop──▶ Closed ◀─────────normal close────┘
//
// Closed and Error are terminal for the current run; calling Start again opens
// a fresh one. There is no automatic retry.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/wicara/internal/observe"
	"github.com/MrWong99/wicara/internal/transcript"
	"github.com/MrWong99/wicara/pkg/audio"
	"github.com/MrWong99/wicara/pkg/audio/scheduler"
	"github.com/MrWong99/wicara/pkg/provider/live"
)

// Defaults applied by [New] when the corresponding [Config] field is zero.
const (
	DefaultWindow    = 4096
	DefaultSendQueue = 8
)

var (
	// ErrAlreadyStarted is returned by [Session.Start] while a run is
	// connecting or active.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrClosed is returned by [Session.Start] when [Session.Stop] was called
	// before the run became active.
	ErrClosed = errors.New("session: stopped")
)

// State is the lifecycle state of a [Session].
type State int

const (
	Idle State = iota
	Connecting
	Active
	Error
	Closed
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Error:
		return "error"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds the collaborators and tunables of a [Session].
type Config struct {
	// Devices opens the microphone and the speaker. Required.
	Devices audio.Devices

	// Transport connects to the remote voice model. Required.
	Transport live.Transport

	// Live is passed to Transport.Connect on every Start.
	Live live.SessionConfig

	// Window is the capture window in frames. Default: [DefaultWindow].
	Window int

	// SendQueue is how many encoded frames may wait for the network before
	// capture starts dropping. Default: [DefaultSendQueue].
	SendQueue int

	// Metrics receives session telemetry. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// OnTurn is called for every finalized transcript turn, in order, from the
	// session's event goroutine. May be nil.
	OnTurn func(transcript.Turn)

	// OnStatus is called after every state change. err is set when entering
	// [Error]. May be called from different goroutines. May be nil.
	OnStatus func(State, error)
}

// Session is a restartable live voice session. All exported methods are safe
// for concurrent use.
type Session struct {
	cfg Config

	mu    sync.Mutex
	state State
	err   error
	id    string
	run   *run
	turns []transcript.Turn
}

// New returns an idle Session.
func New(cfg Config) (*Session, error) {
	if cfg.Devices == nil {
		return nil, errors.New("session: devices are required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultSendQueue
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Session{cfg: cfg}, nil
}

// ── Accessors ─────────────────────────────────────────────────────────────────

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session into [Error], or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ID returns the identifier of the current or most recent run.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Turns returns a copy of the turns finalized during the current or most
// recent run, in completion order.
func (s *Session) Turns() []transcript.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transcript.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Start acquires the microphone and speaker, connects the transport, and
// begins streaming. It blocks until the session is [Active] or has failed.
//
// On failure every resource acquired so far is released, the session moves to
// [Error], and the cause is returned: an [*audio.DeviceError] for device
// problems or a [*live.TransportError] for connection problems. ctx bounds the
// connecting phase only; use [Session.Stop] to end an active session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Connecting || s.state == Active {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{ctx: runCtx, cancel: cancel}
	s.run = r
	s.id = uuid.NewString()
	s.err = nil
	s.turns = nil
	r.log = slog.With("session_id", s.id)
	from := s.setStateLocked(Connecting, nil)
	s.mu.Unlock()
	s.notify(from, Connecting, nil)

	// Stop cancels runCtx, which also aborts a Connect in flight.
	connCtx, stopConnect := context.WithCancel(ctx)
	defer stopConnect()
	unlink := context.AfterFunc(runCtx, stopConnect)
	defer unlink()

	r.log.Info("session: starting", "voice", s.cfg.Live.Voice)

	mic, err := s.cfg.Devices.OpenMicrophone(connCtx, audio.InputFormat, s.cfg.Window)
	if err != nil {
		return s.fail(r, deviceError("open microphone", err))
	}
	if !r.attach(func() { r.mic = mic }) {
		_ = mic.Close()
		return ErrClosed
	}

	spk, err := s.cfg.Devices.OpenSpeaker(connCtx, audio.OutputFormat)
	if err != nil {
		return s.fail(r, deviceError("open speaker", err))
	}
	sched := scheduler.New(spk,
		scheduler.WithScheduledHook(func(ahead time.Duration, underrun bool) {
			s.cfg.Metrics.RecordScheduled(runCtx, ahead, underrun)
		}),
		scheduler.WithFlushHook(func(reason scheduler.FlushReason, dropped int) {
			s.cfg.Metrics.RecordFlush(runCtx, reason.String())
			r.log.Debug("session: playback flushed", "reason", reason, "dropped", dropped)
		}),
	)
	if !r.attach(func() { r.sched = sched }) {
		_ = sched.Close()
		return ErrClosed
	}

	stream, err := s.cfg.Transport.Connect(connCtx, s.cfg.Live)
	if err != nil {
		if runCtx.Err() != nil {
			return s.fail(r, ErrClosed)
		}
		return s.fail(r, transportError("connect", err))
	}
	input := newInputPipeline(stream, s.cfg.SendQueue, s.cfg.Metrics, r.log)
	if !r.attach(func() { r.stream, r.input = stream, input }) {
		_ = stream.Close()
		return ErrClosed
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		input.run(runCtx)
	}()
	go s.eventLoop(r, stream)

	input.ready.Store(true)
	untap, err := mic.Tap(input.capture)
	if err != nil {
		return s.fail(r, deviceError("tap microphone", err))
	}
	if !r.attach(func() { r.untap = untap }) {
		untap()
		return r.abortErr()
	}

	s.mu.Lock()
	if s.run != r || s.state != Connecting {
		s.mu.Unlock()
		return r.abortErr()
	}
	from = s.setStateLocked(Active, nil)
	s.mu.Unlock()
	s.notify(from, Active, nil)

	r.log.Info("session: active")
	return nil
}

// Stop ends the session and releases every resource it holds. It is safe to
// call in any state and any number of times; only the first call for a run
// releases anything. The returned error joins any device close failures.
func (s *Session) Stop() error {
	s.mu.Lock()
	r := s.run
	s.run = nil
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	from := s.setStateLocked(Closed, nil)
	s.mu.Unlock()

	var err error
	if r != nil {
		err = r.teardown()
		r.log.Info("session: stopped")
	}
	s.notify(from, Closed, nil)
	return err
}

// Interrupt discards all audio queued for playback while keeping the session
// active, e.g. when the user presses a "stop" control. It returns the number of
// buffers discarded.
func (s *Session) Interrupt() int {
	s.mu.Lock()
	r := s.run
	active := s.state == Active
	s.mu.Unlock()
	if r == nil || !active {
		return 0
	}
	return r.flush(scheduler.LocalInterrupt)
}

// ── Event loop ────────────────────────────────────────────────────────────────

// eventLoop dispatches inbound events until the stream ends.
func (s *Session) eventLoop(r *run, stream live.Stream) {
	var asm transcript.Assembler
	for ev := range stream.Events() {
		switch ev.Kind {
		case live.EventAudio:
			s.play(r, stream, ev.Audio)
		case live.EventTranscript:
			asm.Append(speakerOf(ev.Channel), ev.Text)
		case live.EventTurnComplete:
			for _, t := range asm.Complete() {
				s.emitTurn(r, t)
			}
		case live.EventInterrupted:
			// Transcript accumulation is deliberately left alone: partial
			// model text is still emitted on the next turn complete.
			r.flush(scheduler.ServerInterrupt)
		}
	}
	s.streamEnded(r, stream)
}

func (s *Session) play(r *run, stream live.Stream, frame audio.TransportFrame) {
	buf, err := audio.DecodeTransport(frame.Data, audio.OutputFormat)
	if err != nil {
		s.cfg.Metrics.DecodeErrors.Add(r.ctx, 1)
		r.log.Warn("session: dropping malformed audio frame", "err", err, "mime_type", frame.MIMEType)
		return
	}
	if buf.Frames() == 0 {
		return
	}
	r.mu.Lock()
	sched := r.sched
	r.mu.Unlock()
	if sched == nil {
		return
	}
	if _, _, err := sched.Schedule(buf); err != nil {
		if errors.Is(err, scheduler.ErrClosed) {
			return
		}
		// The speaker is gone; end the run with the device failure.
		r.setFailure(err)
		_ = stream.Close()
	}
}

func (s *Session) emitTurn(r *run, t transcript.Turn) {
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return
	}
	s.turns = append(s.turns, t)
	s.mu.Unlock()

	s.cfg.Metrics.RecordTurn(r.ctx, string(t.Speaker))
	r.log.Debug("session: turn", "speaker", t.Speaker, "chars", len(t.Text))
	if s.cfg.OnTurn != nil {
		s.cfg.OnTurn(t)
	}
}

// streamEnded tears the run down after the transport closed on its own and
// moves to Error or Closed depending on how it ended. A run that was already
// claimed by Stop or a failed Start is left alone.
func (s *Session) streamEnded(r *run, stream live.Stream) {
	err := r.failure()
	if err == nil {
		err = stream.Err()
	}
	if err != nil {
		var te *live.TransportError
		var de *audio.DeviceError
		if !errors.As(err, &te) && !errors.As(err, &de) {
			err = transportError("stream", err)
		}
	}

	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return
	}
	if err != nil {
		// Recorded before the run is released so a Start still connecting
		// reports this instead of ErrClosed.
		r.setFailure(err)
	}
	s.run = nil
	s.mu.Unlock()

	_ = r.teardown()

	to := Closed
	if err != nil {
		to = Error
	}
	s.mu.Lock()
	if s.state != Connecting && s.state != Active {
		s.mu.Unlock()
		return
	}
	from := s.setStateLocked(to, err)
	s.mu.Unlock()

	if err != nil {
		r.log.Error("session: transport failed", "err", err)
	} else {
		r.log.Info("session: remote closed")
	}
	s.notify(from, to, err)
}

// fail tears r down after a failed Start and moves the session to Error. If
// Stop already claimed the run, ErrClosed is returned instead.
func (s *Session) fail(r *run, err error) error {
	s.mu.Lock()
	claimed := s.run == r
	if claimed {
		s.run = nil
	}
	s.mu.Unlock()

	_ = r.teardown()
	if !claimed || errors.Is(err, ErrClosed) {
		return r.abortErr()
	}

	s.mu.Lock()
	if s.state != Connecting {
		s.mu.Unlock()
		return ErrClosed
	}
	from := s.setStateLocked(Error, err)
	s.mu.Unlock()

	r.log.Error("session: start failed", "err", err)
	s.notify(from, Error, err)
	return err
}

// setStateLocked records the transition and returns the previous state.
func (s *Session) setStateLocked(to State, err error) State {
	from := s.state
	s.state = to
	if to == Error {
		s.err = err
	}
	ctx := context.Background()
	s.cfg.Metrics.RecordTransition(ctx, from.String(), to.String())
	switch {
	case to == Active:
		s.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	case from == Active:
		s.cfg.Metrics.ActiveSessions.Add(ctx, -1)
	}
	return from
}

func (s *Session) notify(from, to State, err error) {
	slog.Debug("session: state changed", "from", from, "to", to)
	if s.cfg.OnStatus != nil {
		s.cfg.OnStatus(to, err)
	}
}

func speakerOf(c live.Channel) transcript.Speaker {
	if c == live.ChannelUser {
		return transcript.SpeakerUser
	}
	return transcript.SpeakerModel
}

func deviceError(op string, err error) error {
	var de *audio.DeviceError
	if errors.As(err, &de) {
		return err
	}
	return &audio.DeviceError{Op: op, Err: err}
}

func transportError(op string, err error) error {
	var te *live.TransportError
	if errors.As(err, &te) {
		return err
	}
	return &live.TransportError{Op: op, Err: err}
}
