package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/wicara/internal/config"
	"github.com/MrWong99/wicara/internal/history"
	"github.com/MrWong99/wicara/internal/observe"
	"github.com/MrWong99/wicara/internal/session"
	"github.com/MrWong99/wicara/internal/transcript"
	"github.com/MrWong99/wicara/pkg/audio"
	"github.com/MrWong99/wicara/pkg/provider/live"
)

// saveTimeout bounds saving one finished transcript.
const saveTimeout = 10 * time.Second

// PracticeInfo describes the current or most recent practice run.
type PracticeInfo struct {
	SessionID string    `json:"session_id,omitempty"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Turns     int       `json:"turns"`
	Voice     string    `json:"voice,omitempty"`
}

// PracticeConfig holds all dependencies for a [Practice].
type PracticeConfig struct {
	Devices   audio.Devices
	Transport live.Transport
	Audio     config.AudioConfig
	Settings  config.PracticeConfig
	Metrics   *observe.Metrics

	// Store receives finished transcripts when Settings.History is set. May
	// be nil.
	Store history.Store

	// OnTurn and OnStatus are forwarded from every session. May be nil.
	OnTurn   func(transcript.Turn)
	OnStatus func(session.State, error)
}

// Practice manages the live practice conversation. Only one run is active at
// a time. Every Start builds a fresh [session.Session] from the current
// settings, so reloaded settings apply to the next run. All exported methods
// are safe for concurrent use.
type Practice struct {
	devices   audio.Devices
	transport live.Transport
	audio     config.AudioConfig
	metrics   *observe.Metrics
	store     history.Store
	onTurn    func(transcript.Turn)
	onStatus  func(session.State, error)

	mu       sync.Mutex
	settings config.PracticeConfig
	cur      *practiceRun
	// starting is set while a Start call is in flight.
	starting bool

	// saves tracks transcript writes still in flight.
	saves sync.WaitGroup
}

// practiceRun is one Start..Stop cycle.
type practiceRun struct {
	sess      *session.Session
	startedAt time.Time
	voice     string
	history   bool
	saveOnce  sync.Once
}

// NewPractice creates a Practice with the given dependencies.
func NewPractice(cfg PracticeConfig) (*Practice, error) {
	if cfg.Devices == nil {
		return nil, errors.New("practice: audio devices are required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("practice: live transport is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Practice{
		devices:   cfg.Devices,
		transport: cfg.Transport,
		audio:     cfg.Audio,
		metrics:   cfg.Metrics,
		store:     cfg.Store,
		onTurn:    cfg.OnTurn,
		onStatus:  cfg.OnStatus,
		settings:  cfg.Settings,
	}, nil
}

// Start begins a practice run and blocks until it is active or has failed.
// It returns [session.ErrAlreadyStarted] while a run is connecting or active.
func (p *Practice) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.starting {
		p.mu.Unlock()
		return session.ErrAlreadyStarted
	}
	if p.cur != nil {
		if st := p.cur.sess.State(); st == session.Connecting || st == session.Active {
			p.mu.Unlock()
			return session.ErrAlreadyStarted
		}
	}
	settings := p.settings
	run := &practiceRun{
		startedAt: time.Now().UTC(),
		voice:     settings.Voice,
		history:   settings.History && p.store != nil,
	}
	sess, err := session.New(session.Config{
		Devices:   p.devices,
		Transport: p.transport,
		Live: live.SessionConfig{
			Voice:               settings.Voice,
			Instructions:        settings.SystemInstruction,
			LanguageCode:        settings.Language,
			InputTranscription:  true,
			OutputTranscription: true,
		},
		Window:    p.audio.CaptureWindow,
		SendQueue: p.audio.SendQueue,
		Metrics:   p.metrics,
		OnTurn:    p.onTurn,
		OnStatus:  func(s session.State, err error) { p.statusChanged(run, s, err) },
	})
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("practice: %w", err)
	}
	run.sess = sess
	p.cur = run
	p.starting = true
	p.mu.Unlock()

	// Start runs outside the lock so Stop can abort the connect.
	err = sess.Start(ctx)
	p.mu.Lock()
	p.starting = false
	p.mu.Unlock()
	if err != nil {
		return err
	}
	slog.Info("practice started", "session_id", sess.ID(), "voice", run.voice)
	return nil
}

// Stop ends the current run. It is safe to call at any time and any number
// of times.
func (p *Practice) Stop() error {
	p.mu.Lock()
	run := p.cur
	p.mu.Unlock()
	if run == nil {
		return nil
	}
	return run.sess.Stop()
}

// Interrupt discards the model's queued speech and returns how many buffers
// were dropped.
func (p *Practice) Interrupt() int {
	p.mu.Lock()
	run := p.cur
	p.mu.Unlock()
	if run == nil {
		return 0
	}
	return run.sess.Interrupt()
}

// Info returns the state of the current or most recent run.
func (p *Practice) Info() PracticeInfo {
	p.mu.Lock()
	run := p.cur
	p.mu.Unlock()
	if run == nil {
		return PracticeInfo{State: session.Idle.String()}
	}
	info := PracticeInfo{
		SessionID: run.sess.ID(),
		State:     run.sess.State().String(),
		StartedAt: run.startedAt,
		Turns:     len(run.sess.Turns()),
		Voice:     run.voice,
	}
	if err := run.sess.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}

// Turns returns the transcript of the current or most recent run.
func (p *Practice) Turns() []transcript.Turn {
	p.mu.Lock()
	run := p.cur
	p.mu.Unlock()
	if run == nil {
		return nil
	}
	return run.sess.Turns()
}

// Settings returns the settings the next run will use.
func (p *Practice) Settings() config.PracticeConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// Apply replaces the settings used by the next run. A running session keeps
// its settings.
func (p *Practice) Apply(settings config.PracticeConfig) {
	p.mu.Lock()
	p.settings = settings
	p.mu.Unlock()
	slog.Info("practice settings updated", "voice", settings.Voice, "language", settings.Language, "history", settings.History)
}

// Close stops the current run and waits for pending transcript saves.
func (p *Practice) Close() error {
	err := p.Stop()
	p.saves.Wait()
	return err
}

func (p *Practice) statusChanged(run *practiceRun, s session.State, err error) {
	if p.onStatus != nil {
		p.onStatus(s, err)
	}
	if s != session.Closed && s != session.Error {
		return
	}
	if !run.history {
		return
	}
	run.saveOnce.Do(func() {
		turns := run.sess.Turns()
		if len(turns) == 0 {
			return
		}
		p.saves.Add(1)
		go func() {
			defer p.saves.Done()
			p.save(run, turns)
		}()
	})
}

func (p *Practice) save(run *practiceRun, turns []transcript.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	e, err := p.store.Save(ctx, history.Entry{
		Kind:  history.KindPractice,
		Title: "Latihan " + run.startedAt.Local().Format("2006-01-02 15:04"),
		Text:  transcript.Format(turns),
	})
	if err != nil {
		slog.Warn("practice: save transcript", "session_id", run.sess.ID(), "err", err)
		return
	}
	slog.Info("practice transcript saved", "session_id", run.sess.ID(), "entry_id", e.ID, "turns", len(turns))
}
