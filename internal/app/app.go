// Package app wires the wicara subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API until its context ends, and Shutdown
// tears everything down in order. The command-line tools drive the same App
// directly without serving.
//
// For testing, inject mock implementations via [Providers] and functional
// options (WithHistory, WithMetrics, ...). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wicara/internal/config"
	"github.com/MrWong99/wicara/internal/feed"
	"github.com/MrWong99/wicara/internal/health"
	"github.com/MrWong99/wicara/internal/history"
	"github.com/MrWong99/wicara/internal/history/postgres"
	"github.com/MrWong99/wicara/internal/observe"
	"github.com/MrWong99/wicara/internal/script"
	"github.com/MrWong99/wicara/internal/session"
	"github.com/MrWong99/wicara/internal/speech"
	"github.com/MrWong99/wicara/internal/transcript"
	"github.com/MrWong99/wicara/pkg/audio"
	"github.com/MrWong99/wicara/pkg/provider/live"
	"github.com/MrWong99/wicara/pkg/provider/llm"
	"github.com/MrWong99/wicara/pkg/provider/tts"
)

// shutdownTimeout bounds the graceful HTTP shutdown in [App.Serve].
const shutdownTimeout = 10 * time.Second

// ErrUnavailable is returned when a feature's provider or device is not
// configured.
var ErrUnavailable = errors.New("app: feature unavailable")

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM     llm.Provider
	Live    live.Transport
	TTS     tts.Provider
	Devices audio.Devices
}

// ScriptResult is a drafted sermon or MC script.
type ScriptResult struct {
	Text string `json:"text"`

	// Fallback is set when generation failed and Text is the apology text.
	// Fallback texts are not saved.
	Fallback bool `json:"fallback"`

	// Entry is the saved history entry, nil when nothing was saved.
	Entry *history.Entry `json:"entry,omitempty"`
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics  *observe.Metrics
	history  history.Store
	scripts  *script.Generator
	reader   *speech.Reader
	practice *Practice
	feed     *feed.Hub
	health   *health.Handler
	logLevel *slog.LevelVar

	onTurn   func(transcript.Turn)
	onStatus func(session.State, error)

	// bg scopes playback started by the HTTP API.
	bg       context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistory injects a history store instead of creating one from config.
func WithHistory(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithFeed injects the live transcript hub instead of creating one.
func WithFeed(h *feed.Hub) Option {
	return func(a *App) { a.feed = h }
}

// WithLogLevel lets [App.ApplyConfig] change the log level at runtime.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithTurnHook registers fn for every finalized practice turn, in addition to
// the live feed.
func WithTurnHook(fn func(transcript.Turn)) Option {
	return func(a *App) { a.onTurn = fn }
}

// WithStatusHook registers fn for every practice state change, in addition to
// the live feed.
func WithStatusHook(fn func(session.State, error)) Option {
	return func(a *App) { a.onStatus = fn }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Features whose
// provider is nil report [ErrUnavailable].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.bg, a.bgCancel = context.WithCancel(context.WithoutCancel(ctx))

	// ── 1. History store ────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		a.bgCancel()
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 2. Script generator ─────────────────────────────────────────────
	if providers.LLM != nil {
		a.scripts = script.NewGenerator(providers.LLM,
			script.WithMetrics(a.metrics),
			script.WithProviderName(cfg.Providers.LLM.Name),
		)
	}

	// ── 3. Read-aloud ───────────────────────────────────────────────────
	if providers.TTS != nil {
		a.reader = speech.NewReader(providers.TTS, providers.Devices, a.speechOptions()...)
	}

	// ── 4. Live feed ────────────────────────────────────────────────────
	if a.feed == nil {
		a.feed = feed.NewHub()
	}
	a.closers = append(a.closers, func() error {
		a.feed.Close()
		return nil
	})

	// ── 5. Practice ─────────────────────────────────────────────────────
	if err := a.initPractice(); err != nil {
		a.runClosers()
		a.bgCancel()
		return nil, fmt.Errorf("app: init practice: %w", err)
	}

	// ── 6. Health ───────────────────────────────────────────────────────
	a.health = health.New(health.Checker{Name: "history", Check: a.history.Ping})

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHistory opens the PostgreSQL store when a DSN is configured and falls
// back to memory otherwise.
func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil {
		return nil
	}
	dsn := a.cfg.History.PostgresDSN
	if dsn == "" {
		a.history = history.NewMemoryStore()
		return nil
	}
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return err
	}
	a.history = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

func (a *App) speechOptions() []speech.Option {
	opts := []speech.Option{
		speech.WithMetrics(a.metrics),
		speech.WithProviderName(a.cfg.Providers.TTS.Name),
	}
	// Only the gemini voice model follows a spoken instruction; other engines
	// would read it out.
	if name := a.cfg.Providers.TTS.Name; name != "" && name != "gemini" {
		opts = append(opts, speech.WithInstruction(script.CleanForSpeech))
	}
	return opts
}

func (a *App) initPractice() error {
	if a.providers.Live == nil || a.providers.Devices == nil {
		return nil
	}
	p, err := NewPractice(PracticeConfig{
		Devices:   a.providers.Devices,
		Transport: a.providers.Live,
		Audio:     a.cfg.Audio,
		Settings:  a.cfg.Practice,
		Metrics:   a.metrics,
		Store:     a.history,
		OnTurn: func(t transcript.Turn) {
			a.feed.Turn(t)
			if a.onTurn != nil {
				a.onTurn(t)
			}
		},
		OnStatus: func(s session.State, err error) {
			a.feed.Status(s.String(), err)
			if a.onStatus != nil {
				a.onStatus(s, err)
			}
		},
	})
	if err != nil {
		return err
	}
	a.practice = p
	a.closers = append([]func() error{p.Close}, a.closers...)
	return nil
}

// ─── Features ────────────────────────────────────────────────────────────────

// Sermon drafts a kultum and saves it to history.
func (a *App) Sermon(ctx context.Context, req script.SermonRequest) (ScriptResult, error) {
	if a.scripts == nil {
		return ScriptResult{}, fmt.Errorf("%w: no llm provider", ErrUnavailable)
	}
	text, err := a.scripts.Sermon(ctx, req)
	if err != nil {
		return ScriptResult{}, err
	}
	return a.keep(ctx, history.KindSermon, text, text == script.SermonFallback), nil
}

// MC drafts an MC script and saves it to history.
func (a *App) MC(ctx context.Context, req script.MCRequest) (ScriptResult, error) {
	if a.scripts == nil {
		return ScriptResult{}, fmt.Errorf("%w: no llm provider", ErrUnavailable)
	}
	text, err := a.scripts.MC(ctx, req)
	if err != nil {
		return ScriptResult{}, err
	}
	return a.keep(ctx, history.KindMC, text, text == script.MCFallback), nil
}

// keep saves a drafted text. A failed save is logged and the draft is still
// returned.
func (a *App) keep(ctx context.Context, kind history.Kind, text string, fallback bool) ScriptResult {
	res := ScriptResult{Text: text, Fallback: fallback}
	if fallback {
		return res
	}
	e, err := a.history.Save(ctx, history.Entry{Kind: kind, Text: text})
	if err != nil {
		observe.Logger(ctx).Warn("app: save draft", "kind", kind, "err", err)
		return res
	}
	res.Entry = &e
	return res
}

// ReadAloud synthesizes text and plays it, blocking until playback ends.
func (a *App) ReadAloud(ctx context.Context, text string) error {
	if a.reader == nil {
		return fmt.Errorf("%w: no tts provider", ErrUnavailable)
	}
	data, err := a.reader.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	return a.reader.Speak(ctx, data)
}

// StartReading synthesizes text and plays it in the background. It returns
// once playback has been handed off; use [App.StopReading] to cut it short.
func (a *App) StartReading(ctx context.Context, text string) error {
	if a.reader == nil {
		return fmt.Errorf("%w: no tts provider", ErrUnavailable)
	}
	if a.reader.Speaking() {
		return speech.ErrBusy
	}
	data, err := a.reader.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		if err := a.reader.Speak(a.bg, data); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("app: background playback", "err", err)
		}
	}()
	return nil
}

// StopReading stops read-aloud playback and reports whether anything was
// playing.
func (a *App) StopReading() bool {
	if a.reader == nil {
		return false
	}
	return a.reader.Stop()
}

// ExportSpeech synthesizes text and writes it to w as a WAV file.
func (a *App) ExportSpeech(ctx context.Context, text string, w io.Writer) error {
	if a.reader == nil {
		return fmt.Errorf("%w: no tts provider", ErrUnavailable)
	}
	data, err := a.reader.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	return speech.ExportWAV(w, data)
}

// Practice returns the practice manager, or [ErrUnavailable] when no live
// transport or audio devices are configured.
func (a *App) Practice() (*Practice, error) {
	if a.practice == nil {
		return nil, fmt.Errorf("%w: no live provider or audio devices", ErrUnavailable)
	}
	return a.practice, nil
}

// History returns the history store.
func (a *App) History() history.Store {
	return a.history
}

// Feed returns the live transcript hub.
func (a *App) Feed() *feed.Hub {
	return a.feed
}

// ApplyConfig applies the hot-reloadable parts of a config change.
func (a *App) ApplyConfig(diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(diff.NewLogLevel.Level())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.PracticeChanged && a.practice != nil {
		a.practice.Apply(diff.Practice)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves the HTTP API until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves the HTTP API on ln until ctx is cancelled, then drains the
// readiness probe and shuts the server down gracefully. A clean shutdown
// returns nil.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.health.Drain()
		// Hijacked feed connections are not tracked by the server.
		a.feed.Close()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems: playback and the practice session
// first, then the rest in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.health.Drain()

		a.StopReading()
		a.bgCancel()
		a.bgWG.Wait()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases what a failed New acquired.
func (a *App) runClosers() {
	for _, closer := range a.closers {
		_ = closer()
	}
}
