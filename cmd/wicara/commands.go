package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/MrWong99/wicara/internal/app"
	"github.com/MrWong99/wicara/internal/config"
	"github.com/MrWong99/wicara/internal/observe"
	"github.com/MrWong99/wicara/internal/script"
	"github.com/MrWong99/wicara/internal/session"
	"github.com/MrWong99/wicara/internal/transcript"
)

// errFallback is returned when the provider failed and only the apology text
// could be printed.
var errFallback = errors.New("script generation failed")

func newFlagSet(e *env, name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet("wicara "+name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: wicara %s %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

// parse reports bad flags as a [usageError]; the flag package has already
// printed the details.
func parse(fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return err
	}
	return usageError{err}
}

// ── practice ──────────────────────────────────────────────────────────────────

func runPractice(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "practice", "[-voice name] [-language code]")
	voice := fs.String("voice", e.cfg.Practice.Voice, "prebuilt voice of the tutor")
	language := fs.String("language", e.cfg.Practice.Language, "BCP-47 language the tutor speaks, e.g. id-ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	e.cfg.Practice.Voice = *voice
	e.cfg.Practice.Language = *language

	ended := make(chan error, 1)
	a, err := newApp(ctx, e,
		app.WithTurnHook(func(t transcript.Turn) {
			fmt.Fprintf(e.stdout, "%s: %s\n", t.Speaker, t.Text)
		}),
		app.WithStatusHook(func(s session.State, err error) {
			if s != session.Closed && s != session.Error {
				return
			}
			select {
			case ended <- err:
			default:
			}
		}),
	)
	if err != nil {
		return err
	}
	defer shutdown(a)

	p, err := a.Practice()
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start practice: %w", err)
	}
	fmt.Fprintln(e.stderr, "Practice started. Press Enter to stop the tutor mid-sentence, Ctrl+C to finish.")

	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			if n := p.Interrupt(); n > 0 {
				slog.Debug("tutor interrupted", "buffers", n)
			}
		}
	}()

	select {
	case <-ctx.Done():
		return p.Stop()
	case err := <-ended:
		return err
	}
}

// ── sermon / mc ───────────────────────────────────────────────────────────────

func runSermon(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "sermon", "-topic text [-tone text] [-audience text] [-o kultum.wav]")
	topic := fs.String("topic", "", "topic of the kultum (required)")
	tone := fs.String("tone", script.DefaultSermonTone, "language style")
	audience := fs.String("audience", script.DefaultSermonAudience, "who the kultum is for")
	out := fs.String("o", "", "also read the kultum into this WAV file, e.g. kultum.wav")
	if err := parse(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*topic) == "" {
		return usageError{errors.New("-topic is required")}
	}
	if *out != "" {
		e.needs |= needTTS
	}

	a, err := newApp(ctx, e)
	if err != nil {
		return err
	}
	defer shutdown(a)

	res, err := a.Sermon(ctx, script.SermonRequest{Topic: *topic, Tone: *tone, Audience: *audience})
	if err != nil {
		return err
	}
	return emitScript(ctx, e, a, res, *out)
}

func runMC(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "mc", "-event text [-tone text] [-agenda text] [-o teks-mc.wav]")
	event := fs.String("event", "", "kind of event, e.g. \"Pernikahan Adat Jawi\" (required)")
	tone := fs.String("tone", script.DefaultMCTone, "language style")
	agenda := fs.String("agenda", "", "event rundown, one item per line (default: a standard rundown)")
	out := fs.String("o", "", "also read the script into this WAV file, e.g. teks-mc.wav")
	if err := parse(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*event) == "" {
		return usageError{errors.New("-event is required")}
	}
	if *out != "" {
		e.needs |= needTTS
	}

	a, err := newApp(ctx, e)
	if err != nil {
		return err
	}
	defer shutdown(a)

	res, err := a.MC(ctx, script.MCRequest{Event: *event, Tone: *tone, Agenda: *agenda})
	if err != nil {
		return err
	}
	return emitScript(ctx, e, a, res, *out)
}

// emitScript prints a drafted script and optionally exports it as speech.
func emitScript(ctx context.Context, e *env, a *app.App, res app.ScriptResult, out string) error {
	fmt.Fprintln(e.stdout, res.Text)
	if res.Fallback {
		return errFallback
	}
	if res.Entry != nil {
		slog.Debug("script saved", "id", res.Entry.ID, "title", res.Entry.Title)
	}
	if out == "" {
		return nil
	}
	return exportWAV(ctx, a, out, res.Text)
}

// ── speak ─────────────────────────────────────────────────────────────────────

func runSpeak(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "speak", "[-o file.wav] text... (reads stdin when no text is given)")
	out := fs.String("o", "", "write a WAV file instead of playing")
	if err := parse(fs, args); err != nil {
		return err
	}
	text := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(text) == "" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(b)
	}
	if strings.TrimSpace(text) == "" {
		return usageError{errors.New("no text to speak")}
	}

	a, err := newApp(ctx, e)
	if err != nil {
		return err
	}
	defer shutdown(a)

	if *out != "" {
		return exportWAV(ctx, a, *out, text)
	}
	if err := a.ReadAloud(ctx, text); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// exportWAV synthesizes text into path. A partial file is removed on failure.
func exportWAV(ctx context.Context, a *app.App, path, text string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	w := bufio.NewWriter(f)
	if err := a.ExportSpeech(ctx, text, w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	slog.Info("speech exported", "path", path)
	return nil
}

// ── serve ─────────────────────────────────────────────────────────────────────

func runServe(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "serve", "[-addr host:port]")
	addr := fs.String("addr", e.cfg.Server.ListenAddr, "HTTP listen address")
	if err := parse(fs, args); err != nil {
		return err
	}
	e.cfg.Server.ListenAddr = *addr

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "wicara"})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(tel.MeterProvider())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	a, err := newApp(ctx, e, app.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer shutdown(a)

	// ── Config hot-reload ─────────────────────────────────────────────────────
	if _, statErr := os.Stat(e.configPath); statErr == nil {
		w, err := config.NewWatcher(e.configPath, func(d config.ConfigDiff, _ *config.Config) {
			a.ApplyConfig(d)
		})
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	slog.Info("server ready; press Ctrl+C to shut down",
		"addr", e.cfg.Server.ListenAddr,
		"llm", e.cfg.Providers.LLM.Name,
		"live", e.cfg.Providers.Live.Name,
		"tts", e.cfg.Providers.TTS.Name,
		"postgres", e.cfg.History.PostgresDSN != "",
	)
	return a.Run(ctx)
}
