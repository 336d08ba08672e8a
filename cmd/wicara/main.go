// Command wicara drafts, rehearses and reads aloud Javanese Kromo Alus
// sermons and MC scripts.
//
// Usage:
//
//	wicara [-config path] <command> [flags]
//
// Commands:
//
//	practice   live voice practice with the tutor until Ctrl+C
//	sermon     draft a kultum
//	mc         draft an MC script
//	speak      read text aloud or export it as WAV
//	serve      run the HTTP API
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/wicara/internal/app"
	"github.com/MrWong99/wicara/internal/config"
)

const defaultConfigPath = "config.yaml"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("wicara", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath, "path to the YAML configuration file")
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	name, cmdArgs := fs.Arg(0), fs.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "wicara: unknown command %q\n", name)
		fs.Usage()
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "wicara: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: &level})))

	slog.Debug("wicara starting", "command", name, "config", *configPath, "log_level", cfg.Server.LogLevel)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := &env{
		cfg:        cfg,
		configPath: *configPath,
		level:      &level,
		needs:      cmd.needs,
		stdout:     stdout,
		stderr:     stderr,
	}
	if err := cmd.run(ctx, e, cmdArgs); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(stderr, "wicara %s: %v\n", name, ue.error)
			return 2
		}
		slog.Error("command failed", "command", name, "err", err)
		return 1
	}
	return 0
}

// env carries what every command needs.
type env struct {
	cfg        *config.Config
	configPath string
	level      *slog.LevelVar
	needs      need
	stdout     io.Writer
	stderr     io.Writer
}

// usageError marks invalid command-line input.
type usageError struct{ error }

type command struct {
	summary string
	needs   need
	run     func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"practice": {"live voice practice with the tutor until Ctrl+C", needLive | needDevices, runPractice},
	"sermon":   {"draft a kultum (-o also exports it as speech)", needLLM, runSermon},
	"mc":       {"draft an MC script (-o also exports it as speech)", needLLM, runMC},
	"speak":    {"read text aloud, or export it as WAV with -o", needTTS, runSpeak},
	"serve":    {"run the HTTP API", needLLM | needLive | needTTS | needDevices | needLenient, runServe},
}

func usage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintln(w, "Usage: wicara [-config path] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, name := range []string{"practice", "sermon", "mc", "speak", "serve"} {
		fmt.Fprintf(w, "  %-10s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}

// loadConfig reads path. A missing default config file is not an error: the
// defaults and GEMINI_API_KEY are enough to get started.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		return config.LoadFromReader(strings.NewReader(""))
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
	}
	return nil, err
}

// newApp builds the providers the command needs and wires them into an App.
func newApp(ctx context.Context, e *env, opts ...app.Option) (*app.App, error) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, e.cfg)

	providers, err := buildProviders(e.cfg, reg, e.needs)
	if err != nil {
		return nil, err
	}
	opts = append([]app.Option{app.WithLogLevel(e.level)}, opts...)
	a, err := app.New(ctx, e.cfg, providers, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialise application: %w", err)
	}
	return a, nil
}

// shutdown tears a down with a bounded grace period.
func shutdown(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		slog.Warn("shutdown error", "err", err)
	}
}
