package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/wicara/internal/app"
	"github.com/MrWong99/wicara/internal/config"
	"github.com/MrWong99/wicara/pkg/audio"
	"github.com/MrWong99/wicara/pkg/audio/portaudio"
	"github.com/MrWong99/wicara/pkg/provider/live"
	geminilive "github.com/MrWong99/wicara/pkg/provider/live/gemini"
	"github.com/MrWong99/wicara/pkg/provider/llm"
	"github.com/MrWong99/wicara/pkg/provider/llm/anyllm"
	"github.com/MrWong99/wicara/pkg/provider/tts"
	"github.com/MrWong99/wicara/pkg/provider/tts/elevenlabs"
	geminitts "github.com/MrWong99/wicara/pkg/provider/tts/gemini"
)

// need selects which providers a command builds. Building only what a
// command uses keeps "wicara sermon" working without audio hardware.
type need uint8

const (
	needLLM need = 1 << iota
	needLive
	needTTS
	needDevices

	// needLenient logs provider failures and leaves the slot empty instead of
	// failing, so the server still offers what works.
	needLenient
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Every any-llm backend shares the same pattern: optional APIKey +
	// optional BaseURL. ollama ignores the key.
	for _, providerName := range anyllm.Supported {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" && providerName != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── Live ──────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini", func(entry config.ProviderEntry) (live.Transport, error) {
		if entry.APIKey == "" {
			return nil, fmt.Errorf("gemini live: api key missing; set %s or providers.live.api_key", config.APIKeyEnv)
		}
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("gemini", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []geminitts.Option
		if entry.Model != "" {
			opts = append(opts, geminitts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminitts.WithBaseURL(entry.BaseURL))
		}
		if cfg.Speech.Voice != "" {
			opts = append(opts, geminitts.WithVoice(cfg.Speech.Voice))
		}
		return geminitts.New(context.Background(), entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, entry.Option("voice_id"), opts...)
	})
}

// buildProviders instantiates the providers selected by needs using the
// registry and returns them in an [app.Providers] struct for the application
// to consume.
func buildProviders(cfg *config.Config, reg *config.Registry, needs need) (*app.Providers, error) {
	ps := &app.Providers{}

	// failed reports whether building must stop.
	failed := func(err error) bool {
		if err == nil {
			return false
		}
		if needs&needLenient != 0 {
			slog.Warn("provider unavailable", "err", err)
			return false
		}
		return true
	}

	if needs&needLLM != 0 {
		p, err := create("llm", cfg.Providers.LLM, reg.CreateLLM)
		if failed(err) {
			return nil, err
		}
		ps.LLM = p
	}
	if needs&needLive != 0 {
		p, err := create("live", cfg.Providers.Live, reg.CreateLive)
		if failed(err) {
			return nil, err
		}
		ps.Live = p
	}
	if needs&needTTS != 0 {
		p, err := create("tts", cfg.Providers.TTS, reg.CreateTTS)
		if failed(err) {
			return nil, err
		}
		ps.TTS = p
	}
	if needs&(needDevices|needTTS) != 0 {
		ps.Devices = newDevices(cfg.Audio)
	}
	return ps, nil
}

func create[T any](kind string, entry config.ProviderEntry, f func(config.ProviderEntry) (T, error)) (T, error) {
	p, err := f(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		var zero T
		return zero, fmt.Errorf("%s provider %q is not available; valid values: %v", kind, entry.Name, config.ValidProviderNames[kind])
	}
	if err != nil {
		var zero T
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Debug("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}

// newDevices opens the host's audio devices lazily: nothing touches the
// hardware until a microphone or speaker is opened.
func newDevices(c config.AudioConfig) audio.Devices {
	opts := []portaudio.Option{
		portaudio.WithInputDevice(c.InputDevice),
		portaudio.WithOutputDevice(c.OutputDevice),
	}
	if c.OutputLatency > 0 {
		frames := int(c.OutputLatency * time.Duration(audio.OutputFormat.SampleRate) / time.Second)
		opts = append(opts, portaudio.WithOutputBuffer(frames))
	}
	return portaudio.New(opts...)
}
