package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// APIKeyEnv is consulted for Gemini-backed providers without an api_key.
const APIKeyEnv = "GEMINI_API_KEY"

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"llm":  {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"live": {"gemini"},
	"tts":  {"gemini", "elevenlabs"},
}

// Load reads the YAML file at path and returns a validated [Config] with
// defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, expands ${VAR} references, applies
// defaults and validates the result. An empty document is a valid config.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = "gemini"
	}
	if cfg.Providers.LLM.Name == "gemini" && cfg.Providers.LLM.Model == "" {
		cfg.Providers.LLM.Model = "gemini-2.5-pro"
	}
	if cfg.Providers.Live.Name == "" {
		cfg.Providers.Live.Name = "gemini"
	}
	if cfg.Providers.TTS.Name == "" {
		cfg.Providers.TTS.Name = "gemini"
	}
	for _, e := range []*ProviderEntry{&cfg.Providers.LLM, &cfg.Providers.Live, &cfg.Providers.TTS} {
		if e.APIKey == "" && e.Name == "gemini" {
			e.APIKey = os.Getenv(APIKeyEnv)
		}
	}

	if cfg.Audio.CaptureWindow == 0 {
		cfg.Audio.CaptureWindow = DefaultCaptureWindow
	}
	if cfg.Audio.SendQueue == 0 {
		cfg.Audio.SendQueue = DefaultSendQueue
	}

	if cfg.Practice.Voice == "" {
		cfg.Practice.Voice = DefaultPracticeVoice
	}
	if strings.TrimSpace(cfg.Practice.SystemInstruction) == "" {
		cfg.Practice.SystemInstruction = DefaultSystemInstruction
	}
	if cfg.Speech.Voice == "" {
		cfg.Speech.Voice = DefaultSpeechVoice
	}
}

// Validate checks that cfg is coherent and returns every failure found,
// joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	if cfg.Providers.TTS.Name == "elevenlabs" && cfg.Providers.TTS.Option("voice_id") == "" {
		errs = append(errs, errors.New("providers.tts.options.voice_id is required for elevenlabs"))
	}

	if cfg.Audio.CaptureWindow < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_window %d must be positive", cfg.Audio.CaptureWindow))
	}
	if cfg.Audio.SendQueue < 0 {
		errs = append(errs, fmt.Errorf("audio.send_queue %d must be positive", cfg.Audio.SendQueue))
	}
	if cfg.Audio.OutputLatency < 0 {
		errs = append(errs, fmt.Errorf("audio.output_latency %s must not be negative", cfg.Audio.OutputLatency))
	}

	if cfg.History.PostgresDSN == "" && cfg.Practice.History {
		slog.Warn("history.postgres_dsn is empty; practice transcripts are kept in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning when name is not in
// [ValidProviderNames] for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
