package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/wicara/internal/config"
)

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStderr string
	}{
		{"no command", nil, 2, "Usage: wicara"},
		{"unknown command", []string{"preach"}, 2, `unknown command "preach"`},
		{"sermon without topic", []string{"sermon"}, 2, "-topic is required"},
		{"mc without event", []string{"mc", "-tone", "Santai"}, 2, "-event is required"},
		{"bad flag", []string{"speak", "-volume", "11"}, 2, "flag provided but not defined"},
		{"sermon help", []string{"sermon", "-h"}, 0, "Usage: wicara sermon"},
		{"missing config", []string{"-config", "nope.yaml", "serve"}, 1, `"nope.yaml" not found`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(tt.args, &stdout, &stderr)
			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d (stderr %q)", code, tt.wantCode, stderr.String())
			}
			if !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Errorf("stderr = %q, want it to contain %q", stderr.String(), tt.wantStderr)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "env-key")

	t.Run("missing default file uses defaults", func(t *testing.T) {
		t.Chdir(t.TempDir())
		cfg, err := loadConfig(defaultConfigPath)
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.Server.ListenAddr != config.DefaultListenAddr {
			t.Errorf("ListenAddr = %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
		}
		if cfg.Providers.Live.APIKey != "env-key" {
			t.Errorf("live api key = %q, want env-key", cfg.Providers.Live.APIKey)
		}
	})

	t.Run("explicit file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "wicara.yaml")
		if err := os.WriteFile(path, []byte("server:\n  listen_addr: \":9090\"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		cfg, err := loadConfig(path)
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.Server.ListenAddr != ":9090" {
			t.Errorf("ListenAddr = %q, want :9090", cfg.Server.ListenAddr)
		}
	})
}

func TestBuildProviders_Needs(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "")
	cfg, err := config.LoadFromReader(strings.NewReader("providers:\n  live:\n    name: gemini\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	// Without an API key the live provider cannot be built.
	if _, err := buildProviders(cfg, reg, needLive); err == nil {
		t.Error("expected error for live provider without api key")
	}

	ps, err := buildProviders(cfg, reg, needLive|needLenient)
	if err != nil {
		t.Fatalf("lenient buildProviders: %v", err)
	}
	if ps.Live != nil {
		t.Error("live provider should be nil after a lenient failure")
	}
	if ps.Devices != nil || ps.LLM != nil || ps.TTS != nil {
		t.Errorf("unrequested providers built: %+v", ps)
	}
}
