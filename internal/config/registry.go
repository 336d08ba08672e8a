package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/wicara/pkg/provider/live"
	"github.com/MrWong99/wicara/pkg/provider/llm"
	"github.com/MrWong99/wicara/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// Registry maps provider names to constructors for each provider kind. It is
// safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	llm  map[string]Factory[llm.Provider]
	live map[string]Factory[live.Transport]
	tts  map[string]Factory[tts.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm:  make(map[string]Factory[llm.Provider]),
		live: make(map[string]Factory[live.Transport]),
		tts:  make(map[string]Factory[tts.Provider]),
	}
}

// RegisterLLM registers an LLM factory under name, replacing any previous one.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = f
}

// RegisterLive registers a live transport factory under name.
func (r *Registry) RegisterLive(name string, f Factory[live.Transport]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = f
}

// RegisterTTS registers a TTS factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = f
}

// CreateLLM builds the LLM provider registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	f, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	return create(f, ok, "llm", entry)
}

// CreateLive builds the live transport registered under entry.Name.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Transport, error) {
	r.mu.RLock()
	f, ok := r.live[entry.Name]
	r.mu.RUnlock()
	return create(f, ok, "live", entry)
}

// CreateTTS builds the TTS provider registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	f, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	return create(f, ok, "tts", entry)
}

func create[T any](f Factory[T], ok bool, kind string, entry ProviderEntry) (T, error) {
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	p, err := f(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", kind, entry.Name, err)
	}
	return p, nil
}
