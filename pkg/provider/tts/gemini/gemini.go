// Package gemini provides a tts.Provider backed by the Gemini speech
// generation models through google.golang.org/genai.
//
// The model answers a GenerateContent call with inline audio parts holding raw
// 24 kHz PCM16; the parts are concatenated and returned base64-encoded.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/wicara/pkg/audio"
	"github.com/MrWong99/wicara/pkg/provider/tts"
)

const (
	defaultModel = "gemini-2.5-flash-preview-tts"
	defaultVoice = "Kore"
)

// Option is a functional option for configuring the Gemini Provider.
type Option func(*options)

type options struct {
	model      string
	voice      string
	baseURL    string
	httpClient *http.Client
}

// WithModel overrides the speech model.
func WithModel(model string) Option {
	return func(o *options) {
		o.model = model
	}
}

// WithVoice selects a prebuilt voice, e.g. "Kore" or "Puck".
func WithVoice(voice string) Option {
	return func(o *options) {
		o.voice = voice
	}
}

// WithBaseURL points the client at a different API host. Used by tests.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// Provider implements tts.Provider.
type Provider struct {
	client *genai.Client
	model  string
	voice  string
}

var _ tts.Provider = (*Provider)(nil)

// New creates a Provider. apiKey must be non-empty.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini tts: apiKey must not be empty")
	}
	o := options{model: defaultModel, voice: defaultVoice}
	for _, opt := range opts {
		opt(&o)
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: o.httpClient,
	}
	if o.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: o.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini tts: create client: %w", err)
	}
	return &Provider{client: client, model: o.model, voice: o.voice}, nil
}

// Voice returns the configured prebuilt voice.
func (p *Provider) Voice() string { return p.voice }

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", tts.ErrEmptyText
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: p.voice},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("gemini tts: generate: %w", err)
	}

	pcm := inlineAudio(resp)
	if len(pcm) == 0 {
		return "", nil
	}
	return audio.EncodeBase64(pcm), nil
}

// inlineAudio concatenates the inline audio parts of the first candidate.
func inlineAudio(resp *genai.GenerateContentResponse) []byte {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var pcm []byte
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil {
			continue
		}
		pcm = append(pcm, part.InlineData.Data...)
	}
	return pcm
}
