// Package llm defines the Provider interface for text-generation backends.
//
// wicara uses a language model for one-shot drafting only: a prompt goes in,
// a finished script comes out. There is no streaming and no tool calling; the
// live conversation runs on a separate voice model (see package live).
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrEmpty is returned by [Generate] when the backend replied with no text.
var ErrEmpty = errors.New("llm: empty completion")

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional instruction placed before Messages.
	SystemPrompt string

	// Messages is the ordered conversation. For one-shot drafting it holds a
	// single user message.
	Messages []Message

	// Temperature controls randomness in [0.0, 2.0]. Zero uses the provider
	// default.
	Temperature float64

	// MaxTokens caps the reply length. Zero uses the provider default.
	MaxTokens int
}

// CompletionResponse is the result of [Provider.Complete].
type CompletionResponse struct {
	// Content is the full text of the reply.
	Content string

	// Usage contains token accounting, when the backend reports it.
	Usage Usage
}

// Provider is the abstraction over any text-generation backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply. It must
	// return promptly once ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Generate is the one-shot prompt-in, text-out call used for drafting. It
// returns [ErrEmpty] when the reply contains only whitespace.
func Generate(ctx context.Context, p Provider, prompt string) (string, error) {
	resp, err := p.Complete(ctx, CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmpty
	}
	return resp.Content, nil
}
