package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
)

// AnyLLM implements Responder by wrapping github.com/mozilla-ai/any-llm-go.
// It is the offline path: it targets a local inference server (Ollama or
// llama.cpp) and needs no API key or network.
type AnyLLM struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// NewAnyLLM creates a responder for the given local provider name, one of
// "ollama" or "llamacpp".
//
// opts are any-llm-go options (e.g. anyllmlib.WithBaseURL to point at a
// non-default server address).
func NewAnyLLM(providerName, model string, opts ...anyllmlib.Option) (*AnyLLM, error) {
	if model == "" {
		return nil, ErrNoModel
	}

	var (
		backend anyllmlib.Provider
		err     error
	)
	switch strings.ToLower(providerName) {
	case "ollama":
		backend, err = ollama.New(opts...)
	case "llamacpp":
		backend, err = llamacpp.New(opts...)
	default:
		return nil, fmt.Errorf("llm: unsupported local provider %q; supported: ollama, llamacpp", providerName)
	}
	if err != nil {
		return nil, WrapError(providerName, fmt.Errorf("create backend: %w", err))
	}

	return &AnyLLM{backend: backend, name: providerName, model: model}, nil
}

// NewOllama creates a responder backed by Ollama. Without options it
// connects to http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*AnyLLM, error) {
	return NewAnyLLM("ollama", model, opts...)
}

// NewLlamaCpp creates a responder backed by a running llama.cpp server.
// Without options it connects to http://127.0.0.1:8080/v1.
func NewLlamaCpp(model string, opts ...anyllmlib.Option) (*AnyLLM, error) {
	return NewAnyLLM("llamacpp", model, opts...)
}

// Generate produces a reply via the local inference server.
func (a *AnyLLM) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	params := anyllmlib.CompletionParams{
		Model:    a.model,
		Messages: a.buildMessages(req),
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	if req.Temperature > 0 {
		t := req.Temperature
		params.Temperature = &t
	}

	resp, err := a.backend.Completion(ctx, params)
	if err != nil {
		return nil, WrapError(a.name, fmt.Errorf("completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, WrapError(a.name, ErrEmptyResponse)
	}

	text := trimReply(resp.Choices[0].Message.ContentString())
	if text == "" {
		return nil, WrapError(a.name, ErrEmptyResponse)
	}

	out := &Response{
		Text:      text,
		Model:     a.model,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if resp.Usage != nil {
		out.PromptTokens = resp.Usage.PromptTokens
		out.CompletionTokens = resp.Usage.CompletionTokens
	}
	return out, nil
}

// buildMessages converts a Request into any-llm message form.
func (a *AnyLLM) buildMessages(req Request) []anyllmlib.Message {
	var messages []anyllmlib.Message
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return messages
}

// Name identifies the backend.
func (a *AnyLLM) Name() string { return a.name }

// Close is a no-op; local servers own their own lifecycle.
func (a *AnyLLM) Close() error { return nil }

// Verify AnyLLM implements Responder at compile time.
var _ Responder = (*AnyLLM)(nil)
