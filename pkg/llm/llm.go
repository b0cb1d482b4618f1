// Package llm provides a unified interface for reply generation backends.
//
// The online backend talks to the OpenAI chat completions API directly; the
// offline backend wraps github.com/mozilla-ai/any-llm-go for local inference
// through Ollama or a llama.cpp server. Both implement Responder so the
// pipeline can swap them without changing caller code.
package llm

import (
	"context"
	"strings"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversational context.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request describes one generation call.
type Request struct {
	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string

	// Messages is the conversation history, oldest first.
	Messages []Message

	// MaxTokens bounds the reply length. Zero means backend default.
	MaxTokens int

	// Temperature controls sampling. Zero means backend default.
	Temperature float64
}

// Response is the generated reply.
type Response struct {
	// Text is the reply content, whitespace-trimmed.
	Text string

	// Model is the model that produced the reply.
	Model string

	// PromptTokens and CompletionTokens are usage figures when the backend
	// reports them.
	PromptTokens     int
	CompletionTokens int

	// LatencyMs is the generation wall time in milliseconds.
	LatencyMs int64
}

// Responder generates a conversational reply from dialog context.
type Responder interface {
	// Generate produces a reply for the given request.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Name identifies the backend for logging and error context.
	Name() string

	// Close releases backend resources.
	Close() error
}

// render flattens a request into the message list sent to the backend.
func (r Request) render() []Message {
	msgs := make([]Message, 0, len(r.Messages)+1)
	if r.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: r.SystemPrompt})
	}
	return append(msgs, r.Messages...)
}

// trimReply normalizes backend output.
func trimReply(s string) string {
	return strings.TrimSpace(s)
}
