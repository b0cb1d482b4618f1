// Package decision gates which transcripts the robot replies to.
//
// There is no wake word: the robot hears everything and must judge whether
// an utterance was addressed to it. The primary judge is a small local
// language model returning a strict JSON verdict; when the model fails or
// returns garbage, a heuristic fallback still produces a verdict so a turn
// is never stuck undecided.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxbotics/verba/pkg/llm"
)

// Verdict is the respond decision for one transcript.
type Verdict struct {
	// Respond is true when the robot should reply.
	Respond bool `json:"respond"`

	// Reason is a short model- or heuristic-supplied explanation,
	// surfaced in logs and the dashboard.
	Reason string `json:"reason"`

	// Source records what produced the verdict: "model" or "heuristic".
	Source string `json:"-"`
}

// Gate decides whether a transcript deserves a reply. history is the recent
// conversation, oldest first; it lets the judge recognize an utterance that
// continues an open topic rather than relying on timing alone.
type Gate interface {
	Decide(ctx context.Context, transcript string, history []llm.Message) Verdict

	// NoteInteraction records that the robot just finished an exchange,
	// opening the continuation window.
	NoteInteraction()
}

// Config tunes the gate.
type Config struct {
	// RobotName is the name users address the robot by.
	RobotName string `yaml:"robot_name"`

	// ContinuationWindow is how long after an exchange any utterance is
	// assumed to continue the conversation.
	ContinuationWindow time.Duration `yaml:"continuation_window"`

	// Timeout bounds the model call before falling back to heuristics.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns gate defaults.
func DefaultConfig() Config {
	return Config{
		RobotName:          "Verba",
		ContinuationWindow: 12 * time.Second,
		Timeout:            4 * time.Second,
	}
}

const decisionPrompt = `You decide whether a robot named %q should reply to something overheard near it.
The robot should reply when it is addressed directly, asked a question, or when the utterance continues the recent conversation shown to you. It should stay silent for background chatter, talk between other people, and media playing nearby.
Respond with ONLY a JSON object: {"respond": true or false, "reason": "short explanation"}`

// historyContext is the number of trailing conversation messages shown to
// the judge. Enough to carry the open topic without blowing the tiny
// context of a local model.
const historyContext = 6

// ModelGate implements Gate with a local model plus heuristic fallback.
// The model is always a local backend so the gate works identically in
// both connectivity modes.
type ModelGate struct {
	cfg       Config
	responder llm.Responder
	logger    *slog.Logger

	mu           sync.Mutex
	lastExchange time.Time
}

// NewModelGate creates the gate. responder may be nil, in which case every
// verdict comes from the heuristics.
func NewModelGate(cfg Config, responder llm.Responder, logger *slog.Logger) *ModelGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelGate{
		cfg:       cfg,
		responder: responder,
		logger:    logger.With("component", "decision"),
	}
}

// Decide produces a verdict for the transcript. Non-empty input always
// yields a verdict; model failure degrades to heuristics, never to an error.
func (g *ModelGate) Decide(ctx context.Context, transcript string, history []llm.Message) Verdict {
	text := strings.TrimSpace(transcript)
	if text == "" {
		return Verdict{Respond: false, Reason: "empty transcript", Source: "heuristic"}
	}

	if g.responder != nil {
		if v, err := g.askModel(ctx, text, history); err == nil {
			return v
		} else {
			g.logger.Warn("model verdict failed, using heuristics", "error", err)
		}
	}

	return g.heuristic(text)
}

// NoteInteraction opens the continuation window.
func (g *ModelGate) NoteInteraction() {
	g.mu.Lock()
	g.lastExchange = time.Now()
	g.mu.Unlock()
}

// askModel queries the local model for a strict JSON verdict. The tail of
// the conversation is inlined into the user message so the judge sees the
// open topic, not just the bare utterance.
func (g *ModelGate) askModel(ctx context.Context, text string, history []llm.Message) (Verdict, error) {
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	var b strings.Builder
	if tail := historyTail(history, historyContext); len(tail) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range tail {
			speaker := "person"
			if m.Role == llm.RoleAssistant {
				speaker = "robot"
			}
			fmt.Fprintf(&b, "%s: %s\n", speaker, m.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Utterance to judge: %q", text)

	resp, err := g.responder.Generate(ctx, llm.Request{
		SystemPrompt: fmt.Sprintf(decisionPrompt, g.cfg.RobotName),
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: b.String()},
		},
		MaxTokens:   80,
		Temperature: 0.1,
	})
	if err != nil {
		return Verdict{}, err
	}

	var v Verdict
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &v); err != nil {
		return Verdict{}, fmt.Errorf("parse verdict %q: %w", resp.Text, err)
	}
	v.Source = "model"
	return v, nil
}

// heuristic produces a verdict without a model: name addressing, the
// continuation window, and question shape.
func (g *ModelGate) heuristic(text string) Verdict {
	lower := strings.ToLower(text)

	if g.cfg.RobotName != "" && strings.Contains(lower, strings.ToLower(g.cfg.RobotName)) {
		return Verdict{Respond: true, Reason: "addressed by name", Source: "heuristic"}
	}

	g.mu.Lock()
	last := g.lastExchange
	g.mu.Unlock()
	if !last.IsZero() && time.Since(last) < g.cfg.ContinuationWindow {
		return Verdict{Respond: true, Reason: "within continuation window", Source: "heuristic"}
	}

	if strings.HasSuffix(strings.TrimRight(text, " "), "?") || startsInterrogative(lower) {
		return Verdict{Respond: true, Reason: "question", Source: "heuristic"}
	}

	return Verdict{Respond: false, Reason: "background speech", Source: "heuristic"}
}

var interrogatives = []string{
	"who", "what", "when", "where", "why", "how",
	"can", "could", "would", "will", "do", "does", "did",
	"is", "are", "should", "tell me", "please",
}

func startsInterrogative(lower string) bool {
	for _, w := range interrogatives {
		if strings.HasPrefix(lower, w+" ") {
			return true
		}
	}
	return false
}

// historyTail returns the last n messages, oldest first.
func historyTail(history []llm.Message, n int) []llm.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// extractJSON strips markdown fences and surrounding prose that small
// models often wrap around JSON output.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// Verify ModelGate implements Gate at compile time.
var _ Gate = (*ModelGate)(nil)
