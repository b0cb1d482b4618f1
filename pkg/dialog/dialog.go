// Package dialog holds the conversation history shared between turns.
package dialog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxbotics/verba/pkg/llm"
)

// Turn is one completed user/robot exchange.
type Turn struct {
	ID       uuid.UUID `json:"id"`
	UserText string    `json:"user_text"`
	// ReplyText is what the robot said, or tried to say.
	ReplyText string `json:"reply_text"`
	// Spoken is false when synthesis failed and the reply text was only
	// recorded, not voiced.
	Spoken bool      `json:"spoken"`
	Mode   string    `json:"mode"`
	At     time.Time `json:"at"`
}

// History is the append-only turn record feeding generation context.
// Safe for concurrent use.
type History struct {
	mu       sync.RWMutex
	turns    []Turn
	maxTurns int
	lastAct  time.Time
}

// NewHistory creates a history keeping at most maxTurns of context.
// maxTurns <= 0 means unlimited.
func NewHistory(maxTurns int) *History {
	return &History{maxTurns: maxTurns}
}

// Append records a completed turn and bumps the activity clock.
func (h *History) Append(t Turn) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, t)
	if h.maxTurns > 0 && len(h.turns) > h.maxTurns {
		h.turns = h.turns[len(h.turns)-h.maxTurns:]
	}
	h.lastAct = t.At
}

// Touch bumps the activity clock without recording a turn, keeping the
// session alive while the user is mid-exchange.
func (h *History) Touch() {
	h.mu.Lock()
	h.lastAct = time.Now()
	h.mu.Unlock()
}

// Messages renders the history as generation context, oldest first.
// Unspoken replies are included: the robot committed to them even if the
// speaker never voiced them.
func (h *History) Messages() []llm.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msgs := make([]llm.Message, 0, len(h.turns)*2)
	for _, t := range h.turns {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: t.UserText})
		if t.ReplyText != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: t.ReplyText})
		}
	}
	return msgs
}

// Turns returns a copy of the recorded turns.
func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Turn(nil), h.turns...)
}

// Len returns the number of recorded turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// IdleSince reports how long the conversation has been inactive.
// Returns false when nothing has happened yet.
func (h *History) IdleSince() (time.Duration, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lastAct.IsZero() {
		return 0, false
	}
	return time.Since(h.lastAct), true
}

// Reset clears the conversation, starting a fresh session.
func (h *History) Reset() {
	h.mu.Lock()
	h.turns = nil
	h.lastAct = time.Time{}
	h.mu.Unlock()
}
