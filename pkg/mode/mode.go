// Package mode selects between the online and offline backend sets.
//
// All three pipeline stages switch together: a turn is served entirely by
// the online binding (OpenAI transcription, chat, speech) or entirely by
// the offline one (whisper.cpp, local LLM server, Piper). Connectivity
// changes never tear a turn in half; a flip requested mid-turn is queued
// and applied at the next turn boundary.
package mode

import (
	"log/slog"
	"sync"

	"github.com/voxbotics/verba/pkg/llm"
	"github.com/voxbotics/verba/pkg/stt"
	"github.com/voxbotics/verba/pkg/tts"
)

// Mode identifies a backend set.
type Mode int

const (
	Online Mode = iota
	Offline
)

// String returns the mode name.
func (m Mode) String() string {
	if m == Online {
		return "online"
	}
	return "offline"
}

// Binding is the complete backend set serving one mode. A turn holds a
// Binding snapshot for its whole life, so a flip mid-turn cannot mix
// backends within one exchange.
type Binding struct {
	Mode        Mode
	Transcriber stt.Transcriber
	Responder   llm.Responder
	Synthesizer tts.Synthesizer
}

// Controller owns the current mode and the turn-boundary flip rule.
type Controller struct {
	mu      sync.Mutex
	online  Binding
	offline Binding

	current Mode
	pending *Mode
	inTurn  bool

	// failures counts consecutive failed turns in the current mode.
	failures     int
	failureLimit int

	onSwitch func(Mode)
	logger   *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithInitialMode sets the starting mode. Defaults to Online.
func WithInitialMode(m Mode) Option {
	return func(c *Controller) { c.current = m }
}

// WithFailureLimit sets how many consecutive turn failures force a flip to
// the other mode regardless of connectivity. Defaults to 3.
func WithFailureLimit(n int) Option {
	return func(c *Controller) { c.failureLimit = n }
}

// WithSwitchCallback registers a function invoked after every applied flip.
func WithSwitchCallback(fn func(Mode)) Option {
	return func(c *Controller) { c.onSwitch = fn }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger.With("component", "mode") }
}

// NewController creates a controller over the two backend sets.
func NewController(online, offline Binding, opts ...Option) *Controller {
	online.Mode = Online
	offline.Mode = Offline

	c := &Controller{
		online:       online,
		offline:      offline,
		current:      Online,
		failureLimit: 3,
		logger:       slog.Default().With("component", "mode"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetSwitchCallback replaces the applied-flip callback. The orchestrator
// registers here after construction; the callback runs on its own goroutine
// and must not call back into the controller.
func (c *Controller) SetSwitchCallback(fn func(Mode)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSwitch = fn
}

// Current returns the active mode.
func (c *Controller) Current() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetConnectivity requests the mode matching network reachability. The flip
// is applied immediately when no turn is in flight, otherwise queued for
// the next turn boundary.
func (c *Controller) SetConnectivity(reachable bool) {
	desired := Offline
	if reachable {
		desired = Online
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestLocked(desired)
}

// BeginTurn marks a turn in flight and returns the binding snapshot that
// must serve the entire turn.
func (c *Controller) BeginTurn() Binding {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inTurn = true
	return c.bindingLocked()
}

// EndTurn marks the turn complete and applies any queued flip.
func (c *Controller) EndTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inTurn = false
	if c.pending != nil {
		c.applyLocked(*c.pending)
		c.pending = nil
	}
}

// ReportSuccess records a successful turn, resetting the failure streak.
func (c *Controller) ReportSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
}

// ReportFailure records a failed turn. After failureLimit consecutive
// failures the controller forces a flip to the other mode even without a
// connectivity change, covering outages the probe cannot see (DNS breakage,
// API-side incidents, a dead local inference server).
func (c *Controller) ReportFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	if c.failures < c.failureLimit {
		return
	}
	c.failures = 0

	other := Offline
	if c.current == Offline {
		other = Online
	}
	c.logger.Warn("consecutive turn failures, forcing mode flip",
		"from", c.current.String(),
		"to", other.String(),
	)
	c.requestLocked(other)
}

// Close closes both backend sets.
func (c *Controller) Close() error {
	var lastErr error
	for _, b := range []Binding{c.online, c.offline} {
		for _, closer := range []interface{ Close() error }{b.Transcriber, b.Responder, b.Synthesizer} {
			if closer == nil {
				continue
			}
			if err := closer.Close(); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

func (c *Controller) bindingLocked() Binding {
	if c.current == Offline {
		return c.offline
	}
	return c.online
}

func (c *Controller) requestLocked(desired Mode) {
	if desired == c.current {
		c.pending = nil
		return
	}
	if c.inTurn {
		c.pending = &desired
		c.logger.Info("mode flip queued until turn boundary", "to", desired.String())
		return
	}
	c.applyLocked(desired)
}

// applyLocked flips the mode. Callers hold c.mu.
func (c *Controller) applyLocked(desired Mode) {
	if desired == c.current {
		return
	}
	c.current = desired
	c.failures = 0
	c.logger.Info("mode switched", "mode", desired.String())
	if c.onSwitch != nil {
		go c.onSwitch(desired)
	}
}
