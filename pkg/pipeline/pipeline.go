// Package pipeline wires microphone capture, voice activity detection,
// segmentation, and the turn loop into the always-listening conversation
// engine.
//
// Two goroutines do the work. The capture loop pulls frames from the audio
// source, feeds the detector and segmenter, and fires barge-in when speech
// starts during playback. The turn loop drains finalized segments strictly
// in order and runs each through transcribe, decide, generate, and speak
// using a backend binding snapshotted at the start of the turn.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxbotics/verba/pkg/audioio"
	"github.com/voxbotics/verba/pkg/connectivity"
	"github.com/voxbotics/verba/pkg/decision"
	"github.com/voxbotics/verba/pkg/dialog"
	"github.com/voxbotics/verba/pkg/llm"
	"github.com/voxbotics/verba/pkg/mode"
	"github.com/voxbotics/verba/pkg/segment"
	"github.com/voxbotics/verba/pkg/stt"
	"github.com/voxbotics/verba/pkg/vad"
)

// State is the robot's externally visible activity.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
)

// Callbacks are optional observers for the dashboard. All callbacks are
// invoked from pipeline goroutines and must not block.
type Callbacks struct {
	OnState func(State)
	OnTurn  func(dialog.Turn)
	OnMode  func(mode.Mode)
}

// Config tunes the orchestrator.
type Config struct {
	SystemPrompt   string
	Apology        string
	MaxReplyTokens int
	Temperature    float64
	SessionTimeout time.Duration
}

// Orchestrator runs the conversation engine.
type Orchestrator struct {
	cfg Config

	source    audioio.Source
	sink      audioio.Sink
	detector  *vad.Detector
	segmenter *segment.Segmenter
	modes     *mode.Controller
	gate      decision.Gate
	history   *dialog.History
	monitor   *connectivity.Monitor

	callbacks Callbacks
	logger    *slog.Logger

	mu         sync.Mutex
	state      State
	turnCancel context.CancelFunc
	speaking   bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMonitor attaches a connectivity monitor whose debounced flips drive
// the mode controller.
func WithMonitor(m *connectivity.Monitor) Option {
	return func(o *Orchestrator) { o.monitor = m }
}

// WithCallbacks registers dashboard observers.
func WithCallbacks(cb Callbacks) Option {
	return func(o *Orchestrator) { o.callbacks = cb }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger.With("component", "pipeline") }
}

// New creates the orchestrator. All stage dependencies are required except
// the monitor.
func New(
	cfg Config,
	source audioio.Source,
	sink audioio.Sink,
	detector *vad.Detector,
	segmenter *segment.Segmenter,
	modes *mode.Controller,
	gate decision.Gate,
	history *dialog.History,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		source:    source,
		sink:      sink,
		detector:  detector,
		segmenter: segmenter,
		modes:     modes,
		gate:      gate,
		history:   history,
		state:     StateIdle,
		logger:    slog.Default().With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	modes.SetSwitchCallback(o.noteModeSwitch)
	return o
}

// noteModeSwitch observes every applied flip, immediate or deferred to a
// turn boundary.
func (o *Orchestrator) noteModeSwitch(m mode.Mode) {
	modeFlipsTotal.WithLabelValues(m.String()).Inc()
	if o.callbacks.OnMode != nil {
		o.callbacks.OnMode(m)
	}
}

// Run starts capture and the turn loop and blocks until the context is
// cancelled or a loop fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.source.Start(ctx); err != nil {
		return err
	}
	if err := o.sink.Start(ctx); err != nil {
		o.source.Stop()
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return o.captureLoop(ctx) })
	g.Go(func() error { return o.turnLoop(ctx) })
	if o.monitor != nil {
		g.Go(func() error { return o.monitor.Run(ctx) })
		g.Go(func() error { return o.connectivityLoop(ctx) })
	}

	err := g.Wait()

	o.segmenter.Close()
	o.source.Stop()
	o.sink.Stop()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// State returns the current activity state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// captureLoop feeds frames into detection and segmentation and triggers
// barge-in on speech onset.
func (o *Orchestrator) captureLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-o.source.Stream():
			if !ok {
				return audioio.ErrSourceClosed
			}

			ev := o.detector.Process(f)
			switch ev {
			case vad.EventSpeechStart:
				o.bargeIn()
				o.setState(StateListening)
			case vad.EventSpeechEnd:
				o.setState(StateThinking)
			}
			o.segmenter.Process(f, ev)
		}
	}
}

// bargeIn interrupts an in-flight turn when the user starts talking over
// it: playback is flushed immediately and the turn context is cancelled so
// a stale reply is never spoken.
func (o *Orchestrator) bargeIn() {
	o.mu.Lock()
	cancel := o.turnCancel
	speaking := o.speaking
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	if speaking {
		bargeInsTotal.Inc()
		o.logger.Info("barge-in, stopping playback")
		if err := o.sink.Clear(); err != nil {
			o.logger.Warn("clear playback", "error", err)
		}
	}
	cancel()
}

// turnLoop drains segments strictly in arrival order.
func (o *Orchestrator) turnLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case seg, ok := <-o.segmenter.Segments():
			if !ok {
				return nil
			}
			segmentsTotal.Inc()
			o.handleTurn(ctx, seg)
		}
	}
}

// connectivityLoop applies debounced reachability flips to the mode
// controller.
func (o *Orchestrator) connectivityLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case reachable := <-o.monitor.Updates():
			o.modes.SetConnectivity(reachable)
		}
	}
}

// handleTurn runs one segment through the full stage sequence. The binding
// snapshot taken at the start serves the whole turn.
func (o *Orchestrator) handleTurn(ctx context.Context, seg *segment.Segment) {
	o.maybeResetSession()

	binding := o.modes.BeginTurn()
	defer o.modes.EndTurn()

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.setTurnCancel(cancel)
	defer o.setTurnCancel(nil)

	o.setState(StateThinking)
	defer o.setState(StateIdle)

	logger := o.logger.With("segment", seg.ID, "mode", binding.Mode.String())

	// Transcribe.
	start := time.Now()
	tr, err := binding.Transcriber.Transcribe(turnCtx, seg.Samples(), seg.SampleRate)
	stageSeconds.WithLabelValues("transcribe", binding.Transcriber.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		if turnCtx.Err() != nil {
			turnsTotal.WithLabelValues("interrupted").Inc()
			return
		}
		// Silence that slipped past the VAD is normal, not a backend fault.
		if errors.Is(err, stt.ErrEmptyTranscript) {
			logger.Debug("empty transcript, dropping segment")
			turnsTotal.WithLabelValues("empty").Inc()
			return
		}
		logger.Error("transcription failed", "error", err)
		turnsTotal.WithLabelValues("transcribe_error").Inc()
		o.modes.ReportFailure()
		return
	}
	if tr.Empty() {
		logger.Debug("empty transcript, dropping segment")
		turnsTotal.WithLabelValues("empty").Inc()
		return
	}
	logger.Info("heard", "text", tr.Text, "duration", seg.Duration().String())
	o.history.Touch()

	// Decide.
	verdict := o.gate.Decide(turnCtx, tr.Text, o.history.Messages())
	if !verdict.Respond {
		logger.Debug("not responding", "reason", verdict.Reason)
		turnsTotal.WithLabelValues("ignored").Inc()
		return
	}

	// Generate.
	start = time.Now()
	reply, genErr := binding.Responder.Generate(turnCtx, llm.Request{
		SystemPrompt: o.cfg.SystemPrompt,
		Messages: append(o.history.Messages(),
			llm.Message{Role: llm.RoleUser, Content: tr.Text}),
		MaxTokens:   o.cfg.MaxReplyTokens,
		Temperature: o.cfg.Temperature,
	})
	stageSeconds.WithLabelValues("generate", binding.Responder.Name()).Observe(time.Since(start).Seconds())

	replyText := ""
	switch {
	case genErr == nil:
		replyText = reply.Text
		o.modes.ReportSuccess()
	case turnCtx.Err() != nil:
		turnsTotal.WithLabelValues("interrupted").Inc()
		return
	default:
		// The user spoke and expects an answer; apologize rather than
		// go silent.
		logger.Error("generation failed, speaking apology", "error", genErr)
		replyText = o.cfg.Apology
		o.modes.ReportFailure()
	}

	// Speak.
	spoken := o.speak(turnCtx, binding, replyText, logger)

	turn := dialog.Turn{
		UserText:  tr.Text,
		ReplyText: replyText,
		Spoken:    spoken,
		Mode:      binding.Mode.String(),
	}
	o.history.Append(turn)
	o.gate.NoteInteraction()
	if o.callbacks.OnTurn != nil {
		o.callbacks.OnTurn(turn)
	}

	if genErr == nil {
		turnsTotal.WithLabelValues("ok").Inc()
	} else {
		turnsTotal.WithLabelValues("apology").Inc()
	}
}

// speak synthesizes and plays the reply. Returns false when synthesis
// failed and the reply exists only as text in the history.
func (o *Orchestrator) speak(ctx context.Context, binding mode.Binding, text string, logger *slog.Logger) bool {
	start := time.Now()
	result, err := binding.Synthesizer.Synthesize(ctx, text)
	stageSeconds.WithLabelValues("synthesize", binding.Synthesizer.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("synthesis failed, reply recorded unspoken", "error", err)
			o.modes.ReportFailure()
		}
		return false
	}

	o.setState(StateSpeaking)
	o.setSpeaking(true)
	defer o.setSpeaking(false)

	frameSamples := result.Format.SampleRate * 20 / 1000
	frames := audioio.FramesFromPCM(result.Audio, result.Format.SampleRate, result.Format.Channels, frameSamples)
	for _, f := range frames {
		if err := o.sink.Write(ctx, f); err != nil {
			if ctx.Err() != nil {
				// Barge-in or shutdown mid-playback; the reply was
				// partially voiced.
				return true
			}
			logger.Error("playback failed", "error", err)
			return false
		}
	}

	if err := o.sink.Flush(ctx); err != nil && ctx.Err() == nil {
		logger.Warn("playback flush", "error", err)
	}
	return true
}

// maybeResetSession clears stale conversation context after a long quiet
// stretch so an old topic does not color a fresh exchange.
func (o *Orchestrator) maybeResetSession() {
	if o.cfg.SessionTimeout <= 0 {
		return
	}
	idle, ok := o.history.IdleSince()
	if ok && idle > o.cfg.SessionTimeout {
		o.logger.Info("session timed out, resetting conversation", "idle", idle.String())
		o.history.Reset()
		sessionResetsTotal.Inc()
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	changed := o.state != s
	o.state = s
	o.mu.Unlock()

	if changed && o.callbacks.OnState != nil {
		o.callbacks.OnState(s)
	}
}

func (o *Orchestrator) setTurnCancel(cancel context.CancelFunc) {
	o.mu.Lock()
	o.turnCancel = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) setSpeaking(v bool) {
	o.mu.Lock()
	o.speaking = v
	o.mu.Unlock()
}
