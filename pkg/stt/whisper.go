// This file contains the offline Transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const backendWhisper = "whisper"

// Whisper implements Transcriber using whisper.cpp Go bindings, eliminating
// network dependence entirely. The model is loaded once at construction and
// held for the life of the transcriber.
type Whisper struct {
	model    whisperlib.Model
	language string
	logger   *slog.Logger

	// whisper contexts are not thread-safe; serialize inference.
	mu sync.Mutex
}

// WhisperOption configures the native transcriber.
type WhisperOption func(*Whisper)

// WithWhisperLanguage sets the BCP-47 language code. Defaults to "en".
func WithWhisperLanguage(lang string) WhisperOption {
	return func(w *Whisper) { w.language = lang }
}

// WithWhisperLogger sets the structured logger.
func WithWhisperLogger(logger *slog.Logger) WhisperOption {
	return func(w *Whisper) { w.logger = logger }
}

// NewWhisper loads a ggml model from disk and returns an offline
// transcriber. The caller must call Close when done.
func NewWhisper(modelPath string, opts ...WhisperOption) (*Whisper, error) {
	if modelPath == "" {
		return nil, ErrNoModel
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, WrapError(backendWhisper, fmt.Errorf("load model %q: %w", modelPath, err))
	}

	w := &Whisper{
		model:    model,
		language: "en",
		logger:   slog.Default().With("component", "stt.whisper"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Transcribe runs local inference over the segment.
func (w *Whisper) Transcribe(ctx context.Context, samples []int16, sampleRate int) (*Transcript, error) {
	if len(samples) == 0 {
		return nil, WrapError(backendWhisper, ErrEmptyAudio)
	}
	if err := ctx.Err(); err != nil {
		return nil, WrapError(backendWhisper, err)
	}

	start := time.Now()
	conditioned := Condition(samples, sampleRate)

	w.mu.Lock()
	text, err := w.infer(conditioned)
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, WrapError(backendWhisper, ErrEmptyTranscript)
	}

	latency := time.Since(start).Milliseconds()
	w.logger.Debug("transcribed segment",
		"samples", len(samples),
		"chars", len(text),
		"latency_ms", latency,
	)

	return &Transcript{
		Text:      text,
		Language:  w.language,
		Duration:  time.Duration(len(samples)) * time.Second / time.Duration(sampleRate),
		LatencyMs: latency,
	}, nil
}

// infer creates a fresh whisper context, runs inference, and concatenates
// the resulting segments.
func (w *Whisper) infer(samples []float32) (string, error) {
	wctx, err := w.model.NewContext()
	if err != nil {
		return "", WrapError(backendWhisper, fmt.Errorf("create context: %w", err))
	}

	if err := wctx.SetLanguage(w.language); err != nil {
		w.logger.Warn("failed to set language, using default",
			"language", w.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", WrapError(backendWhisper, fmt.Errorf("process audio: %w", err))
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", WrapError(backendWhisper, fmt.Errorf("read segment: %w", err))
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

// Name identifies the backend.
func (w *Whisper) Name() string { return backendWhisper }

// Close releases the loaded model.
func (w *Whisper) Close() error {
	if w.model != nil {
		return w.model.Close()
	}
	return nil
}

// Verify Whisper implements Transcriber at compile time.
var _ Transcriber = (*Whisper)(nil)
