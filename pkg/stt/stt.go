// Package stt provides a unified interface for speech-to-text backends.
//
// Two backends are supported: the OpenAI transcription API (online) and
// whisper.cpp via CGO bindings (offline). Both implement the Transcriber
// interface so the pipeline can swap them without changing caller code.
package stt

import (
	"context"
	"time"
)

// Transcriber converts a finalized speech segment to text.
type Transcriber interface {
	// Transcribe runs speech recognition over 16-bit mono PCM samples.
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (*Transcript, error)

	// Name identifies the backend for logging and error context.
	Name() string

	// Close releases backend resources (loaded models, idle connections).
	Close() error
}

// Transcript is the result of recognizing one speech segment.
type Transcript struct {
	// Text is the recognized utterance, whitespace-trimmed.
	Text string

	// Language is the detected or configured BCP-47 language code.
	Language string

	// Duration is the audio duration that was recognized.
	Duration time.Duration

	// LatencyMs is the recognition wall time in milliseconds.
	LatencyMs int64
}

// Empty reports whether recognition produced no usable text.
func (t *Transcript) Empty() bool {
	return t == nil || t.Text == ""
}
