// Package tts provides a unified interface for text-to-speech backends.
//
// Two backends are supported: the OpenAI speech API (online) and a local
// Piper HTTP server (offline). Both return 16-bit PCM ready for the
// playback sink, and both implement the Synthesizer interface so the
// pipeline can swap them without changing caller code. Chain composes
// synthesizers into a fallback sequence.
package tts

import (
	"context"
	"time"
)

// Synthesizer converts reply text to speakable audio.
type Synthesizer interface {
	// Synthesize converts text to PCM audio, returning the complete buffer.
	Synthesize(ctx context.Context, text string) (*Result, error)

	// Health checks backend availability.
	Health(ctx context.Context) error

	// Name identifies the backend for logging and error context.
	Name() string

	// Close releases any resources held by the backend.
	Close() error
}

// Result is a complete synthesis result.
type Result struct {
	// Audio contains raw 16-bit little-endian PCM.
	Audio []byte

	// Format describes the sample rate and channel count.
	Format AudioFormat

	// Duration is the playback duration of Audio.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the time to synthesis completion in milliseconds.
	LatencyMs int64
}

// AudioFormat describes PCM parameters.
type AudioFormat struct {
	// SampleRate in Hz (e.g. 16000, 22050, 24000).
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int
}

// pcmDuration computes playback time for a PCM16 buffer.
func pcmDuration(audio []byte, f AudioFormat) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(audio) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
