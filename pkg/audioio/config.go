// Package audioio provides microphone capture and speaker playback.
//
// Three backends are supported:
//   - ALSA (Linux/robot) via the arecord/aplay utilities
//   - Remote - a network microphone streaming opus over websocket
//   - Mock - CI/testing without hardware
//
// The backend is selected per platform, or explicitly via configuration.
package audioio

import (
	"fmt"
	"time"
)

// Backend identifies an audio backend implementation.
type Backend string

const (
	// BackendAuto selects the best available backend for the platform.
	BackendAuto Backend = "auto"
	// BackendALSA uses the ALSA arecord/aplay utilities (Linux).
	BackendALSA Backend = "alsa"
	// BackendMock uses an in-memory implementation for testing.
	BackendMock Backend = "mock"
	// BackendRemote captures from a network microphone streaming opus
	// packets over the dashboard websocket.
	BackendRemote Backend = "remote"
)

// Config holds audio device configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	Backend Backend `yaml:"backend"`

	// SampleRate is the audio sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the number of audio channels.
	Channels int `yaml:"channels"`

	// FrameDuration is the length of one captured frame.
	FrameDuration time.Duration `yaml:"frame_duration"`

	// Device is the ALSA device identifier (e.g. "default", "plughw:1,0").
	Device string `yaml:"device"`
}

// DefaultConfig returns a Config with sensible defaults: 16 kHz mono with
// 32 ms frames (512 samples), which is what the VAD and whisper expect.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendAuto,
		SampleRate:    16000,
		Channels:      1,
		FrameDuration: 32 * time.Millisecond,
		Device:        "",
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.FrameDuration <= 0 {
		return fmt.Errorf("frame_duration must be positive, got %v", c.FrameDuration)
	}
	return nil
}

// FrameSamples returns the number of samples per channel in one frame.
func (c *Config) FrameSamples() int {
	return int(float64(c.SampleRate) * c.FrameDuration.Seconds())
}

// FrameBytes returns the size of one frame in bytes (PCM16).
func (c *Config) FrameBytes() int {
	return c.FrameSamples() * c.Channels * 2
}
