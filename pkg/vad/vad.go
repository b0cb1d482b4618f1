// Package vad implements energy-based voice activity detection.
//
// Each captured frame is classified as speech or silence against an RMS
// energy threshold smoothed over a short rolling window. The detector turns
// per-frame classifications into SpeechStart/SpeechEnd boundary events:
// a speech run shorter than the minimum speech duration is discarded as
// noise and produces no events at all.
package vad

import (
	"log/slog"
	"math"
	"time"

	"github.com/voxbotics/verba/pkg/audioio"
)

// Event is a speech boundary event produced by the detector.
type Event int

const (
	// EventNone means no boundary was crossed on this frame.
	EventNone Event = iota
	// EventSpeechStart marks the beginning of an utterance.
	EventSpeechStart
	// EventSpeechEnd marks the end of an utterance after sustained silence.
	EventSpeechEnd
)

// String returns a human-readable event name.
func (e Event) String() string {
	switch e {
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	default:
		return "none"
	}
}

// Config holds detector tuning. The thresholds are operator-tunable and come
// from the settings file; the defaults here suit a quiet indoor room with the
// robot's stock microphone.
type Config struct {
	// EnergyThreshold is the smoothed RMS level (in 16-bit PCM units, max
	// 32767) above which a frame counts as speech.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// SilenceDuration is how much sustained silence after speech ends the
	// utterance.
	SilenceDuration time.Duration `yaml:"silence_duration"`

	// MinSpeechDuration is the shortest speech run accepted as a real
	// utterance; anything shorter is treated as noise.
	MinSpeechDuration time.Duration `yaml:"min_speech_duration"`

	// WindowFrames is the size of the rolling RMS smoothing window.
	WindowFrames int `yaml:"window_frames"`
}

// DefaultConfig returns detector defaults: a near-silence threshold of 500,
// 800 ms of trailing silence, a 200 ms noise gate and a 3-frame window.
func DefaultConfig() Config {
	return Config{
		EnergyThreshold:   500,
		SilenceDuration:   800 * time.Millisecond,
		MinSpeechDuration: 200 * time.Millisecond,
		WindowFrames:      3,
	}
}

// Detector classifies frames and emits speech boundary events.
// It is not safe for concurrent use; the capture loop owns it.
type Detector struct {
	cfg    Config
	logger *slog.Logger

	speaking   bool
	speechRun  time.Duration
	silenceRun time.Duration

	window []float64
}

// New creates a detector with the given configuration.
func New(cfg Config, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WindowFrames < 1 {
		cfg.WindowFrames = 1
	}
	return &Detector{
		cfg:    cfg,
		logger: logger.With("component", "vad"),
	}
}

// Process classifies one frame and returns the boundary event it triggers,
// if any. A Dropped frame resets the smoothing window so the capture gap is
// not misread as silence.
func (d *Detector) Process(f audioio.Frame) Event {
	if f.Dropped {
		d.window = d.window[:0]
	}

	energy := d.smooth(RMS(f.Samples))
	isSpeech := energy > d.cfg.EnergyThreshold
	dur := f.Duration()

	if !d.speaking {
		if isSpeech {
			d.speechRun += dur
			d.silenceRun = 0
			if d.speechRun >= d.cfg.MinSpeechDuration {
				d.speaking = true
				d.logger.Debug("speech started", "energy", energy)
				return EventSpeechStart
			}
		} else {
			// Run died before the noise gate opened; discard it.
			d.speechRun = 0
		}
		return EventNone
	}

	if isSpeech {
		d.silenceRun = 0
		return EventNone
	}

	d.silenceRun += dur
	if d.silenceRun >= d.cfg.SilenceDuration {
		d.speaking = false
		d.speechRun = 0
		d.silenceRun = 0
		d.logger.Debug("speech ended")
		return EventSpeechEnd
	}
	return EventNone
}

// IsSpeaking reports whether the detector is inside an utterance.
func (d *Detector) IsSpeaking() bool { return d.speaking }

// Reset clears all detector state.
func (d *Detector) Reset() {
	d.speaking = false
	d.speechRun = 0
	d.silenceRun = 0
	d.window = d.window[:0]
}

func (d *Detector) smooth(rms float64) float64 {
	d.window = append(d.window, rms)
	if len(d.window) > d.cfg.WindowFrames {
		d.window = d.window[1:]
	}
	var sum float64
	for _, v := range d.window {
		sum += v
	}
	return sum / float64(len(d.window))
}

// RMS computes the root-mean-square energy of PCM16 samples.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
