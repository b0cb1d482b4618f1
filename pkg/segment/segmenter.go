package segment

import (
	"log/slog"
	"time"

	"github.com/voxbotics/verba/pkg/audioio"
	"github.com/voxbotics/verba/pkg/vad"
)

// State is the segmenter's position in its utterance lifecycle.
type State int

const (
	// StateIdle - waiting for a speech start.
	StateIdle State = iota
	// StateCollecting - an utterance is open and accumulating frames.
	StateCollecting
	// StateFinalizing - the utterance is being closed and emitted.
	// This state is transient; observers normally see Idle or Collecting.
	StateFinalizing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCollecting:
		return "COLLECTING"
	case StateFinalizing:
		return "FINALIZING"
	default:
		return "UNKNOWN"
	}
}

// Config holds segmenter tuning.
type Config struct {
	// MaxDuration force-closes a segment still collecting past this length,
	// so runaway speech or noise cannot buffer unbounded audio.
	MaxDuration time.Duration `yaml:"max_duration"`

	// PrefixPadding is how much audio from immediately before the speech
	// start is prepended to the segment. The VAD's noise gate means the
	// start event fires a little after the first spoken word; the padding
	// keeps that onset.
	PrefixPadding time.Duration `yaml:"prefix_padding"`

	// QueueDepth is the capacity of the outgoing segment queue. Segments
	// completed while a turn is still inferring wait here for the next turn.
	QueueDepth int `yaml:"queue_depth"`
}

// DefaultConfig returns segmenter defaults: 30s cutoff, 300ms prefix padding
// and room for 8 queued utterances.
func DefaultConfig() Config {
	return Config{
		MaxDuration:   30 * time.Second,
		PrefixPadding: 300 * time.Millisecond,
		QueueDepth:    8,
	}
}

// Segmenter is the IDLE → COLLECTING → FINALIZING → IDLE state machine that
// turns VAD boundary events into complete segments. At most one segment is
// open at a time, and closed segments are emitted downstream in strict FIFO
// order. It is driven by the single capture goroutine and is not safe for
// concurrent use.
type Segmenter struct {
	cfg    Config
	logger *slog.Logger

	state State
	open  *Segment

	// preroll holds recent frames while idle, for prefix padding.
	preroll    []audioio.Frame
	prerollDur time.Duration

	out chan *Segment

	dropped int64
}

// NewSegmenter creates a segmenter with the given configuration.
func NewSegmenter(cfg Config, logger *slog.Logger) *Segmenter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 1
	}
	return &Segmenter{
		cfg:    cfg,
		logger: logger.With("component", "segmenter"),
		out:    make(chan *Segment, cfg.QueueDepth),
	}
}

// Process advances the state machine with one frame and the VAD event it
// produced.
func (s *Segmenter) Process(f audioio.Frame, ev vad.Event) {
	switch s.state {
	case StateIdle:
		s.pushPreroll(f)
		if ev == vad.EventSpeechStart {
			s.openSegment(f)
		}

	case StateCollecting:
		s.open.Frames = append(s.open.Frames, f)
		if ev == vad.EventSpeechEnd {
			s.finalize(ReasonSilence)
			return
		}
		if s.open.Duration() >= s.cfg.MaxDuration {
			s.finalize(ReasonMaxDuration)
		}
	}
}

// Flush force-closes any open segment with ReasonInterrupt and emits it.
// Returns true if a segment was flushed.
func (s *Segmenter) Flush() bool {
	if s.state != StateCollecting {
		return false
	}
	s.finalize(ReasonInterrupt)
	return true
}

// Segments returns the FIFO channel of completed utterances.
func (s *Segmenter) Segments() <-chan *Segment { return s.out }

// State returns the current machine state.
func (s *Segmenter) State() State { return s.state }

// Close closes the output channel. Call only after the capture loop has
// stopped driving Process.
func (s *Segmenter) Close() {
	close(s.out)
}

func (s *Segmenter) openSegment(f audioio.Frame) {
	seg := newSegment(f.SampleRate, f.Channels)

	// The preroll already contains f (pushed above); take the padded tail
	// as the opening frames so the utterance onset is preserved.
	seg.Frames = append(seg.Frames, s.preroll...)
	if len(seg.Frames) > 0 {
		seg.Start = seg.Frames[0].Timestamp
	} else {
		seg.Start = f.Timestamp
	}
	s.preroll = nil
	s.prerollDur = 0

	s.open = seg
	s.state = StateCollecting
	s.logger.Debug("segment opened", "segment_id", seg.ID)
}

func (s *Segmenter) finalize(reason Reason) {
	s.state = StateFinalizing

	seg := s.open
	s.open = nil
	seg.End = time.Now()
	seg.Reason = reason

	select {
	case s.out <- seg:
		s.logger.Debug("segment closed",
			"segment_id", seg.ID,
			"reason", reason.String(),
			"duration_ms", seg.Duration().Milliseconds(),
			"frames", len(seg.Frames),
		)
	default:
		// The turn pipeline is badly backed up; shedding the oldest
		// audio would reorder, so shed this one and log it.
		s.dropped++
		s.logger.Warn("segment queue full, discarding utterance",
			"segment_id", seg.ID,
			"queued", cap(s.out),
		)
	}

	s.state = StateIdle
}

func (s *Segmenter) pushPreroll(f audioio.Frame) {
	s.preroll = append(s.preroll, f)
	s.prerollDur += f.Duration()
	for len(s.preroll) > 0 && s.prerollDur > s.cfg.PrefixPadding {
		s.prerollDur -= s.preroll[0].Duration()
		s.preroll = s.preroll[1:]
	}
}
