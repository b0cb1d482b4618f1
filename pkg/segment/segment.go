// Package segment buffers captured frames between VAD speech boundaries into
// complete utterances.
package segment

import (
	"time"

	"github.com/google/uuid"
	"github.com/voxbotics/verba/pkg/audioio"
)

// Reason records why a segment was closed.
type Reason int

const (
	// ReasonSilence means the trailing-silence timeout closed the segment.
	ReasonSilence Reason = iota
	// ReasonMaxDuration means the segment hit the maximum length cutoff
	// while speech was still running.
	ReasonMaxDuration
	// ReasonInterrupt means the pipeline force-closed the segment, e.g. on
	// shutdown.
	ReasonInterrupt
)

// String returns a human-readable close reason.
func (r Reason) String() string {
	switch r {
	case ReasonSilence:
		return "silence_timeout"
	case ReasonMaxDuration:
		return "max_duration"
	case ReasonInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// Segment is one complete utterance: a contiguous, temporally ordered run of
// frames between a speech start and a speech end. It is consumed exactly once
// by transcription and then discarded.
type Segment struct {
	// ID uniquely identifies the segment for logging and transcripts.
	ID string

	// Frames are the buffered audio frames, in capture order.
	Frames []audioio.Frame

	// Start is the timestamp of the first frame.
	Start time.Time

	// End is the timestamp when the segment was closed.
	End time.Time

	// Reason records why the segment closed.
	Reason Reason

	// SampleRate and Channels describe the PCM format of all frames.
	SampleRate int
	Channels   int
}

func newSegment(sampleRate, channels int) *Segment {
	return &Segment{
		ID:         uuid.NewString(),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// Duration returns the total audio duration of the segment.
func (s *Segment) Duration() time.Duration {
	var d time.Duration
	for i := range s.Frames {
		d += s.Frames[i].Duration()
	}
	return d
}

// PCM returns the segment audio as contiguous PCM16 little-endian bytes.
func (s *Segment) PCM() []byte {
	var n int
	for i := range s.Frames {
		n += len(s.Frames[i].Samples) * 2
	}
	out := make([]byte, 0, n)
	for i := range s.Frames {
		out = append(out, s.Frames[i].Bytes()...)
	}
	return out
}

// Samples returns the segment audio as a single PCM16 sample slice.
func (s *Segment) Samples() []int16 {
	var n int
	for i := range s.Frames {
		n += len(s.Frames[i].Samples)
	}
	out := make([]int16, 0, n)
	for i := range s.Frames {
		out = append(out, s.Frames[i].Samples...)
	}
	return out
}
