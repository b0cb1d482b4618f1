package audioio

import (
	"context"
	"io"
)

// Sink plays audio to a speaker.
type Sink interface {
	// Start prepares the output device for playback.
	Start(ctx context.Context) error

	// Stop halts playback and releases the device.
	// Safe to call multiple times.
	Stop() error

	// Write queues one frame for playback. May block if the device buffer
	// is full.
	Write(ctx context.Context, f Frame) error

	// Flush waits until all queued audio has been played.
	Flush(ctx context.Context) error

	// Clear discards queued audio immediately. This is the barge-in path:
	// when the user starts speaking over a reply, playback must cut out
	// within one frame cycle.
	Clear() error

	// Config returns the playback configuration.
	Config() Config

	// Name returns the backend name (e.g. "alsa", "mock").
	Name() string

	// Close releases all resources. The sink cannot be restarted after.
	io.Closer
}

// SinkStats reports playback counters.
type SinkStats struct {
	FramesWritten  int64  `json:"frames_written"`
	SamplesWritten int64  `json:"samples_written"`
	Clears         int64  `json:"clears"`
	Running        bool   `json:"running"`
	Backend        string `json:"backend"`
}

// SinkWithStats extends Sink with statistics.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}
