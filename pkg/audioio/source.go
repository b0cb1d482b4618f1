package audioio

import (
	"context"
	"errors"
	"io"
)

// Device errors. A failure to open a device is fatal at startup; the process
// should report it and halt rather than run deaf or mute.
var (
	ErrDeviceUnavailable = errors.New("audioio: device unavailable")
	ErrSourceClosed      = errors.New("audioio: source closed")
	ErrSinkClosed        = errors.New("audioio: sink closed")
)

// Source captures audio from a microphone. It owns the device handle
// exclusively for its lifetime; the device is released on Stop or Close.
type Source interface {
	// Start begins continuous capture. Frames arrive on Stream in strict
	// temporal order; an overrun is surfaced as a Dropped-flagged frame
	// rather than a silent gap.
	Start(ctx context.Context) error

	// Stop halts capture and releases the device.
	// Safe to call multiple times.
	Stop() error

	// Stream returns the frame channel. It is closed when the source stops.
	Stream() <-chan Frame

	// Config returns the capture configuration.
	Config() Config

	// Name returns the backend name (e.g. "alsa", "mock").
	Name() string

	// Close releases all resources. The source cannot be restarted after.
	io.Closer
}

// SourceStats reports capture counters.
type SourceStats struct {
	FramesRead  int64  `json:"frames_read"`
	SamplesRead int64  `json:"samples_read"`
	Overruns    int64  `json:"overruns"`
	Running     bool   `json:"running"`
	Backend     string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}
