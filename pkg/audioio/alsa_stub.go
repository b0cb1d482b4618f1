//go:build !linux

package audioio

import (
	"fmt"
	"log/slog"
)

// ALSA is Linux-only. On other platforms use the mock backend for development.

func newALSASource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, fmt.Errorf("%w: alsa backend requires linux", ErrDeviceUnavailable)
}

func newALSASink(cfg Config, logger *slog.Logger) (Sink, error) {
	return nil, fmt.Errorf("%w: alsa backend requires linux", ErrDeviceUnavailable)
}
