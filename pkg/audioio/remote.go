package audioio

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RemoteSource captures audio from a network microphone. A remote client
// (phone, browser, another machine on the LAN) streams opus packets over the
// dashboard websocket; each packet is decoded to PCM16 and delivered as a
// Frame, so the rest of the pipeline never knows the mic is not local.
type RemoteSource struct {
	cfg    Config
	logger *slog.Logger
	dec    *OpusDecoder

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan Frame

	framesRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewRemoteSource creates a source fed by IngestOpus. The opus codec only
// supports 8, 12, 16, 24 and 48 kHz, so the configured rate must be one of
// those.
func NewRemoteSource(cfg Config, logger *slog.Logger) (*RemoteSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dec, err := NewOpusDecoder(cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, err
	}
	return &RemoteSource{
		cfg:      cfg,
		logger:   logger,
		dec:      dec,
		streamCh: make(chan Frame, 32),
	}, nil
}

// Start begins accepting packets.
func (s *RemoteSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSourceClosed
	}
	if s.running {
		return nil
	}
	s.running = true
	s.streamCh = make(chan Frame, 32)
	s.logger.Info("remote capture started",
		"sample_rate", s.cfg.SampleRate, "channels", s.cfg.Channels)
	return nil
}

// IngestOpus decodes one opus packet and delivers it as a frame. Packets
// arriving while the source is stopped are discarded. The decoder is not
// reentrant, so ingress must come from a single connection at a time.
func (s *RemoteSource) IngestOpus(packet []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	f, err := s.dec.DecodeFrame(packet)
	if err != nil {
		return err
	}
	f.Timestamp = time.Now()

	select {
	case s.streamCh <- f:
		s.framesRead.Add(1)
		s.samplesRead.Add(int64(len(f.Samples)))
	default:
		s.overruns.Add(1)
		s.logger.Debug("remote source: stream full, dropping frame")
	}
	return nil
}

// Stop halts the source and closes the stream.
func (s *RemoteSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	close(s.streamCh)
	s.logger.Info("remote capture stopped")
	return nil
}

// Stream returns the frame channel for the current run.
func (s *RemoteSource) Stream() <-chan Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the capture configuration.
func (s *RemoteSource) Config() Config { return s.cfg }

// Name returns "remote".
func (s *RemoteSource) Name() string { return "remote" }

// Close releases resources.
func (s *RemoteSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns source statistics.
func (s *RemoteSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		FramesRead:  s.framesRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "remote",
	}
}

var _ SourceWithStats = (*RemoteSource)(nil)
