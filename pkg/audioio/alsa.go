//go:build linux

package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ALSASource captures audio through arecord. Spawning the ALSA utility keeps
// the binary free of CGO while still using the stock Linux audio stack, the
// same approach used for the robot's streaming playback pipeline.
type ALSASource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan Frame
	stopCh   chan struct{}
	cmd      *exec.Cmd
	stdout   io.ReadCloser

	framesRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newALSASource(cfg Config, logger *slog.Logger) (*ALSASource, error) {
	if _, err := exec.LookPath("arecord"); err != nil {
		return nil, fmt.Errorf("%w: arecord not found: %v", ErrDeviceUnavailable, err)
	}
	return &ALSASource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan Frame, 32),
	}, nil
}

// Start spawns arecord and begins delivering frames.
func (s *ALSASource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSourceClosed
	}
	if s.running {
		return nil
	}

	device := s.cfg.Device
	if device == "" {
		device = "default"
	}

	cmd := exec.Command("arecord",
		"-q",
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
		"-t", "raw",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start arecord: %v", ErrDeviceUnavailable, err)
	}

	s.cmd = cmd
	s.stdout = stdout
	s.running = true
	s.streamCh = make(chan Frame, 32)
	s.stopCh = make(chan struct{})

	go s.captureLoop(ctx, stdout, s.streamCh, s.stopCh)

	s.logger.Info("alsa capture started", "device", device)
	return nil
}

// captureLoop owns out: it is the only goroutine that sends on it and the
// only place that closes it. Stop signals through stop and kills arecord,
// which unblocks the pending read.
func (s *ALSASource) captureLoop(ctx context.Context, r io.Reader, out chan Frame, stop <-chan struct{}) {
	defer close(out)

	frameBytes := s.cfg.FrameBytes()
	buf := make([]byte, frameBytes)
	overran := false

	for {
		select {
		case <-stop:
			return
		default:
		}
		if ctx.Err() != nil {
			s.Stop()
			return
		}

		if _, err := io.ReadFull(r, buf); err != nil {
			// arecord exited or the device died; stop cleanly.
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if running {
				s.logger.Error("alsa capture read failed", "error", err)
				s.Stop()
			}
			return
		}

		var f Frame
		f.FromBytes(buf, s.cfg.SampleRate, s.cfg.Channels)
		f.Timestamp = time.Now().Add(-s.cfg.FrameDuration)
		f.Dropped = overran
		overran = false

		select {
		case out <- f:
			s.framesRead.Add(1)
			s.samplesRead.Add(int64(len(f.Samples)))
		case <-stop:
			return
		default:
			// Consumer fell behind; mark the discontinuity on the next
			// frame instead of letting the gap vanish.
			overran = true
			s.overruns.Add(1)
		}
	}
}

// Stop halts capture and releases the device. The stream channel is closed
// by the capture goroutine once it drains out, never here.
func (s *ALSASource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	close(s.stopCh)

	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
		s.cmd = nil
	}

	s.logger.Info("alsa capture stopped")
	return nil
}

// Stream returns the frame channel for the current run.
func (s *ALSASource) Stream() <-chan Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the capture configuration.
func (s *ALSASource) Config() Config { return s.cfg }

// Name returns "alsa".
func (s *ALSASource) Name() string { return "alsa" }

// Close releases resources.
func (s *ALSASource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns capture statistics.
func (s *ALSASource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		FramesRead:  s.framesRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "alsa",
	}
}

var _ SourceWithStats = (*ALSASource)(nil)

// ALSASink plays audio through aplay. Clear kills the process outright, which
// is the fastest way to cut playback for barge-in; the process is respawned
// lazily on the next Write.
type ALSASink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser

	// lastWriteEnd estimates when queued audio finishes playing.
	lastWriteEnd time.Time

	framesWritten  atomic.Int64
	samplesWritten atomic.Int64
	clears         atomic.Int64
}

func newALSASink(cfg Config, logger *slog.Logger) (*ALSASink, error) {
	if _, err := exec.LookPath("aplay"); err != nil {
		return nil, fmt.Errorf("%w: aplay not found: %v", ErrDeviceUnavailable, err)
	}
	return &ALSASink{cfg: cfg, logger: logger}, nil
}

// Start marks the sink ready; aplay is spawned on first Write.
func (s *ALSASink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.running = true
	return nil
}

func (s *ALSASink) spawnLocked() error {
	device := s.cfg.Device
	if device == "" {
		device = "default"
	}
	cmd := exec.Command("aplay",
		"-q",
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
		"-t", "raw",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start aplay: %v", ErrDeviceUnavailable, err)
	}
	s.cmd = cmd
	s.stdin = stdin
	s.lastWriteEnd = time.Now()
	return nil
}

// Write queues one frame for playback.
func (s *ALSASink) Write(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.running {
		return ErrSinkClosed
	}
	if s.cmd == nil {
		if err := s.spawnLocked(); err != nil {
			return err
		}
	}

	if _, err := s.stdin.Write(f.Bytes()); err != nil {
		s.killLocked()
		return fmt.Errorf("audioio: write to aplay: %w", err)
	}

	now := time.Now()
	if s.lastWriteEnd.Before(now) {
		s.lastWriteEnd = now
	}
	s.lastWriteEnd = s.lastWriteEnd.Add(f.Duration())

	s.framesWritten.Add(1)
	s.samplesWritten.Add(int64(len(f.Samples)))
	return nil
}

// Flush waits until the estimated end of queued audio.
func (s *ALSASink) Flush(ctx context.Context) error {
	s.mu.Lock()
	wait := time.Until(s.lastWriteEnd)
	s.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// Clear discards queued audio immediately by killing aplay.
func (s *ALSASink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
	s.clears.Add(1)
	return nil
}

func (s *ALSASink) killLocked() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.stdin.Close()
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.cmd = nil
	s.stdin = nil
	s.lastWriteEnd = time.Now()
}

// Stop halts playback and releases the device.
func (s *ALSASink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.killLocked()
	return nil
}

// Config returns the playback configuration.
func (s *ALSASink) Config() Config { return s.cfg }

// Name returns "alsa".
func (s *ALSASink) Name() string { return "alsa" }

// Close releases resources.
func (s *ALSASink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns playback statistics.
func (s *ALSASink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SinkStats{
		FramesWritten:  s.framesWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Clears:         s.clears.Load(),
		Running:        running,
		Backend:        "alsa",
	}
}

var _ SinkWithStats = (*ALSASink)(nil)
