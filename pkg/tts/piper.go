package tts

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/voxbotics/verba/internal/httpc"
)

const backendPiper = "piper"

// Piper implements Synthesizer against a local Piper HTTP server
// (piper --http). The server returns a WAV file which is unwrapped to raw
// PCM for the playback sink. No network or API key is needed, making this
// the offline voice.
type Piper struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// PiperOption configures the Piper synthesizer.
type PiperOption func(*Piper)

// WithPiperLogger sets the structured logger.
func WithPiperLogger(logger *slog.Logger) PiperOption {
	return func(p *Piper) { p.logger = logger }
}

// WithPiperTimeout overrides the request timeout.
func WithPiperTimeout(timeout time.Duration) PiperOption {
	return func(p *Piper) { p.client = httpc.NewClient(timeout) }
}

// NewPiper creates an offline synthesizer talking to a Piper server at
// baseURL (e.g. http://127.0.0.1:5000).
func NewPiper(baseURL string, opts ...PiperOption) (*Piper, error) {
	if baseURL == "" {
		return nil, errors.New("tts: piper base URL required")
	}
	p := &Piper{
		baseURL: baseURL,
		client:  httpc.NewClient(30 * time.Second),
		logger:  slog.Default().With("component", "tts.piper"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Synthesize converts text to PCM via the local server.
func (p *Piper) Synthesize(ctx context.Context, text string) (*Result, error) {
	if text == "" {
		return nil, WrapError(backendPiper, ErrEmptyText)
	}

	start := time.Now()

	u := p.baseURL + "/?text=" + url.QueryEscape(text)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, WrapError(backendPiper, fmt.Errorf("create request: %w", err))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, WrapError(backendPiper, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Backend:    backendPiper,
		}
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(backendPiper, fmt.Errorf("read response: %w", err))
	}

	audio, format, err := parseWAV(wav)
	if err != nil {
		return nil, WrapError(backendPiper, err)
	}

	latency := time.Since(start).Milliseconds()
	p.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"sample_rate", format.SampleRate,
		"latency_ms", latency,
	)

	return &Result{
		Audio:     audio,
		Format:    format,
		Duration:  pcmDuration(audio, format),
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// Health probes the server with a trivial request.
func (p *Piper) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/?text=ok", nil)
	if err != nil {
		return WrapError(backendPiper, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return WrapError(backendPiper, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Backend: backendPiper}
	}
	return nil
}

// Name identifies the backend.
func (p *Piper) Name() string { return backendPiper }

// Close releases idle connections.
func (p *Piper) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// parseWAV extracts 16-bit PCM data and format from a WAV container.
func parseWAV(data []byte) ([]byte, AudioFormat, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, AudioFormat{}, errors.New("not a WAV file")
	}

	var format AudioFormat
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkLen > len(data) {
			return nil, AudioFormat{}, errors.New("truncated WAV chunk")
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, AudioFormat{}, errors.New("short fmt chunk")
			}
			if binary.LittleEndian.Uint16(data[body:body+2]) != 1 {
				return nil, AudioFormat{}, errors.New("WAV is not PCM")
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			if bits := binary.LittleEndian.Uint16(data[body+14 : body+16]); bits != 16 {
				return nil, AudioFormat{}, fmt.Errorf("unsupported bit depth %d", bits)
			}
		case "data":
			if format.SampleRate == 0 {
				return nil, AudioFormat{}, errors.New("WAV data before fmt chunk")
			}
			return data[body : body+chunkLen], format, nil
		}

		pos = body + chunkLen
		if chunkLen%2 == 1 {
			pos++
		}
	}

	return nil, AudioFormat{}, errors.New("WAV has no data chunk")
}

// Verify Piper implements Synthesizer at compile time.
var _ Synthesizer = (*Piper)(nil)
