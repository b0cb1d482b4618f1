package stt

import (
	"context"
	"sync"
	"time"
)

// Mock is a configurable Transcriber for tests.
type Mock struct {
	mu sync.Mutex

	// Results are returned in order for successive calls; the last entry
	// repeats once exhausted. If empty, Text is returned.
	Results []string

	// Text is the fallback result when Results is empty.
	Text string

	// Err, if set, is returned by every call.
	Err error

	// Delay simulates recognition latency.
	Delay time.Duration

	calls     int
	lastAudio []int16
}

// Transcribe returns the configured result, honoring context cancellation
// during the simulated delay.
func (m *Mock) Transcribe(ctx context.Context, samples []int16, sampleRate int) (*Transcript, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	m.lastAudio = append([]int16(nil), samples...)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}

	if m.Err != nil {
		return nil, m.Err
	}

	text := m.Text
	if len(m.Results) > 0 {
		if call >= len(m.Results) {
			call = len(m.Results) - 1
		}
		text = m.Results[call]
	}
	if text == "" {
		return nil, WrapError("mock", ErrEmptyTranscript)
	}

	return &Transcript{
		Text:     text,
		Language: "en",
		Duration: time.Duration(len(samples)) * time.Second / time.Duration(max(sampleRate, 1)),
	}, nil
}

// Name identifies the mock backend.
func (m *Mock) Name() string { return "mock" }

// Close is a no-op.
func (m *Mock) Close() error { return nil }

// Calls returns how many times Transcribe was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastAudio returns a copy of the most recent samples passed in.
func (m *Mock) LastAudio() []int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int16(nil), m.lastAudio...)
}

// Verify Mock implements Transcriber at compile time.
var _ Transcriber = (*Mock)(nil)
