package llm

import (
	"context"
	"sync"
	"time"
)

// Mock is a configurable Responder for tests.
type Mock struct {
	mu sync.Mutex

	// Replies are returned in order for successive calls; the last entry
	// repeats once exhausted. If empty, Reply is returned.
	Replies []string

	// Reply is the fallback result when Replies is empty.
	Reply string

	// Err, if set, is returned by every call.
	Err error

	// Delay simulates generation latency.
	Delay time.Duration

	calls    int
	requests []Request
}

// Generate returns the configured reply, honoring context cancellation
// during the simulated delay.
func (m *Mock) Generate(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	m.requests = append(m.requests, req)
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

	text := m.Reply
	if len(m.Replies) > 0 {
		if call >= len(m.Replies) {
			call = len(m.Replies) - 1
		}
		text = m.Replies[call]
	}

	return &Response{Text: text, Model: "mock"}, nil
}

// Name identifies the mock backend.
func (m *Mock) Name() string { return "mock" }

// Close is a no-op.
func (m *Mock) Close() error { return nil }

// Calls returns how many times Generate was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastRequest returns the most recent request, or a zero Request if none.
func (m *Mock) LastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return Request{}
	}
	return m.requests[len(m.requests)-1]
}

// Verify Mock implements Responder at compile time.
var _ Responder = (*Mock)(nil)
