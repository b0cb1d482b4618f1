package tts

import (
	"context"
	"fmt"
	"log/slog"
)

// Chain implements Synthesizer by trying multiple backends in order.
// The first successful backend wins; if all fail, returns an aggregate error.
type Chain struct {
	backends []Synthesizer
	logger   *slog.Logger
}

// NewChain creates a fallback chain. At least one backend is required.
func NewChain(backends ...Synthesizer) (*Chain, error) {
	if len(backends) == 0 {
		return nil, ErrNoSynthesizer
	}
	return &Chain{
		backends: backends,
		logger:   slog.Default().With("component", "tts.chain"),
	}, nil
}

// Synthesize tries each backend until one succeeds.
func (c *Chain) Synthesize(ctx context.Context, text string) (*Result, error) {
	var errs []error

	for i, s := range c.backends {
		result, err := s.Synthesize(ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback backend succeeded",
					"backend", s.Name(),
					"chars", len(text),
				)
			}
			return result, nil
		}

		errs = append(errs, err)
		c.logger.Warn("backend failed, trying next",
			"backend", s.Name(),
			"error", err,
		)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, &ChainError{Errors: errs}
}

// Health returns an error only if every backend is unhealthy.
func (c *Chain) Health(ctx context.Context) error {
	var healthy int
	var lastErr error

	for _, s := range c.backends {
		if err := s.Health(ctx); err != nil {
			lastErr = err
		} else {
			healthy++
		}
	}

	if healthy == 0 {
		return fmt.Errorf("all %d backends unhealthy: %w", len(c.backends), lastErr)
	}
	return nil
}

// Name identifies the chain.
func (c *Chain) Name() string { return "chain" }

// Close closes all backends.
func (c *Chain) Close() error {
	var lastErr error
	for _, s := range c.backends {
		if err := s.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Verify Chain implements Synthesizer at compile time.
var _ Synthesizer = (*Chain)(nil)
