package brain

import (
	"context"
	"errors"
	"fmt"
)

// FallbackAdapter attempts a primary adapter first and falls back on error.
// Deltas are forwarded unbuffered; once the primary has streamed any text the
// turn is committed to it and a later failure is surfaced rather than
// replayed, which would duplicate speech.
type FallbackAdapter struct {
	primary  Adapter
	fallback Adapter
}

func NewFallbackAdapter(primary, fallback Adapter) *FallbackAdapter {
	return &FallbackAdapter{primary: primary, fallback: fallback}
}

func (a *FallbackAdapter) StreamReply(
	ctx context.Context,
	req Request,
	onDelta DeltaHandler,
) (Reply, error) {
	if a == nil || a.primary == nil {
		if a != nil && a.fallback != nil {
			return a.fallback.StreamReply(ctx, req, onDelta)
		}
		return Reply{}, fmt.Errorf("fallback adapter misconfigured")
	}

	forwarded := false
	reply, err := a.primary.StreamReply(ctx, req, func(delta string) error {
		forwarded = true
		if onDelta == nil {
			return nil
		}
		return onDelta(delta)
	})
	if err == nil {
		return reply, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Reply{}, err
	}
	if a.fallback == nil || forwarded {
		return Reply{}, err
	}

	fallbackReply, fallbackErr := a.fallback.StreamReply(ctx, req, onDelta)
	if fallbackErr != nil {
		return Reply{}, fmt.Errorf("primary adapter error: %w; fallback adapter error: %v", err, fallbackErr)
	}
	return fallbackReply, nil
}
