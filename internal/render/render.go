// Package render defines the contract with the external rendering
// collaborator. The core treats rendering as an opaque, slow, fallible call:
// it applies a deadline and surfaces failures, but never retries here.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a render attempt exceeds its deadline.
var ErrTimeout = errors.New("render timed out")

// ErrUnavailable is returned when the rendering collaborator cannot be
// reached at all.
var ErrUnavailable = errors.New("renderer unavailable")

// Result is one render outcome: the full frame cycle plus the ledger
// mutation count the frames were rendered against.
type Result struct {
	Frames        [][]byte
	Width         int
	Height        int
	MutationCount int64
}

// Validate checks the collaborator honored its frame-geometry contract.
func (r *Result) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("invalid render dimensions %dx%d", r.Width, r.Height)
	}
	if len(r.Frames) == 0 {
		return errors.New("render produced no frames")
	}
	want := r.Width * r.Height * bytesPerPixel
	for i, f := range r.Frames {
		if len(f) != want {
			return fmt.Errorf("render frame %d is %d bytes, want %d", i, len(f), want)
		}
	}
	return nil
}

const bytesPerPixel = 4

// Renderer produces the frame cycle for one item.
type Renderer interface {
	Render(ctx context.Context, itemID int64) (*Result, error)
}

// RenderFunc adapts a function to the Renderer interface.
type RenderFunc func(ctx context.Context, itemID int64) (*Result, error)

func (f RenderFunc) Render(ctx context.Context, itemID int64) (*Result, error) {
	return f(ctx, itemID)
}

type timeoutRenderer struct {
	inner   Renderer
	timeout time.Duration
}

// WithTimeout bounds every render attempt to d. Deadline expiry is reported
// as ErrTimeout so callers can distinguish it from other render failures.
func WithTimeout(r Renderer, d time.Duration) Renderer {
	if d <= 0 {
		return r
	}
	return &timeoutRenderer{inner: r, timeout: d}
}

func (t *timeoutRenderer) Render(ctx context.Context, itemID int64) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	res, err := t.inner.Render(ctx, itemID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("rendering item %d after %s: %w", itemID, t.timeout, ErrTimeout)
		}
		return nil, err
	}
	return res, nil
}
