package frame

import (
	"context"
	"errors"
)

// DefaultDiscard is how many frames AcquireFresh throws away before the
// one it returns. One matches a single-buffer, grab-when-empty driver;
// deeper pools may need more. This is hardware-dependent.
const DefaultDiscard = 1

// AcquireFresh returns a frame captured after the call started by first
// acquiring and releasing discard frames, which may have been captured
// before the most recent sensor or flash change. Sources that can do this
// atomically (Guarded) do so.
func AcquireFresh(ctx context.Context, src Source, discard int) (*Frame, error) {
	if fa, ok := src.(interface {
		AcquireFresh(ctx context.Context, discard int) (*Frame, error)
	}); ok {
		return fa.AcquireFresh(ctx, discard)
	}
	return acquireFresh(ctx, src, discard)
}

func acquireFresh(ctx context.Context, src Source, discard int) (*Frame, error) {
	for i := 0; i < discard; i++ {
		stale, err := src.Acquire(ctx)
		if errors.Is(err, ErrNoFrame) {
			// Nothing buffered, so nothing stale either.
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := stale.Release(); err != nil {
			return nil, err
		}
	}
	return src.Acquire(ctx)
}

// Guarded serializes consumers of one Source so that at most one Frame is
// alive at a time. It is what lets the stream loop, the HTTP still
// endpoint and the bot share a single camera.
type Guarded struct {
	src Source
	sem chan struct{}
}

// NewGuarded wraps src.
func NewGuarded(src Source) *Guarded {
	return &Guarded{src: src, sem: make(chan struct{}, 1)}
}

func (g *Guarded) lock(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Guarded) unlock() {
	<-g.sem
}

// Acquire waits until no other consumer holds a frame, then acquires.
// The returned frame holds the guard until it is released.
func (g *Guarded) Acquire(ctx context.Context) (*Frame, error) {
	if err := g.lock(ctx); err != nil {
		return nil, err
	}
	f, err := g.src.Acquire(ctx)
	if err != nil {
		g.unlock()
		return nil, err
	}
	return g.hold(f), nil
}

// AcquireFresh performs the stale-frame discard while holding the guard,
// so no other consumer can slip in between.
func (g *Guarded) AcquireFresh(ctx context.Context, discard int) (*Frame, error) {
	if err := g.lock(ctx); err != nil {
		return nil, err
	}
	f, err := AcquireFresh(ctx, g.src, discard)
	if err != nil {
		g.unlock()
		return nil, err
	}
	return g.hold(f), nil
}

func (g *Guarded) hold(inner *Frame) *Frame {
	return newFrame(inner.buf, func(*Buffer) error {
		defer g.unlock()
		return inner.Release()
	})
}

// Replace swaps the wrapped source once no frame is alive. fn receives
// the current source and returns the one to use from now on; a nil
// result keeps the current source. fn's error is returned either way.
func (g *Guarded) Replace(ctx context.Context, fn func(old Source) (Source, error)) error {
	if err := g.lock(ctx); err != nil {
		return err
	}
	defer g.unlock()

	next, err := fn(g.src)
	if next != nil {
		g.src = next
	}
	return err
}
