package driver

import (
	"context"
	"time"
)

// Settler decides when an activated script has finished affecting the
// document: no DOM activity for Window, or MaxWait since Wait began,
// whichever comes first.
type Settler struct {
	window  time.Duration
	maxWait time.Duration
	touch   chan struct{}
}

// NewSettler creates a Settler. Zero durations default to 300ms and 5s.
func NewSettler(window, maxWait time.Duration) *Settler {
	if window <= 0 {
		window = 300 * time.Millisecond
	}
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	if maxWait < window {
		maxWait = window
	}
	return &Settler{window: window, maxWait: maxWait, touch: make(chan struct{}, 1)}
}

// Touch records DOM activity. Safe from any goroutine; never blocks.
func (s *Settler) Touch() {
	select {
	case s.touch <- struct{}{}:
	default:
	}
}

// Reset discards activity recorded before the next script is activated.
func (s *Settler) Reset() {
	select {
	case <-s.touch:
	default:
	}
}

// Wait blocks until the document is quiet or MaxWait elapses. quiet is false
// when the cap was hit.
func (s *Settler) Wait(ctx context.Context) (quiet bool, err error) {
	window := time.NewTimer(s.window)
	defer window.Stop()
	deadline := time.NewTimer(s.maxWait)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-s.touch:
			window.Reset(s.window)
		case <-window.C:
			return true, nil
		case <-deadline.C:
			return false, nil
		}
	}
}

// Immediate is a Waiter for documents where nothing executes, such as a
// static dry run.
type Immediate struct{}

func (Immediate) Reset() {}

func (Immediate) Wait(ctx context.Context) (bool, error) { return true, ctx.Err() }
