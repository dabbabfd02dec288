package sink

import (
	"context"

	"github.com/hazyhaar/domreplay/event"
)

// StepFunc is called for each step.
type StepFunc func(ctx context.Context, step event.Step) error

// RunFunc is called for each run summary.
type RunFunc func(ctx context.Context, run event.Run) error

// Callback delivers steps as in-process function calls, without
// serialisation. Used by embedders and by the HTTP/MCP surfaces to collect
// the steps of one replay.
type Callback struct {
	onStep StepFunc
	onRun  RunFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onStep StepFunc, onRun RunFunc) *Callback {
	return &Callback{onStep: onStep, onRun: onRun}
}

func (c *Callback) SendStep(ctx context.Context, step event.Step) error {
	if c.onStep != nil {
		return c.onStep(ctx, step)
	}
	return nil
}

func (c *Callback) SendRun(ctx context.Context, run event.Run) error {
	if c.onRun != nil {
		return c.onRun(ctx, run)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
