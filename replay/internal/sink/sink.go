// Package sink defines output backends for replay steps and run summaries.
package sink

import (
	"context"

	"github.com/hazyhaar/domreplay/event"
)

// Sink is the output interface. Implementations deliver steps to different
// backends (stdout, webhook, sqlite, in-process callback).
type Sink interface {
	SendStep(ctx context.Context, step event.Step) error
	SendRun(ctx context.Context, run event.Run) error
	Close() error
}

type envelope struct {
	Type string `json:"type"` // step | run
	Data any    `json:"data"`
}
