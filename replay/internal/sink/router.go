package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/domreplay/event"
)

// Router fans out to all configured sinks. One sink error does not block the
// others: errors are logged and the first encountered is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Add appends a sink.
func (r *Router) Add(s Sink) { r.sinks = append(r.sinks, s) }

func (r *Router) SendStep(ctx context.Context, step event.Step) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendStep(ctx, step); err != nil {
			r.logger.Warn("sink: send step failed", "run_id", step.RunID, "seq", step.Seq, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) SendRun(ctx context.Context, run event.Run) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendRun(ctx, run); err != nil {
			r.logger.Warn("sink: send run failed", "run_id", run.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
