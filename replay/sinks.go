package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hazyhaar/domreplay/event"
	"github.com/hazyhaar/domreplay/replay/internal/sink"
)

// Sink is the output interface for replay steps and runs.
type Sink = sink.Sink

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewSQLiteSink opens (creating if needed) a sqlite database at path and
// records runs, steps and changes in it.
func NewSQLiteSink(path string) (Sink, error) {
	return sink.OpenSQLite(path)
}

// StepFunc is called for each step.
type StepFunc = sink.StepFunc

// RunFunc is called for each run summary.
type RunFunc = sink.RunFunc

// NewCallbackSink creates an in-process callback sink. Either function may
// be nil.
func NewCallbackSink(
	onStep func(ctx context.Context, step event.Step) error,
	onRun func(ctx context.Context, run event.Run) error,
) Sink {
	return sink.NewCallback(onStep, onRun)
}

// SinksFromConfig builds the configured sinks. On error, the sinks already
// opened are closed.
func SinksFromConfig(cfgs []SinkConfig, logger *slog.Logger) ([]Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var out []Sink
	for i, c := range cfgs {
		var s Sink
		switch c.Type {
		case "stdout":
			s = NewStdoutSink(os.Stdout)
		case "webhook":
			s = NewWebhookSink(c.URL, logger)
		case "sqlite":
			db, err := NewSQLiteSink(c.Path)
			if err != nil {
				return nil, errors.Join(fmt.Errorf("replay: sinks[%d]: %w", i, err), closeAll(out))
			}
			s = db
		default:
			return nil, errors.Join(fmt.Errorf("replay: sinks[%d]: unknown type %q", i, c.Type), closeAll(out))
		}
		out = append(out, s)
	}
	return out, nil
}

func closeAll(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
