// Package driver runs the replay loop over one session. Each step activates
// one script and waits for the document to settle; the diff that follows is
// emitted as a step attributed to that script.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/domreplay/event"
	"github.com/hazyhaar/domreplay/idgen"
	"github.com/hazyhaar/domreplay/replay/internal/sink"
	"github.com/hazyhaar/domreplay/schedule"
	"github.com/hazyhaar/domreplay/session"
	"github.com/hazyhaar/domreplay/tree"
)

// Waiter blocks until a script's effects have settled.
type Waiter interface {
	Reset()
	Wait(ctx context.Context) (quiet bool, err error)
}

// Feed yields scripts that appeared in the document since the last call.
type Feed interface {
	Drain() []tree.Node
}

// Config configures one replay.
type Config struct {
	RunID    string
	PageID   string
	PageURL  string
	MaxSteps int // 0 means unbounded
	IDs      idgen.Generator
	Logger   *slog.Logger
	Now      func() time.Time
}

func (c *Config) defaults() {
	if c.IDs == nil {
		c.IDs = idgen.Default
	}
	if c.RunID == "" {
		c.RunID = c.IDs()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Driver replays the scripts of one session. A Driver is single-use.
type Driver struct {
	cfg  Config
	sess *session.Session
	wait Waiter
	feed Feed
	out  sink.Sink
	seq  uint64
}

// New creates a Driver. feed may be nil when nothing can discover scripts.
func New(sess *session.Session, wait Waiter, feed Feed, out sink.Sink, cfg Config) *Driver {
	cfg.defaults()
	return &Driver{cfg: cfg, sess: sess, wait: wait, feed: feed, out: out}
}

// Run replays until every queue is exhausted, MaxSteps is reached, or ctx
// ends. The run summary is sent when the run starts and again when it ends;
// sink failures are logged and never stop the replay.
func (d *Driver) Run(ctx context.Context) (event.Run, error) {
	log := d.cfg.Logger.With("run_id", d.cfg.RunID, "page_id", d.cfg.PageID)

	run := event.Run{
		ID:      d.cfg.RunID,
		PageID:  d.cfg.PageID,
		PageURL: d.cfg.PageURL,
		Scripts: d.sess.Scripts(),
		Status:  event.StatusRunning,
		Started: d.cfg.Now().UnixMilli(),
	}
	d.sendRun(ctx, run, log)
	log.Info("driver: replay started", "scripts", run.Scripts, "nodes", d.sess.NodeCount())

	err := d.loop(ctx, log)

	run.Steps = int(d.seq)
	run.NodeCount = d.sess.NodeCount()
	run.Finished = d.cfg.Now().UnixMilli()
	switch {
	case errors.Is(err, errStepCap):
		run.Status = event.StatusStepCap
		err = nil
	case err != nil:
		run.Status = event.StatusFailed
		run.Error = err.Error()
	default:
		run.Status = event.StatusDone
	}
	// The final summary goes out even when ctx was cancelled.
	d.sendRun(context.WithoutCancel(ctx), run, log)

	log.Info("driver: replay finished", "status", run.Status, "steps", run.Steps, "nodes", run.NodeCount)
	return run, err
}

var errStepCap = errors.New("driver: step cap reached")

func (d *Driver) loop(ctx context.Context, log *slog.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Catches scripts whose insertion was reported after the last diff.
		EnqueueDiscovered(d.sess, d.feed, log)

		if d.cfg.MaxSteps > 0 && d.seq >= uint64(d.cfg.MaxSteps) {
			if d.sess.Pending() == 0 {
				return nil
			}
			log.Warn("driver: step cap reached", "max_steps", d.cfg.MaxSteps, "pending", d.sess.Pending())
			return errStepCap
		}

		d.wait.Reset()
		res, err := d.sess.AdvanceScript()
		if errors.Is(err, schedule.ErrDetached) {
			// The page removed the script before its turn.
			log.Warn("driver: script detached before activation", "error", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("driver: advance: %w", err)
		}
		if !res.HasMore {
			return nil
		}

		quiet, err := d.wait.Wait(ctx)
		if err != nil {
			return err
		}

		// Scripts the step inserted are marked before the diff, so the
		// marker is part of their create event and never a later change.
		EnqueueDiscovered(d.sess, d.feed, log)
		events, err := d.sess.Diff()
		if err != nil {
			return fmt.Errorf("driver: diff: %w", err)
		}

		d.seq++
		step := event.Step{
			ID:          d.cfg.IDs(),
			RunID:       d.cfg.RunID,
			PageID:      d.cfg.PageID,
			PageURL:     d.cfg.PageURL,
			Seq:         d.seq,
			ScriptType:  string(res.Type),
			Payload:     res.Payload,
			PayloadHash: event.HashPayload(res.Payload),
			Changes:     event.FromDiff(events),
			NodeCount:   d.sess.NodeCount(),
			Timestamp:   d.cfg.Now().UnixMilli(),
		}
		if err := d.out.SendStep(ctx, step); err != nil {
			log.Error("driver: send step failed", "seq", step.Seq, "error", err)
		}
		log.Debug("driver: step",
			"seq", step.Seq, "type", step.ScriptType,
			"changes", len(step.Changes), "quiet", quiet)
	}
}

// EnqueueDiscovered marks and queues the scripts feed picked up, so the next
// advance runs them before any remaining deferred script. Call it before a
// diff: a script marked after the diff that saw it created shows up as an
// attribute change in the next round. It returns the number of scripts queued.
func EnqueueDiscovered(sess *session.Session, feed Feed, log *slog.Logger) int {
	if feed == nil {
		return 0
	}
	doc := sess.Document()
	queued := 0
	for _, n := range feed.Drain() {
		if err := doc.SetAttribute(n, sess.Marker(), "true"); err != nil {
			log.Warn("driver: mark discovered script", "error", err)
			continue
		}
		sess.EnqueueDiscoveredScript(schedule.Record{Original: n})
		queued++
	}
	if queued > 0 {
		log.Debug("driver: scripts discovered", "count", queued)
	}
	return queued
}

func (d *Driver) sendRun(ctx context.Context, run event.Run, log *slog.Logger) {
	if err := d.out.SendRun(ctx, run); err != nil {
		log.Error("driver: send run failed", "status", run.Status, "error", err)
	}
}
