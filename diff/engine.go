// Package diff turns two tree walks into an ordered list of create, delete
// and change events keyed by node identity.
//
// The Engine retains exactly one snapshot between rounds. Each Diff walks the
// live tree against it, consumes matched entries, reports whatever was left
// over as deleted, and replaces the retained snapshot with the one it just
// built.
package diff

import (
	"log/slog"

	"github.com/hazyhaar/domreplay/snapshot"
	"github.com/hazyhaar/domreplay/tree"
)

// Engine is the diff engine for one observed document. Not safe for
// concurrent use.
type Engine struct {
	current *snapshot.Store
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine with an empty snapshot. Call Build before the
// first Diff, otherwise every node is reported as created.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		current: snapshot.New(),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Build replaces the retained snapshot with a fresh walk of root, without
// producing events.
func (e *Engine) Build(root tree.Node) {
	next := snapshot.New()
	tree.Walk(root, tree.RootPath, func(n tree.Node, p tree.Path) {
		next.Put(n, snapshot.Capture(n, p))
	})
	e.current = next
	e.logger.Debug("diff: snapshot built", "nodes", next.Len())
}

// Diff compares the tree under root with the retained snapshot.
//
// The result is ordered deletes (deepest first), then creates (document
// order), then changes (document order). The swapped pair in sup is
// invisible to the round: the replacement is never created and the original
// is never deleted.
func (e *Engine) Diff(root tree.Node, sup Suppressed) []Event {
	prev := e.current
	next := snapshot.New()
	var creates, changes []Event

	tree.Walk(root, tree.RootPath, func(n tree.Node, p tree.Path) {
		rec := snapshot.Capture(n, p)

		old, seen := prev.Get(n)
		if !seen {
			if n != sup.New {
				creates = append(creates, Event{Kind: kindOf(n), Op: OpCreate, Path: p, Node: n, Attributes: rec.Attributes})
			}
		} else {
			if n != sup.New && n != sup.Old && n.Kind() == tree.KindElement {
				if old.Attributes.Differs(rec.Attributes) {
					changes = append(changes, Event{
						Kind:       KindNode,
						Op:         OpChange,
						Path:       p,
						Node:       n,
						Attributes: rec.Attributes,
						Prev:       old.Attributes,
					})
				}
			}
			prev.Delete(n)
		}

		next.Put(n, rec)
	})

	deletes := collectDeletes(prev, sup)

	events := make([]Event, 0, len(deletes)+len(creates)+len(changes))
	events = append(events, deletes...)
	events = append(events, creates...)
	events = append(events, changes...)

	e.current = next
	e.logger.Debug("diff: round complete",
		"nodes", next.Len(),
		"deleted", len(deletes),
		"created", len(creates),
		"changed", len(changes))
	return events
}

// collectDeletes turns the unconsumed entries of prev into delete events,
// reversed relative to their stored order so descendants precede ancestors.
func collectDeletes(prev *snapshot.Store, sup Suppressed) []Event {
	var stored []Event
	prev.Each(func(n tree.Node, rec snapshot.Record) bool {
		if n != sup.Old {
			stored = append(stored, Event{Kind: kindFor(rec.Kind), Op: OpDelete, Path: rec.Path})
		}
		return true
	})
	out := make([]Event, len(stored))
	for i, ev := range stored {
		out[len(stored)-1-i] = ev
	}
	return out
}

// Len is the number of nodes in the retained snapshot.
func (e *Engine) Len() int { return e.current.Len() }

// Snapshot exposes the retained snapshot for read-only lookups.
func (e *Engine) Snapshot() *snapshot.Store { return e.current }

// Lookup returns the retained record for n.
func (e *Engine) Lookup(n tree.Node) (snapshot.Record, bool) {
	return e.current.Get(n)
}

// FindNodeByPath scans the retained snapshot for an exact path match.
func (e *Engine) FindNodeByPath(p tree.Path) (tree.Node, bool) {
	return e.current.FindByPath(p)
}
