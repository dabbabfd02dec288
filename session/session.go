// Package session binds one observed document to one diff engine and one
// script scheduler. A Session is the explicit context object for a page
// instance: it is built once from the live tree, and discarded together with
// the document (on navigation, a fresh Session is opened).
//
// A Session is single-threaded. The driver calls AdvanceScript and Diff
// strictly alternately, letting the host execute the swapped script in
// between.
package session

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/domreplay/diff"
	"github.com/hazyhaar/domreplay/schedule"
	"github.com/hazyhaar/domreplay/tree"
)

// ErrNoRoot is returned when the document has no traversal root.
var ErrNoRoot = errors.New("session: document has no root")

// Document is the host substrate a Session observes and mutates.
type Document interface {
	schedule.Host
	// Root returns the document element.
	Root() (tree.Node, error)
	// QuerySelectorAll resolves a CSS selector against the document.
	QuerySelectorAll(selector string) ([]tree.Node, error)
}

// XPathDocument is implemented by documents that also support XPath lookups.
type XPathDocument interface {
	QueryXPath(expr string) ([]tree.Node, error)
}

// Session is one observed document instance.
type Session struct {
	doc    Document
	engine *diff.Engine
	sched  *schedule.Scheduler
	logger *slog.Logger
	rounds int
}

type config struct {
	logger *slog.Logger
	marker string
}

// Option configures a Session.
type Option func(*config)

// WithLogger sets a custom logger. It also receives lookup diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMarker overrides the scheduler's marker attribute.
func WithMarker(name string) Option {
	return func(c *config) { c.marker = name }
}

// Open builds the initial state from the live tree: the schedule queues
// first (stamping every script with the marker), then the first snapshot.
func Open(doc Document, opts ...Option) (*Session, error) {
	cfg := config{logger: slog.Default(), marker: schedule.DefaultMarker}
	for _, o := range opts {
		o(&cfg)
	}

	sched, err := schedule.New(doc,
		schedule.WithMarker(cfg.marker),
		schedule.WithLogger(cfg.logger))
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	root, err := doc.Root()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoRoot, err)
	}
	if root == nil {
		return nil, ErrNoRoot
	}

	engine := diff.NewEngine(diff.WithLogger(cfg.logger))
	engine.Build(root)

	cfg.logger.Info("session: opened",
		"nodes", engine.Len(), "scripts", sched.Initial())

	return &Session{
		doc:    doc,
		engine: engine,
		sched:  sched,
		logger: cfg.logger,
	}, nil
}

// Diff runs one diff round against the live tree, excluding the script pair
// currently in flight. The only error is a document that lost its root.
func (s *Session) Diff() ([]diff.Event, error) {
	root, err := s.doc.Root()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoRoot, err)
	}
	if root == nil {
		return nil, ErrNoRoot
	}
	events := s.engine.Diff(root, s.sched.Suppressed())
	s.rounds++
	return events, nil
}

// AdvanceScript activates the next queued script. HasMore false means every
// queue is exhausted.
func (s *Session) AdvanceScript() (schedule.Result, error) {
	return s.sched.Advance()
}

// EnqueueDiscoveredScript is the injection point for scripts that appear in
// the tree after start.
func (s *Session) EnqueueDiscoveredScript(rec schedule.Record) {
	s.sched.Enqueue(rec)
}

// FindPathsMatchingSelector returns the current-snapshot paths of the nodes
// matching selector. A malformed selector is logged and yields no paths.
func (s *Session) FindPathsMatchingSelector(selector string) []tree.Path {
	nodes, err := s.doc.QuerySelectorAll(selector)
	if err != nil {
		s.logger.Error("session: selector lookup failed", "selector", selector, "error", err)
		return []tree.Path{}
	}
	return s.pathsOf(nodes)
}

// FindPathsMatchingXPath is FindPathsMatchingSelector for XPath expressions.
// Documents without XPath support yield no paths.
func (s *Session) FindPathsMatchingXPath(expr string) []tree.Path {
	xd, ok := s.doc.(XPathDocument)
	if !ok {
		s.logger.Warn("session: document has no xpath support", "xpath", expr)
		return []tree.Path{}
	}
	nodes, err := xd.QueryXPath(expr)
	if err != nil {
		s.logger.Error("session: xpath lookup failed", "xpath", expr, "error", err)
		return []tree.Path{}
	}
	return s.pathsOf(nodes)
}

func (s *Session) pathsOf(nodes []tree.Node) []tree.Path {
	out := make([]tree.Path, 0, len(nodes))
	for _, n := range nodes {
		if rec, ok := s.engine.Lookup(n); ok {
			out = append(out, rec.Path)
		}
	}
	return out
}

// FindNodeByPath returns the node whose current-snapshot path is p.
func (s *Session) FindNodeByPath(p tree.Path) (tree.Node, bool) {
	return s.engine.FindNodeByPath(p)
}

// Attributes returns the attributes recorded for n in the current snapshot.
func (s *Session) Attributes(n tree.Node) (tree.Attributes, bool) {
	rec, ok := s.engine.Lookup(n)
	if !ok {
		return nil, false
	}
	return rec.Attributes, true
}

// NodeCount is the size of the current snapshot.
func (s *Session) NodeCount() int { return s.engine.Len() }

// Suppressed is the script pair currently excluded from diffs.
func (s *Session) Suppressed() diff.Suppressed { return s.sched.Suppressed() }

// Pending is the number of scripts still queued.
func (s *Session) Pending() int { return s.sched.Pending() }

// Scripts is the number of scripts found at open.
func (s *Session) Scripts() int { return s.sched.Initial() }

// State is the scheduler cursor state.
func (s *Session) State() schedule.State { return s.sched.State() }

// Rounds is the number of completed diff rounds.
func (s *Session) Rounds() int { return s.rounds }

// Marker is the marker attribute stamped on managed scripts.
func (s *Session) Marker() string { return s.sched.Marker() }

// Document returns the observed document.
func (s *Session) Document() Document { return s.doc }
