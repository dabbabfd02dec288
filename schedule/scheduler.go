// Package schedule serialises script activation. Each Advance swaps exactly
// one original script node for a fresh copy, which makes the host execute it,
// and records the pair so the diff engine can leave both out of its events.
package schedule

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/domreplay/diff"
	"github.com/hazyhaar/domreplay/tree"
)

// DefaultMarker is the attribute stamped on every script the scheduler
// manages, originals included.
const DefaultMarker = "data-domreplay-script"

// ErrDetached is returned by hosts when the node to act on is no longer
// attached to the document.
var ErrDetached = errors.New("schedule: node detached")

// Type says how a script's code is delivered.
type Type string

const (
	TypeNone     Type = ""
	TypeInternal Type = "internal"
	TypeExternal Type = "external"
)

// Script is the content the host reports for a script element.
type Script struct {
	Text  string // inline code
	Src   string // absolute source URL, empty when inline
	Defer bool
}

// Host is the mutable side of the document the scheduler needs.
type Host interface {
	// Scripts lists the document's script elements in document order.
	Scripts() ([]tree.Node, error)
	Script(n tree.Node) (Script, error)
	SetAttribute(n tree.Node, name, value string) error
	// CreateScript builds a detached script element carrying s and attrs.
	CreateScript(s Script, attrs tree.Attributes) (tree.Node, error)
	// InsertBefore inserts n as the previous sibling of ref.
	InsertBefore(n, ref tree.Node) error
	Remove(n tree.Node) error
}

// Record is a queued script. Parent is reserved and always nil.
type Record struct {
	Original tree.Node
	Parent   tree.Node
}

// Result is what Advance reports to the driver.
type Result struct {
	Type    Type   `json:"type"`
	Payload string `json:"payload"`
	HasMore bool   `json:"has_more"`
}

// State is the scheduler cursor state.
type State int

const (
	StateIdle  State = iota // nothing substituted yet
	StateArmed              // a script was swapped in and awaits observation
)

func (s State) String() string {
	if s == StateArmed {
		return "armed"
	}
	return "idle"
}

// Scheduler holds the three FIFO queues and the suppressed pair. Not safe for
// concurrent use.
type Scheduler struct {
	host   Host
	marker string
	logger *slog.Logger

	immediate  []Record
	deferred   []Record
	discovered []Record

	suppressed diff.Suppressed
	state      State
	initial    int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMarker overrides the marker attribute name.
func WithMarker(name string) Option {
	return func(s *Scheduler) { s.marker = name }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New populates the queues from the scripts currently in host. Each original
// is stamped with the marker attribute before any snapshot is taken, so the
// marker never shows up later as an attribute change.
func New(host Host, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		host:   host,
		marker: DefaultMarker,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}

	scripts, err := host.Scripts()
	if err != nil {
		return nil, fmt.Errorf("schedule: list scripts: %w", err)
	}
	for _, n := range scripts {
		info, err := host.Script(n)
		if err != nil {
			return nil, fmt.Errorf("schedule: read script: %w", err)
		}
		if err := host.SetAttribute(n, s.marker, "true"); err != nil {
			return nil, fmt.Errorf("schedule: mark script: %w", err)
		}
		rec := Record{Original: n}
		if info.Defer {
			s.deferred = append(s.deferred, rec)
		} else {
			s.immediate = append(s.immediate, rec)
		}
	}
	s.initial = len(scripts)

	s.logger.Debug("schedule: queues populated",
		"immediate", len(s.immediate), "deferred", len(s.deferred))
	return s, nil
}

// Enqueue adds a script discovered after start. It runs after the current
// immediate queue and before any deferred script still waiting.
func (s *Scheduler) Enqueue(rec Record) {
	s.discovered = append(s.discovered, rec)
}

// Advance activates the next script.
//
// Discovered and then deferred scripts are first moved to the tail of the
// immediate queue. When nothing is left it returns a zero Result with
// HasMore false. Otherwise the head script is replaced in the tree by a fresh
// copy and the pair becomes the suppressed pair.
func (s *Scheduler) Advance() (Result, error) {
	s.immediate = append(s.immediate, s.discovered...)
	s.immediate = append(s.immediate, s.deferred...)
	s.discovered = nil
	s.deferred = nil

	if len(s.immediate) == 0 {
		return Result{}, nil
	}

	rec := s.immediate[0]
	s.immediate = s.immediate[1:]
	orig := rec.Original

	info, err := s.host.Script(orig)
	if err != nil {
		return Result{}, fmt.Errorf("schedule: read script: %w", err)
	}

	res := Result{HasMore: true}
	clone := Script{}
	if info.Text != "" {
		clone.Text = info.Text
		res.Type = TypeInternal
		res.Payload = info.Text
	}
	if info.Src != "" {
		clone.Src = info.Src
		res.Type = TypeExternal
		res.Payload = info.Src
	}

	repl, err := s.host.CreateScript(clone, tree.Attributes{s.marker: "true"})
	if err != nil {
		return Result{}, fmt.Errorf("schedule: create replacement: %w", err)
	}
	if err := s.host.InsertBefore(repl, orig); err != nil {
		return Result{}, fmt.Errorf("schedule: insert replacement: %w", err)
	}
	if err := s.host.Remove(orig); err != nil {
		return Result{}, fmt.Errorf("schedule: remove original: %w", err)
	}

	s.suppressed = diff.Suppressed{Old: orig, New: repl}
	s.state = StateArmed

	s.logger.Debug("schedule: script swapped",
		"type", res.Type, "remaining", len(s.immediate))
	return res, nil
}

// Suppressed returns the pair swapped by the latest Advance. It is not
// cleared between rounds.
func (s *Scheduler) Suppressed() diff.Suppressed { return s.suppressed }

// State reports the cursor state.
func (s *Scheduler) State() State { return s.state }

// Pending is the number of scripts waiting in any queue.
func (s *Scheduler) Pending() int {
	return len(s.immediate) + len(s.deferred) + len(s.discovered)
}

// Initial is the number of scripts found at start.
func (s *Scheduler) Initial() int { return s.initial }

// Marker is the marker attribute name.
func (s *Scheduler) Marker() string { return s.marker }
