// Package event defines the structured records emitted by a replay run.
// These are the public output contract: sinks and downstream consumers import
// this package to receive the changes attributed to each executed script.
package event

import (
	"slices"
	"strings"

	"github.com/hazyhaar/domreplay/diff"
	"github.com/hazyhaar/domreplay/tree"
)

// Change is one diff event on the wire.
type Change struct {
	Kind       string            `json:"type"` // node, shadowRoot
	Op         string            `json:"op"`   // create, delete, change
	Path       string            `json:"path"`
	Attributes map[string]string `json:"attributes,omitempty"` // create/change only
	Delta      []AttrChange      `json:"delta,omitempty"`      // change only
}

// Attribute delta operations.
const (
	AttrAdded    = "added"
	AttrRemoved  = "removed"
	AttrModified = "modified"
)

// AttrChange is one attribute that differs between two rounds. Old is empty
// for added attributes, New for removed ones.
type AttrChange struct {
	Name string `json:"name"`
	Op   string `json:"op"`
	Old  string `json:"old,omitempty"`
	New  string `json:"new,omitempty"`
}

// Step is the unit emitted by the driver: one script activation and the
// changes observed after it settled.
type Step struct {
	ID          string   `json:"id"` // UUIDv7
	RunID       string   `json:"run_id"`
	PageID      string   `json:"page_id"`
	PageURL     string   `json:"page_url"`
	Seq         uint64   `json:"seq"`         // 1-based, per run
	ScriptType  string   `json:"script_type"` // internal, external, or empty
	Payload     string   `json:"payload"`     // inline text or absolute src
	PayloadHash string   `json:"payload_hash,omitempty"`
	Changes     []Change `json:"changes"`
	NodeCount   int      `json:"node_count"`
	Timestamp   int64    `json:"timestamp"` // epoch milliseconds after settle
}

// Status of a run.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusStepCap Status = "step_cap" // stopped at max_steps with scripts pending
)

// Run summarises one replay of one page.
type Run struct {
	ID        string `json:"id"` // UUIDv7
	PageID    string `json:"page_id"`
	PageURL   string `json:"page_url"`
	Scripts   int    `json:"scripts"`    // found at open
	Steps     int    `json:"steps"`      // executed
	NodeCount int    `json:"node_count"` // final snapshot size
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	Started   int64  `json:"started"`
	Finished  int64  `json:"finished,omitempty"`
}

// FromDiff converts engine events to wire changes. Created and changed nodes
// carry their attributes as seen by the diff; changes also list which
// attributes moved and from what.
func FromDiff(events []diff.Event) []Change {
	out := make([]Change, 0, len(events))
	for _, ev := range events {
		c := Change{Kind: string(ev.Kind), Op: string(ev.Op), Path: string(ev.Path)}
		if ev.Op != diff.OpDelete {
			var attrs tree.Attributes
			switch {
			case ev.Attributes != nil:
				attrs = ev.Attributes.Clone()
			case ev.Node != nil:
				attrs = ev.Node.Attributes()
			}
			if len(attrs) > 0 {
				c.Attributes = attrs
			}
		}
		if ev.Op == diff.OpChange {
			c.Delta = AttrDelta(ev.Prev, ev.Attributes)
		}
		out = append(out, c)
	}
	return out
}

// AttrDelta lists the attributes that differ between prev and next, sorted
// by name.
func AttrDelta(prev, next tree.Attributes) []AttrChange {
	var out []AttrChange
	for name, old := range prev {
		cur, ok := next[name]
		switch {
		case !ok:
			out = append(out, AttrChange{Name: name, Op: AttrRemoved, Old: old})
		case cur != old:
			out = append(out, AttrChange{Name: name, Op: AttrModified, Old: old, New: cur})
		}
	}
	for name, cur := range next {
		if _, ok := prev[name]; !ok {
			out = append(out, AttrChange{Name: name, Op: AttrAdded, New: cur})
		}
	}
	slices.SortFunc(out, func(a, b AttrChange) int { return strings.Compare(a.Name, b.Name) })
	return out
}
