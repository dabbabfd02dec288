package diff

import "github.com/hazyhaar/domreplay/tree"

// Op is the operation an Event reports.
type Op string

const (
	OpCreate Op = "create"
	OpDelete Op = "delete"
	OpChange Op = "change"
)

// Kind tags what kind of node an Event is about.
type Kind string

const (
	KindNode       Kind = "node"
	KindShadowRoot Kind = "shadowRoot"
)

func kindOf(n tree.Node) Kind { return kindFor(n.Kind()) }

func kindFor(k tree.Kind) Kind {
	if k == tree.KindShadowRoot {
		return KindShadowRoot
	}
	return KindNode
}

// Event is one entry of a diff round.
//
// Creates and changes carry the path from the new traversal, the live node
// and the attributes captured during the walk. Changes also carry the
// attributes recorded in the previous round. Deletes carry the path recorded
// in the discarded snapshot and nothing else.
type Event struct {
	Kind       Kind
	Op         Op
	Path       tree.Path
	Node       tree.Node
	Attributes tree.Attributes
	Prev       tree.Attributes
}

// Suppressed is the node pair a script swap has in flight. Old is the
// original script node, New its replacement. Either may be nil.
type Suppressed struct {
	Old tree.Node
	New tree.Node
}
