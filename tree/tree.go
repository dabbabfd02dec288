// Package tree defines the read-only view of a host document that the diff
// engine and script scheduler operate on, plus the depth-first walker that
// assigns structural paths.
//
// The host owns every node. This package only ever holds identity references:
// a Node value is a handle, and two handles are == when they refer to the same
// underlying node.
package tree

import (
	"strconv"
	"strings"
)

// Kind is the closed set of node kinds the core distinguishes.
type Kind int

const (
	KindOther      Kind = iota // text, comment, doctype, ...
	KindElement                // element node
	KindShadowRoot             // document fragment hosting a shadow tree
)

func (k Kind) String() string {
	switch k {
	case KindElement:
		return "element"
	case KindShadowRoot:
		return "shadowRoot"
	default:
		return "other"
	}
}

// Node is an identity reference into a host document.
//
// Implementations must be comparable and identity-stable: the same underlying
// node always yields == values, different nodes never do.
type Node interface {
	Kind() Kind
	// Children returns the element children in document order.
	Children() []Node
	// ShadowRoot returns the attached shadow tree, or nil.
	ShadowRoot() Node
	// Attributes returns a fresh copy of the live attributes. Only called for
	// element nodes.
	Attributes() Attributes
}

// Attributes maps attribute names to values. Order is irrelevant.
type Attributes map[string]string

// Differs reports whether a (the previously recorded map) and b (the freshly
// captured one) differ: the key counts differ, a key of a is missing from b,
// or a shared key has a different value.
func (a Attributes) Differs(b Attributes) bool {
	if len(a) != len(b) {
		return true
	}
	for k, v := range a {
		nv, ok := b[k]
		if !ok || nv != v {
			return true
		}
	}
	return false
}

// Clone returns an independent copy.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Capture snapshots the attributes of n. Non-element nodes yield an empty map.
func Capture(n Node) Attributes {
	if n.Kind() != KindElement {
		return Attributes{}
	}
	attrs := n.Attributes()
	if attrs == nil {
		return Attributes{}
	}
	return attrs
}

// Path is a structural path: child indices joined by ">" from the root, with
// the literal "shadowRoot" segment for entering a shadow tree. It is only
// meaningful within the traversal round that produced it.
type Path string

const (
	// RootPath is the path of the traversal root (the document element).
	RootPath Path = "0"
	// ShadowSegment marks the step into a shadow tree.
	ShadowSegment = "shadowRoot"
	sep           = ">"
)

// Child returns the path of the i-th element child.
func (p Path) Child(i int) Path {
	return p + sep + Path(strconv.Itoa(i))
}

// Shadow returns the path of the shadow tree attached to p.
func (p Path) Shadow() Path {
	return p + sep + ShadowSegment
}

// Segments splits p into its segments.
func (p Path) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), sep)
}

// Depth is the number of segments in p.
func (p Path) Depth() int {
	return len(p.Segments())
}

// Parent returns the path one segment up, or "" for the root.
func (p Path) Parent() Path {
	i := strings.LastIndex(string(p), sep)
	if i < 0 {
		return ""
	}
	return p[:i]
}

// InShadow reports whether p crosses at least one shadow boundary.
func (p Path) InShadow() bool {
	for _, s := range p.Segments() {
		if s == ShadowSegment {
			return true
		}
	}
	return false
}
