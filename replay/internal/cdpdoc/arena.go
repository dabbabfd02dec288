package cdpdoc

import (
	"strings"
	"sync"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/domreplay/tree"
)

// node is one DOM node as last seen through DOM.getDocument. Pointers are
// stable for the life of the arena, so *node values serve as identity keys.
type node struct {
	id       proto.DOMBackendNodeID
	typ      int
	name     string // upper-case node name, e.g. SCRIPT
	attrs    tree.Attributes
	children []*node // element children
	shadow   *node   // open shadow root
	inShadow bool
}

func (n *node) Kind() tree.Kind {
	switch n.typ {
	case 1:
		return tree.KindElement
	case 11:
		return tree.KindShadowRoot
	default:
		return tree.KindOther
	}
}

func (n *node) Children() []tree.Node {
	out := make([]tree.Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

func (n *node) ShadowRoot() tree.Node {
	if n.shadow == nil {
		return nil
	}
	return n.shadow
}

func (n *node) Attributes() tree.Attributes { return n.attrs.Clone() }

func (n *node) isScript() bool { return n.typ == 1 && n.name == "SCRIPT" }

// arena maps BackendNodeIDs to nodes. BackendNodeIDs survive DOM.getDocument
// calls, unlike NodeIDs, so a node keeps its *node across refreshes.
type arena struct {
	mu    sync.Mutex
	nodes map[proto.DOMBackendNodeID]*node
}

func newArena() *arena {
	return &arena{nodes: make(map[proto.DOMBackendNodeID]*node)}
}

// refresh rebuilds the arena from a getDocument result and returns the
// document element. Nodes absent from doc are dropped.
func (a *arena) refresh(doc *proto.DOMNode) *node {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := make(map[proto.DOMBackendNodeID]*node, len(a.nodes))
	var root *node
	for _, c := range doc.Children {
		if c.NodeType == 1 {
			root = a.adopt(next, c, false)
			break
		}
	}
	a.nodes = next
	return root
}

func (a *arena) adopt(next map[proto.DOMBackendNodeID]*node, d *proto.DOMNode, inShadow bool) *node {
	n, ok := a.nodes[d.BackendNodeID]
	if !ok {
		n = &node{id: d.BackendNodeID}
	}
	n.typ = d.NodeType
	n.name = strings.ToUpper(d.NodeName)
	n.attrs = parseAttributes(d.Attributes)
	n.inShadow = inShadow
	n.children = n.children[:0]
	n.shadow = nil
	next[d.BackendNodeID] = n

	for _, c := range d.Children {
		if c.NodeType == 1 {
			n.children = append(n.children, a.adopt(next, c, inShadow))
		}
	}
	for _, sr := range d.ShadowRoots {
		if sr.ShadowRootType == proto.DOMShadowRootTypeOpen {
			n.shadow = a.adopt(next, sr, true)
			break
		}
	}
	return n
}

// register adds a node created outside getDocument, such as a replacement
// script, so the next refresh reuses it.
func (a *arena) register(n *node) {
	a.mu.Lock()
	a.nodes[n.id] = n
	a.mu.Unlock()
}

func (a *arena) lookup(id proto.DOMBackendNodeID) (*node, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.nodes[id]
	return n, ok
}

func (a *arena) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.nodes)
}

// parseAttributes turns CDP's flat [name, value, name, value...] list into
// a map.
func parseAttributes(flat []string) tree.Attributes {
	out := make(tree.Attributes, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		out[flat[i]] = flat[i+1]
	}
	return out
}
