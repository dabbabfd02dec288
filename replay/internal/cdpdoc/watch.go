package cdpdoc

import (
	"context"
	"strings"
	"sync"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/domreplay/tree"
)

// Activity receives DOM events from Watch. Both methods are called from the
// watch goroutine.
type Activity interface {
	// Touch reports any DOM mutation.
	Touch()
	// Discovered reports a <script> inserted without the marker attribute.
	Discovered(id proto.DOMBackendNodeID)
}

// Watch streams DOM mutation events to a until ctx is cancelled. Scripts
// carrying marker are the scheduler's own replacements and are not reported
// as discovered.
func (d *Document) Watch(ctx context.Context, marker string, a Activity) {
	wait := d.page.Context(ctx).EachEvent(
		func(e *proto.DOMChildNodeInserted) {
			a.Touch()
			for _, id := range unmarkedScripts(e.Node, marker) {
				a.Discovered(id)
			}
		},
		func(e *proto.DOMSetChildNodes) {
			for _, n := range e.Nodes {
				for _, id := range unmarkedScripts(n, marker) {
					a.Discovered(id)
				}
			}
		},
		func(*proto.DOMChildNodeRemoved) { a.Touch() },
		func(*proto.DOMAttributeModified) { a.Touch() },
		func(*proto.DOMAttributeRemoved) { a.Touch() },
		func(*proto.DOMCharacterDataModified) { a.Touch() },
		func(*proto.DOMShadowRootPushed) { a.Touch() },
		func(*proto.DOMShadowRootPopped) { a.Touch() },
	)
	wait()
}

// unmarkedScripts collects the unmarked, non-shadow scripts in an inserted
// subtree, in document order.
func unmarkedScripts(n *proto.DOMNode, marker string) []proto.DOMBackendNodeID {
	var out []proto.DOMBackendNodeID
	var walk func(*proto.DOMNode)
	walk = func(n *proto.DOMNode) {
		if n == nil {
			return
		}
		if n.NodeType == 1 && strings.EqualFold(n.NodeName, "script") {
			if _, marked := parseAttributes(n.Attributes)[marker]; !marked {
				out = append(out, n.BackendNodeID)
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
	return out
}

// Feed buffers discovered scripts between replay steps. It implements
// Activity and hands the buffered scripts to the driver on Drain.
type Feed struct {
	doc    *Document
	marker string
	touch  func()

	mu  sync.Mutex
	ids []proto.DOMBackendNodeID
	set map[proto.DOMBackendNodeID]bool
}

// NewFeed creates a Feed that forwards Touch to touch.
func NewFeed(doc *Document, marker string, touch func()) *Feed {
	if touch == nil {
		touch = func() {}
	}
	return &Feed{doc: doc, marker: marker, touch: touch, set: make(map[proto.DOMBackendNodeID]bool)}
}

func (f *Feed) Touch() { f.touch() }

func (f *Feed) Discovered(id proto.DOMBackendNodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set[id] {
		return
	}
	f.set[id] = true
	f.ids = append(f.ids, id)
}

// Drain returns the scripts discovered since the last call that are still
// in the document. Called from the driver goroutine only.
func (f *Feed) Drain() []tree.Node {
	f.mu.Lock()
	ids := f.ids
	f.ids = nil
	f.mu.Unlock()

	out := make([]tree.Node, 0, len(ids))
	for _, id := range ids {
		n, ok := f.doc.Node(id)
		if !ok {
			f.doc.logger.Debug("cdpdoc: discovered script gone", "backend_id", id)
			continue
		}
		if _, marked := n.Attributes()[f.marker]; marked {
			continue
		}
		out = append(out, n)
	}
	return out
}
