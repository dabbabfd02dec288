package htmldoc

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/domreplay/tree"
)

// ShadowRootModeAttr marks a <template> as a declarative shadow root.
const ShadowRootModeAttr = "shadowrootmode"

// Node wraps an *html.Node. Values compare equal iff they wrap the same node.
type Node struct {
	n *html.Node
}

// Wrap returns the tree handle for n, or nil.
func Wrap(n *html.Node) tree.Node {
	if n == nil {
		return nil
	}
	return Node{n: n}
}

// Unwrap returns the underlying node of a handle produced by this package.
func Unwrap(t tree.Node) *html.Node {
	if v, ok := t.(Node); ok {
		return v.n
	}
	return nil
}

// HTML returns the wrapped node.
func (v Node) HTML() *html.Node { return v.n }

func (v Node) Kind() tree.Kind {
	switch {
	case isShadowTemplate(v.n):
		return tree.KindShadowRoot
	case v.n.Type == html.ElementNode:
		return tree.KindElement
	default:
		return tree.KindOther
	}
}

// Children lists element children. A plain <template> has none: its
// content is inert and not part of the rendered tree.
func (v Node) Children() []tree.Node {
	if isInertTemplate(v.n) {
		return nil
	}
	var out []tree.Node
	for c := v.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || isShadowTemplate(c) {
			continue
		}
		out = append(out, Node{n: c})
	}
	return out
}

func (v Node) ShadowRoot() tree.Node {
	if v.n.Type != html.ElementNode || isShadowTemplate(v.n) {
		return nil
	}
	if sr := shadowTemplateOf(v.n); sr != nil {
		return Node{n: sr}
	}
	return nil
}

func (v Node) Attributes() tree.Attributes {
	attrs := make(tree.Attributes, len(v.n.Attr))
	for _, a := range v.n.Attr {
		attrs[attrName(a)] = a.Val
	}
	return attrs
}

func attrName(a html.Attribute) string {
	if a.Namespace != "" {
		return a.Namespace + ":" + a.Key
	}
	return a.Key
}

// isShadowTemplate reports whether n is the template acting as its parent
// element's shadow root: the first <template shadowrootmode> child.
func isShadowTemplate(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode || n.DataAtom != atom.Template {
		return false
	}
	if n.Parent == nil || n.Parent.Type != html.ElementNode {
		return false
	}
	return shadowTemplateOf(n.Parent) == n
}

func shadowTemplateOf(host *html.Node) *html.Node {
	for c := host.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Template && hasAttr(c, ShadowRootModeAttr) {
			return c
		}
	}
	return nil
}

// isInertTemplate reports whether n is a <template> that is not a shadow
// root.
func isInertTemplate(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && n.DataAtom == atom.Template && !isShadowTemplate(n)
}

// outsideLightTree reports whether n is a shadow template, or lives in a
// shadow tree or in template content.
func outsideLightTree(n *html.Node) bool {
	if isShadowTemplate(n) {
		return true
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.DataAtom == atom.Template {
			return true
		}
	}
	return false
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) bool {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return true
		}
	}
	return false
}
