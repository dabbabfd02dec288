// Package htmldoc is an in-memory host document backed by golang.org/x/net/html.
//
// Shadow trees are modelled the way declarative shadow DOM serialises them:
// the first <template shadowrootmode="..."> child of an element is that
// element's shadow root. It is not one of the element's children, and
// document-level selector queries do not see into it.
package htmldoc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/domreplay/schedule"
	"github.com/hazyhaar/domreplay/tree"
)

// ErrNoDocumentElement is returned when the parsed input has no <html> root.
var ErrNoDocumentElement = errors.New("htmldoc: no document element")

// Document is a mutable HTML document. Not safe for concurrent use.
type Document struct {
	doc    *html.Node
	base   *url.URL
	logger *slog.Logger
}

type options struct {
	baseURL string
	logger  *slog.Logger
}

// Option configures a Document.
type Option func(*options)

// WithBaseURL sets the URL relative script sources are resolved against.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Parse reads an HTML document.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	o := options{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}

	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: parse: %w", err)
	}

	d := &Document{doc: doc, logger: o.logger}
	if o.baseURL != "" {
		u, err := url.Parse(o.baseURL)
		if err != nil {
			return nil, fmt.Errorf("htmldoc: base url: %w", err)
		}
		d.base = u
	}
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), opts...)
}

// HTML returns the document node.
func (d *Document) HTML() *html.Node { return d.doc }

// Root returns the document element, the traversal root.
func (d *Document) Root() (tree.Node, error) {
	for c := d.doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return Node{n: c}, nil
		}
	}
	return nil, ErrNoDocumentElement
}

// Render serialises the document.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.doc)
}

// QuerySelectorAll returns the elements matching a CSS selector group, in
// document order. Shadow trees and template content are not searched.
func (d *Document) QuerySelectorAll(selector string) ([]tree.Node, error) {
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: selector %q: %w", selector, err)
	}
	return d.lightNodes(cascadia.QueryAll(d.doc, sel)), nil
}

// QueryXPath returns the elements matching an XPath expression, in document
// order. Shadow trees and template content are not searched.
func (d *Document) QueryXPath(expr string) ([]tree.Node, error) {
	nodes, err := htmlquery.QueryAll(d.doc, expr)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: xpath %q: %w", expr, err)
	}
	return d.lightNodes(nodes), nil
}

func (d *Document) lightNodes(nodes []*html.Node) []tree.Node {
	out := make([]tree.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Type != html.ElementNode || outsideLightTree(n) {
			continue
		}
		out = append(out, Node{n: n})
	}
	return out
}

// Scripts lists the <script> elements in document order, leaving out shadow
// trees and template content.
func (d *Document) Scripts() ([]tree.Node, error) {
	var out []tree.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Template {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Script {
			out = append(out, Node{n: n})
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.doc)
	return out, nil
}

// Script reports the inline text, resolved source and defer flag of n.
func (d *Document) Script(t tree.Node) (schedule.Script, error) {
	n, err := d.element(t)
	if err != nil {
		return schedule.Script{}, err
	}
	var s schedule.Script
	var text strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			text.WriteString(c.Data)
		}
	}
	s.Text = text.String()
	if src, ok := getAttr(n, "src"); ok && src != "" {
		s.Src = d.resolve(src)
	}
	s.Defer = hasAttr(n, "defer")
	return s, nil
}

func (d *Document) resolve(ref string) string {
	if d.base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		d.logger.Warn("htmldoc: unresolvable script src", "src", ref, "error", err)
		return ref
	}
	return d.base.ResolveReference(u).String()
}

// SetAttribute sets or replaces an attribute on an element.
func (d *Document) SetAttribute(t tree.Node, name, value string) error {
	n, err := d.element(t)
	if err != nil {
		return err
	}
	setAttr(n, name, value)
	return nil
}

// RemoveAttribute removes an attribute. Removing an absent one is a no-op.
func (d *Document) RemoveAttribute(t tree.Node, name string) error {
	n, err := d.element(t)
	if err != nil {
		return err
	}
	removeAttr(n, name)
	return nil
}

// CreateElement builds a detached element.
func (d *Document) CreateElement(tag string, attrs tree.Attributes) tree.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}
	for k, v := range attrs {
		setAttr(n, k, v)
	}
	return Node{n: n}
}

// CreateScript builds a detached <script> carrying s.
func (d *Document) CreateScript(s schedule.Script, attrs tree.Attributes) (tree.Node, error) {
	t := d.CreateElement("script", attrs)
	n := Unwrap(t)
	if s.Src != "" {
		setAttr(n, "src", s.Src)
	}
	if s.Text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: s.Text})
	}
	return t, nil
}

// AppendChild appends child to parent. child must be detached.
func (d *Document) AppendChild(parent, child tree.Node) error {
	p, c := Unwrap(parent), Unwrap(child)
	if p == nil || c == nil {
		return fmt.Errorf("htmldoc: append: foreign node")
	}
	if c.Parent != nil {
		c.Parent.RemoveChild(c)
	}
	p.AppendChild(c)
	return nil
}

// InsertBefore inserts n as the previous sibling of ref.
func (d *Document) InsertBefore(t, ref tree.Node) error {
	n, r := Unwrap(t), Unwrap(ref)
	if n == nil || r == nil {
		return fmt.Errorf("htmldoc: insert: foreign node")
	}
	if r.Parent == nil {
		return schedule.ErrDetached
	}
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	r.Parent.InsertBefore(n, r)
	return nil
}

// Remove detaches n from its parent.
func (d *Document) Remove(t tree.Node) error {
	n := Unwrap(t)
	if n == nil {
		return fmt.Errorf("htmldoc: remove: foreign node")
	}
	if n.Parent == nil {
		return schedule.ErrDetached
	}
	n.Parent.RemoveChild(n)
	return nil
}

// AttachShadow gives host an open shadow root and returns it. An existing
// shadow root is returned unchanged.
func (d *Document) AttachShadow(host tree.Node) (tree.Node, error) {
	n, err := d.element(host)
	if err != nil {
		return nil, err
	}
	if sr := shadowTemplateOf(n); sr != nil {
		return Node{n: sr}, nil
	}
	sr := &html.Node{
		Type:     html.ElementNode,
		Data:     "template",
		DataAtom: atom.Template,
		Attr:     []html.Attribute{{Key: ShadowRootModeAttr, Val: "open"}},
	}
	n.AppendChild(sr)
	return Node{n: sr}, nil
}

func (d *Document) element(t tree.Node) (*html.Node, error) {
	n := Unwrap(t)
	if n == nil {
		return nil, fmt.Errorf("htmldoc: foreign node %T", t)
	}
	if n.Type != html.ElementNode {
		return nil, fmt.Errorf("htmldoc: not an element")
	}
	return n, nil
}
