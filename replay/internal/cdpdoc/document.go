// Package cdpdoc exposes a live Chrome page as a host document. The tree is
// read with one DOM.getDocument call per Root, while script replacement and
// attribute writes run as small functions evaluated against the page.
package cdpdoc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/hazyhaar/domreplay/schedule"
	"github.com/hazyhaar/domreplay/tree"
)

// ErrNoDocumentElement is returned when the page has no <html> element.
var ErrNoDocumentElement = errors.New("cdpdoc: no document element")

// Document is a live page. Not safe for concurrent use, except Watch.
type Document struct {
	ctx    context.Context
	page   *rod.Page
	nodes  *arena
	logger *slog.Logger
}

// Option configures a Document.
type Option func(*Document)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Document) { d.logger = l }
}

// New binds a Document to page. Every CDP call is bounded by ctx.
func New(ctx context.Context, page *rod.Page, opts ...Option) (*Document, error) {
	d := &Document{
		ctx:    ctx,
		page:   page,
		nodes:  newArena(),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if err := (proto.DOMEnable{}).Call(d.p()); err != nil {
		return nil, fmt.Errorf("cdpdoc: enable DOM: %w", err)
	}
	return d, nil
}

func (d *Document) p() *rod.Page { return d.page.Context(d.ctx) }

// Root re-reads the whole tree, shadow roots included, and returns the
// document element.
func (d *Document) Root() (tree.Node, error) {
	root, err := d.refresh()
	if err != nil {
		return nil, err
	}
	return root, nil
}

func (d *Document) refresh() (*node, error) {
	depth := -1
	res, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(d.p())
	if err != nil {
		return nil, fmt.Errorf("cdpdoc: get document: %w", err)
	}
	root := d.nodes.refresh(res.Root)
	if root == nil {
		return nil, ErrNoDocumentElement
	}
	d.logger.Debug("cdpdoc: tree refreshed", "nodes", d.nodes.len())
	return root, nil
}

// Scripts lists the <script> elements outside shadow trees in document order.
func (d *Document) Scripts() ([]tree.Node, error) {
	root, err := d.refresh()
	if err != nil {
		return nil, err
	}
	var out []tree.Node
	var walk func(*node)
	walk = func(n *node) {
		if n.isScript() {
			out = append(out, n)
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(root)
	return out, nil
}

// Script reads the inline text, absolute source and defer flag of a script.
func (d *Document) Script(t tree.Node) (schedule.Script, error) {
	el, err := d.element(t)
	if err != nil {
		return schedule.Script{}, err
	}
	res, err := el.Eval(`() => ({text: this.text, src: this.src, defer: this.defer})`)
	if err != nil {
		return schedule.Script{}, fmt.Errorf("cdpdoc: read script: %w", err)
	}
	return decodeScript(res.Value), nil
}

func decodeScript(v gson.JSON) schedule.Script {
	return schedule.Script{
		Text:  v.Get("text").Str(),
		Src:   v.Get("src").Str(),
		Defer: v.Get("defer").Bool(),
	}
}

// SetAttribute sets an attribute on an element.
func (d *Document) SetAttribute(t tree.Node, name, value string) error {
	el, err := d.element(t)
	if err != nil {
		return err
	}
	if _, err := el.Eval(`(k, v) => this.setAttribute(k, v)`, name, value); err != nil {
		return fmt.Errorf("cdpdoc: set attribute %s: %w", name, err)
	}
	if n, ok := t.(*node); ok {
		n.attrs[name] = value
	}
	return nil
}

// CreateScript builds a detached script element in the page. It runs once
// inserted.
func (d *Document) CreateScript(s schedule.Script, attrs tree.Attributes) (tree.Node, error) {
	if attrs == nil {
		attrs = tree.Attributes{}
	}
	obj, err := d.p().Evaluate(rod.Eval(`(text, src, attrs) => {
		const s = document.createElement('script');
		for (const [k, v] of Object.entries(attrs)) s.setAttribute(k, v);
		if (text) s.text = text;
		if (src) s.src = src;
		return s;
	}`, s.Text, s.Src, map[string]string(attrs)).ByObject())
	if err != nil {
		return nil, fmt.Errorf("cdpdoc: create script: %w", err)
	}
	desc, err := proto.DOMDescribeNode{ObjectID: obj.ObjectID}.Call(d.p())
	if err != nil {
		return nil, fmt.Errorf("cdpdoc: describe script: %w", err)
	}

	n := &node{
		id:    desc.Node.BackendNodeID,
		typ:   1,
		name:  "SCRIPT",
		attrs: attrs.Clone(),
	}
	if s.Src != "" {
		n.attrs["src"] = s.Src
	}
	d.nodes.register(n)
	return n, nil
}

// InsertBefore inserts t as the previous sibling of ref.
func (d *Document) InsertBefore(t, ref tree.Node) error {
	el, err := d.element(t)
	if err != nil {
		return err
	}
	refEl, err := d.element(ref)
	if err != nil {
		return err
	}
	res, err := el.Eval(`(ref) => {
		if (!ref.parentNode) return false;
		ref.parentNode.insertBefore(this, ref);
		return true;
	}`, refEl.Object)
	if err != nil {
		return fmt.Errorf("cdpdoc: insert: %w", err)
	}
	if !res.Value.Bool() {
		return schedule.ErrDetached
	}
	return nil
}

// Remove detaches t from its parent.
func (d *Document) Remove(t tree.Node) error {
	el, err := d.element(t)
	if err != nil {
		return err
	}
	res, err := el.Eval(`() => {
		if (!this.parentNode) return false;
		this.remove();
		return true;
	}`)
	if err != nil {
		return fmt.Errorf("cdpdoc: remove: %w", err)
	}
	if !res.Value.Bool() {
		return schedule.ErrDetached
	}
	return nil
}

// QuerySelectorAll resolves a CSS selector in the page. Matches the last
// refresh did not see are dropped.
func (d *Document) QuerySelectorAll(selector string) ([]tree.Node, error) {
	els, err := d.p().Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("cdpdoc: selector %q: %w", selector, err)
	}
	return d.known(els), nil
}

// QueryXPath resolves an XPath expression in the page.
func (d *Document) QueryXPath(expr string) ([]tree.Node, error) {
	els, err := d.p().ElementsX(expr)
	if err != nil {
		return nil, fmt.Errorf("cdpdoc: xpath %q: %w", expr, err)
	}
	return d.known(els), nil
}

func (d *Document) known(els rod.Elements) []tree.Node {
	out := make([]tree.Node, 0, len(els))
	for _, el := range els {
		desc, err := el.Describe(0, false)
		if err != nil {
			d.logger.Debug("cdpdoc: describe failed", "error", err)
			continue
		}
		if n, ok := d.nodes.lookup(desc.BackendNodeID); ok {
			out = append(out, n)
		}
	}
	return out
}

// Node returns the node with the given BackendNodeID, refreshing the tree
// once if the last refresh predates it.
func (d *Document) Node(id proto.DOMBackendNodeID) (tree.Node, bool) {
	if n, ok := d.nodes.lookup(id); ok {
		return n, true
	}
	if _, err := d.refresh(); err != nil {
		d.logger.Warn("cdpdoc: refresh failed", "error", err)
		return nil, false
	}
	n, ok := d.nodes.lookup(id)
	if !ok {
		return nil, false
	}
	return n, true
}

// HTML serialises the current document.
func (d *Document) HTML() (string, error) {
	res, err := d.p().Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("cdpdoc: outer html: %w", err)
	}
	return res.Value.Str(), nil
}

func (d *Document) element(t tree.Node) (*rod.Element, error) {
	n, ok := t.(*node)
	if !ok {
		return nil, fmt.Errorf("cdpdoc: foreign node %T", t)
	}
	el, err := d.p().ElementFromNode(&proto.DOMNode{BackendNodeID: n.id})
	if err != nil {
		return nil, fmt.Errorf("cdpdoc: resolve node %d: %w", n.id, err)
	}
	return el, nil
}
