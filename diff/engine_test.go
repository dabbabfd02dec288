package diff_test

import (
	"testing"

	"github.com/hazyhaar/domreplay/diff"
	"github.com/hazyhaar/domreplay/htmldoc"
	"github.com/hazyhaar/domreplay/tree"
)

const base = `<html><head></head><body><div id="a"><span></span></div><ul><li></li><li></li></ul></body></html>`

type fixture struct {
	t    *testing.T
	doc  *htmldoc.Document
	root tree.Node
	e    *diff.Engine
}

func newFixture(t *testing.T, src string) *fixture {
	t.Helper()
	doc, err := htmldoc.ParseString(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	root, err := doc.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	e := diff.NewEngine()
	e.Build(root)
	return &fixture{t: t, doc: doc, root: root, e: e}
}

func (f *fixture) one(sel string) tree.Node {
	f.t.Helper()
	nodes, err := f.doc.QuerySelectorAll(sel)
	if err != nil || len(nodes) == 0 {
		f.t.Fatalf("query %q: %v (%d)", sel, err, len(nodes))
	}
	return nodes[0]
}

func (f *fixture) diff() []diff.Event {
	return f.e.Diff(f.root, diff.Suppressed{})
}

func TestDiff_NoOpIdempotence(t *testing.T) {
	f := newFixture(t, base)
	if got := f.diff(); len(got) != 0 {
		t.Fatalf("first diff: got %d events, want 0", len(got))
	}
	if got := f.diff(); len(got) != 0 {
		t.Fatalf("second diff: got %d events, want 0", len(got))
	}
}

func TestDiff_CreateThenDelete(t *testing.T) {
	f := newFixture(t, base)
	parent := f.one("#a")
	parentRec, _ := f.e.Lookup(parent)

	leaf := f.doc.CreateElement("em", nil)
	if err := f.doc.AppendChild(parent, leaf); err != nil {
		t.Fatal(err)
	}

	got := f.diff()
	if len(got) != 1 {
		t.Fatalf("create round: got %d events, want 1", len(got))
	}
	ev := got[0]
	if ev.Op != diff.OpCreate || ev.Kind != diff.KindNode {
		t.Errorf("event: got %s/%s, want create/node", ev.Op, ev.Kind)
	}
	if ev.Node != leaf {
		t.Error("create event does not carry the live node")
	}
	if ev.Path.Depth() != parentRec.Path.Depth()+1 || ev.Path.Parent() != parentRec.Path {
		t.Errorf("path %q is not a child of %q", ev.Path, parentRec.Path)
	}
	created := ev.Path

	if err := f.doc.Remove(leaf); err != nil {
		t.Fatal(err)
	}
	got = f.diff()
	if len(got) != 1 {
		t.Fatalf("delete round: got %d events, want 1", len(got))
	}
	if got[0].Op != diff.OpDelete || got[0].Path != created {
		t.Errorf("delete: got %s %q, want delete %q", got[0].Op, got[0].Path, created)
	}
	if got[0].Node != nil {
		t.Error("delete event carries a node")
	}
}

func TestDiff_AttributeChange(t *testing.T) {
	f := newFixture(t, base)
	div := f.one("#a")
	if err := f.doc.SetAttribute(div, "class", "x"); err != nil {
		t.Fatal(err)
	}
	f.diff()

	if err := f.doc.SetAttribute(div, "class", "y"); err != nil {
		t.Fatal(err)
	}
	got := f.diff()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	rec, _ := f.e.Lookup(div)
	if got[0].Op != diff.OpChange || got[0].Path != rec.Path || got[0].Node != div {
		t.Errorf("event: got %+v, want change at %q", got[0], rec.Path)
	}
	if got[0].Prev["class"] != "x" || got[0].Attributes["class"] != "y" {
		t.Errorf("attributes: prev %v, now %v", got[0].Prev, got[0].Attributes)
	}
}

func TestDiff_AttributeRemoval(t *testing.T) {
	f := newFixture(t, base)
	div := f.one("#a")
	if err := f.doc.RemoveAttribute(div, "id"); err != nil {
		t.Fatal(err)
	}
	got := f.diff()
	if len(got) != 1 || got[0].Op != diff.OpChange {
		t.Fatalf("got %+v, want one change", got)
	}
}

func TestDiff_ShadowTraversal(t *testing.T) {
	f := newFixture(t, `<html><head></head><body><p></p><p></p><div></div></body></html>`)
	host := f.one("div")
	rec, _ := f.e.Lookup(host)
	if rec.Path != "0>1>2" {
		t.Fatalf("host path: got %q, want 0>1>2", rec.Path)
	}

	sr, err := f.doc.AttachShadow(host)
	if err != nil {
		t.Fatal(err)
	}
	inner := f.doc.CreateElement("b", nil)
	if err := f.doc.AppendChild(sr, inner); err != nil {
		t.Fatal(err)
	}

	got := f.diff()
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Kind != diff.KindShadowRoot || got[0].Path != "0>1>2>shadowRoot" {
		t.Errorf("shadow create: got %s %q", got[0].Kind, got[0].Path)
	}
	if got[1].Kind != diff.KindNode || got[1].Path != "0>1>2>shadowRoot>0" {
		t.Errorf("inner create: got %s %q", got[1].Kind, got[1].Path)
	}
}

func TestDiff_ShadowRootDeleteKind(t *testing.T) {
	f := newFixture(t, `<html><head></head><body><div><template shadowrootmode="open"><i></i></template></div></body></html>`)
	host := f.one("div")
	sr := host.ShadowRoot()
	if err := f.doc.Remove(sr); err != nil {
		t.Fatal(err)
	}
	got := f.diff()
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Path != "0>1>0>shadowRoot>0" || got[0].Kind != diff.KindNode {
		t.Errorf("first delete: got %s %q", got[0].Kind, got[0].Path)
	}
	if got[1].Path != "0>1>0>shadowRoot" || got[1].Kind != diff.KindShadowRoot {
		t.Errorf("second delete: got %s %q", got[1].Kind, got[1].Path)
	}
}

func TestDiff_DeleteOrdering(t *testing.T) {
	f := newFixture(t, base)
	div := f.one("#a")
	if err := f.doc.Remove(div); err != nil {
		t.Fatal(err)
	}
	got := f.diff()
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Path != "0>1>0>0" || got[1].Path != "0>1>0" {
		t.Errorf("order: got %q then %q, want child before parent", got[0].Path, got[1].Path)
	}
}

func TestDiff_EventOrder(t *testing.T) {
	f := newFixture(t, base)
	ul := f.one("ul")
	if err := f.doc.SetAttribute(ul, "role", "list"); err != nil {
		t.Fatal(err)
	}
	if err := f.doc.Remove(f.one("span")); err != nil {
		t.Fatal(err)
	}
	if err := f.doc.AppendChild(ul, f.doc.CreateElement("li", nil)); err != nil {
		t.Fatal(err)
	}

	got := f.diff()
	want := []diff.Op{diff.OpDelete, diff.OpCreate, diff.OpChange}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i, op := range want {
		if got[i].Op != op {
			t.Errorf("event[%d]: got %s, want %s", i, got[i].Op, op)
		}
	}
	if got[1].Path != "0>1>1>2" {
		t.Errorf("create path: got %q", got[1].Path)
	}
}

func TestDiff_CreatesInDocumentOrder(t *testing.T) {
	f := newFixture(t, base)
	div := f.one("#a")
	outer := f.doc.CreateElement("section", nil)
	inner := f.doc.CreateElement("p", nil)
	if err := f.doc.AppendChild(outer, inner); err != nil {
		t.Fatal(err)
	}
	if err := f.doc.AppendChild(div, outer); err != nil {
		t.Fatal(err)
	}
	got := f.diff()
	if len(got) != 2 || got[0].Node != outer || got[1].Node != inner {
		t.Fatalf("want ancestor create before descendant, got %+v", got)
	}
}

func TestDiff_MoveWithoutAttributeChangeIsSilent(t *testing.T) {
	f := newFixture(t, base)
	span := f.one("span")
	ul := f.one("ul")
	if err := f.doc.AppendChild(ul, span); err != nil {
		t.Fatal(err)
	}
	if got := f.diff(); len(got) != 0 {
		t.Fatalf("move: got %d events, want 0", len(got))
	}
	rec, _ := f.e.Lookup(span)
	if rec.Path != "0>1>1>2" {
		t.Errorf("path not refreshed: got %q", rec.Path)
	}
}

func TestDiff_Suppression(t *testing.T) {
	f := newFixture(t, `<html><head></head><body><script>x()</script></body></html>`)
	orig := f.one("script")
	repl := f.doc.CreateElement("script", tree.Attributes{"data-new": "1"})
	if err := f.doc.InsertBefore(repl, orig); err != nil {
		t.Fatal(err)
	}
	if err := f.doc.Remove(orig); err != nil {
		t.Fatal(err)
	}

	got := f.e.Diff(f.root, diff.Suppressed{Old: orig, New: repl})
	if len(got) != 0 {
		t.Fatalf("suppressed swap: got %+v, want none", got)
	}

	// Stale suppression does not hide later changes to the replacement.
	if err := f.doc.SetAttribute(repl, "data-new", "2"); err != nil {
		t.Fatal(err)
	}
	got = f.e.Diff(f.root, diff.Suppressed{Old: orig, New: repl})
	if len(got) != 0 {
		t.Fatalf("change on suppressed node: got %d events, want 0", len(got))
	}
	got = f.e.Diff(f.root, diff.Suppressed{})
	if len(got) != 0 {
		t.Fatalf("after clearing: got %d events, want 0", len(got))
	}
}

func TestDiff_WithoutSuppressionSwapIsVisible(t *testing.T) {
	f := newFixture(t, `<html><head></head><body><script>x()</script></body></html>`)
	orig := f.one("script")
	repl := f.doc.CreateElement("script", nil)
	if err := f.doc.InsertBefore(repl, orig); err != nil {
		t.Fatal(err)
	}
	if err := f.doc.Remove(orig); err != nil {
		t.Fatal(err)
	}
	got := f.diff()
	if len(got) != 2 || got[0].Op != diff.OpDelete || got[1].Op != diff.OpCreate {
		t.Fatalf("got %+v, want delete then create", got)
	}
}

func TestEngine_LenAndFind(t *testing.T) {
	f := newFixture(t, base)
	// html, head, body, div, span, ul, li, li
	if f.e.Len() != 8 {
		t.Errorf("Len: got %d, want 8", f.e.Len())
	}
	n, ok := f.e.FindNodeByPath("0>1>1>1")
	if !ok {
		t.Fatal("FindNodeByPath: not found")
	}
	if htmldoc.Unwrap(n).Data != "li" {
		t.Errorf("FindNodeByPath: got %q, want li", htmldoc.Unwrap(n).Data)
	}
	if _, ok := f.e.FindNodeByPath("0>9"); ok {
		t.Error("FindNodeByPath(absent): found")
	}
}
