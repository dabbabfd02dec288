package cdpdoc

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/hazyhaar/domreplay/diff"
	"github.com/hazyhaar/domreplay/tree"
)

func el(id int, name string, attrs []string, children ...*proto.DOMNode) *proto.DOMNode {
	return &proto.DOMNode{
		BackendNodeID: proto.DOMBackendNodeID(id),
		NodeType:      1,
		NodeName:      name,
		Attributes:    attrs,
		Children:      children,
	}
}

func text(id int) *proto.DOMNode {
	return &proto.DOMNode{BackendNodeID: proto.DOMBackendNodeID(id), NodeType: 3, NodeName: "#text"}
}

func document(html *proto.DOMNode) *proto.DOMNode {
	return &proto.DOMNode{
		BackendNodeID: 1,
		NodeType:      9,
		NodeName:      "#document",
		Children:      []*proto.DOMNode{{BackendNodeID: 2, NodeType: 10, NodeName: "html"}, html},
	}
}

func page(bodyAttrs []string, extra ...*proto.DOMNode) *proto.DOMNode {
	host := el(20, "DIV", []string{"id", "host"})
	host.ShadowRoots = []*proto.DOMNode{{
		BackendNodeID:  21,
		NodeType:       11,
		NodeName:       "#document-fragment",
		ShadowRootType: proto.DOMShadowRootTypeOpen,
		Children:       []*proto.DOMNode{el(22, "SCRIPT", nil)},
	}}
	input := el(30, "INPUT", nil)
	input.ShadowRoots = []*proto.DOMNode{{
		BackendNodeID:  31,
		NodeType:       11,
		ShadowRootType: proto.DOMShadowRootTypeUserAgent,
	}}
	body := el(11, "BODY", bodyAttrs, append([]*proto.DOMNode{text(12), host, input, el(40, "SCRIPT", []string{"src", "a.js"})}, extra...)...)
	return document(el(10, "HTML", nil, el(13, "HEAD", nil), body))
}

func TestArena_TreeShape(t *testing.T) {
	a := newArena()
	root := a.refresh(page(nil))
	if root == nil || root.name != "HTML" {
		t.Fatalf("root: got %+v", root)
	}

	var paths []tree.Path
	tree.Walk(root, tree.RootPath, func(_ tree.Node, p tree.Path) { paths = append(paths, p) })
	want := []tree.Path{"0", "0>0", "0>1", "0>1>0", "0>1>0>shadowRoot", "0>1>0>shadowRoot>0", "0>1>1", "0>1>2"}
	if len(paths) != len(want) {
		t.Fatalf("paths: got %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("path[%d]: got %q, want %q", i, paths[i], want[i])
		}
	}

	input, _ := a.lookup(30)
	if input.ShadowRoot() != nil {
		t.Error("user-agent shadow root exposed")
	}
	sr, _ := a.lookup(21)
	if sr.Kind() != tree.KindShadowRoot || !sr.children[0].inShadow {
		t.Error("shadow root kind or membership wrong")
	}
}

func TestArena_IdentityAcrossRefresh(t *testing.T) {
	a := newArena()
	first := a.refresh(page(nil))
	e := diff.NewEngine()
	e.Build(first)

	second := a.refresh(page([]string{"class", "ready"}, el(50, "P", nil)))
	if first != second {
		t.Fatal("document element changed identity across refresh")
	}

	got := e.Diff(second, diff.Suppressed{})
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(got), got)
	}
	if got[0].Op != diff.OpCreate || got[0].Path != "0>1>3" {
		t.Errorf("event[0]: got %s %q", got[0].Op, got[0].Path)
	}
	if got[1].Op != diff.OpChange || got[1].Path != "0>1" {
		t.Errorf("event[1]: got %s %q", got[1].Op, got[1].Path)
	}
}

func TestArena_DropsMissingNodes(t *testing.T) {
	a := newArena()
	a.refresh(page(nil, el(50, "P", nil)))
	if _, ok := a.lookup(50); !ok {
		t.Fatal("P not adopted")
	}
	a.refresh(page(nil))
	if _, ok := a.lookup(50); ok {
		t.Error("removed node still in arena")
	}
}

func TestArena_RegisteredNodeKeepsIdentity(t *testing.T) {
	a := newArena()
	a.refresh(page(nil))
	created := &node{id: 60, typ: 1, name: "SCRIPT", attrs: tree.Attributes{}}
	a.register(created)

	a.refresh(page(nil, el(60, "SCRIPT", []string{"data-domreplay-script", "true"})))
	got, ok := a.lookup(60)
	if !ok || got != created {
		t.Fatal("registered script not reused on refresh")
	}
	if got.attrs["data-domreplay-script"] != "true" {
		t.Errorf("attributes not refreshed: %v", got.attrs)
	}
}

func TestArena_NoDocumentElement(t *testing.T) {
	a := newArena()
	if root := a.refresh(&proto.DOMNode{NodeType: 9}); root != nil {
		t.Errorf("got %+v, want nil", root)
	}
}

func TestParseAttributes(t *testing.T) {
	got := parseAttributes([]string{"id", "a", "class", "b c", "dangling"})
	if len(got) != 2 || got["id"] != "a" || got["class"] != "b c" {
		t.Errorf("got %v", got)
	}
}

func TestUnmarkedScripts(t *testing.T) {
	sub := el(70, "DIV", nil,
		el(71, "script", nil),
		el(72, "SCRIPT", []string{"data-domreplay-script", "true"}),
		el(73, "SPAN", nil, el(74, "SCRIPT", []string{"type", "module"})),
	)
	got := unmarkedScripts(sub, "data-domreplay-script")
	if len(got) != 2 || got[0] != 71 || got[1] != 74 {
		t.Errorf("got %v, want [71 74]", got)
	}
}

func TestDecodeScript(t *testing.T) {
	got := decodeScript(gson.New(map[string]any{"text": "", "src": "https://x/a.js", "defer": true}))
	if got.Src != "https://x/a.js" || got.Text != "" || !got.Defer {
		t.Errorf("got %+v", got)
	}
}
