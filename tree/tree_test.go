package tree

import (
	"reflect"
	"testing"
)

type fakeNode struct {
	kind     Kind
	attrs    Attributes
	children []*fakeNode
	shadow   *fakeNode
}

func (f *fakeNode) Kind() Kind { return f.kind }

func (f *fakeNode) Children() []Node {
	out := make([]Node, len(f.children))
	for i, c := range f.children {
		out[i] = c
	}
	return out
}

func (f *fakeNode) ShadowRoot() Node {
	if f.shadow == nil {
		return nil
	}
	return f.shadow
}

func (f *fakeNode) Attributes() Attributes { return f.attrs.Clone() }

func el(children ...*fakeNode) *fakeNode {
	return &fakeNode{kind: KindElement, attrs: Attributes{}, children: children}
}

func TestWalk_Order(t *testing.T) {
	host := el(el())
	host.shadow = &fakeNode{kind: KindShadowRoot, children: []*fakeNode{el()}}
	root := el(el(el()), host)

	got := Paths(root)
	want := []Path{"0", "0>0", "0>0>0", "0>1", "0>1>0", "0>1>shadowRoot", "0>1>shadowRoot>0"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Paths: got %v, want %v", got, want)
	}
}

func TestWalk_Deterministic(t *testing.T) {
	root := el(el(), el(el(), el()), el())
	a := Paths(root)
	b := Paths(root)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Paths not deterministic: %v vs %v", a, b)
	}
}

func TestWalk_UniquePaths(t *testing.T) {
	host := el(el(), el())
	host.shadow = &fakeNode{kind: KindShadowRoot, children: []*fakeNode{el(), el(el())}}
	root := el(host, el(el()))

	seen := make(map[Path]bool)
	for _, p := range Paths(root) {
		if seen[p] {
			t.Fatalf("duplicate path %q", p)
		}
		seen[p] = true
	}
}

func TestWalk_Nil(t *testing.T) {
	called := false
	Walk(nil, RootPath, func(Node, Path) { called = true })
	if called {
		t.Error("visit called for nil root")
	}
}

func TestAttributesDiffers(t *testing.T) {
	tests := []struct {
		name string
		old  Attributes
		new  Attributes
		want bool
	}{
		{"both empty", Attributes{}, Attributes{}, false},
		{"equal", Attributes{"a": "1", "b": "2"}, Attributes{"b": "2", "a": "1"}, false},
		{"added key", Attributes{"a": "1"}, Attributes{"a": "1", "b": "2"}, true},
		{"removed key", Attributes{"a": "1", "b": "2"}, Attributes{"a": "1"}, true},
		{"renamed key", Attributes{"a": "1"}, Attributes{"b": "1"}, true},
		{"one char value", Attributes{"class": "x"}, Attributes{"class": "y"}, true},
		{"empty vs missing value", Attributes{"hidden": ""}, Attributes{"hidden": ""}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.old.Differs(tt.new); got != tt.want {
				t.Errorf("Differs: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCapture_NonElement(t *testing.T) {
	n := &fakeNode{kind: KindShadowRoot, attrs: Attributes{"x": "1"}}
	if got := Capture(n); len(got) != 0 {
		t.Errorf("Capture(shadowRoot): got %v, want empty", got)
	}
}

func TestCapture_IsCopy(t *testing.T) {
	n := el()
	n.attrs["id"] = "a"
	got := Capture(n)
	n.attrs["id"] = "b"
	if got["id"] != "a" {
		t.Errorf("Capture aliases live attributes: got %q", got["id"])
	}
}

func TestPath(t *testing.T) {
	p := RootPath.Child(2).Shadow().Child(0)
	if p != "0>2>shadowRoot>0" {
		t.Fatalf("path: got %q", p)
	}
	if p.Depth() != 4 {
		t.Errorf("Depth: got %d, want 4", p.Depth())
	}
	if p.Parent() != "0>2>shadowRoot" {
		t.Errorf("Parent: got %q", p.Parent())
	}
	if !p.InShadow() {
		t.Error("InShadow: got false")
	}
	if RootPath.Parent() != "" {
		t.Errorf("root Parent: got %q", RootPath.Parent())
	}
	if RootPath.Child(1).InShadow() {
		t.Error("InShadow on light path: got true")
	}
}
