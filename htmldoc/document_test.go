package htmldoc

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/hazyhaar/domreplay/schedule"
	"github.com/hazyhaar/domreplay/tree"
)

const page = `<!DOCTYPE html>
<html><head><script src="/a.js"></script></head>
<body>
<div id="host"><template shadowrootmode="open"><p class="inner"></p><script>shadow()</script></template><span></span></div>
<script defer src="b.js"></script>
<script>inline()</script>
</body></html>`

func mustParse(t *testing.T, s string, opts ...Option) *Document {
	t.Helper()
	d, err := ParseString(s, opts...)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return d
}

func TestRoot(t *testing.T) {
	d := mustParse(t, page)
	root, err := d.Root()
	if err != nil {
		t.Fatal(err)
	}
	if Unwrap(root).Data != "html" {
		t.Errorf("root: got %q, want html", Unwrap(root).Data)
	}
	if root.Kind() != tree.KindElement {
		t.Errorf("root kind: got %v", root.Kind())
	}
}

func TestShadowRootModel(t *testing.T) {
	d := mustParse(t, page)
	hosts, err := d.QuerySelectorAll("#host")
	if err != nil || len(hosts) != 1 {
		t.Fatalf("query #host: %v, %d", err, len(hosts))
	}
	host := hosts[0]

	kids := host.Children()
	if len(kids) != 1 || Unwrap(kids[0]).Data != "span" {
		t.Fatalf("host children: got %d, want [span]", len(kids))
	}

	sr := host.ShadowRoot()
	if sr == nil {
		t.Fatal("ShadowRoot: got nil")
	}
	if sr.Kind() != tree.KindShadowRoot {
		t.Errorf("shadow kind: got %v", sr.Kind())
	}
	if n := len(sr.Children()); n != 2 {
		t.Errorf("shadow children: got %d, want 2", n)
	}
	if sr.ShadowRoot() != nil {
		t.Error("shadow root has its own shadow root")
	}
}

func TestIdentity(t *testing.T) {
	d := mustParse(t, page)
	a, _ := d.Root()
	b, _ := d.Root()
	if a != b {
		t.Error("two handles to the same node are not ==")
	}
	if a == a.Children()[0] {
		t.Error("different nodes are ==")
	}
}

func TestScripts_SkipShadow(t *testing.T) {
	d := mustParse(t, page, WithBaseURL("https://example.com/dir/index.html"))
	scripts, err := d.Scripts()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 3 {
		t.Fatalf("Scripts: got %d, want 3", len(scripts))
	}

	want := []schedule.Script{
		{Src: "https://example.com/a.js"},
		{Src: "https://example.com/dir/b.js", Defer: true},
		{Text: "inline()"},
	}
	for i, n := range scripts {
		got, err := d.Script(n)
		if err != nil {
			t.Fatal(err)
		}
		if got != want[i] {
			t.Errorf("Script[%d]: got %+v, want %+v", i, got, want[i])
		}
	}
}

func TestQuerySelectorAll_Malformed(t *testing.T) {
	d := mustParse(t, page)
	if _, err := d.QuerySelectorAll("div[["); err == nil {
		t.Error("malformed selector: got nil error")
	}
}

func TestQuerySelectorAll_NoShadowPierce(t *testing.T) {
	d := mustParse(t, page)
	got, err := d.QuerySelectorAll("p.inner, template")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("selector pierced shadow tree: got %d nodes", len(got))
	}
}

func TestQueryXPath(t *testing.T) {
	d := mustParse(t, page)
	got, err := d.QueryXPath("//script")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("//script: got %d, want 3", len(got))
	}
	if _, err := d.QueryXPath("//*["); err == nil {
		t.Error("malformed xpath: got nil error")
	}
}

func TestReplaceScript(t *testing.T) {
	d := mustParse(t, page)
	scripts, _ := d.Scripts()
	orig := scripts[2]

	repl, err := d.CreateScript(schedule.Script{Text: "inline()"}, tree.Attributes{"data-x": "1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.InsertBefore(repl, orig); err != nil {
		t.Fatal(err)
	}
	if err := d.Remove(orig); err != nil {
		t.Fatal(err)
	}
	if err := d.Remove(orig); !errors.Is(err, schedule.ErrDetached) {
		t.Errorf("second remove: got %v, want ErrDetached", err)
	}

	after, _ := d.Scripts()
	if len(after) != 3 || after[2] != repl {
		t.Fatalf("replacement not in place")
	}
	if got := repl.Attributes()["data-x"]; got != "1" {
		t.Errorf("attr: got %q", got)
	}

	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		t.Fatal(err)
	}
	if strings.Count(buf.String(), "inline()") != 1 {
		t.Errorf("rendered: want exactly one inline() script")
	}
}

func TestAttachShadow(t *testing.T) {
	d := mustParse(t, `<html><body><div></div></body></html>`)
	divs, _ := d.QuerySelectorAll("div")
	sr, err := d.AttachShadow(divs[0])
	if err != nil {
		t.Fatal(err)
	}
	again, _ := d.AttachShadow(divs[0])
	if sr != again {
		t.Error("AttachShadow not idempotent")
	}
	if divs[0].ShadowRoot() != sr {
		t.Error("ShadowRoot does not return attached root")
	}
	if len(divs[0].Children()) != 0 {
		t.Error("shadow root listed as child")
	}
}

func TestAttributesAreCopies(t *testing.T) {
	d := mustParse(t, `<html><body id="b"></body></html>`)
	root, _ := d.Root()
	body := root.Children()[1]
	a := body.Attributes()
	a["id"] = "changed"
	if body.Attributes()["id"] != "b" {
		t.Error("Attributes returned live map")
	}
}

func TestPlainTemplateIsInert(t *testing.T) {
	d := mustParse(t, `<html><head></head><body>
<template id="row"><div class="row"></div><script>tpl()</script></template>
<script>live()</script>
</body></html>`)

	scripts, err := d.Scripts()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 1 {
		t.Fatalf("scripts: got %d, want 1", len(scripts))
	}
	if s, _ := d.Script(scripts[0]); s.Text != "live()" {
		t.Errorf("script: got %q, want live()", s.Text)
	}

	tpl, err := d.QuerySelectorAll("#row")
	if err != nil || len(tpl) != 1 {
		t.Fatalf("#row: %v %v", tpl, err)
	}
	if tpl[0].Kind() != tree.KindElement || len(tpl[0].Children()) != 0 || tpl[0].ShadowRoot() != nil {
		t.Errorf("template: kind %v, %d children", tpl[0].Kind(), len(tpl[0].Children()))
	}
	if rows, _ := d.QuerySelectorAll("div.row"); len(rows) != 0 {
		t.Errorf("template content matched a selector: %d nodes", len(rows))
	}

	root, _ := d.Root()
	// html, head, body, template, script
	if got := len(tree.Paths(root)); got != 5 {
		t.Errorf("walked nodes: got %d, want 5", got)
	}
}
