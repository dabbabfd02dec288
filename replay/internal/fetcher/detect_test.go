package fetcher

import (
	"strings"
	"testing"
)

func TestIsSufficient_StaticPage(t *testing.T) {
	html := []byte(`<!DOCTYPE html>
<html>
<head><title>Test Page</title></head>
<body>
<main>
<article>
<h1>Article Title</h1>
<p>Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur.</p>
</article>
</main>
</body>
</html>`)
	if !IsSufficient(html) {
		t.Error("expected sufficient for static page with content")
	}
}

func TestIsSufficient_SPAShell(t *testing.T) {
	html := []byte(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>App</title></head>
<body>
<div id="root"></div>
<script src="/static/js/main.chunk.js"></script>
</body>
</html>`)
	if IsSufficient(html) {
		t.Error("expected insufficient for SPA shell")
	}
}

func TestIsSufficient_TooShort(t *testing.T) {
	if IsSufficient([]byte(`<html><body>hi</body></html>`)) {
		t.Error("expected insufficient for very short content")
	}
}

func TestVisibleText_IgnoresScriptAndStyle(t *testing.T) {
	body := `<style>body { color: red }</style><script>var x = "lots of code";</script><p>a b c</p>`
	if got := visibleText([]byte(body)); got != 3 {
		t.Errorf("visibleText: got %d, want 3", got)
	}
}

func TestIsSufficient_ScriptHeavy(t *testing.T) {
	code := strings.Repeat("window.x = 1;", 400)
	body := "<html><body><p>" + strings.Repeat("word ", 50) + "</p><script>" + code + "</script></body></html>"
	if IsSufficient([]byte(body)) {
		t.Error("expected insufficient when scripts dominate the body")
	}
}
