package fetcher

import (
	"bytes"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// shellMarkers are empty mount points and noscript notices typical of pages
// that render everything client-side.
var shellMarkers = [][]byte{
	[]byte(`<div id="root"></div>`),
	[]byte(`<div id="app"></div>`),
	[]byte(`<div id="__next"></div>`),
	[]byte(`<noscript>you need to enable javascript`),
	[]byte(`<noscript>enable javascript`),
}

// IsSufficient reports whether the static HTML carries enough visible text
// to be meaningful without running scripts. Thresholds: 256 bytes of body,
// 200 visible characters and a 10% text ratio. SPA shell markers disqualify.
func IsSufficient(body []byte) bool {
	if len(body) < 256 {
		return false
	}
	text := visibleText(body)
	if text < 200 || float64(text)/float64(len(body)) < 0.10 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, m := range shellMarkers {
		if bytes.Contains(lower, m) {
			return false
		}
	}
	return true
}

// visibleText counts non-space text runes outside script, style and
// template elements.
func visibleText(body []byte) int {
	z := html.NewTokenizer(bytes.NewReader(body))
	hidden := 0
	count := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return count
		case html.StartTagToken:
			if isHidden(z) {
				hidden++
			}
		case html.EndTagToken:
			if isHidden(z) && hidden > 0 {
				hidden--
			}
		case html.TextToken:
			if hidden > 0 {
				continue
			}
			for _, r := range string(z.Text()) {
				if !unicode.IsSpace(r) {
					count++
				}
			}
		}
	}
}

func isHidden(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch atom.Lookup(name) {
	case atom.Script, atom.Style, atom.Template:
		return true
	}
	return false
}
