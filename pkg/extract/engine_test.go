package extract

import (
	"errors"
	"strings"
	"testing"
)

type failingDocument struct{ url string }

func (d failingDocument) URL() string           { return d.url }
func (d failingDocument) HTML() (string, error) { return "", errors.New("frame detached") }

func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = prefix
	}
	return strings.Join(parts, " ")
}

func TestExtractPrefersArticleAndDropsNav(t *testing.T) {
	article := words("content", 38) // 38*8-1 = 303 chars
	markup := `<html><body>
		<nav>Home About Login Subscribe to our newsletter</nav>
		<article>
			` + article + `
		</article>
		<footer>copyright</footer>
	</body></html>`
	engine := NewEngine(200)
	got := engine.Extract("https://example.com/post", []Document{StaticDocument{Location: "https://example.com/post", Markup: markup}})
	if got != article {
		t.Fatalf("unexpected text: %q", got)
	}
	if strings.Contains(got, "Subscribe") {
		t.Fatalf("nav text leaked into result")
	}
}

func TestSelectorPriorityFallsBackToMainThenBody(t *testing.T) {
	doc, err := Parse(`<body><p>outer</p><main>  main   text </main></body>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := SelectorText(doc); got != "main text" {
		t.Fatalf("expected main text, got %q", got)
	}
	doc, err = Parse(`<body><article>   </article><p>only body</p></body>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := SelectorText(doc); got != "only body" {
		t.Fatalf("expected body text, got %q", got)
	}
}

func TestLongestBlockSkipsChromeRegions(t *testing.T) {
	doc, err := Parse(`<body>
		<header><div>` + words("menu", 100) + `</div></header>
		<div id="short">short block</div>
		<section>` + words("story", 20) + `</section>
		<aside><section>` + words("ad", 200) + `</section></aside>
	</body>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := LongestBlock(doc); got != words("story", 20) {
		t.Fatalf("unexpected block: %q", got)
	}
}

func TestExtractUsesBlockFallbackBelowThreshold(t *testing.T) {
	markup := `<body><article>tiny</article><div><div>` + words("body", 60) + `</div></div><script>var x = 1;</script></body>`
	engine := NewEngine(200)
	got := engine.Extract("https://example.com", []Document{StaticDocument{Markup: markup}})
	if got != words("body", 60) {
		t.Fatalf("expected longest block, got %q", got)
	}
	if strings.Contains(got, "var x") {
		t.Fatalf("script text leaked: %q", got)
	}
}

func TestExtractKeepsLongestFrameAndSkipsFailingFrames(t *testing.T) {
	top := StaticDocument{Location: "https://example.com", Markup: `<body><article>` + words("top", 10) + `</article></body>`}
	frame := StaticDocument{Location: "https://example.com/frame", Markup: `<body><article>` + words("frame", 80) + `</article></body>`}
	engine := NewEngine(200)
	got := engine.Extract("https://example.com", []Document{top, failingDocument{url: "https://cdn.example.com"}, frame})
	if got != words("frame", 80) {
		t.Fatalf("expected frame text, got %q", got)
	}
}

func TestExtractAllFramesFailing(t *testing.T) {
	engine := NewEngine(200)
	if got := engine.Extract("https://example.com", []Document{failingDocument{}}); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
	if got := engine.Extract("https://example.com", nil); got != "" {
		t.Fatalf("expected empty result for no documents, got %q", got)
	}
}
