package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Normalize collapses every whitespace run to one space and trims.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Length counts characters, not bytes.
func Length(s string) int {
	return utf8.RuneCountInString(s)
}

// SelectorText returns the normalized text of the first non-empty of
// article, main and body.
func SelectorText(doc *goquery.Document) string {
	for _, sel := range []string{"article", "main", "body"} {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if text := Normalize(node.Text()); text != "" {
			return text
		}
	}
	return ""
}

const chromeRegions = "header, nav, footer, aside"

// LongestBlock returns the longest normalized text among div, section and
// article containers that do not sit inside page chrome.
func LongestBlock(doc *goquery.Document) string {
	best := ""
	bestLen := 0
	doc.Find("div, section, article").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered(chromeRegions).Length() > 0 {
			return
		}
		text := Normalize(s.Text())
		if n := Length(text); n > bestLen {
			best, bestLen = text, n
		}
	})
	return best
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"tr": true, "blockquote": true, "pre": true, "ul": true, "ol": true,
}

// LinesText renders a selection as text with block boundaries kept as line
// breaks. Each line is whitespace-normalized and empty lines are dropped.
func LinesText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if blockTags[n.Data] {
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			b.WriteByte('\n')
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		line = Normalize(strings.Map(func(r rune) rune {
			if r == '\u00a0' || r == '\u200b' {
				return ' '
			}
			if unicode.IsControl(r) && r != '\t' {
				return -1
			}
			return r
		}, line))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
