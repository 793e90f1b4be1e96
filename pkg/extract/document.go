package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is one loaded page or frame whose markup can be snapshotted.
// HTML may fail for detached or cross-origin frames.
type Document interface {
	URL() string
	HTML() (string, error)
}

// StaticDocument is a Document over markup that is already in memory.
type StaticDocument struct {
	Location string
	Markup   string
}

func (d StaticDocument) URL() string           { return d.Location }
func (d StaticDocument) HTML() (string, error) { return d.Markup, nil }

var strippedTags = "script, style, noscript, template, svg"

// Parse builds a goquery document with non-content tags removed.
func Parse(markup string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}
	doc.Find(strippedTags).Remove()
	return doc, nil
}
