package extract

import (
	"log/slog"
)

// DefaultMinTextLength is the shortest text accepted as a usable extraction.
const DefaultMinTextLength = 200

// Engine picks the most likely main-content text out of a set of documents.
type Engine struct {
	MinLength int
	Logger    *slog.Logger
}

// NewEngine returns an Engine with minLength, or the default when <= 0.
func NewEngine(minLength int) *Engine {
	if minLength <= 0 {
		minLength = DefaultMinTextLength
	}
	return &Engine{MinLength: minLength, Logger: slog.Default()}
}

// Extract returns the best text found for pageURL across docs. docs[0] is the
// top-level document; the rest are frames. Blog-family pages use the
// dedicated extractor. The result may be shorter than MinLength; callers
// decide whether that is a miss.
func (e *Engine) Extract(pageURL string, docs []Document) string {
	if len(docs) == 0 {
		return ""
	}
	if IsBlogFamily(pageURL) {
		return e.extractBlog(docs)
	}
	best := ""
	for _, doc := range docs {
		text, err := e.extractGeneric(doc)
		if err != nil {
			e.logger().Debug("extract: skip document", "url", doc.URL(), "err", err)
			continue
		}
		if Length(text) > Length(best) {
			best = text
		}
	}
	return best
}

func (e *Engine) extractGeneric(doc Document) (string, error) {
	markup, err := doc.HTML()
	if err != nil {
		return "", err
	}
	parsed, err := Parse(markup)
	if err != nil {
		return "", err
	}
	text := SelectorText(parsed)
	if Length(text) >= e.MinLength {
		return text, nil
	}
	if block := LongestBlock(parsed); Length(block) > Length(text) {
		return block, nil
	}
	return text, nil
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
