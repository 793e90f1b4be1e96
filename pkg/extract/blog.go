package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var blogHosts = []string{"blog.naver.com", "m.blog.naver.com"}

// BlogContainerSelectors are the post-body containers used by the blog
// family across its editor generations.
var BlogContainerSelectors = []string{
	".se-main-container",
	"#postViewArea",
	".se_component_wrap",
	"#viewTypeSelector",
	".post_ct",
	".post-view",
}

// blogFrameHints mark frame URLs that carry the post itself.
var blogFrameHints = []string{"PostView", "PostList"}

// IsBlogFamily reports whether rawURL belongs to the blog family that needs
// the dedicated extractor.
func IsBlogFamily(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range blogHosts {
		if host == h {
			return true
		}
	}
	return false
}

type parsedDoc struct {
	url string
	doc *goquery.Document
}

func (e *Engine) extractBlog(docs []Document) string {
	candidates := blogCandidates(docs)
	var parsed []parsedDoc
	for _, d := range candidates {
		markup, err := d.HTML()
		if err != nil {
			e.logger().Debug("extract: skip blog frame", "url", d.URL(), "err", err)
			continue
		}
		p, err := Parse(markup)
		if err != nil {
			continue
		}
		parsed = append(parsed, parsedDoc{url: d.URL(), doc: p})
	}

	best := ""
	for _, p := range parsed {
		for _, sel := range BlogContainerSelectors {
			node := p.doc.Find(sel).First()
			if node.Length() == 0 {
				continue
			}
			if text := LinesText(node); Length(text) > Length(best) {
				best = text
			}
		}
	}
	if Length(Normalize(best)) < e.MinLength {
		for _, p := range parsed {
			if block := LongestBlock(p.doc); Length(block) > Length(Normalize(best)) {
				best = block
			}
		}
	}
	return Clean(best)
}

// blogCandidates returns frames whose URL carries a post hint, or the top
// document when none does.
func blogCandidates(docs []Document) []Document {
	var out []Document
	for _, d := range docs {
		for _, hint := range blogFrameHints {
			if strings.Contains(d.URL(), hint) {
				out = append(out, d)
				break
			}
		}
	}
	if len(out) == 0 {
		return docs[:1]
	}
	return out
}

var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`본문\s*기타\s*기능`),
	regexp.MustCompile(`(?:이웃\s*추가|서로\s*이웃)`),
	regexp.MustCompile(`공유하기|신고하기|URL\s*복사|블로그\s*앱으로\s*보기`),
	regexp.MustCompile(`(?:공감|댓글)\s*\d*\s*(?:개)?\s*(?:쓰기)?`),
	regexp.MustCompile(`(?:카테고리\s*이동|전체\s*보기|목록\s*열기|목록\s*닫기|맨\s*위로)`),
	regexp.MustCompile(`(?:프롤로그|블로그\s*메뉴|이\s*블로그\s*홈)`),
	regexp.MustCompile(`(?:var|let|const)\s+[A-Za-z_$][\w$]*\s*=[^;\n]*;?`),
	regexp.MustCompile(`(?:window|document)\.[A-Za-z_$][\w$.]*(?:\([^)\n]*\))?;?`),
}

var boilerplateLine = regexp.MustCompile(
	`^(?:본문\s*기타\s*기능|이웃\s*추가|공유하기|신고하기|URL\s*복사|공감|댓글\s*\d*|블로그\s*앱으로\s*보기|카테고리\s*이동|전체\s*보기|목록\s*열기|목록\s*닫기|맨\s*위로|프롤로그|블로그\s*메뉴|이\s*블로그\s*홈|\d+\s*개의\s*댓글)$`,
)

// scriptLine matches lines shaped like JavaScript. Semicolons and arrows
// only count next to code syntax, so prose using them is kept.
var scriptLine = regexp.MustCompile(strings.Join([]string{
	`^\s*(?:var|let|const)\s+[\w$]+\s*=`,
	`^\s*function\s*[\w$]*\s*\(`,
	`\bfunction\s*\(`,
	`\([\w$,\s]*\)\s*=>`,
	`\b[\w$]+\s*=>\s*\{`,
	`^\s*[{}\[\]();]+\s*$`,
	`\b(?:window|document)\.`,
	`[\w$]\([^()]*\)\s*;\s*$`,
	`^\s*[\w$.]+\s*=[^=].*;\s*$`,
}, "|"))

// Clean strips blog-family boilerplate two ways and keeps the longer
// result: pattern substitution over the whole text, and line filtering.
func Clean(text string) string {
	byPattern := cleanByPatterns(text)
	byLines := cleanByLines(text)
	if Length(byLines) > Length(byPattern) {
		return byLines
	}
	return byPattern
}

func cleanByPatterns(text string) string {
	for _, re := range boilerplatePatterns {
		text = re.ReplaceAllString(text, " ")
	}
	return Normalize(text)
}

func cleanByLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = Normalize(line)
		if Length(line) <= 2 {
			continue
		}
		if boilerplateLine.MatchString(line) || scriptLine.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, " ")
}
