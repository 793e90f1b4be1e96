package references

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html/charset"
	"postcraft/pkg/extract"
)

const (
	maxBodyBytes     = 5 << 20
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36"
)

// HTMLStrategy fetches the page directly and extracts text without a
// browser. Blog-family URLs are skipped because they render in frames.
type HTMLStrategy struct {
	timeout    time.Duration
	userAgent  string
	minLength  int
	httpClient *http.Client
}

func NewHTMLStrategy(timeout time.Duration, minLength int) *HTMLStrategy {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	if minLength <= 0 {
		minLength = extract.DefaultMinTextLength
	}
	return &HTMLStrategy{
		timeout:    timeout,
		userAgent:  DefaultUserAgent,
		minLength:  minLength,
		httpClient: &http.Client{},
	}
}

func (s *HTMLStrategy) Name() Source { return SourceHTML }

func (s *HTMLStrategy) Fetch(ctx context.Context, rawURL string) (string, error) {
	if extract.IsBlogFamily(rawURL) {
		return "", fmt.Errorf("%w: blog family needs a browser", ErrMiss)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrMiss, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/pdf" || bytes.HasPrefix(data, []byte("%PDF-")) {
		return pdfText(data)
	}
	return s.htmlText(rawURL, data, contentType)
}

func (s *HTMLStrategy) htmlText(rawURL string, data []byte, contentType string) (string, error) {
	reader, err := charset.NewReader(bytes.NewReader(data), contentType)
	if err != nil {
		return "", fmt.Errorf("decode charset: %w", err)
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("decode charset: %w", err)
	}
	markup := string(decoded)
	doc, err := extract.Parse(markup)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	text := extract.SelectorText(doc)
	if extract.Length(text) >= s.minLength {
		return text, nil
	}
	if alt := readableText(rawURL, markup); extract.Length(alt) > extract.Length(text) {
		text = alt
	}
	return text, nil
}

// readableText runs the readability heuristic and returns its article text.
func readableText(rawURL, markup string) string {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	parser := readability.NewParser()
	article, err := parser.Parse(strings.NewReader(markup), pageURL)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return ""
	}
	return extract.Normalize(doc.Text())
}

// pdfText reads the text layer of a PDF. The pdf package reports broken
// structure by panicking, so a panic is turned into a miss.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("%w: malformed pdf: %v", ErrMiss, p)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var parts []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, perr := page.GetPlainText(nil)
		if perr != nil {
			continue
		}
		parts = append(parts, pageText)
	}
	return extract.Normalize(strings.Join(parts, " ")), nil
}
