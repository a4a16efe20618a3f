package feed

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"github.com/lysyi3m/aifeed/app/content"
)

const DefaultMaxArticleChars = 5000

var (
	boilerplateSelector = "script, style, nav, footer, header, aside, noscript"
	contentSelectors    = []string{"article", ".post-content", ".entry-content", ".article-body"}
)

// PageFetcher is the subset of the resilient fetcher the extractor needs.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
}

type ContentExtractor struct {
	fetcher  PageFetcher
	maxChars int
	logger   *slog.Logger
}

func NewContentExtractor(fetcher PageFetcher, maxChars int, logger *slog.Logger) *ContentExtractor {
	if maxChars <= 0 {
		maxChars = DefaultMaxArticleChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentExtractor{
		fetcher:  fetcher,
		maxChars: maxChars,
		logger:   logger.With("component", "extractor"),
	}
}

// Run turns an article page into bounded plain text. The boolean is false
// when no readable body could be found.
func (e *ContentExtractor) Run(data []byte) (Extraction, bool) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Extraction{}, false
	}

	if text, ok := e.selectorText(data); ok {
		return Extraction{Text: content.Clip(text, e.maxChars), Method: MethodSelector}, true
	}

	article, err := readability.FromReader(bytes.NewReader(data), nil)
	if err != nil {
		e.logger.Debug("Readability extraction failed", "error", err)
		return Extraction{}, false
	}
	text := content.NormalizeText(article.TextContent)
	if text == "" {
		return Extraction{}, false
	}

	return Extraction{Text: content.Clip(text, e.maxChars), Method: MethodReadability}, true
}

// Fetch downloads pageURL and extracts its body text.
func (e *ContentExtractor) Fetch(ctx context.Context, pageURL string) (Extraction, error) {
	if e.fetcher == nil {
		return Extraction{}, fmt.Errorf("no fetcher configured")
	}

	data, err := e.fetcher.Fetch(ctx, pageURL, 0)
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to fetch article: %w", err)
	}

	result, ok := e.Run(data)
	if !ok {
		return Extraction{}, fmt.Errorf("no content extracted from %s", pageURL)
	}

	e.logger.Debug("Content extracted successfully", "url", pageURL, "method", result.Method, "content_length", len(result.Text))
	return result, nil
}

func (e *ContentExtractor) selectorText(data []byte) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", false
	}
	doc.Find(boilerplateSelector).Remove()

	for _, selector := range contentSelectors {
		if text := content.NormalizeText(doc.Find(selector).First().Text()); text != "" {
			return text, true
		}
	}

	text := content.NormalizeText(doc.Find("body").Text())
	return text, text != ""
}

// HTMLToText strips markup from an HTML fragment.
func HTMLToText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return content.NormalizeText(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return content.NormalizeText(fragment)
	}
	doc.Find("script, style").Remove()
	return content.NormalizeText(doc.Text())
}

// FirstImage returns the src of the first <img> in an HTML fragment.
func FirstImage(fragment string) string {
	if !strings.Contains(fragment, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}
