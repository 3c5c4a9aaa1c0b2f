// Package extract pulls article text out of fetched pages. Selectors are
// site-specific; the rest of the system only sees harvest.Extractor.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lgeiger/newsharvest/internal/harvest"
)

// articleContentSelector matches the paragraph container used across the
// Euronews language editions.
const articleContentSelector = "div.c-article-content p, div.js-article-content p, div.article__content p"

// EuronewsExtractor extracts the visible article text from a Euronews page.
type EuronewsExtractor struct{}

// NewEuronewsExtractor constructs the extractor.
func NewEuronewsExtractor() *EuronewsExtractor {
	return &EuronewsExtractor{}
}

// ArticleText concatenates the article paragraphs, one per line. An empty
// result is valid: some items are video-only posts without body text.
func (e *EuronewsExtractor) ArticleText(page harvest.Page) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return "", fmt.Errorf("parse article markup: %w", err)
	}
	var b strings.Builder
	doc.Find(articleContentSelector).Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(text)
	})
	return b.String(), nil
}
