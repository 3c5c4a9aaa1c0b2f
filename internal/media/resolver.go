// Package media resolves and downloads the audio/video attached to an
// article page.
package media

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lgeiger/newsharvest/internal/harvest"
)

// canonicalIDLength is the length of a platform video id; a candidate of
// exactly this length is taken verbatim.
const canonicalIDLength = 11

// mediaExtensions are file extensions that route a direct URL to the plain
// byte-fetch path instead of the platform downloader.
var mediaExtensions = map[string]bool{
	".mp3": true,
	".mp4": true,
	".m4a": true,
	".aac": true,
	".wav": true,
}

// Rule produces raw media candidates from a parsed page. Rules run in fixed
// priority order; the first rule yielding at least one candidate wins, even
// if its candidates later prove unusable.
type Rule struct {
	Name       string
	Candidates func(doc *goquery.Document) []string
}

// DefaultRules returns the extraction chain in priority order: the player
// widget attribute, then embedded player frames, then structured content
// descriptors. The ordering is load-bearing; site markup varies per edition
// and the earlier rules are the more reliable ones.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "player-attribute",
			Candidates: func(doc *goquery.Document) []string {
				var out []string
				doc.Find("div.js-player-pfp").Each(func(_ int, sel *goquery.Selection) {
					if v, ok := sel.Attr("data-video-id"); ok && strings.TrimSpace(v) != "" {
						out = append(out, strings.TrimSpace(v))
					}
				})
				return out
			},
		},
		{
			Name: "embed-frame",
			Candidates: func(doc *goquery.Document) []string {
				var out []string
				doc.Find("iframe[src]").Each(func(_ int, sel *goquery.Selection) {
					src, _ := sel.Attr("src")
					if strings.Contains(src, "/embed/") {
						out = append(out, src)
					}
				})
				return out
			},
		},
		{
			Name: "content-descriptor",
			Candidates: func(doc *goquery.Document) []string {
				var out []string
				doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
					if text := strings.TrimSpace(sel.Text()); text != "" {
						out = append(out, text)
					}
				})
				doc.Find("[data-video]").Each(func(_ int, sel *goquery.Selection) {
					if v, ok := sel.Attr("data-video"); ok && strings.TrimSpace(v) != "" {
						out = append(out, strings.TrimSpace(v))
					}
				})
				return out
			},
		},
	}
}

// Resolver applies the rule chain and a selection policy to a fetched page.
type Resolver struct {
	rules []Rule
}

// NewResolver builds a Resolver; with no arguments it uses DefaultRules.
func NewResolver(rules ...Rule) *Resolver {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Resolver{rules: rules}
}

// Resolve returns the canonical media locator for the page. The boolean is
// false when the page carries no usable media, which is an expected outcome
// (the article is text-only), not an error.
func (r *Resolver) Resolve(page harvest.Page) (harvest.MediaLocator, bool, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return harvest.MediaLocator{}, false, fmt.Errorf("parse page markup: %w", err)
	}

	// First-match policy across rules: once a rule yields candidates, later
	// rules are not consulted.
	var candidates []string
	for _, rule := range r.rules {
		if found := rule.Candidates(doc); len(found) > 0 {
			candidates = found
			break
		}
	}

	for _, candidate := range candidates {
		if loc, ok := classifyCandidate(candidate); ok {
			return loc, true, nil
		}
	}
	return harvest.MediaLocator{}, false, nil
}

// classifyCandidate turns one raw candidate into a locator, trying the
// selection steps in order: verbatim id, embed-URL reduction, descriptor
// drill-down.
func classifyCandidate(candidate string) (harvest.MediaLocator, bool) {
	if len(candidate) == canonicalIDLength && !strings.ContainsAny(candidate, "/{}. ") {
		return harvest.MediaLocator{Kind: harvest.LocatorPlatformID, ID: candidate}, true
	}
	if strings.Contains(candidate, "/embed/") {
		if id := trailingSegment(candidate); id != "" {
			return harvest.MediaLocator{Kind: harvest.LocatorPlatformID, ID: id}, true
		}
	}
	if strings.HasPrefix(candidate, "{") || strings.HasPrefix(candidate, "[") {
		if value, ok := drillDescriptor(candidate); ok {
			return classifyTerminal(value)
		}
	}
	if IsDirectMediaURL(candidate) {
		return harvest.MediaLocator{Kind: harvest.LocatorDirectURL, URL: candidate}, true
	}
	return harvest.MediaLocator{}, false
}

// classifyTerminal interprets the value found at the end of a descriptor
// drill-down: a bare platform id, a direct media URL, or a player URL that
// still embeds the id.
func classifyTerminal(value string) (harvest.MediaLocator, bool) {
	if len(value) == canonicalIDLength && !strings.Contains(value, "/") {
		return harvest.MediaLocator{Kind: harvest.LocatorPlatformID, ID: value}, true
	}
	if IsDirectMediaURL(value) {
		return harvest.MediaLocator{Kind: harvest.LocatorDirectURL, URL: value}, true
	}
	if strings.Contains(value, "/embed/") {
		if id := trailingSegment(value); id != "" {
			return harvest.MediaLocator{Kind: harvest.LocatorPlatformID, ID: id}, true
		}
	}
	if u, err := url.Parse(value); err == nil {
		if id := u.Query().Get("v"); id != "" {
			return harvest.MediaLocator{Kind: harvest.LocatorPlatformID, ID: id}, true
		}
	}
	return harvest.MediaLocator{}, false
}

// trailingSegment extracts the last path segment of an embed URL, dropping
// any query string.
func trailingSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Base(u.Path)
}

// IsDirectMediaURL reports whether the URL points at a raw media file that
// bypasses the platform downloader.
func IsDirectMediaURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return false
	}
	return mediaExtensions[strings.ToLower(path.Ext(u.Path))]
}

// drillDescriptor walks a structured content descriptor down the fixed key
// path (graph/video containers, then locator fields) to a terminal value.
func drillDescriptor(raw string) (string, bool) {
	var node any
	if err := json.Unmarshal([]byte(raw), &node); err != nil {
		return "", false
	}
	return drill(node)
}

func drill(node any) (string, bool) {
	switch v := node.(type) {
	case map[string]any:
		for _, key := range []string{"@graph", "video"} {
			if child, ok := v[key]; ok {
				if s, ok := drill(child); ok {
					return s, true
				}
			}
		}
		for _, key := range []string{"videoId", "contentUrl", "embedUrl", "url"} {
			if s, ok := v[key].(string); ok && s != "" {
				return s, true
			}
		}
	case []any:
		for _, child := range v {
			if s, ok := drill(child); ok {
				return s, true
			}
		}
	}
	return "", false
}
