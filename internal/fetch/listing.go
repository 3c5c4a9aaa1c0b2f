// Package fetch implements the outbound HTTP surface: the listing API
// client used by the frontier controller and the colly-based page fetcher
// used by the pipeline.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lgeiger/newsharvest/internal/harvest"
)

// BrowserUserAgent is sent on article page requests. Some editions serve a
// reduced page to unknown clients, so the crawler identifies as a browser.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:78.0) Gecko/20100101 Firefox/78.0"

// ListingClient pages a source's timeline API backward in time.
type ListingClient struct {
	client *http.Client
	logger *zap.Logger
}

// NewListingClient builds a client with a connection pool sized for many
// concurrent sources.
func NewListingClient(timeout time.Duration, logger *zap.Logger) *ListingClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          64,
				MaxIdleConnsPerHost:   8,
				IdleConnTimeout:       30 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: timeout,
				ForceAttemptHTTP2:     true,
			},
		},
		logger: logger,
	}
}

// listingItem tolerates the API's loose typing: ids arrive as strings or
// numbers depending on the edition.
type listingItem struct {
	ID          json.RawMessage `json:"id"`
	PublishedAt int64           `json:"publishedAt"`
	FullURL     string          `json:"fullUrl"`
}

// FetchOlder requests up to PageSize items published before the given
// instant. A non-2xx response is returned as a TransientError so the
// controller retries the same boundary with backoff.
func (c *ListingClient) FetchOlder(ctx context.Context, src harvest.Source, before time.Time) ([]harvest.ListingItem, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(before.UTC().Unix(), 10))
	q.Set("limit", strconv.Itoa(src.PageSize))
	reqURL := src.APIURL + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build listing request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, harvest.Transient(fmt.Errorf("listing request %s: %w", src.Key(), err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, harvest.Transient(fmt.Errorf("listing request %s: status %d", src.Key(), resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, harvest.Transient(fmt.Errorf("read listing response %s: %w", src.Key(), err))
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode listing response %s: %w", src.Key(), err)
	}

	items := make([]harvest.ListingItem, 0, len(raw))
	for _, entry := range raw {
		var item listingItem
		if err := json.Unmarshal(entry, &item); err != nil {
			c.logger.Warn("skipping malformed listing item",
				zap.String("source", src.Key()),
				zap.Error(err),
			)
			continue
		}
		id := normalizeID(item.ID)
		if id == "" || item.FullURL == "" {
			c.logger.Warn("skipping listing item without id or url", zap.String("source", src.Key()))
			continue
		}
		items = append(items, harvest.ListingItem{
			ID:          id,
			PublishedAt: time.Unix(item.PublishedAt, 0).UTC(),
			FullURL:     item.FullURL,
			Raw:         entry,
		})
	}
	return items, nil
}

// normalizeID renders a string-or-number JSON id as its canonical string.
func normalizeID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
