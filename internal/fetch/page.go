package fetch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/lgeiger/newsharvest/internal/harvest"
)

// PageConfig controls the colly collector behind the page fetcher.
type PageConfig struct {
	UserAgent      string
	Concurrency    int
	RequestTimeout time.Duration
}

// PageFetcher retrieves article pages via a shared colly collector.
type PageFetcher struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewPageFetcher constructs a configured colly-based harvest.PageFetcher.
func NewPageFetcher(cfg PageConfig, logger *zap.Logger) (*PageFetcher, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = BrowserUserAgent
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
	)
	// Revisits are legitimate here: a reset record fetches its page again.
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       cfg.Concurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	if err := base.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Concurrency,
	}); err != nil {
		return nil, err
	}

	return &PageFetcher{
		baseCollector: base,
		logger:        logger,
	}, nil
}

// Fetch retrieves a page. Colly reports HTTP error statuses through its
// error callback; those still carry the response, so the status code is
// surfaced to the caller for classification instead of being swallowed.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) (harvest.Page, error) {
	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{page: harvest.Page{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte{}, r.Body...),
		}})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			send(fetchResult{page: harvest.Page{
				URL:        rawURL,
				StatusCode: r.StatusCode,
				Body:       append([]byte{}, r.Body...),
			}})
			return
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(fetchResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return harvest.Page{}, err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return harvest.Page{}, err
		}
		return res.page, res.err
	default:
		return harvest.Page{}, errors.New("page fetch produced no result")
	}
}

type fetchResult struct {
	page harvest.Page
	err  error
}
