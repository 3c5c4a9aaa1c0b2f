// Package frontier drives backward-in-time pagination against each
// source's listing API, tracking scanned intervals so no time window is
// requested twice and no article is lost across restarts.
package frontier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lgeiger/newsharvest/internal/harvest"
	"github.com/lgeiger/newsharvest/internal/intervals"
	"github.com/lgeiger/newsharvest/internal/telemetry"
)

// Config controls Controller behavior.
type Config struct {
	// WorkingDir is the root under which per-article directories live.
	WorkingDir string
	// BaseBackoff is the initial delay after a transient listing failure.
	BaseBackoff time.Duration
	// MaxBackoff caps the doubling backoff; zero means uncapped.
	MaxBackoff time.Duration
	// PageDelay is the courtesy pause between successful pagination steps.
	PageDelay time.Duration
	// BacklogLimit stops starting new chains while this many discovered
	// articles await processing; zero disables the check.
	BacklogLimit int
}

// sourceState is the mutable per-source frontier state. The interval set
// serializes itself; sleep and running are guarded here.
type sourceState struct {
	src harvest.Source
	set *intervals.Set

	mu      sync.Mutex
	sleep   time.Duration
	running bool
}

// nextBackoff returns the delay to sleep now and doubles the stored value
// for the next consecutive failure.
func (st *sourceState) nextBackoff(base, max time.Duration) time.Duration {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.sleep <= 0 {
		st.sleep = base
	}
	d := st.sleep
	st.sleep *= 2
	if max > 0 && st.sleep > max {
		st.sleep = max
	}
	return d
}

func (st *sourceState) resetBackoff(base time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sleep = base
}

func (st *sourceState) currentBackoff() time.Duration {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sleep
}

// tryStart marks the chain running; false means a chain is already active.
func (st *sourceState) tryStart() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.running {
		return false
	}
	st.running = true
	return true
}

func (st *sourceState) stop() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.running = false
}

func (st *sourceState) isRunning() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.running
}

// Controller owns the crawl frontier for all configured sources.
type Controller struct {
	cfg      Config
	listing  harvest.ListingClient
	ledger   harvest.Ledger
	websites harvest.WebsiteStore
	clock    harvest.Clock
	logger   *zap.Logger
	sources  []*sourceState
	wg       sync.WaitGroup

	// sleepFn is swapped out by tests to avoid real delays.
	sleepFn func(ctx context.Context, d time.Duration) error
}

// New constructs a Controller for the given sources.
func New(
	cfg Config,
	sources []harvest.Source,
	listing harvest.ListingClient,
	ledger harvest.Ledger,
	websites harvest.WebsiteStore,
	clock harvest.Clock,
	logger *zap.Logger,
) *Controller {
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	states := make([]*sourceState, 0, len(sources))
	for _, src := range sources {
		states = append(states, &sourceState{
			src:   src,
			set:   intervals.NewSet(),
			sleep: cfg.BaseBackoff,
		})
	}
	return &Controller{
		cfg:      cfg,
		listing:  listing,
		ledger:   ledger,
		websites: websites,
		clock:    clock,
		logger:   logger,
		sources:  states,
		sleepFn:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoadProgress restores each source's scanned intervals from the website
// store. Run before the first Tick.
func (c *Controller) LoadProgress(ctx context.Context) error {
	for _, st := range c.sources {
		ivs, err := c.websites.LoadIntervals(ctx, st.src)
		if err != nil {
			return fmt.Errorf("load progress for %s: %w", st.src.Key(), err)
		}
		st.set = intervals.NewSet(ivs...)
		if len(ivs) > 0 {
			c.logger.Info("restored frontier progress",
				zap.String("source", st.src.Key()),
				zap.Int("intervals", st.set.Len()),
			)
		}
	}
	return nil
}

// PersistProgress saves every source's interval set. Failures are logged,
// not returned: losing one persist tick only costs re-scanning a window the
// idempotent ledger absorbs anyway.
func (c *Controller) PersistProgress(ctx context.Context) {
	for _, st := range c.sources {
		if err := c.websites.SaveIntervals(ctx, st.src, st.set.Snapshot()); err != nil {
			c.logger.Error("persist frontier progress failed",
				zap.String("source", st.src.Key()),
				zap.Error(err),
			)
		}
	}
}

// Tick starts a fresh top-of-timeline chain for every source without an
// active one, unless the processing backlog is already large enough.
func (c *Controller) Tick(ctx context.Context) {
	if c.cfg.BacklogLimit > 0 {
		pending, err := c.ledger.PendingCount(ctx)
		if err != nil {
			c.logger.Error("pending count failed", zap.Error(err))
		} else {
			telemetry.SetPendingArticles(pending)
			if pending >= c.cfg.BacklogLimit {
				c.logger.Info("skipping frontier tick, backlog full", zap.Int("pending", pending))
				return
			}
		}
	}
	for _, st := range c.sources {
		if !st.tryStart() {
			continue
		}
		now := c.clock.Now().Truncate(time.Second)
		// Seeding [now, now] guarantees the first request has a valid,
		// non-overlapping starting point to jump back from.
		st.set.Insert(intervals.New(now, now))
		c.wg.Add(1)
		go func(st *sourceState, upper time.Time) {
			defer c.wg.Done()
			defer st.stop()
			c.runChain(ctx, st, upper)
		}(st, now)
	}
}

// Wait blocks until every active chain has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// runChain pages one source backward from upper until the source is
// exhausted, the chain hits an unexpected state, or ctx ends.
func (c *Controller) runChain(ctx context.Context, st *sourceState, upper time.Time) {
	log := c.logger.With(zap.String("source", st.src.Key()))
	for {
		if ctx.Err() != nil {
			return
		}
		items, err := c.listing.FetchOlder(ctx, st.src, upper)
		if err != nil {
			if !harvest.IsTransient(err) {
				telemetry.CountListingRequest(st.src.Key(), "error")
				log.Error("listing request failed", zap.Error(err))
				return
			}
			telemetry.CountListingRequest(st.src.Key(), "transient")
			delay := st.nextBackoff(c.cfg.BaseBackoff, c.cfg.MaxBackoff)
			telemetry.SetFrontierBackoff(st.src.Key(), st.currentBackoff())
			log.Info("listing request failed, backing off",
				zap.Duration("delay", delay),
				zap.Time("boundary", upper),
				zap.Error(err),
			)
			if err := c.sleepFn(ctx, delay); err != nil {
				return
			}
			// Retry the same boundary: failure must not advance the
			// frontier, or articles at the edge would be lost.
			continue
		}
		st.resetBackoff(c.cfg.BaseBackoff)
		telemetry.SetFrontierBackoff(st.src.Key(), c.cfg.BaseBackoff)
		telemetry.CountListingRequest(st.src.Key(), "ok")

		if len(items) == 0 {
			log.Info("source exhausted up to live edge", zap.Time("boundary", upper))
			return
		}

		minPublished := items[0].PublishedAt
		for _, item := range items {
			if item.PublishedAt.Before(minPublished) {
				minPublished = item.PublishedAt
			}
			if err := c.ingest(ctx, st.src, item); err != nil {
				log.Error("article ingestion failed",
					zap.String("article_id", item.ID),
					zap.Error(err),
				)
				continue
			}
			telemetry.CountArticleDiscovered(st.src.Key())
		}
		log.Debug("listing page ingested",
			zap.Int("items", len(items)),
			zap.Time("oldest", minPublished),
			zap.Time("boundary", upper),
		)

		st.set.Insert(intervals.New(minPublished, upper))
		surrounding, ok := st.set.Surrounding(minPublished)
		if !ok {
			// Cannot happen if the merge algorithm is correct: the interval
			// containing minPublished was inserted just above.
			log.Error("no surrounding interval after insert, stopping chain",
				zap.Time("oldest", minPublished),
			)
			return
		}
		// Jump to the start of the region this batch ran into, skipping any
		// history a previous run already covered.
		upper = surrounding.Start

		if c.cfg.PageDelay > 0 {
			if err := c.sleepFn(ctx, c.cfg.PageDelay); err != nil {
				return
			}
		}
	}
}

// ingest creates the article's output directory, writes the raw listing
// payload as meta.json, and records the article in the ledger. All steps
// are idempotent, so redelivered items are harmless.
func (c *Controller) ingest(ctx context.Context, src harvest.Source, item harvest.ListingItem) error {
	outputDir := filepath.Join(c.cfg.WorkingDir, src.Language, item.ID)
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return fmt.Errorf("create article directory: %w", err)
	}

	if len(item.Raw) > 0 {
		meta := item.Raw
		if indented, err := json.MarshalIndent(json.RawMessage(item.Raw), "", "  "); err == nil {
			meta = indented
		}
		metaPath := filepath.Join(outputDir, "meta.json")
		if err := os.WriteFile(metaPath, meta, 0o640); err != nil {
			return fmt.Errorf("write meta.json: %w", err)
		}
	}

	rec := harvest.ArticleRecord{
		ID:          item.ID,
		Language:    src.Language,
		FullURL:     resolveFullURL(src, item.FullURL),
		OutputDir:   outputDir,
		PublishedAt: item.PublishedAt,
		Discovered:  c.clock.Now(),
		Payload:     item.Raw,
	}
	if err := c.ledger.InsertIfAbsent(ctx, rec); err != nil {
		return fmt.Errorf("ledger insert: %w", err)
	}
	return nil
}

// resolveFullURL joins the listing item's path with the source's base URL
// unless the item already carries an absolute URL.
func resolveFullURL(src harvest.Source, fullURL string) string {
	if strings.HasPrefix(fullURL, "http://") || strings.HasPrefix(fullURL, "https://") {
		return fullURL
	}
	return src.BaseURL + fullURL
}

// SourceStatus is a point-in-time view of one source's frontier, exposed
// through the status API.
type SourceStatus struct {
	SiteID      string               `json:"site_id"`
	Language    string               `json:"language"`
	Backoff     time.Duration        `json:"backoff"`
	ChainActive bool                 `json:"chain_active"`
	Intervals   []intervals.Interval `json:"intervals"`
}

// SourceStatuses reports the frontier state of every source.
func (c *Controller) SourceStatuses() []SourceStatus {
	out := make([]SourceStatus, 0, len(c.sources))
	for _, st := range c.sources {
		out = append(out, SourceStatus{
			SiteID:      st.src.SiteID,
			Language:    st.src.Language,
			Backoff:     st.currentBackoff(),
			ChainActive: st.isRunning(),
			Intervals:   st.set.Snapshot(),
		})
	}
	return out
}
