// Package pipeline claims discovered articles from the ledger and runs
// each one through fetch, text extraction, and media download under a
// bounded concurrency budget.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lgeiger/newsharvest/internal/harvest"
	"github.com/lgeiger/newsharvest/internal/ratelimit"
	"github.com/lgeiger/newsharvest/internal/telemetry"
)

// ArticleFileName is the fixed text filename inside an article's output
// directory.
const ArticleFileName = "article.txt"

// Config controls pipeline behavior.
type Config struct {
	// Concurrency is the number of articles processed at once.
	Concurrency int
	// RatePerSecond bounds article page fetches per edition host.
	RatePerSecond float64
	// Burst is the fetch limiter's burst size.
	Burst int
}

// Pipeline drives claimed articles to completion.
type Pipeline struct {
	cfg        Config
	languages  []string
	ledger     harvest.Ledger
	fetcher    harvest.PageFetcher
	extractor  harvest.Extractor
	resolver   harvest.MediaResolver
	downloader harvest.MediaDownloader
	limiter    *ratelimit.Limiter
	logger     *zap.Logger

	slots chan struct{}
	wg    sync.WaitGroup
}

// New constructs a Pipeline processing articles for the given languages.
func New(
	cfg Config,
	languages []string,
	ledger harvest.Ledger,
	fetcher harvest.PageFetcher,
	extractor harvest.Extractor,
	resolver harvest.MediaResolver,
	downloader harvest.MediaDownloader,
	logger *zap.Logger,
) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:        cfg,
		languages:  languages,
		ledger:     ledger,
		fetcher:    fetcher,
		extractor:  extractor,
		resolver:   resolver,
		downloader: downloader,
		limiter:    ratelimit.New(cfg.RatePerSecond, cfg.Burst),
		logger:     logger,
		slots:      make(chan struct{}, cfg.Concurrency),
	}
}

// Tick claims and dispatches pending articles round-robin across languages
// until every language is drained or all slots are busy. It returns without
// waiting for the dispatched work.
func (p *Pipeline) Tick(ctx context.Context) {
	drained := make(map[string]bool, len(p.languages))
	for {
		progress := false
		for _, lang := range p.languages {
			if drained[lang] {
				continue
			}
			select {
			case p.slots <- struct{}{}:
			default:
				return
			}
			rec, err := p.ledger.ClaimNext(ctx, lang)
			if err != nil {
				<-p.slots
				drained[lang] = true
				if !errors.Is(err, harvest.ErrNoneAvailable) {
					p.logger.Error("claim failed", zap.String("language", lang), zap.Error(err))
				}
				continue
			}
			progress = true
			p.wg.Add(1)
			go func(rec harvest.ArticleRecord) {
				defer p.wg.Done()
				defer func() { <-p.slots }()
				p.process(ctx, rec)
			}(rec)
		}
		if !progress {
			return
		}
	}
}

// Wait blocks until all dispatched articles have finished processing.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// process runs one claimed article through the full chain. A panic anywhere
// in the chain quarantines the record instead of taking the process down.
func (p *Pipeline) process(ctx context.Context, rec harvest.ArticleRecord) {
	log := p.logger.With(
		zap.String("article", rec.Key().String()),
		zap.String("url", rec.FullURL),
	)
	defer p.recoverQuarantine(ctx, rec, log)

	if err := p.limiter.Wait(ctx, rec.FullURL); err != nil {
		return
	}
	start := time.Now()
	page, err := p.fetcher.Fetch(ctx, rec.FullURL)
	telemetry.ObservePageFetch(rec.Language, time.Since(start))
	if err != nil {
		if harvest.IsUnrecoverable(err) {
			p.quarantine(ctx, rec, fmt.Sprintf("page fetch: %v", err))
			return
		}
		// Recoverable fetch failures keep the record claimed; the startup
		// reset returns it to the queue on the next run.
		log.Warn("page fetch failed, will retry after restart", zap.Error(err))
		return
	}
	if page.StatusCode == 404 || page.StatusCode == 410 {
		p.quarantine(ctx, rec, fmt.Sprintf("page fetch: status %d", page.StatusCode))
		return
	}
	if page.StatusCode != 0 && page.StatusCode != 200 {
		log.Warn("page fetch returned non-200, will retry after restart",
			zap.Int("status", page.StatusCode))
		return
	}

	text, err := p.extractor.ArticleText(page)
	if err != nil {
		p.quarantine(ctx, rec, fmt.Sprintf("text extraction: %v", err))
		return
	}
	loc, hasMedia, err := p.resolver.Resolve(page)
	if err != nil {
		p.quarantine(ctx, rec, fmt.Sprintf("media resolution: %v", err))
		return
	}

	// The two sub-tasks are independent; run them concurrently and let the
	// ledger derive the final status from whichever order they land in. Each
	// goroutine carries its own recovery: a panic in text or media handling
	// quarantines this article, never the process.
	var textStatus, mediaStatus harvest.CrawlStatus
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer p.recoverQuarantine(ctx, rec, log)
		textStatus = p.runTextTask(ctx, rec, text, log)
	}()
	go func() {
		defer wg.Done()
		defer p.recoverQuarantine(ctx, rec, log)
		mediaStatus = p.runMediaTask(ctx, rec, loc, hasMedia, log)
	}()
	wg.Wait()

	// Whichever sub-task landed last saw the record reach Complete; the
	// compaction sweep below may remove records other articles finished, so
	// completion is judged per record, not from the sweep count.
	completed := textStatus == harvest.StatusComplete || mediaStatus == harvest.StatusComplete
	p.finalize(ctx, rec, completed, log)
}

func (p *Pipeline) runTextTask(ctx context.Context, rec harvest.ArticleRecord, text string, log *zap.Logger) harvest.CrawlStatus {
	if err := writeArticleText(rec.OutputDir, text); err != nil {
		log.Error("writing article text failed", zap.Error(err))
		return 0
	}
	status, err := p.ledger.Advance(ctx, rec.Key(), harvest.TaskText)
	if err != nil {
		// The media task may have quarantined the record in the meantime.
		if !errors.Is(err, harvest.ErrNotFound) {
			log.Error("advancing text sub-task failed", zap.Error(err))
		}
		return 0
	}
	return status
}

func (p *Pipeline) runMediaTask(ctx context.Context, rec harvest.ArticleRecord, loc harvest.MediaLocator, hasMedia bool, log *zap.Logger) harvest.CrawlStatus {
	if hasMedia {
		err := p.downloader.Download(ctx, loc, rec.Language, rec.OutputDir)
		if err != nil {
			if harvest.IsUnrecoverable(err) {
				telemetry.CountMediaDownload(string(loc.Kind), "unrecoverable")
				p.quarantine(ctx, rec, fmt.Sprintf("media download: %v", err))
				return 0
			}
			telemetry.CountMediaDownload(string(loc.Kind), "error")
			log.Warn("media download failed, will retry after restart", zap.Error(err))
			return 0
		}
		telemetry.CountMediaDownload(string(loc.Kind), "ok")
	}
	// Articles without media complete the media sub-task immediately; no
	// audio file is produced.
	status, err := p.ledger.Advance(ctx, rec.Key(), harvest.TaskMedia)
	if err != nil {
		if !errors.Is(err, harvest.ErrNotFound) {
			log.Error("advancing media sub-task failed", zap.Error(err))
		}
		return 0
	}
	return status
}

// recoverQuarantine absorbs a panic from article processing and turns it
// into a quarantine of that one record.
func (p *Pipeline) recoverQuarantine(ctx context.Context, rec harvest.ArticleRecord, log *zap.Logger) {
	if r := recover(); r != nil {
		log.Error("panic while processing article", zap.Any("panic", r))
		p.quarantine(ctx, rec, fmt.Sprintf("panic: %v", r))
	}
}

// finalize runs the compaction sweep and, when this article reached
// Complete, records its completion.
func (p *Pipeline) finalize(ctx context.Context, rec harvest.ArticleRecord, completed bool, log *zap.Logger) {
	n, err := p.ledger.CompactComplete(ctx)
	if err != nil {
		log.Error("ledger compaction failed", zap.Error(err))
		return
	}
	if completed {
		telemetry.CountArticleCompleted(rec.Language)
		log.Info("article completed", zap.Int("compacted", n))
	}
}

func (p *Pipeline) quarantine(ctx context.Context, rec harvest.ArticleRecord, reason string) {
	if err := p.ledger.Quarantine(ctx, rec.Key(), reason); err != nil {
		if errors.Is(err, harvest.ErrNotFound) {
			return
		}
		p.logger.Error("quarantine failed",
			zap.String("article", rec.Key().String()),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	telemetry.CountArticleQuarantined(rec.Language)
	p.logger.Warn("article quarantined",
		zap.String("article", rec.Key().String()),
		zap.String("reason", reason),
	)
}

func writeArticleText(outputDir, text string) error {
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return fmt.Errorf("create article directory: %w", err)
	}
	target := filepath.Join(outputDir, ArticleFileName)
	if err := os.WriteFile(target, []byte(text), 0o640); err != nil {
		return fmt.Errorf("write %s: %w", ArticleFileName, err)
	}
	return nil
}
