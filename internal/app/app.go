// Package app initializes and holds the long-lived application services,
// acting as the dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lgeiger/newsharvest/internal/api"
	"github.com/lgeiger/newsharvest/internal/clock/system"
	"github.com/lgeiger/newsharvest/internal/config"
	"github.com/lgeiger/newsharvest/internal/extract"
	"github.com/lgeiger/newsharvest/internal/fetch"
	"github.com/lgeiger/newsharvest/internal/frontier"
	"github.com/lgeiger/newsharvest/internal/media"
	"github.com/lgeiger/newsharvest/internal/pipeline"
	storebadger "github.com/lgeiger/newsharvest/internal/store/badger"
)

// App holds the wired service graph. It is built once at startup and torn
// down in Run's shutdown path.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *storebadger.Store
	ledger   *storebadger.Ledger
	frontier *frontier.Controller
	pipeline *pipeline.Pipeline
	server   *http.Server
	cron     *cron.Cron
}

// New wires every subsystem from configuration. It fails fast when the
// embedded store cannot be opened.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	store, err := storebadger.Open(cfg.Storage.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}
	ledger := storebadger.NewLedger(store, logger)
	websites := storebadger.NewWebsiteStore(store)

	sources := cfg.HarvestSources()
	listing := fetch.NewListingClient(0, logger)
	ctrl := frontier.New(
		frontier.Config{
			WorkingDir:   cfg.Crawler.WorkingDir,
			BaseBackoff:  cfg.BaseBackoff(),
			MaxBackoff:   cfg.MaxBackoff(),
			PageDelay:    cfg.PageDelay(),
			BacklogLimit: cfg.Frontier.BacklogLimit,
		},
		sources, listing, ledger, websites, system.New(), logger,
	)

	fetcher, err := fetch.NewPageFetcher(fetch.PageConfig{
		UserAgent:   cfg.Crawler.UserAgent,
		Concurrency: cfg.Crawler.Concurrency,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build page fetcher: %w", err)
	}
	downloader := media.NewDownloader(media.DownloaderConfig{
		BinaryPath: cfg.Media.BinaryPath,
		Timeout:    cfg.MediaTimeout(),
		UserAgent:  cfg.Crawler.UserAgent,
	}, logger)
	pipe := pipeline.New(
		pipeline.Config{
			Concurrency:   cfg.Crawler.Concurrency,
			RatePerSecond: cfg.Crawler.RatePerSecond,
			Burst:         cfg.Crawler.RateBurst,
		},
		cfg.Languages(), ledger, fetcher, extract.NewEuronewsExtractor(), media.NewResolver(), downloader, logger,
	)

	srv := api.NewServer(ledger, ctrl, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		ledger:   ledger,
		frontier: ctrl,
		pipeline: pipe,
		server:   httpServer,
		cron:     cron.New(),
	}, nil
}

// Run starts the scheduler and HTTP server and blocks until ctx ends, then
// shuts everything down in dependency order.
func (a *App) Run(ctx context.Context) error {
	// Articles left mid-flight by a previous run go back to the queue
	// before anything can claim them.
	reset, err := a.ledger.ResetInProgress(ctx)
	if err != nil {
		return fmt.Errorf("reset in-progress records: %w", err)
	}
	if reset > 0 {
		a.logger.Info("reset interrupted articles", zap.Int("count", reset))
	}
	if err := a.frontier.LoadProgress(ctx); err != nil {
		return fmt.Errorf("load frontier progress: %w", err)
	}

	if err := a.schedule(ctx); err != nil {
		return err
	}
	a.cron.Start()

	// The first frontier pass should not wait for the first cron firing.
	a.frontier.Tick(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.logger.Error("http server failed", zap.Error(err))
	}
	return a.shutdown()
}

func (a *App) schedule(ctx context.Context) error {
	entries := []struct {
		spec string
		name string
		fn   func()
	}{
		{a.cfg.Scheduler.FrontierInterval, "frontier", func() { a.frontier.Tick(ctx) }},
		{a.cfg.Scheduler.PipelineInterval, "pipeline", func() { a.pipeline.Tick(ctx) }},
		{a.cfg.Scheduler.PersistInterval, "persist", func() { a.frontier.PersistProgress(ctx) }},
	}
	for _, e := range entries {
		if _, err := a.cron.AddFunc(e.spec, e.fn); err != nil {
			return fmt.Errorf("schedule %s job (%q): %w", e.name, e.spec, err)
		}
	}
	return nil
}

func (a *App) shutdown() error {
	a.logger.Info("shutting down")

	cronCtx := a.cron.Stop()
	<-cronCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", zap.Error(err))
	}

	// Let in-flight chains and articles drain, then save frontier state so
	// the next run resumes where this one stopped.
	a.frontier.Wait()
	a.pipeline.Wait()
	a.frontier.PersistProgress(shutdownCtx)

	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close ledger store: %w", err)
	}
	a.logger.Info("shutdown complete")
	return nil
}
