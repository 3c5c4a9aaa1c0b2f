// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lgeiger/newsharvest/internal/harvest"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Frontier  FrontierConfig  `mapstructure:"frontier"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Media     MediaConfig     `mapstructure:"media"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Sources   []SourceConfig  `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs article processing behavior.
type CrawlerConfig struct {
	WorkingDir    string  `mapstructure:"working_dir"`
	Concurrency   int     `mapstructure:"concurrency"`
	UserAgent     string  `mapstructure:"user_agent"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	RateBurst     int     `mapstructure:"rate_burst"`
}

// FrontierConfig governs listing pagination and backoff.
type FrontierConfig struct {
	BaseBackoffSeconds int `mapstructure:"base_backoff_seconds"`
	MaxBackoffSeconds  int `mapstructure:"max_backoff_seconds"`
	PageDelaySeconds   int `mapstructure:"page_delay_seconds"`
	BacklogLimit       int `mapstructure:"backlog_limit"`
}

// SchedulerConfig sets the periodic tick intervals.
type SchedulerConfig struct {
	FrontierInterval string `mapstructure:"frontier_interval"`
	PipelineInterval string `mapstructure:"pipeline_interval"`
	PersistInterval  string `mapstructure:"persist_interval"`
}

// MediaConfig configures the media download backend.
type MediaConfig struct {
	BinaryPath     string `mapstructure:"binary_path"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StorageConfig sets the embedded database location.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SourceConfig declares one listing endpoint: a site plus a language
// edition.
type SourceConfig struct {
	Site     string `mapstructure:"site"`
	Language string `mapstructure:"language"`
	APIPath  string `mapstructure:"api_path"`
	PageSize int    `mapstructure:"page_size"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.working_dir", "data")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.rate_per_second", 1.0)
	v.SetDefault("crawler.rate_burst", 1)
	v.SetDefault("frontier.base_backoff_seconds", 1)
	v.SetDefault("frontier.max_backoff_seconds", 900)
	v.SetDefault("frontier.page_delay_seconds", 3)
	v.SetDefault("frontier.backlog_limit", 1000)
	v.SetDefault("scheduler.frontier_interval", "@every 1h")
	v.SetDefault("scheduler.pipeline_interval", "@every 5s")
	v.SetDefault("scheduler.persist_interval", "@every 10s")
	v.SetDefault("media.binary_path", "yt-dlp")
	v.SetDefault("media.timeout_seconds", 600)
	v.SetDefault("storage.path", "data/ledger")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.WorkingDir == "" {
		return fmt.Errorf("crawler.working_dir must be set")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.RatePerSecond <= 0 {
		return fmt.Errorf("crawler.rate_per_second must be > 0")
	}
	if c.Frontier.BaseBackoffSeconds <= 0 {
		return fmt.Errorf("frontier.base_backoff_seconds must be > 0")
	}
	if c.Frontier.MaxBackoffSeconds > 0 && c.Frontier.MaxBackoffSeconds < c.Frontier.BaseBackoffSeconds {
		return fmt.Errorf("frontier.max_backoff_seconds must be >= frontier.base_backoff_seconds")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must be set")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.Site == "" {
			return fmt.Errorf("sources[%d].site must be set", i)
		}
		if src.Language == "" {
			return fmt.Errorf("sources[%d].language must be set", i)
		}
		key := src.Site + "/" + src.Language
		if seen[key] {
			return fmt.Errorf("duplicate source %s", key)
		}
		seen[key] = true
	}
	return nil
}

// HarvestSources converts the configured source entries to domain sources.
func (c Config) HarvestSources() []harvest.Source {
	out := make([]harvest.Source, 0, len(c.Sources))
	for _, src := range c.Sources {
		out = append(out, harvest.NewSource(src.Site, src.Language, src.APIPath, src.PageSize))
	}
	return out
}

// Languages returns the distinct language editions across all sources.
func (c Config) Languages() []string {
	seen := make(map[string]bool, len(c.Sources))
	out := make([]string, 0, len(c.Sources))
	for _, src := range c.Sources {
		if !seen[src.Language] {
			seen[src.Language] = true
			out = append(out, src.Language)
		}
	}
	return out
}

// BaseBackoff returns the frontier base backoff as a duration.
func (c Config) BaseBackoff() time.Duration {
	return time.Duration(c.Frontier.BaseBackoffSeconds) * time.Second
}

// MaxBackoff returns the frontier backoff cap as a duration.
func (c Config) MaxBackoff() time.Duration {
	return time.Duration(c.Frontier.MaxBackoffSeconds) * time.Second
}

// PageDelay returns the courtesy delay between listing pages.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.Frontier.PageDelaySeconds) * time.Second
}

// MediaTimeout returns the per-download timeout as a duration.
func (c Config) MediaTimeout() time.Duration {
	return time.Duration(c.Media.TimeoutSeconds) * time.Second
}
