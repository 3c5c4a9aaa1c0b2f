package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lgeiger/newsharvest/internal/harvest"
)

// AudioFileName is the fixed media filename inside an article's output
// directory.
const AudioFileName = "audio.mp3"

// DownloaderConfig controls the external download backend.
type DownloaderConfig struct {
	// BinaryPath is the yt-dlp executable used for platform downloads.
	BinaryPath string
	// Timeout bounds a single download.
	Timeout time.Duration
	// UserAgent is sent on direct byte fetches.
	UserAgent string
}

// Downloader implements harvest.MediaDownloader. Platform ids go through
// the external yt-dlp backend; direct media URLs are fetched and saved
// as-is.
type Downloader struct {
	cfg    DownloaderConfig
	client *http.Client
	logger *zap.Logger
}

// NewDownloader constructs a Downloader.
func NewDownloader(cfg DownloaderConfig, logger *zap.Logger) *Downloader {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "yt-dlp"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Download produces the media file in outputDir, or fails. Failures the
// backend reports as permanent (private/removed videos) are classified
// unrecoverable so the caller quarantines instead of retrying.
func (d *Downloader) Download(ctx context.Context, loc harvest.MediaLocator, language, outputDir string) error {
	switch loc.Kind {
	case harvest.LocatorDirectURL:
		return d.downloadDirect(ctx, loc.URL, outputDir)
	case harvest.LocatorPlatformID:
		return d.downloadPlatform(ctx, loc.ID, language, outputDir)
	default:
		return fmt.Errorf("unknown locator kind %q", loc.Kind)
	}
}

func (d *Downloader) downloadPlatform(ctx context.Context, id, language, outputDir string) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	watchURL := "https://www.youtube.com/watch?v=" + id
	args := []string{
		"--extract-audio",
		"--audio-format", "mp3",
		"--no-progress",
		"--no-playlist",
		"--extractor-args", "youtube:lang=" + PlatformLanguage(language),
		"--output", filepath.Join(outputDir, "audio.%(ext)s"),
		watchURL,
	}
	d.logger.Debug("starting platform download",
		zap.String("video_id", id),
		zap.String("language", language),
	)
	cmd := exec.CommandContext(ctx, d.cfg.BinaryPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(output))
		if isPermanentBackendFailure(msg) {
			return harvest.Unrecoverable(fmt.Errorf("platform download %s: %s", id, firstLine(msg)))
		}
		return fmt.Errorf("platform download %s: %w: %s", id, err, firstLine(msg))
	}
	return nil
}

func (d *Downloader) downloadDirect(ctx context.Context, rawURL, outputDir string) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build media request: %w", err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch media %s: %w", rawURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusGone:
		_, _ = io.Copy(io.Discard, resp.Body)
		return harvest.Unrecoverable(fmt.Errorf("fetch media %s: status %d", rawURL, resp.StatusCode))
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("fetch media %s: status %d", rawURL, resp.StatusCode)
	}

	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return fmt.Errorf("create media directory: %w", err)
	}
	target := filepath.Join(outputDir, AudioFileName)
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create media file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(target)
		return fmt.Errorf("write media file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close media file: %w", err)
	}
	return nil
}

// PlatformLanguage maps a source language edition to the platform's
// language tag. The default edition carries no language prefix of its own.
func PlatformLanguage(language string) string {
	if language == "" || language == "www" {
		return "en"
	}
	return language
}

// isPermanentBackendFailure recognizes backend error text for videos that
// will never become downloadable.
func isPermanentBackendFailure(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range []string{
		"private video",
		"video unavailable",
		"has been removed",
		"account associated with this video has been terminated",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
