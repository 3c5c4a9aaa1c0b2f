package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lgeiger/newsharvest/internal/harvest"
)

func TestDownloadDirectWritesAudioFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(DownloaderConfig{UserAgent: "test-agent"}, zap.NewNop())
	err := d.Download(context.Background(),
		harvest.MediaLocator{Kind: harvest.LocatorDirectURL, URL: srv.URL + "/clip.mp3"}, "de", dir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, AudioFileName))
	require.NoError(t, err)
	require.Equal(t, "mp3-bytes", string(data))
}

func TestDownloadDirectGoneIsUnrecoverable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDownloader(DownloaderConfig{}, zap.NewNop())
	err := d.Download(context.Background(),
		harvest.MediaLocator{Kind: harvest.LocatorDirectURL, URL: srv.URL + "/clip.mp3"}, "de", t.TempDir())
	require.Error(t, err)
	require.True(t, harvest.IsUnrecoverable(err))
}

func TestDownloadDirectServerErrorIsRetriable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDownloader(DownloaderConfig{}, zap.NewNop())
	err := d.Download(context.Background(),
		harvest.MediaLocator{Kind: harvest.LocatorDirectURL, URL: srv.URL + "/clip.mp3"}, "de", t.TempDir())
	require.Error(t, err)
	require.False(t, harvest.IsUnrecoverable(err))
}

func TestDownloadRejectsUnknownLocatorKind(t *testing.T) {
	t.Parallel()

	d := NewDownloader(DownloaderConfig{}, zap.NewNop())
	err := d.Download(context.Background(), harvest.MediaLocator{Kind: "bogus"}, "de", t.TempDir())
	require.Error(t, err)
}

func TestIsPermanentBackendFailure(t *testing.T) {
	t.Parallel()

	require.True(t, isPermanentBackendFailure("ERROR: Private video. Sign in if you've been granted access"))
	require.True(t, isPermanentBackendFailure("ERROR: Video unavailable"))
	require.False(t, isPermanentBackendFailure("ERROR: HTTP Error 429: Too Many Requests"))
	require.False(t, isPermanentBackendFailure(""))
}
