package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFetcher(t *testing.T) *PageFetcher {
	t.Helper()
	f, err := NewPageFetcher(PageConfig{Concurrency: 2}, zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestFetchReturnsBodyAndStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, BrowserUserAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	page, err := newTestFetcher(t).Fetch(context.Background(), srv.URL+"/article")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Contains(t, string(page.Body), "hello")
}

func TestFetchSurfacesErrorStatusAsPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	// A 404 is a result for the caller to classify, not a fetch error.
	page, err := newTestFetcher(t).Fetch(context.Background(), srv.URL+"/gone")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, page.StatusCode)
}

func TestFetchSameURLTwice(t *testing.T) {
	t.Parallel()

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	// Reset records refetch their page, so revisits must not be deduped.
	for i := 0; i < 2; i++ {
		page, err := f.Fetch(context.Background(), srv.URL+"/article")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, page.StatusCode)
	}
	require.Equal(t, 2, hits)
}

func TestFetchUnreachableHostIsError(t *testing.T) {
	t.Parallel()

	_, err := newTestFetcher(t).Fetch(context.Background(), "http://127.0.0.1:1/article")
	require.Error(t, err)
}
