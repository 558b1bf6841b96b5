package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eat/internal/domain"
)

func TestFetcher_GetSetsHeaders(t *testing.T) {
	var gotAgent, gotCustom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		gotCustom = r.Header.Get("X-Trace")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	fetcher, err := NewFetcher(FetcherOptions{
		UserAgent: "eat-test/1",
		Headers:   map[string]string{"x-trace": "abc"},
	})
	require.NoError(t, err)

	doc, err := fetcher.Get(context.Background(), srv.URL+"/catalog.json")
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, string(doc.Body))
	require.Equal(t, "application/json", doc.ContentType)
	require.Equal(t, "eat-test/1", gotAgent)
	require.Equal(t, "abc", gotCustom)
}

func TestFetcher_FetchFreshDisablesCaches(t *testing.T) {
	var cacheControl string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cacheControl = r.Header.Get("Cache-Control")
		_, _ = w.Write([]byte("spec"))
	}))
	t.Cleanup(srv.Close)

	fetcher, err := NewFetcher(FetcherOptions{Client: srv.Client()})
	require.NoError(t, err)

	body, err := fetcher.FetchFresh(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "spec", string(body))
	require.Equal(t, "no-cache", cacheControl)
}

func TestFetcher_Non2xxIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	fetcher, err := NewFetcher(FetcherOptions{})
	require.NoError(t, err)

	_, err = fetcher.Fetch(context.Background(), srv.URL+"/missing")
	require.ErrorIs(t, err, domain.ErrTransport)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	require.True(t, domain.IsRetryable(err))
}

func TestFetcher_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 32)))
	}))
	t.Cleanup(srv.Close)

	fetcher, err := NewFetcher(FetcherOptions{MaxBytes: 16})
	require.NoError(t, err)

	_, err = fetcher.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrTooLarge)
	require.ErrorIs(t, err, domain.ErrTransport)
}

func TestFetcher_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	fetcher, err := NewFetcher(FetcherOptions{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = fetcher.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, domain.ErrTransport)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetcher_FileURLs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "openapi.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"openapi":"3.0.0"}`), 0o600))
	fileURL := "file://" + filepath.ToSlash(path)

	denied, err := NewFetcher(FetcherOptions{})
	require.NoError(t, err)
	_, err = denied.Fetch(context.Background(), fileURL)
	require.ErrorIs(t, err, domain.ErrConfiguration)

	allowed, err := NewFetcher(FetcherOptions{AllowFileURLs: true})
	require.NoError(t, err)
	body, err := allowed.Fetch(context.Background(), fileURL)
	require.NoError(t, err)
	require.Equal(t, `{"openapi":"3.0.0"}`, string(body))

	_, err = allowed.Fetch(context.Background(), "file://"+filepath.ToSlash(filepath.Join(dir, "missing.json")))
	require.ErrorIs(t, err, domain.ErrTransport)
}

func TestFetcher_RejectsUnsupportedScheme(t *testing.T) {
	fetcher, err := NewFetcher(FetcherOptions{})
	require.NoError(t, err)

	_, err = fetcher.Fetch(context.Background(), "ftp://example.com/catalog.json")
	require.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = NewFetcher(FetcherOptions{Headers: map[string]string{" ": "x"}})
	require.Error(t, err)
}
