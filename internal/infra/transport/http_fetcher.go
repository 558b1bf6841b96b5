package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"eat/internal/domain"
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// ErrTooLarge reports a body that exceeded the configured size limit.
var ErrTooLarge = errors.New("response body exceeds size limit")

// Document is a fetched body and the metadata needed to interpret it.
type Document struct {
	URL         string
	ContentType string
	Body        []byte
}

type FetcherOptions struct {
	Logger        *zap.Logger
	Timeout       time.Duration
	MaxBytes      int64
	UserAgent     string
	AllowFileURLs bool
	Headers       map[string]string
	// Client overrides the base HTTP client; its transport is wrapped.
	Client *http.Client
}

// Fetcher performs bounded GET requests shared by the catalog, key
// resolution and integrity checks.
type Fetcher struct {
	logger        *zap.Logger
	client        *http.Client
	timeout       time.Duration
	maxBytes      int64
	allowFileURLs bool
}

func NewFetcher(opts FetcherOptions) (*Fetcher, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultFetchTimeoutSeconds * time.Second
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = domain.DefaultMaxDocumentBytes
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = domain.DefaultUserAgent
	}

	headers := http.Header{}
	headers.Set("User-Agent", userAgent)
	for key, value := range opts.Headers {
		name := http.CanonicalHeaderKey(strings.TrimSpace(key))
		if name == "" {
			return nil, errors.New("http headers contain empty key")
		}
		headers.Set(name, value)
	}

	base := http.DefaultTransport
	var jar http.CookieJar
	if opts.Client != nil {
		if opts.Client.Transport != nil {
			base = opts.Client.Transport
		}
		jar = opts.Client.Jar
	}
	if base == nil {
		return nil, errors.New("default http transport is nil")
	}

	var rt http.RoundTripper = &headerRoundTripper{base: base, headers: headers}
	if opts.AllowFileURLs {
		rt = &fileRoundTripper{
			http: rt,
			file: http.NewFileTransport(http.Dir("/")),
		}
	}

	return &Fetcher{
		logger:        logger.Named("fetcher"),
		client:        &http.Client{Transport: rt, Jar: jar},
		timeout:       timeout,
		maxBytes:      maxBytes,
		allowFileURLs: opts.AllowFileURLs,
	}, nil
}

// Get fetches rawURL. Network failures, non-2xx statuses and oversized
// bodies surface as TransportError.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (Document, error) {
	return f.get(ctx, rawURL, nil)
}

// Fetch returns the body at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	doc, err := f.get(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return doc.Body, nil
}

// FetchFresh returns the body at rawURL, asking intermediaries not to serve
// a cached copy.
func (f *Fetcher) FetchFresh(ctx context.Context, rawURL string) ([]byte, error) {
	headers := http.Header{}
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Pragma", "no-cache")
	doc, err := f.get(ctx, rawURL, headers)
	if err != nil {
		return nil, err
	}
	return doc.Body, nil
}

// Client returns the wrapped HTTP client.
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// Timeout returns the per-request bound.
func (f *Fetcher) Timeout() time.Duration {
	return f.timeout
}

func (f *Fetcher) get(ctx context.Context, rawURL string, extra http.Header) (Document, error) {
	const op = "transport.fetch"
	if err := f.checkURL(rawURL); err != nil {
		return Document{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Document{}, domain.TransportError(op, fmt.Errorf("build request: %w", err))
	}
	for key, values := range extra {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	started := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return Document{}, domain.TransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Document{}, domain.TransportError(op, &StatusError{URL: rawURL, StatusCode: resp.StatusCode})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return Document{}, domain.TransportError(op, fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > f.maxBytes {
		return Document{}, domain.TransportError(op, fmt.Errorf("%w (%d bytes)", ErrTooLarge, f.maxBytes))
	}

	f.logger.Debug("fetched document",
		zap.String("url", rawURL),
		zap.Int("bytes", len(body)),
		zap.Duration("duration", time.Since(started)),
	)
	return Document{
		URL:         rawURL,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func (f *Fetcher) checkURL(rawURL string) error {
	const op = "transport.fetch"
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return domain.ConfigurationError(op, fmt.Sprintf("invalid url %q: %v", rawURL, err))
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		if parsed.Host == "" {
			return domain.ConfigurationError(op, fmt.Sprintf("url %q has no host", rawURL))
		}
		return nil
	case "file":
		if !f.allowFileURLs {
			return domain.ConfigurationError(op, fmt.Sprintf("file url %q not allowed", rawURL))
		}
		return nil
	default:
		return domain.ConfigurationError(op, fmt.Sprintf("unsupported url scheme %q", parsed.Scheme))
	}
}

// WithHeaders returns a RoundTripper that sets headers on every request.
func WithHeaders(base http.RoundTripper, headers http.Header) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &headerRoundTripper{base: base, headers: headers.Clone()}
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers http.Header
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for key, values := range h.headers {
		req.Header.Del(key)
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return h.base.RoundTrip(req)
}

type fileRoundTripper struct {
	http http.RoundTripper
	file http.RoundTripper
}

func (f *fileRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL != nil && strings.EqualFold(req.URL.Scheme, "file") {
		return f.file.RoundTrip(req)
	}
	return f.http.RoundTrip(req)
}
