package catalog

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"eat/internal/domain"
	"eat/internal/infra/hashutil"
	"eat/internal/infra/signature"
	"eat/internal/infra/telemetry"
	"eat/internal/infra/telemetry/diagnostics"
	"eat/internal/infra/transport"
)

// DocumentFetcher retrieves the raw catalog body.
type DocumentFetcher interface {
	Get(ctx context.Context, rawURL string) (transport.Document, error)
}

// Verifier runs the signature and integrity phases.
type Verifier interface {
	Verify(ctx context.Context, token, catalogOrigin string) (domain.CatalogDocument, error)
	CheckIntegrity(ctx context.Context, catalogOrigin string, doc domain.CatalogDocument) error
}

type Options struct {
	Logger  *zap.Logger
	Metrics domain.Metrics
	Probe   diagnostics.Probe
	// SkipSignatureVerification accepts plain JSON catalogs and decodes
	// signed ones without checking the signature. Spec reference integrity
	// is still enforced.
	SkipSignatureVerification bool
}

type snapshot struct {
	doc      domain.CatalogDocument
	encoding domain.CatalogEncoding
	etag     string
}

// Catalog is the in-memory view of one catalog origin. The document is
// committed once by a successful Fetch and never mutated afterwards.
type Catalog struct {
	origin   string
	fetcher  DocumentFetcher
	verifier Verifier
	logger   *zap.Logger
	metrics  domain.Metrics
	probe    diagnostics.Probe
	skipSig  bool

	fetchMu sync.Mutex
	state   atomic.Pointer[snapshot]
}

func New(origin string, fetcher DocumentFetcher, verifier Verifier, opts Options) (*Catalog, error) {
	const op = "catalog.new"
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return nil, domain.ConfigurationError(op, "catalog origin is required")
	}
	if _, err := url.Parse(origin); err != nil {
		return nil, domain.ConfigurationError(op, fmt.Sprintf("invalid catalog origin %q: %v", origin, err))
	}
	if fetcher == nil {
		return nil, domain.ConfigurationError(op, "catalog fetcher is required")
	}
	if verifier == nil {
		return nil, domain.ConfigurationError(op, "catalog verifier is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		origin:   origin,
		fetcher:  fetcher,
		verifier: verifier,
		logger:   logger.Named("catalog").With(telemetry.OriginField(origin)),
		metrics:  telemetry.OrNoop(opts.Metrics),
		probe:    diagnostics.OrNoop(opts.Probe),
		skipSig:  opts.SkipSignatureVerification,
	}, nil
}

func (c *Catalog) Origin() string {
	return c.origin
}

// Fetched reports whether a document has been committed.
func (c *Catalog) Fetched() bool {
	return c.state.Load() != nil
}

// Encoding returns how the committed document was transported.
func (c *Catalog) Encoding() (domain.CatalogEncoding, bool) {
	snap := c.state.Load()
	if snap == nil {
		return "", false
	}
	return snap.encoding, true
}

// ETag returns a digest of the committed document.
func (c *Catalog) ETag() string {
	snap := c.state.Load()
	if snap == nil {
		return ""
	}
	return snap.etag
}

// Fetch retrieves and verifies the catalog once. Later calls return the
// cached document without network activity. A failed fetch commits nothing.
func (c *Catalog) Fetch(ctx context.Context) (domain.CatalogDocument, error) {
	if snap := c.state.Load(); snap != nil {
		return snap.doc.Clone(), nil
	}
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	if snap := c.state.Load(); snap != nil {
		return snap.doc.Clone(), nil
	}

	started := time.Now()
	c.probe.Record(diagnostics.Event{Origin: c.origin, Step: diagnostics.StepCatalogFetch, Phase: diagnostics.PhaseEnter})
	snap, err := c.load(ctx)
	event := diagnostics.Event{
		Origin:   c.origin,
		Step:     diagnostics.StepCatalogFetch,
		Phase:    diagnostics.PhaseExit,
		Duration: time.Since(started),
	}
	if err != nil {
		event.Phase = diagnostics.PhaseError
		event.Error = err.Error()
		c.probe.Record(event)
		return domain.CatalogDocument{}, err
	}
	c.probe.Record(event)
	c.state.Store(snap)
	telemetry.LoggerWithRequest(ctx, c.logger).Info("catalog fetched",
		telemetry.EventField(telemetry.EventCatalogFetched),
		zap.String("encoding", string(snap.encoding)),
		zap.Int("tools", len(snap.doc.Tools)),
		telemetry.DurationField(event.Duration),
	)
	return snap.doc.Clone(), nil
}

func (c *Catalog) load(ctx context.Context) (*snapshot, error) {
	raw, err := c.fetcher.Get(ctx, c.origin)
	if err != nil {
		return nil, err
	}

	encoding, err := c.inferEncoding(raw)
	if err != nil {
		return nil, err
	}
	doc, err := c.decode(ctx, encoding, raw.Body)
	c.metrics.ObserveCatalogFetch(encoding, err)
	if err != nil {
		return nil, err
	}
	return &snapshot{
		doc:      doc,
		encoding: encoding,
		etag:     hashutil.DocumentETag(c.logger, doc),
	}, nil
}

func (c *Catalog) decode(ctx context.Context, encoding domain.CatalogEncoding, body []byte) (domain.CatalogDocument, error) {
	const op = "catalog.fetch"
	logger := telemetry.LoggerWithRequest(ctx, c.logger)
	switch encoding {
	case domain.EncodingJWS:
		if !c.skipSig {
			return c.verifier.Verify(ctx, string(body), c.origin)
		}
		doc, header, err := signature.DecodeUnverified(string(body))
		if err != nil {
			return domain.CatalogDocument{}, err
		}
		logger.Warn("signature verification disabled; signed catalog accepted unverified",
			telemetry.EventField(telemetry.EventCatalogUnverified),
			telemetry.KeyIDField(header.KeyID),
		)
		return c.checkIntegrity(ctx, doc)
	case domain.EncodingJSON:
		if !c.skipSig {
			return domain.CatalogDocument{}, domain.SignatureError(op,
				"catalog is not signed and signature verification is enabled", nil)
		}
		doc, err := domain.DecodeCatalogDocument(body)
		if err != nil {
			return domain.CatalogDocument{}, err
		}
		logger.Warn("signature verification disabled; plain catalog accepted",
			telemetry.EventField(telemetry.EventCatalogUnverified),
		)
		return c.checkIntegrity(ctx, doc)
	default:
		return domain.CatalogDocument{}, domain.InvalidCatalogError(op, fmt.Sprintf("unknown encoding %q", encoding), nil)
	}
}

func (c *Catalog) checkIntegrity(ctx context.Context, doc domain.CatalogDocument) (domain.CatalogDocument, error) {
	if err := c.verifier.CheckIntegrity(ctx, c.origin, doc); err != nil {
		return domain.CatalogDocument{}, err
	}
	return doc, nil
}

// inferEncoding decides between plain JSON and compact JWS. The body
// decides when it is unambiguous; Content-Type and a .json origin suffix
// only break ties.
func (c *Catalog) inferEncoding(raw transport.Document) (domain.CatalogEncoding, error) {
	body := strings.TrimSpace(string(raw.Body))
	if strings.HasPrefix(body, "{") {
		return domain.EncodingJSON, nil
	}
	if signature.LooksLikeJWS(raw.Body) {
		return domain.EncodingJWS, nil
	}
	if isJSONContentType(raw.ContentType) || hasJSONSuffix(c.origin) {
		return domain.EncodingJSON, nil
	}
	return "", domain.InvalidCatalogError("catalog.fetch", "catalog body is neither JSON nor a compact JWS", nil)
}

func isJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func hasJSONSuffix(origin string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return strings.HasSuffix(strings.ToLower(origin), ".json")
	}
	return strings.HasSuffix(strings.ToLower(parsed.Path), ".json")
}

func (c *Catalog) committed(op string) (*snapshot, error) {
	snap := c.state.Load()
	if snap == nil {
		return nil, domain.NotFetchedError(op)
	}
	return snap, nil
}
