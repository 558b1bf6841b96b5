package signature

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"eat/internal/domain"
	"eat/internal/infra/hashutil"
	"eat/internal/infra/keyresolver"
	"eat/internal/infra/telemetry"
	"eat/internal/infra/telemetry/diagnostics"
)

// KeyResolver locates the key that verifies a catalog from origin.
type KeyResolver interface {
	Resolve(ctx context.Context, catalogOrigin, keyID string) (keyresolver.ResolvedKey, error)
}

type VerifierOptions struct {
	Logger      *zap.Logger
	Metrics     domain.Metrics
	Probe       diagnostics.Probe
	Concurrency int
}

// Verifier checks a signed catalog's signature and then the integrity of
// every spec reference it carries.
type Verifier struct {
	resolver    KeyResolver
	fetcher     SpecFetcher
	logger      *zap.Logger
	metrics     domain.Metrics
	probe       diagnostics.Probe
	concurrency int
	parser      *jwt.Parser
}

func NewVerifier(resolver KeyResolver, fetcher SpecFetcher, opts VerifierOptions) *Verifier {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = domain.DefaultIntegrityConcurrency
	}
	return &Verifier{
		resolver:    resolver,
		fetcher:     fetcher,
		logger:      logger.Named("verifier"),
		metrics:     telemetry.OrNoop(opts.Metrics),
		probe:       diagnostics.OrNoop(opts.Probe),
		concurrency: concurrency,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{domain.SignatureAlgorithm}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Verify runs both phases. No partially verified document is returned.
func (v *Verifier) Verify(ctx context.Context, token, catalogOrigin string) (domain.CatalogDocument, error) {
	doc, err := v.VerifySignature(ctx, token, catalogOrigin)
	if err != nil {
		return domain.CatalogDocument{}, err
	}
	if err := v.CheckIntegrity(ctx, catalogOrigin, doc); err != nil {
		return domain.CatalogDocument{}, err
	}
	return doc, nil
}

// VerifySignature reads the unverified header, resolves the key and checks
// the RS256 signature. Expiration is not checked.
func (v *Verifier) VerifySignature(ctx context.Context, token, catalogOrigin string) (doc domain.CatalogDocument, err error) {
	const op = "signature.verify"
	started := time.Now()
	logger := telemetry.LoggerWithRequest(ctx, v.logger).With(telemetry.OriginField(catalogOrigin))
	v.probe.Record(diagnostics.Event{Origin: catalogOrigin, Step: diagnostics.StepSignatureVerify, Phase: diagnostics.PhaseEnter})
	defer func() {
		duration := time.Since(started)
		v.metrics.ObserveVerification(domain.PhaseSignature, duration, err)
		event := diagnostics.Event{
			Origin:   catalogOrigin,
			Step:     diagnostics.StepSignatureVerify,
			Phase:    diagnostics.PhaseExit,
			Duration: duration,
		}
		if err != nil {
			event.Phase = diagnostics.PhaseError
			event.Error = err.Error()
			logger.Warn("catalog signature rejected",
				telemetry.EventField(telemetry.EventSignatureRejected),
				zap.Error(err),
			)
		}
		v.probe.Record(event)
	}()

	token = strings.TrimSpace(token)
	header, err := ReadHeader(token)
	if err != nil {
		return domain.CatalogDocument{}, domain.SignatureError(op, "malformed signed catalog", err)
	}
	if header.Algorithm != domain.SignatureAlgorithm {
		return domain.CatalogDocument{}, domain.SignatureError(op,
			fmt.Sprintf("unsupported signature algorithm %q", header.Algorithm), nil)
	}

	resolved, err := v.resolver.Resolve(ctx, catalogOrigin, header.KeyID)
	if err != nil {
		return domain.CatalogDocument{}, err
	}

	claims := &documentClaims{}
	_, err = v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return resolved.Public, nil
	})
	if err != nil {
		return domain.CatalogDocument{}, domain.SignatureError(op, "", err)
	}
	if err := claims.doc.Validate(); err != nil {
		return domain.CatalogDocument{}, err
	}
	logger.Debug("catalog signature verified",
		telemetry.KeyIDField(header.KeyID),
		telemetry.StrategyField(resolved.Strategy),
	)
	return claims.doc, nil
}

// CheckIntegrity fetches every referenced spec fresh and compares digests.
// The first failure cancels outstanding checks and fails the whole catalog.
func (v *Verifier) CheckIntegrity(ctx context.Context, catalogOrigin string, doc domain.CatalogDocument) (err error) {
	started := time.Now()
	defer func() {
		v.metrics.ObserveVerification(domain.PhaseIntegrity, time.Since(started), err)
	}()

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(v.concurrency)
	for _, tool := range doc.Tools {
		if tool.SpecReference == nil {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		toolID := tool.ID
		ref := *tool.SpecReference
		group.Go(func() error {
			return v.checkReference(gctx, catalogOrigin, toolID, ref)
		})
	}
	return group.Wait()
}

func (v *Verifier) checkReference(ctx context.Context, catalogOrigin, toolID string, ref domain.SpecReference) error {
	const op = "signature.check_integrity"
	started := time.Now()
	var (
		ok    bool
		cause error
	)
	switch {
	case ref.Placeholder:
		cause = errPlaceholderDigest
	case ref.Digest == "":
		cause = errMissingDigest
	case v.fetcher == nil:
		cause = errNoSpecFetcher
	default:
		ok, cause = hashutil.VerifyURL(ctx, freshSource{v.fetcher}, ref.URL, ref.Digest)
		if !ok && cause == nil {
			cause = errDigestMismatch
		}
	}
	v.metrics.ObserveIntegrityCheck(ok)

	event := diagnostics.Event{
		Origin:   catalogOrigin,
		Step:     diagnostics.StepIntegrityCheck,
		Phase:    diagnostics.PhaseExit,
		Tool:     toolID,
		Duration: time.Since(started),
	}
	if ok {
		v.probe.Record(event)
		return nil
	}

	integrityErr := domain.IntegrityError(op, toolID, ref.URL)
	integrityErr.Cause = cause
	event.Phase = diagnostics.PhaseError
	event.Error = integrityErr.Error()
	v.probe.Record(event)
	if ctx.Err() == nil {
		v.logger.Warn("spec integrity check failed",
			telemetry.EventField(telemetry.EventIntegrityFailed),
			telemetry.OriginField(catalogOrigin),
			telemetry.ToolField(toolID),
			telemetry.SpecURLField(ref.URL),
			zap.Error(cause),
		)
	}
	return integrityErr
}

var (
	errPlaceholderDigest = errors.New("placeholder digest is not a content digest")
	errMissingDigest     = errors.New("spec reference has no digest")
	errDigestMismatch    = errors.New("fetched content does not match digest")
)

type freshSource struct {
	fetcher SpecFetcher
}

func (s freshSource) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return s.fetcher.FetchFresh(ctx, rawURL)
}

var _ KeyResolver = (*keyresolver.Resolver)(nil)

// StaticKey resolves every request to one key. Useful for offline checks
// against a key the caller already trusts.
type StaticKey struct {
	KeyID  string
	Public *rsa.PublicKey
}

func (s StaticKey) Resolve(context.Context, string, string) (keyresolver.ResolvedKey, error) {
	if s.Public == nil {
		return keyresolver.ResolvedKey{}, domain.KeyResolutionError("signature.static_key", "no key configured", nil)
	}
	return keyresolver.ResolvedKey{KeyID: s.KeyID, Strategy: "static", Public: s.Public}, nil
}
