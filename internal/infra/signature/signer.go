package signature

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"eat/internal/domain"
	"eat/internal/infra/hashutil"
	"eat/internal/infra/telemetry"
	"eat/internal/infra/telemetry/diagnostics"
)

// SpecFetcher retrieves referenced spec documents.
type SpecFetcher interface {
	FetchFresh(ctx context.Context, rawURL string) ([]byte, error)
}

type SignerOptions struct {
	Logger  *zap.Logger
	Probe   diagnostics.Probe
	Fetcher SpecFetcher
	// UnsafePlaceholderDigests lets records whose spec cannot be fetched
	// carry a digest of the URL string instead. Such records are flagged
	// and never pass integrity verification.
	UnsafePlaceholderDigests bool
}

// SignResult is the output of a signing run.
type SignResult struct {
	Token    string
	Document domain.CatalogDocument
	// Placeholders lists tool ids that received a URL-derived digest.
	Placeholders []string
}

type Signer struct {
	key         *rsa.PrivateKey
	keyID       string
	logger      *zap.Logger
	probe       diagnostics.Probe
	fetcher     SpecFetcher
	placeholder bool
}

func NewSigner(key *rsa.PrivateKey, keyID string, opts SignerOptions) (*Signer, error) {
	if key == nil {
		return nil, domain.ConfigurationError("signature.new_signer", "private key is required")
	}
	return newSigner(key, keyID, opts), nil
}

// NewPreparer returns a Signer without a key. Only Prepare may be used;
// Sign fails with a configuration error.
func NewPreparer(opts SignerOptions) *Signer {
	return newSigner(nil, "", opts)
}

func newSigner(key *rsa.PrivateKey, keyID string, opts SignerOptions) *Signer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Signer{
		key:         key,
		keyID:       strings.TrimSpace(keyID),
		logger:      logger.Named("signer"),
		probe:       diagnostics.OrNoop(opts.Probe),
		fetcher:     opts.Fetcher,
		placeholder: opts.UnsafePlaceholderDigests,
	}
}

// Sign attaches missing spec digests to a copy of doc and signs it with RS256.
func (s *Signer) Sign(ctx context.Context, doc domain.CatalogDocument) (SignResult, error) {
	if s.key == nil {
		return SignResult{}, domain.ConfigurationError("signature.sign", "signer has no private key")
	}
	prepared, placeholders, err := s.Prepare(ctx, doc)
	if err != nil {
		return SignResult{}, err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &documentClaims{doc: prepared})
	if s.keyID != "" {
		token.Header["kid"] = s.keyID
	}
	signed, err := token.SignedString(s.key)
	if err != nil {
		return SignResult{}, domain.SignatureError("signature.sign", "sign catalog", err)
	}
	s.logger.Info("catalog signed",
		telemetry.KeyIDField(s.keyID),
		zap.Int("tools", len(prepared.Tools)),
		zap.Int("placeholders", len(placeholders)),
	)
	return SignResult{Token: signed, Document: prepared, Placeholders: placeholders}, nil
}

// Prepare returns a copy of doc in which every spec reference carries a
// digest. The caller's document is not modified.
func (s *Signer) Prepare(ctx context.Context, doc domain.CatalogDocument) (domain.CatalogDocument, []string, error) {
	const op = "signature.prepare"
	if err := doc.Validate(); err != nil {
		return domain.CatalogDocument{}, nil, err
	}
	prepared := doc.Clone()
	var placeholders []string
	for i := range prepared.Tools {
		tool := &prepared.Tools[i]
		ref := tool.SpecReference
		if ref == nil || ref.Digest != "" {
			continue
		}
		digest, err := s.contentDigest(ctx, ref.URL)
		if err == nil {
			ref.Digest = string(digest)
			ref.Placeholder = false
			continue
		}
		if !s.placeholder {
			return domain.CatalogDocument{}, nil, fmt.Errorf("%s: digest spec for tool %q: %w", op, tool.ID, err)
		}
		ref.Digest = string(hashutil.Placeholder(ref.URL))
		ref.Placeholder = true
		placeholders = append(placeholders, tool.ID)
		s.probe.Record(diagnostics.Event{
			Step:  diagnostics.StepPlaceholderFound,
			Phase: diagnostics.PhaseExit,
			Tool:  tool.ID,
			Error: err.Error(),
		})
		s.logger.Warn("using placeholder spec digest",
			telemetry.EventField(telemetry.EventPlaceholderDigest),
			telemetry.ToolField(tool.ID),
			telemetry.SpecURLField(ref.URL),
			zap.Error(err),
		)
	}
	return prepared, placeholders, nil
}

var errNoSpecFetcher = errors.New("no spec fetcher configured")

func (s *Signer) contentDigest(ctx context.Context, rawURL string) (hashutil.Value, error) {
	if s.fetcher == nil {
		return "", errNoSpecFetcher
	}
	body, err := s.fetcher.FetchFresh(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return hashutil.Digest(body), nil
}
