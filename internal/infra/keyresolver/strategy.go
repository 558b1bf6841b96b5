package keyresolver

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/jwk"

	"eat/internal/domain"
	"eat/internal/infra/truststore"
)

const (
	StrategyDIDWeb     = "did-web"
	StrategyTrustStore = "trust-store"
	StrategyJWKS       = "jwks"
)

var (
	ErrNoMatchingKey  = errors.New("no matching key")
	ErrAmbiguousKey   = errors.New("key id absent and document holds more than one key")
	ErrNotApplicable  = errors.New("strategy not applicable")
	ErrUnsupportedKey = errors.New("unsupported key type")
)

// DocumentFetcher fetches a well-known document body.
type DocumentFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Strategy is one way of locating a verification key.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, origin *url.URL, keyID string) (*rsa.PublicKey, error)
}

// DIDWebStrategy reads the origin host's did.json verification methods.
type DIDWebStrategy struct {
	Fetcher DocumentFetcher
}

func (DIDWebStrategy) Name() string { return StrategyDIDWeb }

type didDocument struct {
	ID                 string               `json:"id"`
	VerificationMethod []verificationMethod `json:"verificationMethod"`
}

type verificationMethod struct {
	ID           string          `json:"id"`
	Type         string          `json:"type,omitempty"`
	Controller   string          `json:"controller,omitempty"`
	PublicKeyJWK json.RawMessage `json:"publicKeyJwk,omitempty"`
	PublicKeyPEM string          `json:"publicKeyPem,omitempty"`
}

func (s DIDWebStrategy) Resolve(ctx context.Context, origin *url.URL, keyID string) (*rsa.PublicKey, error) {
	docURL, err := wellKnownURL(origin, domain.WellKnownDIDPath)
	if err != nil {
		return nil, err
	}
	body, err := s.Fetcher.Fetch(ctx, docURL)
	if err != nil {
		return nil, err
	}
	var doc didDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode did document: %w", err)
	}

	var candidates []verificationMethod
	for _, method := range doc.VerificationMethod {
		if keyID == "" || matchesMethodID(method.ID, keyID) {
			candidates = append(candidates, method)
		}
	}
	switch {
	case len(candidates) == 0:
		return nil, fmt.Errorf("%w in did document for %q", ErrNoMatchingKey, keyID)
	case keyID == "" && len(candidates) > 1:
		return nil, ErrAmbiguousKey
	}

	method := candidates[0]
	switch {
	case len(method.PublicKeyJWK) > 0:
		return rsaFromJWK(method.PublicKeyJWK)
	case method.PublicKeyPEM != "":
		return jwt.ParseRSAPublicKeyFromPEM([]byte(method.PublicKeyPEM))
	default:
		return nil, fmt.Errorf("%w: verification method %q carries no embedded key", ErrUnsupportedKey, method.ID)
	}
}

// matchesMethodID accepts an exact id or a DID URL whose fragment is keyID.
func matchesMethodID(methodID, keyID string) bool {
	if methodID == keyID {
		return true
	}
	idx := strings.LastIndex(methodID, "#")
	return idx >= 0 && methodID[idx+1:] == keyID
}

// TrustStoreStrategy consults a caller-supplied kid to PEM mapping.
type TrustStoreStrategy struct {
	Store truststore.Store
}

func (TrustStoreStrategy) Name() string { return StrategyTrustStore }

func (s TrustStoreStrategy) Resolve(ctx context.Context, _ *url.URL, keyID string) (*rsa.PublicKey, error) {
	if keyID == "" {
		return nil, fmt.Errorf("%w: key id absent", ErrNotApplicable)
	}
	if s.Store == nil {
		return nil, fmt.Errorf("%w: no trust store configured", ErrNotApplicable)
	}
	pem, ok, err := s.Store.Lookup(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("trust store lookup: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w in trust store for %q", ErrNoMatchingKey, keyID)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("decode trusted key %q: %w", keyID, err)
	}
	return key, nil
}

// JWKSStrategy reads the origin host's jwks.json key set.
type JWKSStrategy struct {
	Fetcher DocumentFetcher
}

func (JWKSStrategy) Name() string { return StrategyJWKS }

func (s JWKSStrategy) Resolve(ctx context.Context, origin *url.URL, keyID string) (*rsa.PublicKey, error) {
	setURL, err := wellKnownURL(origin, domain.WellKnownJWKSPath)
	if err != nil {
		return nil, err
	}
	body, err := s.Fetcher.Fetch(ctx, setURL)
	if err != nil {
		return nil, err
	}
	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	var key jwk.Key
	if keyID != "" {
		found, ok := set.LookupKeyID(keyID)
		if !ok {
			return nil, fmt.Errorf("%w in jwks for %q", ErrNoMatchingKey, keyID)
		}
		key = found
	} else {
		switch set.Len() {
		case 0:
			return nil, fmt.Errorf("%w: jwks is empty", ErrNoMatchingKey)
		case 1:
			key, _ = set.Get(0)
		default:
			return nil, ErrAmbiguousKey
		}
	}
	return rsaFromKey(key)
}

func wellKnownURL(origin *url.URL, path string) (string, error) {
	if origin == nil || origin.Host == "" {
		return "", fmt.Errorf("%w: origin has no host", ErrNotApplicable)
	}
	return (&url.URL{Scheme: "https", Host: origin.Host, Path: path}).String(), nil
}

func rsaFromJWK(raw []byte) (*rsa.PublicKey, error) {
	key, err := jwk.ParseKey(raw)
	if err != nil {
		return nil, fmt.Errorf("decode jwk: %w", err)
	}
	return rsaFromKey(key)
}

func rsaFromKey(key jwk.Key) (*rsa.PublicKey, error) {
	var raw interface{}
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("extract jwk material: %w", err)
	}
	switch typed := raw.(type) {
	case *rsa.PublicKey:
		return typed, nil
	case *rsa.PrivateKey:
		return &typed.PublicKey, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, raw)
	}
}
