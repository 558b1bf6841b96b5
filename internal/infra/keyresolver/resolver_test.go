package keyresolver

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/lestrrat-go/jwx/jwk"
	"github.com/stretchr/testify/require"

	"eat/internal/domain"
	"eat/internal/infra/telemetry/diagnostics"
	"eat/internal/infra/transport"
	"eat/internal/infra/truststore"
	"eat/internal/testutil"
)

type recordingStrategy struct {
	name  string
	key   *rsa.PublicKey
	err   error
	calls *[]string
}

func (s recordingStrategy) Name() string { return s.name }

func (s recordingStrategy) Resolve(context.Context, *url.URL, string) (*rsa.PublicKey, error) {
	*s.calls = append(*s.calls, s.name)
	return s.key, s.err
}

type wellKnownHost struct {
	did       []byte
	jwks      []byte
	didHits   atomic.Int32
	jwksHits  atomic.Int32
	server    *httptest.Server
	fetcher   *transport.Fetcher
	originURL string
}

func newWellKnownHost(t *testing.T) *wellKnownHost {
	t.Helper()
	host := &wellKnownHost{}
	host.server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case domain.WellKnownDIDPath:
			host.didHits.Add(1)
			if host.did == nil {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(host.did)
		case domain.WellKnownJWKSPath:
			host.jwksHits.Add(1)
			if host.jwks == nil {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(host.jwks)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(host.server.Close)

	fetcher, err := transport.NewFetcher(transport.FetcherOptions{Client: host.server.Client()})
	require.NoError(t, err)
	host.fetcher = fetcher
	host.originURL = host.server.URL + "/catalog.jws"
	return host
}

func publicJWK(t *testing.T, key *rsa.PrivateKey, kid string) json.RawMessage {
	t.Helper()
	jwkKey, err := jwk.New(&key.PublicKey)
	require.NoError(t, err)
	if kid != "" {
		require.NoError(t, jwkKey.Set(jwk.KeyIDKey, kid))
	}
	raw, err := json.Marshal(jwkKey)
	require.NoError(t, err)
	return raw
}

func didDocumentJSON(t *testing.T, methods ...verificationMethod) []byte {
	t.Helper()
	raw, err := json.Marshal(didDocument{ID: "did:web:tools.example.com", VerificationMethod: methods})
	require.NoError(t, err)
	return raw
}

func jwksJSON(t *testing.T, keys ...json.RawMessage) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string][]json.RawMessage{"keys": keys})
	require.NoError(t, err)
	return raw
}

func TestResolverStrategyOrder(t *testing.T) {
	resolver := NewDefault(nil, nil, Options{})
	require.Equal(t, []string{StrategyDIDWeb, StrategyTrustStore, StrategyJWKS}, resolver.Strategies())
}

func TestResolverFirstSuccessWins(t *testing.T) {
	key := &testutil.RSAKey(t, "resolver-a").PublicKey
	var calls []string
	resolver := New([]Strategy{
		recordingStrategy{name: "one", err: errors.New("miss"), calls: &calls},
		recordingStrategy{name: "two", key: key, calls: &calls},
		recordingStrategy{name: "three", key: key, calls: &calls},
	}, Options{})

	resolved, err := resolver.Resolve(context.Background(), "https://tools.example.com/catalog.jws", "key-1")
	require.NoError(t, err)
	require.Equal(t, "two", resolved.Strategy)
	require.Equal(t, "key-1", resolved.KeyID)
	require.Same(t, key, resolved.Public)
	require.Equal(t, []string{"one", "two"}, calls)
}

func TestResolverAllFail(t *testing.T) {
	var calls []string
	last := errors.New("third failed")
	probe := diagnostics.NewLog(16)
	resolver := New([]Strategy{
		recordingStrategy{name: "one", err: errors.New("first failed"), calls: &calls},
		recordingStrategy{name: "two", calls: &calls},
		recordingStrategy{name: "three", err: last, calls: &calls},
	}, Options{Probe: probe})

	_, err := resolver.Resolve(context.Background(), "https://tools.example.com/catalog.jws", "")
	require.ErrorIs(t, err, domain.ErrKeyResolution)
	require.ErrorIs(t, err, last)
	require.Equal(t, []string{"one", "two", "three"}, calls)

	events := probe.Events()
	require.Len(t, events, 6)
	require.Equal(t, diagnostics.PhaseError, events[5].Phase)
	require.Equal(t, "three", events[5].Strategy)
}

func TestResolverNoStrategies(t *testing.T) {
	_, err := New(nil, Options{}).Resolve(context.Background(), "https://tools.example.com", "")
	require.ErrorIs(t, err, domain.ErrKeyResolution)
}

func TestDIDWebStrategyMatchesFragment(t *testing.T) {
	host := newWellKnownHost(t)
	signing := testutil.RSAKey(t, "resolver-a")
	other := testutil.RSAKey(t, "resolver-b")
	host.did = didDocumentJSON(t,
		verificationMethod{ID: "did:web:tools.example.com#key-0", Type: "JsonWebKey2020", PublicKeyJWK: publicJWK(t, other, "")},
		verificationMethod{ID: "did:web:tools.example.com#key-1", Type: "JsonWebKey2020", PublicKeyJWK: publicJWK(t, signing, "")},
	)

	resolver := NewDefault(host.fetcher, nil, Options{})
	resolved, err := resolver.Resolve(context.Background(), host.originURL, "key-1")
	require.NoError(t, err)
	require.Equal(t, StrategyDIDWeb, resolved.Strategy)
	require.True(t, signing.PublicKey.Equal(resolved.Public))
	require.Zero(t, host.jwksHits.Load())
}

func TestDIDWebStrategyPEMAndSoleEntry(t *testing.T) {
	host := newWellKnownHost(t)
	signing := testutil.RSAKey(t, "resolver-a")
	host.did = didDocumentJSON(t, verificationMethod{
		ID:           "did:web:tools.example.com#main",
		PublicKeyPEM: testutil.PublicPEM(t, signing),
	})

	origin, err := url.Parse(host.originURL)
	require.NoError(t, err)
	key, err := DIDWebStrategy{Fetcher: host.fetcher}.Resolve(context.Background(), origin, "")
	require.NoError(t, err)
	require.True(t, signing.PublicKey.Equal(key))
}

func TestDIDWebStrategyAmbiguousWithoutKeyID(t *testing.T) {
	host := newWellKnownHost(t)
	host.did = didDocumentJSON(t,
		verificationMethod{ID: "#a", PublicKeyJWK: publicJWK(t, testutil.RSAKey(t, "resolver-a"), "")},
		verificationMethod{ID: "#b", PublicKeyJWK: publicJWK(t, testutil.RSAKey(t, "resolver-b"), "")},
	)

	origin, err := url.Parse(host.originURL)
	require.NoError(t, err)
	_, err = DIDWebStrategy{Fetcher: host.fetcher}.Resolve(context.Background(), origin, "")
	require.ErrorIs(t, err, ErrAmbiguousKey)
}

func TestResolverFallsBackToTrustStore(t *testing.T) {
	host := newWellKnownHost(t)
	signing := testutil.RSAKey(t, "resolver-a")
	store := truststore.NewMapStore(map[string]string{"key-1": testutil.PublicPEM(t, signing)})

	resolver := NewDefault(host.fetcher, store, Options{})
	resolved, err := resolver.Resolve(context.Background(), host.originURL, "key-1")
	require.NoError(t, err)
	require.Equal(t, StrategyTrustStore, resolved.Strategy)
	require.True(t, signing.PublicKey.Equal(resolved.Public))
	require.Equal(t, int32(1), host.didHits.Load())
	require.Zero(t, host.jwksHits.Load())
}

func TestResolverFallsBackToJWKS(t *testing.T) {
	host := newWellKnownHost(t)
	signing := testutil.RSAKey(t, "resolver-a")
	host.did = []byte(`{not json`)
	host.jwks = jwksJSON(t,
		publicJWK(t, testutil.RSAKey(t, "resolver-b"), "key-0"),
		publicJWK(t, signing, "key-1"),
	)

	resolver := NewDefault(host.fetcher, truststore.NewMapStore(nil), Options{})
	resolved, err := resolver.Resolve(context.Background(), host.originURL, "key-1")
	require.NoError(t, err)
	require.Equal(t, StrategyJWKS, resolved.Strategy)
	require.True(t, signing.PublicKey.Equal(resolved.Public))
}

func TestResolverJWKSMissingKeyFails(t *testing.T) {
	host := newWellKnownHost(t)
	host.jwks = jwksJSON(t, publicJWK(t, testutil.RSAKey(t, "resolver-b"), "key-0"))

	resolver := NewDefault(host.fetcher, nil, Options{})
	_, err := resolver.Resolve(context.Background(), host.originURL, "key-1")
	require.ErrorIs(t, err, domain.ErrKeyResolution)
	require.ErrorIs(t, err, ErrNoMatchingKey)
}

func TestTrustStoreStrategyRequiresKeyID(t *testing.T) {
	store := truststore.NewMapStore(map[string]string{"key-1": "irrelevant"})
	_, err := TrustStoreStrategy{Store: store}.Resolve(context.Background(), nil, "")
	require.ErrorIs(t, err, ErrNotApplicable)
}

func TestMatchesMethodID(t *testing.T) {
	require.True(t, matchesMethodID("did:web:a.example#key-1", "key-1"))
	require.True(t, matchesMethodID("did:web:a.example#key-1", "did:web:a.example#key-1"))
	require.False(t, matchesMethodID("did:web:a.example#key-10", "key-1"))
	require.False(t, matchesMethodID("key-1-old", "key-1"))
}
