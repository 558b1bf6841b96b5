package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/lestrrat-go/jwx/jwk"
	"github.com/stretchr/testify/require"

	"eat/internal/domain"
	"eat/internal/infra/hashutil"
	"eat/internal/infra/keyresolver"
	"eat/internal/infra/signature"
	"eat/internal/infra/telemetry/diagnostics"
	"eat/internal/infra/transport"
	"eat/internal/testutil"
)

const testOrigin = "https://tools.example.com/catalog"

type stubFetcher struct {
	doc   transport.Document
	err   error
	calls atomic.Int32
}

func (s *stubFetcher) Get(_ context.Context, rawURL string) (transport.Document, error) {
	s.calls.Add(1)
	if s.err != nil {
		return transport.Document{}, s.err
	}
	doc := s.doc
	doc.URL = rawURL
	return doc, nil
}

type stubVerifier struct {
	doc            domain.CatalogDocument
	verifyErr      error
	integrityErr   error
	verifyCalls    atomic.Int32
	integrityCalls atomic.Int32
}

func (s *stubVerifier) Verify(context.Context, string, string) (domain.CatalogDocument, error) {
	s.verifyCalls.Add(1)
	if s.verifyErr != nil {
		return domain.CatalogDocument{}, s.verifyErr
	}
	return s.doc, nil
}

func (s *stubVerifier) CheckIntegrity(context.Context, string, domain.CatalogDocument) error {
	s.integrityCalls.Add(1)
	return s.integrityErr
}

func documentWith(tools ...domain.ToolRecord) domain.CatalogDocument {
	return domain.CatalogDocument{SchemaVersion: domain.SupportedSchemaVersion, Tools: tools}
}

func fetchedCatalog(t *testing.T, doc domain.CatalogDocument) *Catalog {
	t.Helper()
	fetcher := &stubFetcher{doc: transport.Document{Body: []byte("h.p.s")}}
	cat, err := New(testOrigin, fetcher, &stubVerifier{doc: doc}, Options{})
	require.NoError(t, err)
	_, err = cat.Fetch(context.Background())
	require.NoError(t, err)
	return cat
}

func ids(tools []Tool) []string {
	out := make([]string, 0, len(tools))
	for _, tool := range tools {
		out = append(out, tool.ID)
	}
	return out
}

func TestNewRequiresOrigin(t *testing.T) {
	_, err := New(" ", &stubFetcher{}, &stubVerifier{}, Options{})
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestLookupBeforeFetch(t *testing.T) {
	cat, err := New(testOrigin, &stubFetcher{}, &stubVerifier{}, Options{})
	require.NoError(t, err)
	require.False(t, cat.Fetched())

	_, err = cat.Find("x", nil)
	require.ErrorIs(t, err, domain.ErrNotFetched)
	_, _, err = cat.Get("a")
	require.ErrorIs(t, err, domain.ErrNotFetched)
	_, err = cat.Tools()
	require.ErrorIs(t, err, domain.ErrNotFetched)
}

func TestFindByCapability(t *testing.T) {
	cat := fetchedCatalog(t, documentWith(
		domain.ToolRecord{ID: "a", Capabilities: []string{"x"}},
		domain.ToolRecord{ID: "b", Capabilities: []string{"y"}},
	))

	tools, err := cat.Find("x", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids(tools))

	all, err := cat.Find("", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids(all))
}

func TestGetReturnsFirstDuplicate(t *testing.T) {
	cat := fetchedCatalog(t, documentWith(
		domain.ToolRecord{ID: "a", Description: "first"},
		domain.ToolRecord{ID: "b"},
		domain.ToolRecord{ID: "a", Description: "second"},
	))

	tool, ok, err := cat.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "first", tool.Description)

	_, ok, err = cat.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFindFilters(t *testing.T) {
	example := []domain.Example{{Description: "demo", Input: json.RawMessage(`{"id":"1"}`)}}
	cat := fetchedCatalog(t, documentWith(
		domain.ToolRecord{ID: "get_customer", Description: "Fetch a Customer record", Capabilities: []string{"crm"}, Examples: example},
		domain.ToolRecord{ID: "list_customers", Description: "List customers", Capabilities: []string{"crm"}},
		domain.ToolRecord{ID: "send_email", Description: "Send an email", Capabilities: []string{"notify"}, Examples: example},
	))

	cases := []struct {
		name       string
		capability string
		filters    map[string]any
		want       []string
	}{
		{name: "description case insensitive", filters: map[string]any{FilterDescriptionContains: "CUSTOMER"}, want: []string{"get_customer", "list_customers"}},
		{name: "has examples", filters: map[string]any{FilterHasExamples: true}, want: []string{"get_customer", "send_email"}},
		{name: "without examples", filters: map[string]any{FilterHasExamples: false}, want: []string{"list_customers"}},
		{name: "combined", capability: "crm", filters: map[string]any{FilterHasExamples: true}, want: []string{"get_customer"}},
		{name: "unknown keys ignored", capability: "notify", filters: map[string]any{"rating_above": 4}, want: []string{"send_email"}},
		{name: "no match", capability: "billing", want: []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tools, err := cat.Find(tc.capability, tc.filters)
			require.NoError(t, err)
			require.Equal(t, tc.want, ids(tools))
		})
	}

	_, err := cat.Find("", map[string]any{FilterHasExamples: "yes"})
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestFindReturnsCopies(t *testing.T) {
	cat := fetchedCatalog(t, documentWith(domain.ToolRecord{ID: "a", Capabilities: []string{"x"}}))

	tools, err := cat.Find("x", nil)
	require.NoError(t, err)
	tools[0].Capabilities[0] = "mutated"
	tools[0].ID = "mutated"

	again, err := cat.Find("x", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids(again))
}

func TestFetchOnce(t *testing.T) {
	fetcher := &stubFetcher{doc: transport.Document{Body: []byte("h.p.s")}}
	verifier := &stubVerifier{doc: documentWith(domain.ToolRecord{ID: "a"})}
	cat, err := New(testOrigin, fetcher, verifier, Options{})
	require.NoError(t, err)

	first, err := cat.Fetch(context.Background())
	require.NoError(t, err)
	second, err := cat.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)
	_, err = cat.Find("", nil)
	require.NoError(t, err)

	require.Equal(t, int32(1), fetcher.calls.Load())
	require.Equal(t, int32(1), verifier.verifyCalls.Load())
	encoding, ok := cat.Encoding()
	require.True(t, ok)
	require.Equal(t, domain.EncodingJWS, encoding)
	require.Len(t, cat.ETag(), 64)
}

func TestFailedFetchCommitsNothing(t *testing.T) {
	fetcher := &stubFetcher{doc: transport.Document{Body: []byte("h.p.s")}}
	verifier := &stubVerifier{
		doc:       documentWith(domain.ToolRecord{ID: "a"}),
		verifyErr: domain.SignatureError("test", "bad signature", nil),
	}
	cat, err := New(testOrigin, fetcher, verifier, Options{})
	require.NoError(t, err)

	_, err = cat.Fetch(context.Background())
	require.ErrorIs(t, err, domain.ErrSignature)
	require.False(t, cat.Fetched())
	_, err = cat.Find("", nil)
	require.ErrorIs(t, err, domain.ErrNotFetched)

	verifier.verifyErr = nil
	_, err = cat.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), fetcher.calls.Load())
}

func TestTransportFailurePropagates(t *testing.T) {
	fetcher := &stubFetcher{err: domain.TransportError("test", errors.New("connection refused"))}
	cat, err := New(testOrigin, fetcher, &stubVerifier{}, Options{})
	require.NoError(t, err)

	_, err = cat.Fetch(context.Background())
	require.ErrorIs(t, err, domain.ErrTransport)
}

func TestPlainCatalogRequiresVerificationDisabled(t *testing.T) {
	body, err := json.Marshal(documentWith(domain.ToolRecord{ID: "a"}))
	require.NoError(t, err)

	fetcher := &stubFetcher{doc: transport.Document{Body: body, ContentType: "application/json"}}
	verifier := &stubVerifier{}
	strict, err := New(testOrigin+".json", fetcher, verifier, Options{})
	require.NoError(t, err)
	_, err = strict.Fetch(context.Background())
	require.ErrorIs(t, err, domain.ErrSignature)

	relaxed, err := New(testOrigin+".json", fetcher, verifier, Options{SkipSignatureVerification: true})
	require.NoError(t, err)
	doc, err := relaxed.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, doc.Tools, 1)
	require.Zero(t, verifier.verifyCalls.Load())
	require.Equal(t, int32(1), verifier.integrityCalls.Load())
}

func TestPlainCatalogStillChecksIntegrity(t *testing.T) {
	body, err := json.Marshal(documentWith(domain.ToolRecord{
		ID:            "a",
		SpecReference: &domain.SpecReference{URL: "https://specs.example.com/a.json", Digest: string(hashutil.Digest(nil))},
	}))
	require.NoError(t, err)

	verifier := &stubVerifier{integrityErr: domain.IntegrityError("test", "a", "https://specs.example.com/a.json")}
	cat, err := New(testOrigin, &stubFetcher{doc: transport.Document{Body: body}}, verifier, Options{SkipSignatureVerification: true})
	require.NoError(t, err)

	_, err = cat.Fetch(context.Background())
	require.ErrorIs(t, err, domain.ErrIntegrity)
	require.False(t, cat.Fetched())
}

func TestUnknownBodyIsInvalid(t *testing.T) {
	cat, err := New(testOrigin, &stubFetcher{doc: transport.Document{Body: []byte("<html></html>")}}, &stubVerifier{}, Options{})
	require.NoError(t, err)
	_, err = cat.Fetch(context.Background())
	require.ErrorIs(t, err, domain.ErrInvalidCatalog)
}

func TestValidateArguments(t *testing.T) {
	tool := Tool{ToolRecord: domain.ToolRecord{
		ID:              "get_customer",
		ParameterSchema: json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"},"verbose":{"type":"boolean"}},"required":["id"]}`),
	}}

	require.NoError(t, tool.ValidateArguments(map[string]any{"id": "c-1", "verbose": true}))
	require.ErrorIs(t, tool.ValidateArguments(map[string]any{"verbose": false}), domain.ErrConfiguration)
	require.ErrorIs(t, tool.ValidateArguments(map[string]any{"id": 7}), domain.ErrConfiguration)

	schemaless := Tool{ToolRecord: domain.ToolRecord{ID: "free"}}
	require.NoError(t, schemaless.ValidateArguments(map[string]any{"anything": true}))

	broken := Tool{ToolRecord: domain.ToolRecord{ID: "broken", ParameterSchema: json.RawMessage(`[1,2]`)}}
	require.ErrorIs(t, broken.ValidateArguments(nil), domain.ErrInvalidCatalog)
}

func TestEndToEndSignedCatalog(t *testing.T) {
	key := testutil.RSAKey(t, "catalog")
	publicKey, err := jwk.New(&key.PublicKey)
	require.NoError(t, err)
	publicJWK, err := json.Marshal(publicKey)
	require.NoError(t, err)

	const specBody = `{"openapi":"3.0.0","info":{"title":"customers"}}`
	var catalogToken atomic.Value
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case domain.WellKnownDIDPath:
			_, _ = w.Write([]byte(`{"id":"did:web:tools.example.com","verificationMethod":[{"id":"did:web:tools.example.com#key-1","type":"JsonWebKey2020","publicKeyJwk":` + string(publicJWK) + `}]}`))
		case "/catalog.jws":
			w.Header().Set("Content-Type", "application/jose")
			_, _ = w.Write([]byte(catalogToken.Load().(string)))
		case "/openapi.json":
			_, _ = w.Write([]byte(specBody))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	fetcher, err := transport.NewFetcher(transport.FetcherOptions{Client: srv.Client()})
	require.NoError(t, err)
	signer, err := signature.NewSigner(key, "key-1", signature.SignerOptions{Fetcher: fetcher})
	require.NoError(t, err)
	signed, err := signer.Sign(context.Background(), documentWith(domain.ToolRecord{
		ID:            "get_customer",
		Endpoint:      srv.URL + "/rpc",
		Capabilities:  []string{"crm"},
		SpecReference: &domain.SpecReference{URL: srv.URL + "/openapi.json"},
	}))
	require.NoError(t, err)
	catalogToken.Store(signed.Token)

	probe := diagnostics.NewLog(64)
	resolver := keyresolver.NewDefault(fetcher, nil, keyresolver.Options{Probe: probe})
	verifier := signature.NewVerifier(resolver, fetcher, signature.VerifierOptions{Probe: probe})
	cat, err := New(srv.URL+"/catalog.jws", fetcher, verifier, Options{Probe: probe})
	require.NoError(t, err)

	_, err = cat.Fetch(context.Background())
	require.NoError(t, err)
	tool, ok, err := cat.Get("get_customer")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, string(hashutil.Digest([]byte(specBody))), tool.SpecReference.Digest)
	require.NotEmpty(t, probe.Events())
}
