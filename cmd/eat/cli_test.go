package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eat/internal/domain"
	"eat/internal/infra/hashutil"
	"eat/internal/testutil"
)

type workspace struct {
	dir      string
	config   string
	specPath string
	endpoint string
}

func fileURL(path string) string {
	return "file://" + filepath.ToSlash(path)
}

func (w workspace) path(name string) string {
	return filepath.Join(w.dir, name)
}

func (w workspace) write(t *testing.T, name, content string) string {
	t.Helper()
	path := w.path(name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	key := testutil.RSAKey(t, "cli")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domain.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"protocolVersion": req.ProtocolVersion,
			"id":              req.ID,
			"result":          map[string]any{"echo": req.Arguments},
		})
	}))
	t.Cleanup(srv.Close)

	ws := workspace{dir: t.TempDir(), endpoint: srv.URL + "/rpc"}
	ws.write(t, "public.pem", testutil.PublicPEM(t, key))
	ws.write(t, "private.pem", testutil.PrivatePEM(t, key))
	ws.specPath = ws.write(t, "spec.json", `{"openapi":"3.0.0"}`)
	ws.config = ws.write(t, "eat.yaml", `
allowFileURLs: true
trustStore:
  path: trust.db
  keys:
    - keyId: cli-key
      pemFile: public.pem
signing:
  privateKeyFile: private.pem
  keyId: cli-key
`)
	ws.write(t, "catalog.json", `{
  "version": "1.0",
  "tools": [
    {
      "name": "forecast",
      "description": "Weather forecast for a city",
      "parameters": {"type": "object", "required": ["city"], "properties": {"city": {"type": "string"}}},
      "spec_url": "`+fileURL(ws.specPath)+`",
      "x-mcp-tool": {"server_url": "`+ws.endpoint+`", "capabilities": ["weather"]}
    },
    {
      "name": "tides",
      "description": "Tide tables",
      "x-mcp-tool": {"server_url": "`+ws.endpoint+`", "capabilities": ["marine"]}
    }
  ]
}`)
	return ws
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func signCatalog(t *testing.T, ws workspace) string {
	t.Helper()
	out := ws.path("catalog.jws")
	_, _, err := run(t, "--config", ws.config, "sign", ws.path("catalog.json"), "--out", out)
	require.NoError(t, err)
	return out
}

func TestSignThenVerify(t *testing.T) {
	ws := newWorkspace(t)
	jws := signCatalog(t, ws)

	token, err := os.ReadFile(jws)
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(string(token), "."))
	require.False(t, strings.HasSuffix(string(token), "\n"))

	stdout, _, err := run(t, "--config", ws.config, "--json", "verify", fileURL(jws))
	require.NoError(t, err)
	var summary verifySummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.True(t, summary.SignatureVerified)
	assert.Equal(t, "jws", summary.Encoding)
	assert.Equal(t, 2, summary.Tools)
	assert.NotEmpty(t, summary.ETag)
}

func TestVerifyDetectsChangedSpec(t *testing.T) {
	ws := newWorkspace(t)
	jws := signCatalog(t, ws)
	ws.write(t, "spec.json", `{"openapi":"3.1.0"}`)

	_, _, err := run(t, "--config", ws.config, "verify", fileURL(jws))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrIntegrity))
	assert.Equal(t, exitUntrusted, exitCodeFor(err))

	_, _, err = run(t, "--config", ws.config, "verify", "--quiet", fileURL(jws))
	var exitErr exitError
	require.True(t, errors.As(err, &exitErr))
	assert.True(t, exitErr.silent)
	assert.Equal(t, exitUntrusted, exitErr.code)
}

func TestVerifyUnsignedCatalogRequiresOptOut(t *testing.T) {
	ws := newWorkspace(t)
	origin := fileURL(ws.path("catalog.json"))

	_, _, err := run(t, "--config", ws.config, "verify", origin)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSignature))

	stdout, _, err := run(t, "--config", ws.config, "--insecure-skip-verify", "verify", origin)
	require.NoError(t, err)
	assert.Contains(t, stdout, "UNVERIFIED signature")
}

func TestToolsFilters(t *testing.T) {
	ws := newWorkspace(t)
	origin := fileURL(signCatalog(t, ws))

	stdout, _, err := run(t, "--config", ws.config, "tools", origin)
	require.NoError(t, err)
	assert.Contains(t, stdout, "forecast")
	assert.Contains(t, stdout, "tides")

	stdout, _, err = run(t, "--config", ws.config, "-o", "yaml", "tools", origin, "--capability", "weather")
	require.NoError(t, err)
	assert.Contains(t, stdout, "name: forecast")
	assert.NotContains(t, stdout, "tides")

	stdout, _, err = run(t, "--config", ws.config, "--json", "tools", origin, "--description-contains", "TIDE")
	require.NoError(t, err)
	var records []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "tides", records[0]["name"])
}

func TestCallInvokesTool(t *testing.T) {
	ws := newWorkspace(t)
	origin := fileURL(signCatalog(t, ws))

	stdout, _, err := run(t, "--config", ws.config, "--json", "call", origin, "forecast", "--args", `{"city":"Oslo"}`, "--validate")
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":{"city":"Oslo"}}`, stdout)

	_, _, err = run(t, "--config", ws.config, "call", origin, "forecast", "--args", `{}`, "--validate")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))

	_, _, err = run(t, "--config", ws.config, "call", origin, "missing")
	require.Error(t, err)
	assert.Equal(t, exitUsage, exitCodeFor(err))

	_, _, err = run(t, "--config", ws.config, "call", origin, "forecast", "--args", `[1]`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestRemoteList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domain.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"protocolVersion": "2.0",
			"id":              req.ID,
			"result":          map[string]any{"tools": []map[string]any{{"name": "ping", "description": "liveness"}}},
		})
	}))
	defer srv.Close()

	stdout, _, err := run(t, "remote", "list", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, stdout, "ping")
	assert.Contains(t, stdout, "liveness")
}

func TestSignUnsignedWritesPrettyJSON(t *testing.T) {
	ws := newWorkspace(t)
	stdout, _, err := run(t, "--config", ws.config, "sign", "--unsigned", ws.path("catalog.json"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "\n  \"tools\": [")

	doc, err := domain.DecodeCatalogDocument([]byte(stdout))
	require.NoError(t, err)
	assert.Equal(t, string(hashutil.Digest([]byte(`{"openapi":"3.0.0"}`))), doc.Tools[0].SpecReference.Digest)
}

func TestSignPlaceholderWarning(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.Remove(ws.specPath))

	_, _, err := run(t, "--config", ws.config, "sign", ws.path("catalog.json"), "--out", ws.path("x.jws"))
	require.Error(t, err)

	_, stderr, err := run(t, "--config", ws.config, "sign", ws.path("catalog.json"), "--out", ws.path("x.jws"), "--unsafe-placeholder-digests")
	require.NoError(t, err)
	assert.Contains(t, stderr, "placeholder spec digests for forecast")
}

func TestTrustCommands(t *testing.T) {
	ws := newWorkspace(t)
	other := ws.write(t, "other.pem", testutil.PublicPEM(t, testutil.RSAKey(t, "cli-other")))

	_, _, err := run(t, "--config", ws.config, "trust", "add", "other", other)
	require.NoError(t, err)

	stdout, _, err := run(t, "--config", ws.config, "--json", "trust", "list")
	require.NoError(t, err)
	var entries []trustEntry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "cli-key", entries[0].KeyID)
	assert.Equal(t, "config", entries[0].Source)
	assert.Equal(t, "other", entries[1].KeyID)
	assert.NotEmpty(t, entries[1].AddedAt)

	_, _, err = run(t, "--config", ws.config, "trust", "remove", "other")
	require.NoError(t, err)
	_, _, err = run(t, "--config", ws.config, "trust", "remove", "other")
	require.Error(t, err)
	assert.Equal(t, exitUsage, exitCodeFor(err))

	_, _, err = run(t, "--config", ws.config, "trust", "add", "bad", ws.path("spec.json"))
	require.Error(t, err)
}

func TestTrustRequiresStorePath(t *testing.T) {
	_, _, err := run(t, "trust", "list")
	require.NoError(t, err)
	_, _, err = run(t, "trust", "remove", "x")
	require.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestDigest(t *testing.T) {
	ws := newWorkspace(t)
	want := string(hashutil.Digest([]byte(`{"openapi":"3.0.0"}`)))

	stdout, _, err := run(t, "digest", ws.specPath)
	require.NoError(t, err)
	assert.Equal(t, want+"  "+ws.specPath+"\n", stdout)

	_, _, err = run(t, "--config", ws.config, "digest", fileURL(ws.specPath), "--expect", "sha256:"+strings.ToUpper(want))
	require.NoError(t, err)

	_, _, err = run(t, "digest", ws.specPath, "--expect", string(hashutil.Digest([]byte("other"))))
	require.Error(t, err)
	assert.Equal(t, exitUntrusted, exitCodeFor(err))
}

func TestDiagnosticsFlags(t *testing.T) {
	ws := newWorkspace(t)
	origin := fileURL(signCatalog(t, ws))

	_, stderr, err := run(t, "--config", ws.config, "--metrics", "--trace", "verify", origin)
	require.NoError(t, err)
	assert.Contains(t, stderr, "# trace events=")
	assert.Contains(t, stderr, `"step":"key_strategy"`)
	assert.Contains(t, stderr, "eat_catalog_fetches_total")
}

func TestUnknownOutputFormat(t *testing.T) {
	_, _, err := run(t, "-o", "xml", "digest", "x")
	var exitErr exitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, exitUsage, exitErr.code)
}
