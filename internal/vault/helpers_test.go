package vault

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRootToken = "root-token"

// fakeVault is an httptest server speaking the subset of the Vault HTTP API
// used by Client.
type fakeVault struct {
	*httptest.Server

	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	hits     map[string]int
	tokens   []string
	requests []*http.Request
}

func newFakeVault(t *testing.T) *fakeVault {
	t.Helper()

	fv := &fakeVault{
		routes: make(map[string]http.HandlerFunc),
		hits:   make(map[string]int),
	}
	fv.Server = httptest.NewServer(http.HandlerFunc(fv.serve))
	t.Cleanup(fv.Close)

	fv.handle("/v1/auth/token/lookup-self", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != testRootToken {
			writeVaultError(w, http.StatusForbidden, "permission denied")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{"ttl": 3600, "renewable": true},
		})
	})

	return fv
}

func (fv *fakeVault) handle(path string, h http.HandlerFunc) {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	fv.routes[path] = h
}

func (fv *fakeVault) serve(w http.ResponseWriter, r *http.Request) {
	fv.mu.Lock()
	h, ok := fv.routes[r.URL.Path]
	fv.hits[r.URL.Path]++
	fv.tokens = append(fv.tokens, r.Header.Get("X-Vault-Token"))
	fv.requests = append(fv.requests, r.Clone(r.Context()))
	fv.mu.Unlock()

	if !ok {
		writeVaultError(w, http.StatusNotFound, "no handler for route")
		return
	}
	h(w, r)
}

func (fv *fakeVault) hitCount(path string) int {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	return fv.hits[path]
}

func (fv *fakeVault) lastToken() string {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	if len(fv.tokens) == 0 {
		return ""
	}
	return fv.tokens[len(fv.tokens)-1]
}

func (fv *fakeVault) lastRequest(path string) *http.Request {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	for i := len(fv.requests) - 1; i >= 0; i-- {
		if fv.requests[i].URL.Path == path {
			return fv.requests[i]
		}
	}
	return nil
}

// tokenConfig returns a client configuration that logs in with the root
// token and retries quickly.
func (fv *fakeVault) tokenConfig() *Config {
	return &Config{
		Address:    fv.URL,
		AuthMethod: AuthMethodToken,
		Token:      testRootToken,
		Timeout:    5 * time.Second,
		Retry:      &RetryConfig{MaxRetries: 2, BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond},
	}
}

func (fv *fakeVault) newClient(t *testing.T, cfg *Config, opts ...Option) *Client {
	t.Helper()

	if cfg == nil {
		cfg = fv.tokenConfig()
	}
	client, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeVaultError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"errors": []string{msg}})
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}
