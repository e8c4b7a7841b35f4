package sigv4

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaiot/internal/observability"
)

var fixedSigningTime = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

func newUpgradeRequest(t *testing.T) *http.Request {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet,
		"wss://a1b2c3-ats.iot.us-east-1.amazonaws.com:443/mqtt", nil)
	require.NoError(t, err)
	return req
}

func testConfig(sessionToken string) *SigningConfig {
	factory := NewWebsocketConfigFactory(
		NewStaticCredentialsProvider("AKIDEXAMPLE", "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", sessionToken),
		"us-east-1", "")
	cfg := factory.CreateSigningConfig()
	cfg.SigningTime = fixedSigningTime
	return cfg
}

func TestHTTPRequestSigner_Sign_QueryParams(t *testing.T) {
	t.Parallel()

	signer := NewHTTPRequestSigner()
	req := newUpgradeRequest(t)

	require.NoError(t, signer.Sign(context.Background(), req, testConfig("")))

	query := req.URL.Query()
	assert.Equal(t, "AWS4-HMAC-SHA256", query.Get("X-Amz-Algorithm"))
	assert.Equal(t, "AKIDEXAMPLE/20240501/us-east-1/iotdevicegateway/aws4_request", query.Get("X-Amz-Credential"))
	assert.Equal(t, "20240501T120000Z", query.Get("X-Amz-Date"))
	assert.Equal(t, "host", query.Get("X-Amz-SignedHeaders"))
	assert.Len(t, query.Get("X-Amz-Signature"), 64)
	assert.Empty(t, query.Get("X-Amz-Security-Token"))
	assert.Equal(t, "wss", req.URL.Scheme)
	assert.Equal(t, "/mqtt", req.URL.Path)
}

func TestHTTPRequestSigner_Sign_OmitSessionToken(t *testing.T) {
	t.Parallel()

	signer := NewHTTPRequestSigner()

	withToken := newUpgradeRequest(t)
	require.NoError(t, signer.Sign(context.Background(), withToken, testConfig("token/with+chars=")))

	withoutToken := newUpgradeRequest(t)
	require.NoError(t, signer.Sign(context.Background(), withoutToken, testConfig("")))

	// The token does not take part in the signature and is appended last.
	assert.Equal(t,
		withoutToken.URL.Query().Get("X-Amz-Signature"),
		withToken.URL.Query().Get("X-Amz-Signature"))
	assert.Equal(t, "token/with+chars=", withToken.URL.Query().Get("X-Amz-Security-Token"))
	assert.True(t, strings.HasSuffix(withToken.URL.RawQuery, "&X-Amz-Security-Token=token%2Fwith%2Bchars%3D"))
}

func TestHTTPRequestSigner_Sign_SessionTokenSigned(t *testing.T) {
	t.Parallel()

	signer := NewHTTPRequestSigner()

	cfg := testConfig("session")
	cfg.OmitSessionToken = false
	signed := newUpgradeRequest(t)
	require.NoError(t, signer.Sign(context.Background(), signed, cfg))

	omitted := newUpgradeRequest(t)
	require.NoError(t, signer.Sign(context.Background(), omitted, testConfig("session")))

	assert.Equal(t, "session", signed.URL.Query().Get("X-Amz-Security-Token"))
	assert.NotEqual(t,
		omitted.URL.Query().Get("X-Amz-Signature"),
		signed.URL.Query().Get("X-Amz-Signature"))
}

func TestHTTPRequestSigner_Sign_Expires(t *testing.T) {
	t.Parallel()

	cfg := testConfig("")
	cfg.Expires = 5 * time.Minute
	req := newUpgradeRequest(t)

	require.NoError(t, NewHTTPRequestSigner().Sign(context.Background(), req, cfg))
	assert.Equal(t, "300", req.URL.Query().Get("X-Amz-Expires"))
}

func TestHTTPRequestSigner_Sign_Headers(t *testing.T) {
	t.Parallel()

	cfg := testConfig("session")
	cfg.SignatureType = SignatureTypeHeaders
	req := newUpgradeRequest(t)

	require.NoError(t, NewHTTPRequestSigner().Sign(context.Background(), req, cfg))

	auth := req.Header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240501/us-east-1/iotdevicegateway/aws4_request"))
	assert.NotContains(t, auth, "x-amz-security-token")
	assert.Equal(t, "session", req.Header.Get("X-Amz-Security-Token"))
	assert.Empty(t, req.URL.RawQuery)
}

func TestHTTPRequestSigner_Sign_Deterministic(t *testing.T) {
	t.Parallel()

	signer := NewHTTPRequestSigner()
	first := newUpgradeRequest(t)
	second := newUpgradeRequest(t)

	require.NoError(t, signer.Sign(context.Background(), first, testConfig("")))
	require.NoError(t, signer.Sign(context.Background(), second, testConfig("")))

	assert.Equal(t, first.URL.String(), second.URL.String())
}

func TestHTTPRequestSigner_Sign_InvalidConfig(t *testing.T) {
	t.Parallel()

	creds := NewStaticCredentialsProvider("AKID", "SECRET", "")

	tests := []struct {
		name string
		cfg  *SigningConfig
	}{
		{name: "nil config"},
		{name: "missing region", cfg: &SigningConfig{Service: "s", Algorithm: AlgorithmSigV4, Credentials: creds}},
		{name: "missing service", cfg: &SigningConfig{Region: "r", Algorithm: AlgorithmSigV4, Credentials: creds}},
		{name: "unknown algorithm", cfg: &SigningConfig{Region: "r", Service: "s", Algorithm: "SigV4a", Credentials: creds}},
		{name: "missing credentials", cfg: &SigningConfig{Region: "r", Service: "s", Algorithm: AlgorithmSigV4}},
		{
			name: "unknown placement",
			cfg: &SigningConfig{
				Region: "r", Service: "s", Algorithm: AlgorithmSigV4,
				Credentials: creds, SignatureType: SignatureType(9),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := NewHTTPRequestSigner().Sign(context.Background(), newUpgradeRequest(t), tt.cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSigningConfig)
		})
	}
}

func TestHTTPRequestSigner_Sign_CredentialsFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("no credentials")
	cfg := testConfig("")
	cfg.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{}, boom
	})

	err := NewHTTPRequestSigner().Sign(context.Background(), newUpgradeRequest(t), cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSigning)
	assert.ErrorIs(t, err, ErrCredentials)
	assert.ErrorIs(t, err, boom)
}

func TestHTTPRequestSigner_SignRequest_Async(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics("test", observability.WithRegistry(prometheus.NewRegistry()))
	signer := NewHTTPRequestSigner(WithSignerMetrics(metrics))
	req := newUpgradeRequest(t)

	type result struct {
		req *http.Request
		err error
	}
	results := make(chan result, 1)

	signer.SignRequest(req, testConfig(""), func(signed *http.Request, err error) {
		results <- result{req: signed, err: err}
	})

	select {
	case r := <-results:
		require.NoError(t, r.err)
		assert.Same(t, req, r.req)
		assert.NotEmpty(t, r.req.URL.Query().Get("X-Amz-Signature"))
	case <-time.After(5 * time.Second):
		t.Fatal("signing did not complete")
	}

	count, err := testutil.GatherAndCount(metrics.Registry(), "test_websocket_signing_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWithClock(t *testing.T) {
	t.Parallel()

	signer := NewHTTPRequestSigner(WithClock(func() time.Time { return fixedSigningTime }))
	cfg := testConfig("")
	cfg.SigningTime = time.Time{}
	req := newUpgradeRequest(t)

	require.NoError(t, signer.Sign(context.Background(), req, cfg))
	assert.Equal(t, "20240501T120000Z", req.URL.Query().Get("X-Amz-Date"))
}

func TestSignerFunc(t *testing.T) {
	t.Parallel()

	called := false
	var s Signer = SignerFunc(func(req *http.Request, _ *SigningConfig, done Completion) {
		called = true
		done(req, nil)
	})

	s.SignRequest(newUpgradeRequest(t), nil, func(*http.Request, error) {})
	assert.True(t, called)
}
