package iot

import (
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vyrodovalexey/avaiot/internal/observability"
	"github.com/vyrodovalexey/avaiot/internal/sigv4"
)

func newUpgradeRequest(t *testing.T) *http.Request {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet,
		"wss://"+testEndpoint+":443/mqtt", http.NoBody)
	require.NoError(t, err)
	return req
}

func waitCompletion(t *testing.T, rec *completionRecorder) {
	t.Helper()

	select {
	case <-rec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("completion was not invoked")
	}
}

func TestSigningInterceptor_ForwardsSignerResult(t *testing.T) {
	t.Parallel()

	signErr := errors.New("signing failed with code 42")
	var seenConfig *sigv4.SigningConfig

	signer := sigv4.SignerFunc(func(req *http.Request, cfg *sigv4.SigningConfig, done sigv4.Completion) {
		seenConfig = cfg
		go done(req, signErr)
	})
	factory := sigv4.NewWebsocketConfigFactory(nil, "eu-west-1", "")

	ws, err := NewWebsocketConfigWithSigner("eu-west-1", signer, factory)
	require.NoError(t, err)

	req := newUpgradeRequest(t)
	rec := newCompletionRecorder()

	NewSigningInterceptor(ws, nil)(req, rec.complete)
	waitCompletion(t, rec)

	assert.Same(t, req, rec.req)
	assert.Same(t, signErr, rec.err)

	require.NotNil(t, seenConfig)
	assert.Equal(t, "eu-west-1", seenConfig.Region)
	assert.Equal(t, sigv4.DefaultServiceName, seenConfig.Service)
	assert.Equal(t, sigv4.AlgorithmSigV4, seenConfig.Algorithm)
	assert.Equal(t, sigv4.SignatureTypeQueryParams, seenConfig.SignatureType)
	assert.True(t, seenConfig.OmitSessionToken)
}

func TestSigningInterceptor_FreshConfigPerAttempt(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var configs [2]*sigv4.SigningConfig

	factory := sigv4.ConfigFactoryFunc(func() *sigv4.SigningConfig {
		n := calls.Add(1)
		return &sigv4.SigningConfig{Region: "us-west-2", Service: "iotdevicegateway", SigningTime: time.Unix(int64(n), 0)}
	})
	signer := sigv4.SignerFunc(func(req *http.Request, cfg *sigv4.SigningConfig, done sigv4.Completion) {
		configs[calls.Load()-1] = cfg
		done(req, nil)
	})

	ws, err := NewWebsocketConfigWithSigner("us-west-2", signer, factory)
	require.NoError(t, err)
	interceptor := NewSigningInterceptor(ws, nil)

	for range 2 {
		rec := newCompletionRecorder()
		interceptor(newUpgradeRequest(t), rec.complete)
		waitCompletion(t, rec)
		assert.NoError(t, rec.err)
	}

	assert.Equal(t, int32(2), calls.Load())
	assert.NotSame(t, configs[0], configs[1])
}

func TestSigningInterceptor_SignsUpgradeRequest(t *testing.T) {
	t.Parallel()

	ws, err := NewWebsocketConfig("us-east-1",
		sigv4.NewStaticCredentialsProvider("AKIDEXAMPLE", "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", "session/token"))
	require.NoError(t, err)

	req := newUpgradeRequest(t)
	rec := newCompletionRecorder()

	NewSigningInterceptor(ws, nil)(req, rec.complete)
	waitCompletion(t, rec)

	require.NoError(t, rec.err)
	query := rec.req.URL.Query()
	assert.NotEmpty(t, query.Get("X-Amz-Signature"))
	assert.Equal(t, "AWS4-HMAC-SHA256", query.Get("X-Amz-Algorithm"))
	assert.Contains(t, query.Get("X-Amz-Credential"), "/us-east-1/iotdevicegateway/aws4_request")
	assert.Equal(t, "session/token", query.Get("X-Amz-Security-Token"))
	assert.Contains(t, rec.req.URL.RawQuery, "&X-Amz-Security-Token=session%2Ftoken")
}

func TestSigningInterceptor_Span(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(t.Context()) })
	tracer := observability.NewTracerWithProvider(provider, "test")

	signErr := errors.New("no credentials")
	signer := sigv4.SignerFunc(func(req *http.Request, _ *sigv4.SigningConfig, done sigv4.Completion) {
		done(req, signErr)
	})
	ws, err := NewWebsocketConfigWithSigner("us-east-1", signer, sigv4.NewWebsocketConfigFactory(nil, "us-east-1", ""))
	require.NoError(t, err)

	rec := newCompletionRecorder()
	NewSigningInterceptor(ws, tracer)(newUpgradeRequest(t), rec.complete)
	waitCompletion(t, rec)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "iot.websocket.sign", spans[0].Name())
	assert.Equal(t, otelcodes.Error, spans[0].Status().Code)
	assert.Equal(t, "no credentials", spans[0].Status().Description)
}
