package sigv4

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"

	"github.com/vyrodovalexey/avaiot/internal/observability"
)

// EmptyPayloadHash is the SHA-256 of an empty body. Upgrade requests carry
// no payload.
const EmptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

const (
	securityTokenParam  = "X-Amz-Security-Token"
	securityTokenHeader = "X-Amz-Security-Token"
	expiresParam        = "X-Amz-Expires"
)

// Completion receives the outcome of an asynchronous signing attempt. The
// request is the one passed to SignRequest, possibly mutated.
type Completion func(req *http.Request, err error)

// Signer signs HTTP requests asynchronously.
type Signer interface {
	// SignRequest signs req according to cfg and invokes done exactly once,
	// possibly on another goroutine. It must not block.
	SignRequest(req *http.Request, cfg *SigningConfig, done Completion)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(req *http.Request, cfg *SigningConfig, done Completion)

// SignRequest implements Signer.
func (f SignerFunc) SignRequest(req *http.Request, cfg *SigningConfig, done Completion) {
	f(req, cfg, done)
}

// HTTPRequestSigner signs requests with the aws-sdk-go-v2 v4 signer on a
// dedicated goroutine per attempt. It is safe for concurrent use.
type HTTPRequestSigner struct {
	signer  *v4.Signer
	logger  observability.Logger
	metrics observability.MetricsRecorder
	now     func() time.Time
}

// SignerOption is a functional option for configuring HTTPRequestSigner.
type SignerOption func(*HTTPRequestSigner)

// WithSignerLogger sets the logger for the signer.
func WithSignerLogger(logger observability.Logger) SignerOption {
	return func(s *HTTPRequestSigner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSignerMetrics sets the metrics recorder for the signer.
func WithSignerMetrics(metrics observability.MetricsRecorder) SignerOption {
	return func(s *HTTPRequestSigner) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithClock overrides the time source used when a config has no SigningTime.
func WithClock(now func() time.Time) SignerOption {
	return func(s *HTTPRequestSigner) {
		if now != nil {
			s.now = now
		}
	}
}

// NewHTTPRequestSigner creates a new signer.
func NewHTTPRequestSigner(opts ...SignerOption) *HTTPRequestSigner {
	s := &HTTPRequestSigner{
		signer:  v4.NewSigner(),
		logger:  observability.NopLogger(),
		metrics: observability.NewNopMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignRequest implements Signer.
func (s *HTTPRequestSigner) SignRequest(req *http.Request, cfg *SigningConfig, done Completion) {
	go func() {
		done(req, s.Sign(req.Context(), req, cfg))
	}()
}

// Sign signs req in place.
func (s *HTTPRequestSigner) Sign(ctx context.Context, req *http.Request, cfg *SigningConfig) error {
	start := time.Now()
	err := s.sign(ctx, req, cfg)
	s.metrics.RecordSigning(time.Since(start), err == nil)

	if err != nil {
		s.logger.Warn("failed to sign request",
			observability.String("host", req.URL.Host),
			observability.Error(err),
		)
		return err
	}

	s.logger.Debug("request signed",
		observability.String("host", req.URL.Host),
		observability.String("region", cfg.Region),
		observability.String("placement", cfg.SignatureType.String()),
	)
	return nil
}

func (s *HTTPRequestSigner) sign(ctx context.Context, req *http.Request, cfg *SigningConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return NewSigningError(cfg, fmt.Errorf("%w: %w", ErrCredentials, err))
	}

	sessionToken := creds.SessionToken
	if cfg.OmitSessionToken {
		creds.SessionToken = ""
	}

	signingTime := cfg.SigningTime
	if signingTime.IsZero() {
		signingTime = s.now()
	}

	switch cfg.SignatureType {
	case SignatureTypeQueryParams:
		err = s.presign(ctx, req, cfg, creds, signingTime)
	case SignatureTypeHeaders:
		err = s.signer.SignHTTP(ctx, creds, req, EmptyPayloadHash, cfg.Service, cfg.Region, signingTime)
	default:
		err = errorf(ErrInvalidSigningConfig, "unknown signature type "+cfg.SignatureType.String())
	}
	if err != nil {
		return NewSigningError(cfg, err)
	}

	if cfg.OmitSessionToken && sessionToken != "" {
		appendSessionToken(req, cfg.SignatureType, sessionToken)
	}
	return nil
}

func (s *HTTPRequestSigner) presign(
	ctx context.Context,
	req *http.Request,
	cfg *SigningConfig,
	creds aws.Credentials,
	signingTime time.Time,
) error {
	if cfg.Expires > 0 {
		query := req.URL.Query()
		query.Set(expiresParam, strconv.FormatInt(int64(cfg.Expires/time.Second), 10))
		req.URL.RawQuery = query.Encode()
	}

	signedURI, _, err := s.signer.PresignHTTP(ctx, creds, req, EmptyPayloadHash, cfg.Service, cfg.Region, signingTime)
	if err != nil {
		return err
	}

	signed, err := url.Parse(signedURI)
	if err != nil {
		return err
	}
	req.URL = signed
	return nil
}

// appendSessionToken adds the token after signing so it is not part of the
// canonical request.
func appendSessionToken(req *http.Request, placement SignatureType, token string) {
	if placement == SignatureTypeHeaders {
		req.Header.Set(securityTokenHeader, token)
		return
	}

	param := securityTokenParam + "=" + url.QueryEscape(token)
	if req.URL.RawQuery == "" {
		req.URL.RawQuery = param
		return
	}
	req.URL.RawQuery += "&" + param
}

var _ Signer = (*HTTPRequestSigner)(nil)
