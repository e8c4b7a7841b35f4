package iot

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avaiot/internal/observability"
	"github.com/vyrodovalexey/avaiot/internal/transport"
)

// signSpanName is the span covering one WebSocket request signature.
const signSpanName = "iot.websocket.sign"

// NewSigningInterceptor returns a handshake interceptor bound to ws. Each
// invocation creates a fresh signing config and makes a single signing
// attempt; the signer's result is forwarded to done unchanged.
func NewSigningInterceptor(ws *WebsocketConfig, tracer *observability.Tracer) transport.HandshakeInterceptor {
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	signer := ws.signer
	factory := ws.factory
	region := ws.region
	service := ws.service

	return func(req *http.Request, done transport.HandshakeCompletion) {
		_, span := tracer.StartSpan(req.Context(), signSpanName,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("aws.region", region),
				attribute.String("aws.service", service),
				attribute.String("url.path", req.URL.Path),
			),
		)

		cfg := factory.CreateSigningConfig()
		signer.SignRequest(req, cfg, func(signed *http.Request, err error) {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
			done(signed, err)
		})
	}
}
