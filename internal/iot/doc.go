// Package iot builds connection configurations for an MQTT broker that
// authenticates clients either with mutual TLS or with a SigV4-signed
// WebSocket upgrade request.
//
// A Builder accumulates endpoint, socket, TLS, proxy and login settings.
// Build resolves the port, the ALPN protocol list and the username query
// parameters, realizes the TLS context and returns an immutable
// ConnectionConfig. Errors are sticky: a failing setter poisons the
// Builder and Build returns a config whose Err reports the first failure.
//
// Client turns a ConnectionConfig into a transport.Connection, applying
// login and proxy options and attaching the signing interceptor on the
// WebSocket path.
//
// Example:
//
//	cfg := iot.NewBuilderFromFiles("device.crt", "device.key").
//		WithEndpoint("example-ats.iot.us-east-1.amazonaws.com").
//		WithCertificateAuthorityFile("AmazonRootCA1.pem").
//		Build()
//	if err := cfg.Err(); err != nil {
//		return err
//	}
//	conn, err := iot.NewClient(nil).NewConnection(cfg)
package iot
