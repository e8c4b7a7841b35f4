// Package tls builds client TLS contexts for device connections.
//
// A ContextOptions value collects the certificate source, trust store,
// minimum protocol version and ALPN list. NewContext realizes it into an
// immutable Context that is handed to exactly one connection.
//
// # Certificate Sources
//
//   - None: server authentication only
//   - File: PEM certificate and key read from disk at construction
//   - Buffer: PEM certificate and key held in memory
//   - PKCS#11: key kept on a hardware token (Unix-family platforms)
//   - System store: Location\Store\Thumbprint lookup (Windows)
//
// Hardware tokens and certificate stores are reached through the KeyOpener
// and CertificateStore interfaces so callers can plug in their own module.
//
// # Example Usage
//
//	opts, err := tls.NewMTLSFromPath("/certs/device.crt", "/certs/device.key",
//	    tls.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := opts.OverrideDefaultTrustStoreFromPath("/certs/AmazonRootCA1.pem"); err != nil {
//	    return err
//	}
//
//	ctx, err := tls.NewContext(opts)
//	if err != nil {
//	    return err
//	}
//
// # Hot Reload
//
// Realized contexts never change. CertificateWatcher reports file changes
// so the caller can build a fresh context and reconnect.
//
// # Metrics
//
//   - iot_tls_context_realizations_total: realizations by source and result
//   - iot_tls_handshake_duration_seconds: client handshake duration
//   - iot_tls_connections_total: connections by version, cipher and protocol
//   - iot_tls_certificate_expiry_seconds: time until client certificate expiry
package tls
