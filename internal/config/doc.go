// Package config loads device connection settings from YAML and turns them
// into an iot.Builder.
//
// Values may reference the environment with ${VAR} or ${VAR:-default};
// "$$" yields a literal dollar sign. Relative file paths are resolved
// against the configuration file's directory.
//
//	endpoint: ${IOT_ENDPOINT}
//	mode: mtls
//	certificate:
//	  certFile: device.pem.crt
//	  keyFile: device.pem.key
//	ca:
//	  file: AmazonRootCA1.pem
//	socket:
//	  connectTimeout: 5s
//	  keepAlive: true
//
// The mode selects the certificate source: mtls (files, inline PEM or a
// certificate issued by Vault PKI), websocket (SigV4 with default, static
// or Vault-leased credentials), pkcs11, system_store, or default for
// custom authorizers without a client certificate.
//
//	cfg, err := config.LoadConfig("device.yaml")
//	if err != nil { ... }
//	builder, err := config.NewBuilder(ctx, cfg, config.WithLogger(logger))
//	if err != nil { ... }
//	conn := builder.Build()
//
// Watcher reloads the file on change and keeps the previous configuration
// when a revision fails validation.
package config
