// Package vault sources device credentials from HashiCorp Vault.
//
// Two secrets engines are supported:
//
//   - AWS: AWSCredentialsProvider leases SigV4 credentials for the
//     WebSocket transport and implements aws.CredentialsProvider. Lease
//     expiry is reported through aws.Credentials so that an
//     aws.CredentialsCache renews them.
//   - PKI: IssueCertificate returns a PEM client certificate, key and CA
//     chain suitable for mutual TLS.
//
// The client authenticates lazily with a token, AppRole or Kubernetes
// service account. Requests are retried on server errors and connection
// failures, and a rejected token triggers one fresh login.
//
//	client, err := vault.New(&vault.Config{
//	    Address:    "https://vault.example.com:8200",
//	    AuthMethod: vault.AuthMethodAppRole,
//	    AppRole:    &vault.AppRoleAuthConfig{RoleID: roleID, SecretID: secretID},
//	})
//	provider, err := client.AWSCredentials(&vault.AWSCredentialsConfig{Role: "iot-device"})
//	creds := aws.NewCredentialsCache(provider)
package vault
