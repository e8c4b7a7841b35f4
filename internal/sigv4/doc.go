// Package sigv4 signs WebSocket upgrade requests with AWS Signature Version 4.
//
// A ConfigFactory produces a fresh SigningConfig for every connection
// attempt. A Signer consumes it asynchronously and reports the signed
// request through a Completion callback:
//
//	factory := sigv4.NewWebsocketConfigFactory(provider, "us-east-1", sigv4.DefaultServiceName)
//	signer := sigv4.NewHTTPRequestSigner(sigv4.WithSignerLogger(logger))
//
//	signer.SignRequest(req, factory.CreateSigningConfig(), func(req *http.Request, err error) {
//	    // dial with req.URL
//	})
//
// The cryptographic work is delegated to aws-sdk-go-v2/aws/signer/v4.
// Credentials come from any aws.CredentialsProvider; NewDefaultChainProvider
// resolves the standard environment, shared file and instance role chain.
package sigv4
