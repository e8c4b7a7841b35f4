// Package retry runs operations with exponential backoff and jitter.
//
// It is used for calls to external services made while assembling a
// connection configuration, such as Vault reads, and for the CLI's
// connection attempts.
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//	    return readSecret(ctx)
//	}, &retry.Options{ShouldRetry: isTransient})
//
// A zero MaxRetries selects DefaultMaxRetries; a negative value makes a
// single attempt.
package retry
