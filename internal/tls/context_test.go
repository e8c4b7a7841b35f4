package tls

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/avaiot/internal/observability"
	certutil "github.com/vyrodovalexey/avaiot/internal/testutil"
)

func TestNewContext_NilOptions(t *testing.T) {
	t.Parallel()

	_, err := NewContext(nil)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestNewContext_DefaultClient(t *testing.T) {
	t.Parallel()

	ctx, err := NewContext(NewDefaultClient())
	require.NoError(t, err)

	assert.Equal(t, CertificateSourceNone, ctx.Source())
	assert.Nil(t, ctx.Leaf())
	assert.Equal(t, uint16(cryptotls.VersionTLS12), ctx.MinVersion())
	assert.Empty(t, ctx.Config("example.com").Certificates)
}

func TestNewContext_Buffers(t *testing.T) {
	t.Parallel()

	certs := certutil.GenerateTestCertificates(t)
	opts, err := NewMTLSFromBuffers(certs.ClientCertPEM, certs.ClientKeyPEM)
	require.NoError(t, err)
	require.NoError(t, opts.SetALPNList("x-amzn-mqtt-ca"))

	ctx, err := NewContext(opts)
	require.NoError(t, err)

	require.NotNil(t, ctx.Leaf())
	assert.Contains(t, ctx.Leaf().Subject, "test-thing")
	assert.Equal(t, []string{"x-amzn-mqtt-ca"}, ctx.NextProtos())

	cfg := ctx.Config("a1b2c3-ats.iot.us-east-1.amazonaws.com")
	assert.Equal(t, "a1b2c3-ats.iot.us-east-1.amazonaws.com", cfg.ServerName)
	require.Len(t, cfg.Certificates, 1)
	assert.NotNil(t, cfg.Certificates[0].Leaf)
}

func TestNewContext_KeyMismatch(t *testing.T) {
	t.Parallel()

	certs := certutil.GenerateTestCertificates(t)
	opts, err := NewMTLSFromBuffers(certs.ClientCertPEM, certs.ServerKeyPEM)
	require.NoError(t, err)

	_, err = NewContext(opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTLS)
	assert.ErrorIs(t, err, ErrCertificateKeyMismatch)
}

func TestNewContext_RecordsMetrics(t *testing.T) {
	t.Parallel()

	certs := certutil.GenerateTestCertificates(t)
	metrics := NewMetrics("test", WithRegistry(prometheus.NewRegistry()))

	opts, err := NewMTLSFromBuffers(certs.ClientCertPEM, certs.ClientKeyPEM, WithMetrics(metrics))
	require.NoError(t, err)
	_, err = NewContext(opts)
	require.NoError(t, err)

	mismatch, err := NewMTLSFromBuffers(certs.ClientCertPEM, certs.ServerKeyPEM, WithMetrics(metrics))
	require.NoError(t, err)
	_, err = NewContext(mismatch)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.realizationsTotal.WithLabelValues("buffer", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.realizationsTotal.WithLabelValues("buffer", "failure")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.certificateExpiry))
}

func TestNewContext_ExpiredCertificateWarns(t *testing.T) {
	t.Parallel()

	certs := certutil.GenerateTestCertificates(t, certutil.WithNotAfter(time.Now().Add(-time.Minute)))
	core, logs := observer.New(zapcore.WarnLevel)

	opts, err := NewMTLSFromBuffers(certs.ClientCertPEM, certs.ClientKeyPEM,
		WithLogger(observability.NewLoggerFromZap(zap.New(core))))
	require.NoError(t, err)

	_, err = NewContext(opts)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("client certificate has expired").Len())
}

func TestNewContext_PKCS11(t *testing.T) {
	t.Parallel()

	certs := certutil.GenerateTestCertificates(t)
	linux := WithPlatform(StaticPlatform{GOOS: "linux", ALPN: true})

	t.Run("matching key", func(t *testing.T) {
		t.Parallel()

		opts, err := NewMTLSFromPKCS11(&PKCS11Options{
			LibraryPath:             "/usr/lib/softhsm/libsofthsm2.so",
			PrivateKeyObjectLabel:   "device-key",
			CertificateFileContents: certs.ClientCertPEM,
			Opener: KeyOpenerFunc(func(*PKCS11Options) (crypto.Signer, error) {
				return certs.ClientKey, nil
			}),
		}, linux)
		require.NoError(t, err)

		ctx, err := NewContext(opts)
		require.NoError(t, err)
		assert.Equal(t, CertificateSourcePKCS11, ctx.Source())
		assert.Equal(t, certs.ClientKey, ctx.Config("host").Certificates[0].PrivateKey)
	})

	t.Run("key mismatch", func(t *testing.T) {
		t.Parallel()

		other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)

		opts, err := NewMTLSFromPKCS11(&PKCS11Options{
			LibraryPath:             "/usr/lib/softhsm/libsofthsm2.so",
			CertificateFileContents: certs.ClientCertPEM,
			Opener: KeyOpenerFunc(func(*PKCS11Options) (crypto.Signer, error) {
				return other, nil
			}),
		}, linux)
		require.NoError(t, err)

		_, err = NewContext(opts)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTLS)
		assert.ErrorIs(t, err, ErrCertificateKeyMismatch)
	})
}

func TestNewMTLSFromPKCS11_Validation(t *testing.T) {
	t.Parallel()

	opener := KeyOpenerFunc(func(*PKCS11Options) (crypto.Signer, error) { return nil, nil })
	linux := WithPlatform(StaticPlatform{GOOS: "linux", ALPN: true})

	tests := []struct {
		name    string
		opts    *PKCS11Options
		option  Option
		wantErr error
	}{
		{
			name:    "windows unsupported",
			opts:    &PKCS11Options{LibraryPath: "lib.so", CertificateFilePath: "c.pem", Opener: opener},
			option:  WithPlatform(StaticPlatform{GOOS: "windows"}),
			wantErr: ErrUnsupportedPlatform,
		},
		{
			name:    "nil options",
			option:  linux,
			wantErr: ErrConfig,
		},
		{
			name:    "missing library",
			opts:    &PKCS11Options{CertificateFilePath: "c.pem", Opener: opener},
			option:  linux,
			wantErr: ErrConfig,
		},
		{
			name:    "missing certificate",
			opts:    &PKCS11Options{LibraryPath: "lib.so", Opener: opener},
			option:  linux,
			wantErr: ErrConfig,
		},
		{
			name: "both certificate forms",
			opts: &PKCS11Options{
				LibraryPath: "lib.so", CertificateFilePath: "c.pem",
				CertificateFileContents: []byte("x"), Opener: opener,
			},
			option:  linux,
			wantErr: ErrConfig,
		},
		{
			name:    "missing opener",
			opts:    &PKCS11Options{LibraryPath: "lib.so", CertificateFilePath: "c.pem"},
			option:  linux,
			wantErr: ErrConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewMTLSFromPKCS11(tt.opts, tt.option)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewContext_SystemStore(t *testing.T) {
	t.Parallel()

	certs := certutil.GenerateTestCertificates(t)
	pair, err := cryptotls.X509KeyPair(certs.ClientCertPEM, certs.ClientKeyPEM)
	require.NoError(t, err)

	var looked StoreReference
	store := CertificateStoreFunc(func(ref StoreReference) (cryptotls.Certificate, error) {
		looked = ref
		return pair, nil
	})

	opts, err := NewMTLSFromSystemStore(
		`CurrentUser\MY\a11f8a9b5df5b98ba3508fbca575d09570e0d2c6`,
		WithPlatform(StaticPlatform{GOOS: "windows", ALPN: true}),
		WithCertificateStore(store),
	)
	require.NoError(t, err)

	ctx, err := NewContext(opts)
	require.NoError(t, err)
	assert.Equal(t, CertificateSourceSystemStore, ctx.Source())
	assert.Equal(t, "A11F8A9B5DF5B98BA3508FBCA575D09570E0D2C6", looked.Thumbprint)
	assert.NotNil(t, ctx.Leaf())
}

func TestNewMTLSFromSystemStore_Errors(t *testing.T) {
	t.Parallel()

	store := CertificateStoreFunc(func(StoreReference) (cryptotls.Certificate, error) {
		return cryptotls.Certificate{}, nil
	})
	windows := WithPlatform(StaticPlatform{GOOS: "windows"})

	_, err := NewMTLSFromSystemStore(`CurrentUser\MY\A11F8A9B5DF5B98BA3508FBCA575D09570E0D2C6`,
		WithPlatform(StaticPlatform{GOOS: "linux"}), WithCertificateStore(store))
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)

	_, err = NewMTLSFromSystemStore(`CurrentUser\MY`, windows, WithCertificateStore(store))
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewMTLSFromSystemStore(`CurrentUser\MY\A11F8A9B5DF5B98BA3508FBCA575D09570E0D2C6`, windows)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestContext_Claim(t *testing.T) {
	t.Parallel()

	ctx, err := NewContext(NewDefaultClient())
	require.NoError(t, err)

	assert.False(t, ctx.Claimed())
	assert.True(t, ctx.Claim())
	assert.False(t, ctx.Claim())
	assert.True(t, ctx.Claimed())

	ctx.Release()
	assert.False(t, ctx.Claimed())
	assert.True(t, ctx.Claim())
}

func TestContext_Handshake(t *testing.T) {
	t.Parallel()

	certs := certutil.GenerateTestCertificates(t)
	listener, err := cryptotls.Listen("tcp", "127.0.0.1:0", certs.ServerTLSConfig(t, "x-amzn-mqtt-ca"))
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.(*cryptotls.Conn).Handshake()
	}()

	opts, err := NewMTLSFromBuffers(certs.ClientCertPEM, certs.ClientKeyPEM)
	require.NoError(t, err)
	require.NoError(t, opts.OverrideDefaultTrustStore(certs.CACertPEM))
	require.NoError(t, opts.SetALPNList("x-amzn-mqtt-ca"))

	tlsCtx, err := NewContext(opts)
	require.NoError(t, err)

	dialer := &cryptotls.Dialer{NetDialer: &net.Dialer{Timeout: 5 * time.Second}, Config: tlsCtx.Config("localhost")}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	state := conn.(*cryptotls.Conn).ConnectionState()
	assert.Equal(t, "x-amzn-mqtt-ca", state.NegotiatedProtocol)
}
