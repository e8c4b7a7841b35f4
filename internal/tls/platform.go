package tls

import (
	"runtime"
	"slices"
)

// Platform reports host capabilities that influence certificate source
// validity and protocol negotiation.
type Platform interface {
	// OS returns the operating system name in runtime.GOOS form.
	OS() string

	// ALPNSupported reports whether the TLS stack can negotiate ALPN.
	ALPNSupported() bool
}

// hostPlatform describes the running process. crypto/tls negotiates ALPN on
// every platform Go supports.
type hostPlatform struct{}

// HostPlatform returns the Platform of the running process.
func HostPlatform() Platform {
	return hostPlatform{}
}

func (hostPlatform) OS() string {
	return runtime.GOOS
}

func (hostPlatform) ALPNSupported() bool {
	return true
}

// StaticPlatform is a fixed Platform description.
type StaticPlatform struct {
	GOOS string
	ALPN bool
}

// OS implements Platform.
func (p StaticPlatform) OS() string {
	return p.GOOS
}

// ALPNSupported implements Platform.
func (p StaticPlatform) ALPNSupported() bool {
	return p.ALPN
}

var unixFamily = []string{
	"aix", "android", "darwin", "dragonfly", "freebsd", "illumos",
	"ios", "linux", "netbsd", "openbsd", "solaris",
}

// IsUnixFamily reports whether goos is a Unix-family operating system.
func IsUnixFamily(goos string) bool {
	return slices.Contains(unixFamily, goos)
}

// HasSystemCertificateStore reports whether goos provides a certificate
// store addressable by store path and thumbprint.
func HasSystemCertificateStore(goos string) bool {
	return goos == "windows"
}
