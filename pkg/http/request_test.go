package http_test

import (
	"net/http/httptest"
	"testing"

	pkghttp "github.com/rpiotaix/userbundle/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTrust(t *testing.T, entries ...string) *pkghttp.ProxyTrust {
	t.Helper()
	pt, err := pkghttp.ParseTrustedProxies(entries)
	require.NoError(t, err)
	return pt
}

func TestParseTrustedProxies(t *testing.T) {
	pt, err := pkghttp.ParseTrustedProxies([]string{"10.0.0.0/8", " 127.0.0.1 ", "", "::1", "2001:db8::/32"})
	require.NoError(t, err)
	assert.Equal(t, 4, pt.Len())

	for _, bad := range []string{"invalid-cidr-range", "10.0.0.0/33", "300.1.1.1"} {
		_, err := pkghttp.ParseTrustedProxies([]string{"10.0.0.0/8", bad})
		assert.Error(t, err, bad)
		assert.Contains(t, err.Error(), bad)
	}

	var none *pkghttp.ProxyTrust
	assert.Equal(t, 0, none.Len())
}

func TestProxyTrust_ClientIP(t *testing.T) {
	internal := mustTrust(t, "10.0.0.0/8", "127.0.0.1")

	tests := []struct {
		name       string
		trust      *pkghttp.ProxyTrust
		remoteAddr string
		xff        string
		realIP     string
		want       string
	}{
		{
			name:       "untrusted peer cannot spoof",
			trust:      internal,
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4, 5.6.7.8",
			realIP:     "192.168.1.1",
			want:       "203.0.113.10",
		},
		{
			name:       "nil trust reads only the peer",
			trust:      nil,
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4",
			want:       "203.0.113.10",
		},
		{
			name:       "empty trust reads only the peer",
			trust:      mustTrust(t),
			remoteAddr: "10.0.0.5:1",
			xff:        "1.2.3.4",
			want:       "10.0.0.5",
		},
		{
			name:       "single trusted hop",
			trust:      internal,
			remoteAddr: "10.0.0.5:54321",
			xff:        "203.0.113.42",
			want:       "203.0.113.42",
		},
		{
			name:       "trusted chain is skipped",
			trust:      internal,
			remoteAddr: "10.0.0.5:54321",
			xff:        "203.0.113.42, 10.1.1.1, 10.0.0.7",
			want:       "203.0.113.42",
		},
		{
			name:       "prepended entries are ignored",
			trust:      internal,
			remoteAddr: "10.0.0.5:54321",
			xff:        "127.0.0.1, 198.51.100.7, 203.0.113.42",
			want:       "203.0.113.42",
		},
		{
			name:       "garbage hop stops the walk",
			trust:      internal,
			remoteAddr: "10.0.0.5:54321",
			xff:        "203.0.113.42, not-an-ip, 10.0.0.7",
			want:       "10.0.0.7",
		},
		{
			name:       "X-Real-IP without X-Forwarded-For",
			trust:      internal,
			remoteAddr: "10.0.0.5:54321",
			realIP:     "203.0.113.42",
			want:       "203.0.113.42",
		},
		{
			name:       "ipv6 behind ipv6 proxy",
			trust:      mustTrust(t, "::1/128"),
			remoteAddr: "[::1]:54321",
			xff:        "2001:db8::1",
			want:       "2001:db8::1",
		},
		{
			name:       "ipv4-mapped peer matches ipv4 range",
			trust:      internal,
			remoteAddr: "[::ffff:10.0.0.5]:80",
			xff:        "203.0.113.42",
			want:       "203.0.113.42",
		},
		{
			name:       "peer without port",
			trust:      internal,
			remoteAddr: "203.0.113.10",
			want:       "203.0.113.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}

			assert.Equal(t, tt.want, tt.trust.ClientIP(req))
		})
	}
}

func TestProxyTrust_ClientIP_UnparseablePeer(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)

	req.RemoteAddr = ""
	assert.Equal(t, "unknown", mustTrust(t, "10.0.0.0/8").ClientIP(req))

	req.RemoteAddr = "@unix"
	assert.Equal(t, "@unix", mustTrust(t, "10.0.0.0/8").ClientIP(req))
}
