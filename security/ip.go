package security

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIPResolver extracts the client address used for rate limiting and
// audit logs.
//
// Forwarding headers are only honoured when TrustProxy is set. With
// X-Forwarded-For, the rightmost TrustedProxyCount entries belong to our own
// proxies and the entry just left of them is the client; anything further
// left was supplied by the client and may be spoofed.
type ClientIPResolver struct {
	TrustProxy        bool
	TrustedProxyCount int
}

// ClientIP returns the best-known client address for r
func (c ClientIPResolver) ClientIP(r *http.Request) string {
	if c.TrustProxy {
		if ip, ok := c.fromForwardedFor(r.Header.Get("X-Forwarded-For")); ok {
			return ip.String()
		}
		if ip, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
			return ip.String()
		}
	}
	return remoteHost(r.RemoteAddr)
}

func (c ClientIPResolver) fromForwardedFor(xff string) (netip.Addr, bool) {
	if xff == "" {
		return netip.Addr{}, false
	}
	hops := strings.Split(xff, ",")

	proxies := c.TrustedProxyCount
	if proxies <= 0 {
		proxies = 1
	}
	idx := len(hops) - proxies - 1
	if idx < 0 {
		idx = 0
	}

	ip, err := netip.ParseAddr(strings.TrimSpace(hops[idx]))
	if err != nil {
		return netip.Addr{}, false
	}
	return ip, true
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
