package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns a function resolving the caller address of a request.
//
// With trustForwarded set, the first valid entry of X-Forwarded-For wins;
// this is the address DDNS clients expect to be registered when they sit
// behind a reverse proxy. Otherwise, or when the header holds nothing
// usable, the transport peer address is used.
func ClientIP(trustForwarded bool) func(*http.Request) string {
	return func(r *http.Request) string {
		if trustForwarded {
			if ip := forwardedFor(r.Header.Get("X-Forwarded-For")); ip != "" {
				return ip
			}
		}
		return peerIP(r.RemoteAddr)
	}
}

func forwardedFor(header string) string {
	if header == "" {
		return ""
	}
	first, _, _ := strings.Cut(header, ",")
	addr, err := netip.ParseAddr(strings.TrimSpace(first))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}

func peerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return host
	}
	return addr.Unmap().String()
}
