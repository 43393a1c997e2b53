package web

import (
	"net"
	"net/http"
	"strings"
)

// proxiedRealIP sets RemoteAddr to the client address reported by a proxy,
// but only for connections from loopback, where the tunnel process runs.
// The rightmost X-Forwarded-For entry is used since it is the one the
// nearest proxy appended; earlier entries, X-Real-IP and True-Client-IP can
// be supplied by the client itself. Per-IP limits downstream key on the
// result.
func proxiedRealIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLoopback(r.RemoteAddr) {
			if ip := lastForwardedFor(r.Header.Values("X-Forwarded-For")); ip != "" {
				r.RemoteAddr = ip
			}
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func lastForwardedFor(values []string) string {
	if len(values) == 0 {
		return ""
	}
	parts := strings.Split(values[len(values)-1], ",")
	ip := strings.TrimSpace(parts[len(parts)-1])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
