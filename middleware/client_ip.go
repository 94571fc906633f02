package middleware

import (
	"net"
	"net/http"

	goOTP "github.com/MrEthical07/goOTP"
)

// ClientIP stores the peer address in the request context so the engine can
// attribute audit events and apply per-IP throttling. Proxy headers are not
// trusted; put a real-IP middleware in front when running behind one.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(goOTP.WithClientIP(r.Context(), ip)))
	})
}
