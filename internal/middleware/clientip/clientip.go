// Package clientip provides utilities to inject the address of the client of
// a request in the context and retrieve it again.
package clientip

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Using an unexported type prevents key collisions from other packages.
type contextKey string

// ClientIPKey is the context key used to store the client address.
const ClientIPKey contextKey = "client-ip"

// Middleware injects the client address into the context. With
// trustForwardedFor the first X-Forwarded-For entry wins over the peer address.
func Middleware(trustForwardedFor bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := fromRequest(r, trustForwardedFor)
			ctx := context.WithValue(r.Context(), ClientIPKey, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the injected client address, empty if there is none.
func FromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ClientIPKey).(string)
	return ip
}

func fromRequest(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
