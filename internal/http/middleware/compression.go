package middleware

import (
	"net/http"
	"strings"
)

// SkipCompression wraps a compression middleware so requests matched by skip
// are served uncompressed. Relayed media is streamed as received and must keep
// its upstream Content-Length and Content-Range.
func SkipCompression(compress func(http.Handler) http.Handler, skip func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compress(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}

// PathPrefix matches requests whose path starts with any of prefixes.
func PathPrefix(prefixes ...string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(r.URL.Path, p) {
				return true
			}
		}
		return false
	}
}
