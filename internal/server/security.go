package server

import "net/http"

// secureHeaders adds common security headers. HSTS is only sent when the site runs on TLS.
func secureHeaders(tls bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tls {
				w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
			}
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			// pages carry an inline stylesheet and post back to this origin only
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; style-src 'unsafe-inline'; form-action 'self'; base-uri 'none'")

			next.ServeHTTP(w, r)
		})
	}
}
