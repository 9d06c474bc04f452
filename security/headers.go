package security

import "net/http"

const (
	// apiCSP forbids loading anything; JSON responses need no resources
	apiCSP = "default-src 'none'; frame-ancestors 'none'"

	// pageCSP allows the inline styles of the callback result page and nothing else
	pageCSP = "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none'"
)

// SetSecurityHeaders sets the headers shared by every OAuth response.
// Responses may carry tokens or authorization URLs, so nothing is cached.
// HSTS is only sent when the service is reached over HTTPS.
func SetSecurityHeaders(w http.ResponseWriter, https bool) {
	setCommonHeaders(w, https)
	w.Header().Set("Content-Security-Policy", apiCSP)
}

// SetPageSecurityHeaders is SetSecurityHeaders for the small HTML pages
// rendered after a provider callback.
func SetPageSecurityHeaders(w http.ResponseWriter, https bool) {
	setCommonHeaders(w, https)
	w.Header().Set("Content-Security-Policy", pageCSP)
}

func setCommonHeaders(w http.ResponseWriter, https bool) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	// Authorization codes and states travel in the callback URL
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	if https {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// IsHTTPS reports whether the request reached us over TLS, directly or via a
// trusted proxy that sets X-Forwarded-Proto.
func IsHTTPS(r *http.Request, trustProxy bool) bool {
	if r.TLS != nil {
		return true
	}
	return trustProxy && r.Header.Get("X-Forwarded-Proto") == "https"
}
