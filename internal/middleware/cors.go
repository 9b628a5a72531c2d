package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// CORS answers cross-origin requests from the configured origins. An entry
// of "*" allows every origin; an entry starting with "." allows subdomains.
type CORS struct {
	allowedOrigins []string
	allowAll       bool
}

// NewCORS creates the CORS middleware.
func NewCORS(allowedOrigins []string) *CORS {
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
			break
		}
	}
	return &CORS{allowedOrigins: allowedOrigins, allowAll: allowAll}
}

// Handler wraps next.
func (m *CORS) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && m.Allowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+TraceHeader)
			w.Header().Set("Access-Control-Expose-Headers", TraceHeader)
			w.Header().Set("Access-Control-Max-Age", "3600")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allowed reports whether origin may call the daemon. Requests without an
// Origin header (non-browser clients) are allowed.
func (m *CORS) Allowed(origin string) bool {
	if origin == "" || m.allowAll {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range m.allowedOrigins {
		allowed = strings.ToLower(allowed)
		switch {
		case allowed == strings.ToLower(origin):
			return true
		case strings.HasPrefix(allowed, ".") && strings.HasSuffix(host, allowed):
			return true
		}
	}
	return false
}

// CheckOrigin adapts Allowed for a websocket upgrader.
func (m *CORS) CheckOrigin(r *http.Request) bool {
	return m.Allowed(r.Header.Get("Origin"))
}
