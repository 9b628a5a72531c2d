package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/R3E-Network/miniapp-host/internal/httputil"
	"github.com/R3E-Network/miniapp-host/internal/logging"
)

// AdminAuth guards operator endpoints with a static bearer token. An empty
// token disables the check.
type AdminAuth struct {
	token  string
	logger *logging.Logger
}

// NewAdminAuth creates the admin auth middleware.
func NewAdminAuth(token string, logger *logging.Logger) *AdminAuth {
	return &AdminAuth{token: token, logger: logger}
}

// Handler wraps next.
func (m *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.reject(w, r, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(m.token)) != 1 {
			m.reject(w, r, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *AdminAuth) reject(w http.ResponseWriter, r *http.Request, reason string) {
	m.logger.LogSecurityEvent(r.Context(), "admin_auth_failed", map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"reason": reason,
		"client": httputil.ClientIP(r),
	})
	httputil.Unauthorized(w, reason)
}
