package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminKey guards administrative endpoints with the static API key from
// configuration. An empty configured key disables the protected endpoints
// outright instead of leaving them open.
func (m *Middleware) AdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		configured := m.cfg.Admin.APIKey
		if configured == "" {
			http.Error(w, `{"error":"admin_disabled","message":"Administrative API is not configured"}`, http.StatusForbidden)
			return
		}

		presented := r.Header.Get("X-API-Key")
		if presented == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				presented = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) != 1 {
			m.log.Warn().Str("path", r.URL.Path).Msg("admin request rejected")
			http.Error(w, `{"error":"unauthorized","message":"Invalid or missing API key"}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
