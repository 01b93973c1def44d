package middleware

import (
	"net/http"
	"runtime/debug"
)

// Recover converts a handler panic into a 500 response. Panics here are
// handler bugs, never mail-processing state, so the message stays queued.
func (m *Middleware) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				m.log.Error().
					Interface("error", err).
					Str("stack", string(debug.Stack())).
					Str("request_id", w.Header().Get("X-Request-ID")).
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Msg("panic recovered")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"internal_error","message":"an unexpected error occurred"}`))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
