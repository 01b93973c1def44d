package router

import (
	"net/http"
	"time"

	"github.com/mailgraph/mailgraph/internal/handler"
	"github.com/mailgraph/mailgraph/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)

	// API v1 routes
	mux.HandleFunc("GET /api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"MailGraph API v1","version":"0.1.0"}`))
	})

	// The callback must stay public: the operator's browser arrives here
	// from Microsoft without any API key. Rate limited instead.
	callbackRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Limit:  10,
		Window: 1 * time.Minute,
		KeyFn:  middleware.IPKey,
	})
	mux.Handle("GET /api/v1/auth/microsoft/callback", callbackRateLimit(http.HandlerFunc(h.AuthorizationCallback)))

	// Everything below requires the admin API key
	adminMw := mw.AdminKey

	submitRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Limit:  100,
		Window: 1 * time.Minute,
		KeyFn:  middleware.IPKey,
	})
	testRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Limit:  5,
		Window: 1 * time.Minute,
		KeyFn:  middleware.IPKey,
	})

	// Transport config management
	mux.Handle("POST /api/v1/transports", adminMw(http.HandlerFunc(h.CreateTransport)))
	mux.Handle("GET /api/v1/transports", adminMw(http.HandlerFunc(h.ListTransports)))
	mux.Handle("GET /api/v1/transports/{id}", adminMw(http.HandlerFunc(h.GetTransport)))
	mux.Handle("PUT /api/v1/transports/{id}", adminMw(http.HandlerFunc(h.UpdateTransport)))
	mux.Handle("DELETE /api/v1/transports/{id}", adminMw(http.HandlerFunc(h.DeleteTransport)))
	mux.Handle("GET /api/v1/transports/{id}/status", adminMw(http.HandlerFunc(h.TransportStatus)))
	mux.Handle("POST /api/v1/transports/{id}/test", adminMw(testRateLimit(http.HandlerFunc(h.TestTransport))))
	mux.Handle("GET /api/v1/transports/{id}/logs", adminMw(http.HandlerFunc(h.ListTransportLogs)))
	mux.Handle("DELETE /api/v1/transports/{id}/logs", adminMw(http.HandlerFunc(h.ClearTransportLogs)))
	mux.Handle("GET /api/v1/transports/{id}/authorize", adminMw(http.HandlerFunc(h.StartAuthorization)))

	// Message queue
	mux.Handle("POST /api/v1/messages", adminMw(submitRateLimit(http.HandlerFunc(h.SubmitMessage))))
	mux.Handle("GET /api/v1/messages/{id}", adminMw(http.HandlerFunc(h.GetMessage)))
	mux.Handle("POST /api/v1/messages/{id}/resend", adminMw(http.HandlerFunc(h.ResendMessage)))
	mux.Handle("POST /api/v1/queue/process", adminMw(http.HandlerFunc(h.ProcessQueue)))

	// Apply middleware stack
	var root http.Handler = mux

	// Request logging
	root = mw.Logger(root)

	// Timing
	root = mw.Timing(root)

	// Request ID
	root = mw.RequestID(root)

	// Panic recovery (outermost)
	root = mw.Recover(root)

	return root
}
