package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "hookbridge/internal/api/context"
	"hookbridge/internal/api/handlers"
	"hookbridge/internal/api/middleware"
)

type Dependencies struct {
	HealthHandler  *handlers.HealthHandler
	WebhookHandler *handlers.WebhookHandler
	RPCHandler     *handlers.RPCHandler
	RateLimiter    *middleware.RateLimiter
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	rateLimit := middleware.RateLimit(deps.RateLimiter)

	router.GET("/health", wrap(deps.HealthHandler.Check))

	// Webhook ingestion
	router.POST("/webhook/:subscription_id", chain(deps.WebhookHandler.Receive, rateLimit))

	// Control plane: JSON-RPC calls and the notification stream. The
	// RPC handler applies its own admission so call denials come back as
	// JSON-RPC errors rather than the plain envelope; a denied stream gets
	// a plain-text 429.
	router.POST("/mcp", wrap(deps.RPCHandler.Call))
	router.GET("/mcp", wrap(deps.RPCHandler.Stream))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
