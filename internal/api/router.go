// Package api wires the HTTP routes: CORS, auth, rate limiting and metrics.
package api

import (
	"c4chat/internal/api/handlers"
	"c4chat/internal/api/respond"
	"c4chat/internal/app"
	"c4chat/internal/auth"
	"c4chat/internal/logger"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"
	limiterhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

type cors struct {
	origin string
}

func (c cors) setHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", c.origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Expose-Headers", handlers.MessageIDHeader)
}

func (c cors) enable(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.setHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// preflight answers OPTIONS requests
func (c cors) preflight(w http.ResponseWriter, r *http.Request) {
	c.setHeaders(w)
	w.WriteHeader(http.StatusOK)
}

// newRateLimit limits requests per client IP using the "<count>-<period>" format
func newRateLimit(formatted string) (func(http.HandlerFunc) http.HandlerFunc, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", formatted, err)
	}

	middleware := limiterhttp.NewMiddleware(
		limiter.New(memory.NewStore(), rate),
		limiterhttp.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			logger.Log.WithField("remote_addr", r.RemoteAddr).Warn("Rate limit reached")
			respond.Error(w, http.StatusTooManyRequests, respond.CodeRateLimited, "Too many requests")
		}),
	)

	return func(next http.HandlerFunc) http.HandlerFunc {
		return middleware.Handler(next).ServeHTTP
	}, nil
}

// NewRouter registers every route on a new ServeMux
func NewRouter(config *app.Config, authenticator *auth.Auth, chatHandler *handlers.ChatHandlers) (http.Handler, error) {
	rateLimit, err := newRateLimit(config.AppConfig.Server.RateLimit)
	if err != nil {
		return nil, err
	}

	c := cors{origin: config.AppConfig.Server.ClientOrigin}
	protected := func(h http.HandlerFunc) http.HandlerFunc {
		return c.enable(authenticator.Middleware(h))
	}

	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("POST /api/login", c.enable(authenticator.LoginHandler))
	mux.HandleFunc("OPTIONS /api/login", c.preflight)
	mux.HandleFunc("POST /api/register", c.enable(authenticator.RegisterHandler))
	mux.HandleFunc("OPTIONS /api/register", c.preflight)
	mux.HandleFunc("GET /api/health", c.enable(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))
	mux.HandleFunc("OPTIONS /api/health", c.preflight)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Generation and uploads
	mux.HandleFunc("POST /postMessage", protected(rateLimit(chatHandler.PostMessageHandler)))
	mux.HandleFunc("OPTIONS /postMessage", c.preflight)
	mux.HandleFunc("POST /uploadAttachment", protected(rateLimit(chatHandler.UploadAttachmentHandler)))
	mux.HandleFunc("OPTIONS /uploadAttachment", c.preflight)

	// Account
	mux.HandleFunc("GET /api/me", protected(chatHandler.GetMeHandler))
	mux.HandleFunc("OPTIONS /api/me", c.preflight)
	mux.HandleFunc("PUT /api/me/openrouter-key", protected(chatHandler.SetOpenRouterKeyHandler))
	mux.HandleFunc("OPTIONS /api/me/openrouter-key", c.preflight)
	mux.HandleFunc("GET /api/models", protected(chatHandler.GetModelsHandler))
	mux.HandleFunc("OPTIONS /api/models", c.preflight)

	// Threads
	mux.HandleFunc("POST /api/threads", protected(chatHandler.CreateThreadHandler))
	mux.HandleFunc("GET /api/threads", protected(chatHandler.GetThreadsHandler))
	mux.HandleFunc("OPTIONS /api/threads", c.preflight)
	mux.HandleFunc("PATCH /api/threads/{id}", protected(chatHandler.UpdateThreadHandler))
	mux.HandleFunc("DELETE /api/threads/{id}", protected(chatHandler.DeleteThreadHandler))
	mux.HandleFunc("OPTIONS /api/threads/{id}", c.preflight)
	mux.HandleFunc("GET /api/threads/{id}/messages", protected(chatHandler.GetThreadMessagesHandler))
	mux.HandleFunc("OPTIONS /api/threads/{id}/messages", c.preflight)

	// Messages and attachments
	mux.HandleFunc("POST /api/messages/{id}/stop", protected(chatHandler.StopMessageHandler))
	mux.HandleFunc("OPTIONS /api/messages/{id}/stop", c.preflight)
	mux.HandleFunc("DELETE /api/messages/{id}", protected(chatHandler.DeleteMessageHandler))
	mux.HandleFunc("OPTIONS /api/messages/{id}", c.preflight)
	mux.HandleFunc("DELETE /api/attachments/{id}", protected(chatHandler.DeleteAttachmentHandler))
	mux.HandleFunc("OPTIONS /api/attachments/{id}", c.preflight)

	return mux, nil
}
