// ABOUTME: chi route table and middleware for the HTTP surface
// ABOUTME: CORS preflight, panic recovery, request logging and the admitted /api group

package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/campaign-gateway/internal/auth"
)

// CORS headers sent on every response
const (
	corsAllowOrigin  = "*"
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization"
)

// routes builds the HTTP handler.
// Root middlewares run before route matching, so OPTIONS is answered for any path.
func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(g.recoverMiddleware)
	r.Use(g.loggingMiddleware)
	r.Use(corsMiddleware)

	r.NotFound(handleNotFound)
	r.MethodNotAllowed(handleNotFound)

	r.Get("/", g.handleRoot)
	r.Get("/health", g.handleHealth)
	r.Get("/ws", g.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(auth.HTTPAdmissionMiddleware(g.gate, g.config.Server.TrustProxyHeaders, g.writeError))
		r.Use(rateLimitHeadersMiddleware)
		r.Get("/api/status", g.handleStatus)
		r.Post("/api/generate", g.handleGenerate)
		r.Get("/api/results/{id}", g.handleGetResult)
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", corsAllowOrigin)
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitHeadersMiddleware exposes the admitted request's window
func rateLimitHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authCtx := auth.FromContext(r.Context()); authCtx != nil {
			setRateLimitHeaders(w, authCtx.RateLimit)
		}
		next.ServeHTTP(w, r)
	})
}

// recoverMiddleware turns handler panics into internal_error envelopes
func (g *Gateway) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			g.logger.Error("panic recovered",
				"method", r.Method,
				"path", r.URL.Path,
				"panic", rec,
			)
			g.reporter.CaptureError(r.Context(), fmt.Errorf("panic: %v", rec), "method", r.Method, "path", r.URL.Path)
			sendJSONError(w, http.StatusInternalServerError, CodeInternalError, "Error generating content", nil)
		}()
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		g.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Not Found", http.StatusNotFound)
}
