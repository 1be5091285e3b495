// Package api provides the Operator Surface: a read-only HTTP+WebSocket
// view onto system health, the Condition Store, and the Session Store,
// for live dashboards. It has no order-entry or login routes.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/arlojex/tradepipe/cache"
	"github.com/arlojex/tradepipe/config"
	"github.com/arlojex/tradepipe/realtime"
	"github.com/arlojex/tradepipe/store"
	"github.com/arlojex/tradepipe/tracing"
)

// NewRouter creates and configures the Operator Surface's HTTP router.
func NewRouter(
	cfg *config.Config,
	conditions *store.ConditionStore,
	sessions *store.SessionStore,
	health *cache.HealthCache,
	feed *realtime.FeedHub,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(TraceMiddleware)
	r.Use(middleware.RealIP)
	r.Use(zerologLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(httprate.LimitByIP(100, 1*time.Minute))
	r.Use(httprate.LimitByIP(20, 1*time.Second))

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, 1048576)
			next.ServeHTTP(w, r)
		})
	})

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'self'")
			next.ServeHTTP(w, r)
		})
	})

	r.Use(newCORSMiddleware(cfg))
	r.Use(AuthMiddleware(cfg))
	r.Use(AuditMiddleware)

	h := NewHandler(conditions, sessions, health)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service": "tradepipe-operator",
			"version": "1.0.0",
			"status":  "running",
		})
	})

	r.Get("/health", h.HealthHandler)
	r.Get("/conditions", h.ConditionsHandler)
	r.Get("/session", h.SessionHandler)

	if feed != nil {
		r.Get("/feed", feed.HandleWebSocket)
	}

	return r
}

// zerologLogger is middleware that logs requests using zerolog.
func zerologLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger := tracing.Logger(r.Context())
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}

// newCORSMiddleware creates CORS middleware with origin whitelisting.
func newCORSMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, allowedOrigin := range cfg.AllowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Tradepipe-API-Key")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			if r.Method == "OPTIONS" {
				if allowed {
					w.WriteHeader(http.StatusOK)
				} else {
					w.WriteHeader(http.StatusForbidden)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
