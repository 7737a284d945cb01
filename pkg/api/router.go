// Package api assembles the HTTP surface: routing, middleware and the
// server lifecycle around the share gateway and the signaling hub.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sharesync/sharesync/internal/logger"
	"github.com/sharesync/sharesync/internal/metrics"
	"github.com/sharesync/sharesync/pkg/api/auth"
	"github.com/sharesync/sharesync/pkg/api/handlers"
	apimw "github.com/sharesync/sharesync/pkg/api/middleware"
	"github.com/sharesync/sharesync/pkg/gateway"
	"github.com/sharesync/sharesync/pkg/ratelimit"
	"github.com/sharesync/sharesync/pkg/signaling"
	"github.com/sharesync/sharesync/pkg/store"
)

// RouterDeps carries everything the router wires together.
type RouterDeps struct {
	Store    store.Store
	Gateway  *gateway.Gateway
	Hub      *signaling.Hub
	Sessions *auth.SessionService
	Verifier auth.IdentityVerifier
	Limiter  *ratelimit.Limiter
	Version  string

	ShareMetrics *metrics.ShareMetrics
	HTTPMetrics  *metrics.HTTPMetrics
}

// NewRouter creates and configures the chi router with all middleware
// and routes.
//
// Middleware order matters: request id and real ip first so the logger
// and the rate limiter see them, session resolution before the
// per-bucket rate limits so authenticated tiers apply.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(observeRequests(deps.HTTPMetrics))
	r.Use(apimw.Session(deps.Sessions))

	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Hub, deps.Version)
	authHandler := handlers.NewAuthHandler(deps.Verifier, deps.Sessions, deps.Store)
	shareHandler := handlers.NewShareHandler(deps.Gateway, deps.ShareMetrics)
	filesHandler := handlers.NewFilesHandler(deps.Gateway, deps.ShareMetrics)
	p2pHandler := handlers.NewP2PHandler(deps.Hub)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	if metrics.IsEnabled() {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	// Signaling transport. The websocket carries its own admission
	// and framing limits, so only the API bucket gates the upgrade.
	r.With(apimw.RateLimit(deps.Limiter, ratelimit.BucketAPI)).
		Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			principal := auth.PrincipalFromContext(r.Context())
			deps.Hub.ServeWS(w, r, principal.UserID, ratelimit.HashIP(apimw.ClientIP(r)))
		})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(apimw.RateLimit(deps.Limiter, ratelimit.BucketAuth)).
				Post("/session", authHandler.CreateSession)
			r.Delete("/session", authHandler.DeleteSession)
			r.With(apimw.RateLimit(deps.Limiter, ratelimit.BucketAPI)).
				Get("/me", authHandler.Me)
		})

		r.Route("/upload", func(r chi.Router) {
			r.Use(apimw.RateLimit(deps.Limiter, ratelimit.BucketUpload))
			r.Post("/presign", shareHandler.PresignUpload)
			r.Post("/finalize", shareHandler.FinalizeUpload)
		})

		r.Route("/share/{shareID}", func(r chi.Router) {
			r.With(apimw.RateLimit(deps.Limiter, ratelimit.BucketAPI)).
				Get("/", shareHandler.GetShare)
			r.With(apimw.RateLimit(deps.Limiter, ratelimit.BucketDownload)).
				Post("/download", shareHandler.Download)
		})

		r.Route("/files", func(r chi.Router) {
			r.Use(apimw.RateLimit(deps.Limiter, ratelimit.BucketAPI))
			r.Get("/", filesHandler.List)
			r.Delete("/{shareID}", filesHandler.Revoke)
			r.Put("/{shareID}/password", filesHandler.SetPassword)
		})

		r.Route("/p2p", func(r chi.Router) {
			r.Use(apimw.RateLimit(deps.Limiter, ratelimit.BucketAPI))
			r.Get("/room", p2pHandler.CreateRoom)
			r.Get("/room/{roomID}", p2pHandler.GetRoom)
		})

		r.With(apimw.RateLimit(deps.Limiter, ratelimit.BucketAPI)).
			Get("/stats", healthHandler.Stats)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs request start at DEBUG and completion at INFO using
// the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimw.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		)
	})
}

// observeRequests records per-route request counts and latencies. Routes
// are labeled by chi pattern, not raw path, to bound cardinality.
func observeRequests(m *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			m.Observe(route, r.Method, strconv.Itoa(ww.Status()), time.Since(start).Seconds())
		})
	}
}
