// Package httpapi exposes the registry over HTTP/JSON.
package httpapi

import (
	"net/http"
	"time"

	"model_registry/internal/auth"
	"model_registry/internal/logging"
	mw "model_registry/internal/middleware"
	"model_registry/internal/ratelimit"
	"model_registry/internal/registry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Registry *registry.Service
	Auth     *auth.Service
	Log      *zap.Logger

	// RateLimit guards mutating routes; nil disables limiting.
	RateLimit          ratelimit.Limiter
	RateLimitPerMinute int

	CORSOrigins  []string
	CookieSecure bool

	// MaxMemory is how much of a multipart upload is buffered in memory
	// before spilling to temporary files.
	MaxMemory int64
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Dependencies) http.Handler {
	if deps.RateLimit == nil {
		deps.RateLimit = ratelimit.NewNoopLimiter()
	}
	if deps.MaxMemory <= 0 {
		deps.MaxMemory = 32 << 20
	}
	if len(deps.CORSOrigins) == 0 {
		deps.CORSOrigins = []string{"*"}
	}

	h := &Handler{
		reg:          deps.Registry,
		auth:         deps.Auth,
		log:          deps.Log.Named("http"),
		cookieSecure: deps.CookieSecure,
		maxMemory:    deps.MaxMemory,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           int((12 * time.Hour).Seconds()),
	}))

	r.Get("/health", h.Health)

	requireAuth := mw.RequireAuth(deps.Auth)
	limit := mw.RateLimit(deps.RateLimit, deps.RateLimitPerMinute, h.log)
	// Mutating routes authenticate first so the limiter keys by user.
	protected := func(r chi.Router) chi.Router { return r.With(requireAuth, limit) }

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/auth", func(r chi.Router) {
			r.With(limit).Post("/signup", h.Signup)
			r.With(limit).Post("/login", h.Login)
			r.Post("/logout", h.Logout)
			r.With(requireAuth).Get("/me", h.Me)
		})

		r.Route("/models", func(r chi.Router) {
			r.Get("/", h.ListModels)
			protected(r).Post("/", h.CreateModel)
			r.Get("/groups", h.ListGroups)
			protected(r).Delete("/groups/{group}", h.DeleteGroup)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", h.GetModel)
				protected(r).Delete("/", h.DeleteModel)
				r.Get("/resolve", h.Resolve)

				r.Get("/versions", h.ListVersions)
				protected(r).Post("/versions/declare", h.Declare)
				protected(r).Post("/versions/new", h.UploadDirect)

				r.Route("/versions/{version}", func(r chi.Router) {
					protected(r).Post("/chunked/initiate", h.InitiateChunked)
					protected(r).Put("/chunks/{chunk}", h.UploadChunk)
					protected(r).Post("/chunked/complete", h.CompleteChunked)
					protected(r).Delete("/chunked/abort", h.AbortChunked)
					r.Get("/download", h.ListVersionFiles)
					r.Get("/download/{filename}", h.DownloadFile)
				})

				r.Get("/aliases", h.ListAliases)
				protected(r).Post("/aliases/{alias}", h.SetAlias)
				protected(r).Delete("/aliases/{alias}", h.DeleteAlias)
			})
		})

		r.Get("/resolve/{group}/{variant}", h.ResolveByGroupVariant)

		r.Route("/dashboard", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/stats", h.DashboardStats)
			r.Get("/activity", h.RecentActivity)
		})
	})

	return r
}
