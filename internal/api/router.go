package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/avelez/chapterboard/internal/config"
	"github.com/avelez/chapterboard/internal/identity"
	"github.com/avelez/chapterboard/internal/mailer"
	"github.com/avelez/chapterboard/internal/onboarding"
	"github.com/avelez/chapterboard/internal/session"
	"github.com/avelez/chapterboard/internal/token"
)

// Deps bundles the services the router hands to handlers.
type Deps struct {
	DB       *gorm.DB
	Resolver *identity.Resolver
	Sessions *session.Store
	Orch     *onboarding.Orchestrator
	Issuer   *token.Issuer
	Mail     mailer.Mailer
	Provider IdentityProvider
}

// NewRouter creates a new HTTP router
func NewRouter(cfg *config.Config, d Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(SecurityHeadersMiddleware(cfg))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authLimiter := NewRateLimiter(rate.Every(time.Second), 10)
	authLimiter.CleanupOldLimiters()

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Auth routes, rate limited
		r.Group(func(r chi.Router) {
			r.Use(StrictRateLimitMiddleware(authLimiter))

			r.Post("/session", HandleProviderLogin(d.Resolver, d.Sessions, d.Provider))
			r.Delete("/session", HandleLogout(d.Sessions))
			r.Post("/magic-link", HandleRequestMagicLink(d.Issuer, d.Mail, cfg.AppURL))
			r.Get("/magic-link/verify", HandleVerifyMagicLink(d.Resolver, d.Sessions, d.Issuer))
			r.Post("/account-link", HandleAccountLink(d.Orch))
			r.Post("/password-reset", HandleCompletePasswordReset(d.DB, d.Issuer, d.Sessions))
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Sessions))

			r.Get("/user/me", HandleGetCurrentUser())
			r.Put("/user/me", HandleUpdateProfile(d.DB))
			r.Delete("/user/me", HandleDeleteAccount(d.DB, d.Sessions))
			r.Post("/onboarding", HandleCompleteOnboarding(d.Orch))
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
