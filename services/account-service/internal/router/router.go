package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/ganapathi9191/vegie9/services/account-service/internal/handler"
	"github.com/ganapathi9191/vegie9/shared/auth"
	"github.com/ganapathi9191/vegie9/shared/middleware"
)

// Params holds everything the HTTP router mounts.
type Params struct {
	Logger      *zerolog.Logger
	Handler     *handler.AccountHTTPHandler
	Push        http.Handler
	JWTAuth     *auth.JWTAuthenticator
	RequireAuth bool
	RateLimiter *middleware.ClientRateLimiter
	CORSOrigins []string
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
}

// NewRouter mounts the account API under /api plus /healthz and /ws.
func NewRouter(p Params) http.Handler {
	r := chi.NewRouter()

	if p.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(hlog.NewHandler(*p.Logger))
	r.Use(middleware.RequestID)
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: p.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", p.Handler.Health)
	if p.Push != nil {
		r.Handle("/ws", p.Push)
	}

	r.Route("/api", func(r chi.Router) {
		if p.RateLimiter != nil {
			r.Use(p.RateLimiter.Handler)
		}

		r.Post("/register", p.Handler.Register)
		r.Post("/verify-otp", p.Handler.VerifyOTP)
		r.Post("/resend-otp", p.Handler.ResendOTP)
		r.Post("/set-password", p.Handler.SetPassword)
		r.Post("/login", p.Handler.Login)

		r.Group(func(r chi.Router) {
			if p.RequireAuth {
				r.Use(middleware.NewJWTMiddleware(p.JWTAuth))
			}

			r.Get("/profile/{userId}", p.Handler.GetProfile)
			r.Put("/profile/{userId}", p.Handler.UpdateProfile)
			r.Put("/address/{userId}", p.Handler.UpsertAddress)
			r.Get("/address/{userId}", p.Handler.GetAddress)
		})
	})

	return r
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}
