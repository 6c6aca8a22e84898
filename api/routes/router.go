package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lapor-warga/portal-backend/api/controllers"
	"github.com/lapor-warga/portal-backend/api/middleware"
	"github.com/lapor-warga/portal-backend/pkg/config"
	"github.com/lapor-warga/portal-backend/pkg/logger"
	"github.com/lapor-warga/portal-backend/pkg/redis"
)

// RouterParams bundles what the HTTP surface is built from.
type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	Portal      controllers.Portal
	RateLimiter redis.RateLimiter
	Pingers     map[string]controllers.Pinger
	Gatherer    prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg.App.Env))
		r.Get("/ready", controllers.HealthReady(cfg.App.Env, params.Pingers, logg))
	})

	if params.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ClientID(middleware.ClientIDParams{
			Logger:       logg,
			JWT:          &cfg.JWT,
			SecureCookie: cfg.App.ClientCookieSecure,
		}))

		r.Route("/auth", func(r chi.Router) {
			r.With(middleware.AuthRateLimit(registerPolicy, params.RateLimiter, logg)).Post("/register", controllers.AuthRegister(params.Portal, logg))
			r.With(middleware.AuthRateLimit(loginPolicy, params.RateLimiter, logg)).Post("/login", controllers.AuthLogin(params.Portal, logg))
			r.Post("/logout", controllers.AuthLogout(params.Portal, logg))
			r.Post("/refresh", controllers.AuthRefresh(params.Portal, logg))
			r.Patch("/email", controllers.AuthUpdateEmail(params.Portal, logg))
		})

		r.Get("/state", controllers.PortalState(params.Portal, logg))
		r.Post("/navigate", controllers.PortalNavigate(params.Portal, logg))

		r.Route("/profile", func(r chi.Router) {
			r.Patch("/", controllers.ProfileUpdate(params.Portal, logg))
			r.Post("/refresh", controllers.ProfileRefresh(params.Portal, logg))
		})
	})

	return r
}
