package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lendkeep/lendkeep-backend/api/controllers"
	"github.com/lendkeep/lendkeep-backend/api/middleware"
	authsvc "github.com/lendkeep/lendkeep-backend/internal/auth"
	"github.com/lendkeep/lendkeep-backend/internal/lending"
	titlesvc "github.com/lendkeep/lendkeep-backend/internal/titles"
	"github.com/lendkeep/lendkeep-backend/pkg/config"
	"github.com/lendkeep/lendkeep-backend/pkg/db"
	"github.com/lendkeep/lendkeep-backend/pkg/logger"
	"github.com/lendkeep/lendkeep-backend/pkg/redis"
)

// RouterParams collects everything the HTTP surface depends on.
type RouterParams struct {
	Config         *config.Config
	Logger         *logger.Logger
	DBPinger       db.Pinger
	RedisClient    *redis.Client
	AuthService    authsvc.Service
	TitleService   titlesvc.Service
	LendingService lending.Service
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
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
		r.Get("/live", controllers.HealthLive())
		r.Get("/ready", controllers.HealthReady(p.DBPinger, p.RedisClient, logg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, p.RedisClient, logg)).Post("/login", controllers.Login(p.AuthService, logg))
		r.With(middleware.AuthRateLimit(registerPolicy, p.RedisClient, logg)).Post("/register", controllers.Register(p.AuthService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(p.RedisClient, logg))

		r.Get("/me", controllers.Me(p.AuthService, logg))

		r.Route("/titles", func(r chi.Router) {
			r.Get("/", controllers.ListTitles(p.TitleService, logg))
			r.Get("/{titleID}", controllers.GetTitle(p.TitleService, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireLibrarian(logg))
				r.Post("/", controllers.CreateTitle(p.TitleService, logg))
				r.Patch("/{titleID}", controllers.UpdateTitle(p.TitleService, logg))
				r.Delete("/{titleID}", controllers.DeleteTitle(p.TitleService, logg))
			})
		})

		r.Route("/loans", func(r chi.Router) {
			r.Post("/", controllers.Borrow(p.LendingService, logg))
			r.Get("/", controllers.ListLoans(p.LendingService, logg))
			r.Get("/eligibility", controllers.Eligibility(p.LendingService, logg))
			r.Post("/{loanID}/return", controllers.Return(p.LendingService, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireLibrarian(logg))
				r.Get("/overdue", controllers.ListOverdue(p.LendingService, logg))
				r.Post("/overdue/scan", controllers.ScanOverdue(p.LendingService, logg))
			})
		})
	})

	return r
}
