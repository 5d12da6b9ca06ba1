package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/lendkeep/lendkeep-backend/api/routes"
	authsvc "github.com/lendkeep/lendkeep-backend/internal/auth"
	"github.com/lendkeep/lendkeep-backend/internal/inventory"
	"github.com/lendkeep/lendkeep-backend/internal/lending"
	"github.com/lendkeep/lendkeep-backend/internal/loans"
	"github.com/lendkeep/lendkeep-backend/internal/titles"
	"github.com/lendkeep/lendkeep-backend/internal/users"
	"github.com/lendkeep/lendkeep-backend/pkg/config"
	"github.com/lendkeep/lendkeep-backend/pkg/db"
	"github.com/lendkeep/lendkeep-backend/pkg/logger"
	"github.com/lendkeep/lendkeep-backend/pkg/migrate"
	"github.com/lendkeep/lendkeep-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	userRepo := users.NewRepository(dbClient.DB())
	loanRepo := loans.NewRepository(dbClient.DB())
	titleRepo := titles.NewRepository(dbClient.DB())

	authService, err := authsvc.NewService(authsvc.ServiceParams{
		UserRepo:    userRepo,
		JWTConfig:   cfg.JWT,
		PasswordCfg: cfg.Password,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auth service", err)
		os.Exit(1)
	}

	titleService, err := titles.NewService(titleRepo, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create title service", err)
		os.Exit(1)
	}

	policy, err := lending.NewMaxActiveLoansPolicy(loanRepo, cfg.Lending.MaxActiveLoans)
	if err != nil {
		logg.Error(context.Background(), "failed to create eligibility policy", err)
		os.Exit(1)
	}

	lendingService, err := lending.NewService(loanRepo, titleRepo, userRepo, inventory.NewManager(), policy, dbClient, cfg.Lending, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create lending engine", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:         cfg,
			Logger:         logg,
			DBPinger:       dbClient,
			RedisClient:    redisClient,
			AuthService:    authService,
			TitleService:   titleService,
			LendingService: lendingService,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
