package main

import (
	"context"
	"flag"
	"os"

	"github.com/joho/godotenv"

	"github.com/lendkeep/lendkeep-backend/internal/titles"
	"github.com/lendkeep/lendkeep-backend/internal/users"
	"github.com/lendkeep/lendkeep-backend/pkg/config"
	"github.com/lendkeep/lendkeep-backend/pkg/db"
	"github.com/lendkeep/lendkeep-backend/pkg/db/models"
	"github.com/lendkeep/lendkeep-backend/pkg/enums"
	"github.com/lendkeep/lendkeep-backend/pkg/logger"
	"github.com/lendkeep/lendkeep-backend/pkg/migrate"
	"github.com/lendkeep/lendkeep-backend/pkg/security"
)

type seedTitle struct {
	name          string
	author        string
	isbn          string
	category      string
	publishedYear int
	totalCopies   int
}

var sampleTitles = []seedTitle{
	{"The Left Hand of Darkness", "Ursula K. Le Guin", "9780441478125", "Science Fiction", 1969, 3},
	{"Gödel, Escher, Bach", "Douglas Hofstadter", "9780465026562", "Nonfiction", 1979, 2},
	{"The Remains of the Day", "Kazuo Ishiguro", "9780679731726", "Fiction", 1989, 2},
	{"A Pattern Language", "Christopher Alexander", "9780195019193", "Architecture", 1977, 1},
	{"The Dispossessed", "Ursula K. Le Guin", "9780061054884", "Science Fiction", 1974, 1},
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "seed"})

	_ = godotenv.Load()

	librarianEmail := flag.String("librarian-email", "librarian@lendkeep.dev", "email for the seeded librarian account")
	librarianPassword := flag.String("librarian-password", "", "password for the seeded librarian account (required)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "seed",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env})

	if cfg.App.IsProd() {
		logg.Warn(ctx, "seed refuses to run against production")
		os.Exit(1)
	}
	if *librarianPassword == "" {
		logg.Warn(ctx, "missing -librarian-password")
		os.Exit(1)
	}

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	userRepo := users.NewRepository(dbClient.DB())
	titleRepo := titles.NewRepository(dbClient.DB())

	if err := seedLibrarian(ctx, logg, userRepo, cfg, *librarianEmail, *librarianPassword); err != nil {
		logg.Error(ctx, "failed to seed librarian", err)
		os.Exit(1)
	}

	created := 0
	for _, st := range sampleTitles {
		ok, err := seedOneTitle(ctx, titleRepo, st)
		if err != nil {
			logg.Error(logg.WithField(ctx, "title", st.name), "failed to seed title", err)
			os.Exit(1)
		}
		if ok {
			created++
		}
	}

	logg.Info(logg.WithField(ctx, "titles_created", created), "seed complete")
}

func seedLibrarian(ctx context.Context, logg *logger.Logger, repo *users.Repository, cfg *config.Config, email, password string) error {
	existing, err := repo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		logg.Info(logg.WithField(ctx, "email", email), "librarian already present, skipping")
		return nil
	}

	hash, err := security.HashPassword(password, cfg.Password)
	if err != nil {
		return err
	}

	return repo.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Lending",
		LastName:     "Desk",
		Role:         enums.UserRoleLibrarian,
		IsActive:     true,
	})
}

func seedOneTitle(ctx context.Context, repo *titles.Repository, st seedTitle) (bool, error) {
	existing, err := repo.FindByISBN(ctx, st.isbn)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	isbn := st.isbn
	category := st.category
	year := st.publishedYear
	return true, repo.Create(ctx, &models.Title{
		Name:            st.name,
		Author:          st.author,
		ISBN:            &isbn,
		Category:        &category,
		PublishedYear:   &year,
		TotalCopies:     st.totalCopies,
		AvailableCopies: st.totalCopies,
		IsActive:        true,
	})
}
