package titles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lendkeep/lendkeep-backend/pkg/db"
	"github.com/lendkeep/lendkeep-backend/pkg/db/models"
	pkgerrors "github.com/lendkeep/lendkeep-backend/pkg/errors"
	"github.com/lendkeep/lendkeep-backend/pkg/pagination"
)

// Service exposes catalog management operations.
type Service interface {
	CreateTitle(ctx context.Context, input CreateTitleInput) (*TitleDTO, error)
	UpdateTitle(ctx context.Context, titleID uuid.UUID, input UpdateTitleInput) (*TitleDTO, error)
	DeleteTitle(ctx context.Context, titleID uuid.UUID) error
	GetTitle(ctx context.Context, titleID uuid.UUID) (*TitleDTO, error)
	ListTitles(ctx context.Context, input ListTitlesInput) (*TitleListResult, error)
}

// CreateTitleInput holds the validated payload to add a title.
type CreateTitleInput struct {
	Name          string
	Author        string
	ISBN          *string
	Category      *string
	PublishedYear *int
	Description   *string
	CoverImageURL *string
	TotalCopies   int
	Rating        float64
}

// UpdateTitleInput holds optional mutation values for a title.
type UpdateTitleInput struct {
	Name          *string
	Author        *string
	ISBN          *string
	Category      *string
	PublishedYear *int
	Description   *string
	CoverImageURL *string
	TotalCopies   *int
	Rating        *float64
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	repo *Repository
	tx   txRunner
}

// NewService constructs a catalog service instance.
func NewService(repo *Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("title repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

// CreateTitle adds a catalog entry. Every copy starts on the shelf, so
// available_copies begins equal to total_copies.
func (s *service) CreateTitle(ctx context.Context, input CreateTitleInput) (*TitleDTO, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if strings.TrimSpace(input.Author) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "author is required")
	}
	if input.TotalCopies < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total_copies must be at least 1")
	}
	if err := validateRating(input.Rating); err != nil {
		return nil, err
	}

	title := &models.Title{
		Name:            strings.TrimSpace(input.Name),
		Author:          strings.TrimSpace(input.Author),
		ISBN:            normalizeISBN(input.ISBN),
		Category:        input.Category,
		PublishedYear:   input.PublishedYear,
		Description:     input.Description,
		CoverImageURL:   input.CoverImageURL,
		TotalCopies:     input.TotalCopies,
		AvailableCopies: input.TotalCopies,
		Rating:          input.Rating,
		IsActive:        true,
	}

	if err := s.repo.Create(ctx, title); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "a title with this ISBN already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create title")
	}
	return toTitleDTO(title), nil
}

// UpdateTitle mutates descriptive fields directly and routes copy count
// changes through the guarded adjustment so checked-out copies are
// never stranded.
func (s *service) UpdateTitle(ctx context.Context, titleID uuid.UUID, input UpdateTitleInput) (*TitleDTO, error) {
	if input.TotalCopies != nil && *input.TotalCopies < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total_copies must be at least 1")
	}
	if input.Rating != nil {
		if err := validateRating(*input.Rating); err != nil {
			return nil, err
		}
	}

	var updated *models.Title
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		title, err := txRepo.FindByID(ctx, titleID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "title not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load title")
		}
		if !title.IsActive {
			return pkgerrors.New(pkgerrors.CodeNotFound, "title not found")
		}

		applyTitleUpdates(title, input)
		if err := txRepo.Update(ctx, title); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "a title with this ISBN already exists")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update title")
		}

		if input.TotalCopies != nil && *input.TotalCopies != title.TotalCopies {
			affected, err := txRepo.AdjustTotalCopies(ctx, titleID, *input.TotalCopies)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "adjust total copies")
			}
			if affected == 0 {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "total_copies cannot drop below the number of checked out copies")
			}
		}

		title, err = txRepo.FindByID(ctx, titleID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload title")
		}
		updated = title
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toTitleDTO(updated), nil
}

// DeleteTitle soft deletes a catalog entry. Titles with copies still
// checked out cannot be removed.
func (s *service) DeleteTitle(ctx context.Context, titleID uuid.UUID) error {
	affected, err := s.repo.Deactivate(ctx, titleID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deactivate title")
	}
	if affected > 0 {
		return nil
	}

	title, err := s.repo.FindByID(ctx, titleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "title not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load title")
	}
	if !title.IsActive {
		return pkgerrors.New(pkgerrors.CodeNotFound, "title not found")
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "title has copies checked out")
}

func (s *service) GetTitle(ctx context.Context, titleID uuid.UUID) (*TitleDTO, error) {
	title, err := s.repo.FindByID(ctx, titleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "title not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load title")
	}
	if !title.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "title not found")
	}
	return toTitleDTO(title), nil
}

func (s *service) ListTitles(ctx context.Context, input ListTitlesInput) (*TitleListResult, error) {
	cursor, err := pagination.ParseCursor(input.Pagination.Cursor)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")
	}

	rows, next, err := s.repo.List(ctx, input, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list titles")
	}

	result := &TitleListResult{Titles: make([]TitleDTO, 0, len(rows))}
	for i := range rows {
		result.Titles = append(result.Titles, *toTitleDTO(&rows[i]))
	}
	if next != nil {
		result.NextCursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func applyTitleUpdates(title *models.Title, input UpdateTitleInput) {
	if input.Name != nil {
		title.Name = strings.TrimSpace(*input.Name)
	}
	if input.Author != nil {
		title.Author = strings.TrimSpace(*input.Author)
	}
	if input.ISBN != nil {
		title.ISBN = normalizeISBN(input.ISBN)
	}
	if input.Category != nil {
		title.Category = input.Category
	}
	if input.PublishedYear != nil {
		title.PublishedYear = input.PublishedYear
	}
	if input.Description != nil {
		title.Description = input.Description
	}
	if input.CoverImageURL != nil {
		title.CoverImageURL = input.CoverImageURL
	}
	if input.Rating != nil {
		title.Rating = *input.Rating
	}
}

func validateRating(rating float64) error {
	if rating < 0 || rating > 5 {
		return pkgerrors.New(pkgerrors.CodeValidation, "rating must be between 0 and 5")
	}
	return nil
}

// normalizeISBN strips separators so the unique index compares the
// bare digits regardless of how the ISBN was typed.
func normalizeISBN(isbn *string) *string {
	if isbn == nil {
		return nil
	}
	cleaned := strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, *isbn)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}
