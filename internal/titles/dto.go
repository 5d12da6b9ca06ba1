package titles

import (
	"time"

	"github.com/google/uuid"

	"github.com/lendkeep/lendkeep-backend/pkg/db/models"
	"github.com/lendkeep/lendkeep-backend/pkg/pagination"
)

// TitleDTO is the catalog view of a title returned by the API.
type TitleDTO struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Author          string    `json:"author"`
	ISBN            *string   `json:"isbn,omitempty"`
	Category        *string   `json:"category,omitempty"`
	PublishedYear   *int      `json:"published_year,omitempty"`
	Description     *string   `json:"description,omitempty"`
	CoverImageURL   *string   `json:"cover_image_url,omitempty"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	Rating          float64   `json:"rating"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TitleListResult is one page of catalog entries plus the next cursor.
type TitleListResult struct {
	Titles     []TitleDTO `json:"titles"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// ListTitlesInput captures filter and pagination knobs for catalog browsing.
type ListTitlesInput struct {
	Query           string
	Category        string
	AvailableOnly   bool
	IncludeInactive bool
	Pagination      pagination.Params
}

func toTitleDTO(title *models.Title) *TitleDTO {
	return &TitleDTO{
		ID:              title.ID,
		Name:            title.Name,
		Author:          title.Author,
		ISBN:            title.ISBN,
		Category:        title.Category,
		PublishedYear:   title.PublishedYear,
		Description:     title.Description,
		CoverImageURL:   title.CoverImageURL,
		TotalCopies:     title.TotalCopies,
		AvailableCopies: title.AvailableCopies,
		Rating:          title.Rating,
		IsActive:        title.IsActive,
		CreatedAt:       title.CreatedAt,
		UpdatedAt:       title.UpdatedAt,
	}
}
