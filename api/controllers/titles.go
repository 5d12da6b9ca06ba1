package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lendkeep/lendkeep-backend/api/responses"
	"github.com/lendkeep/lendkeep-backend/api/validators"
	titlesvc "github.com/lendkeep/lendkeep-backend/internal/titles"
	pkgerrors "github.com/lendkeep/lendkeep-backend/pkg/errors"
	"github.com/lendkeep/lendkeep-backend/pkg/logger"
	"github.com/lendkeep/lendkeep-backend/pkg/pagination"
)

type createTitleRequest struct {
	Name          string   `json:"name" validate:"required,max=500"`
	Author        string   `json:"author" validate:"required,max=500"`
	ISBN          *string  `json:"isbn,omitempty" validate:"omitempty,max=20"`
	Category      *string  `json:"category,omitempty" validate:"omitempty,max=100"`
	PublishedYear *int     `json:"published_year,omitempty" validate:"omitempty,min=0,max=3000"`
	Description   *string  `json:"description,omitempty"`
	CoverImageURL *string  `json:"cover_image_url,omitempty" validate:"omitempty,url"`
	TotalCopies   int      `json:"total_copies" validate:"required,min=1"`
	Rating        *float64 `json:"rating,omitempty" validate:"omitempty,gte=0,lte=5"`
}

type updateTitleRequest struct {
	Name          *string  `json:"name,omitempty" validate:"omitempty,max=500"`
	Author        *string  `json:"author,omitempty" validate:"omitempty,max=500"`
	ISBN          *string  `json:"isbn,omitempty" validate:"omitempty,max=20"`
	Category      *string  `json:"category,omitempty" validate:"omitempty,max=100"`
	PublishedYear *int     `json:"published_year,omitempty" validate:"omitempty,min=0,max=3000"`
	Description   *string  `json:"description,omitempty"`
	CoverImageURL *string  `json:"cover_image_url,omitempty" validate:"omitempty,url"`
	TotalCopies   *int     `json:"total_copies,omitempty" validate:"omitempty,min=1"`
	Rating        *float64 `json:"rating,omitempty" validate:"omitempty,gte=0,lte=5"`
}

// CreateTitle adds a catalog entry. Librarian only.
func CreateTitle(svc titlesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload createTitleRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := titlesvc.CreateTitleInput{
			Name:          payload.Name,
			Author:        payload.Author,
			ISBN:          payload.ISBN,
			Category:      payload.Category,
			PublishedYear: payload.PublishedYear,
			Description:   payload.Description,
			CoverImageURL: payload.CoverImageURL,
			TotalCopies:   payload.TotalCopies,
		}
		if payload.Rating != nil {
			input.Rating = *payload.Rating
		}

		title, err := svc.CreateTitle(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, title)
	}
}

// UpdateTitle mutates a catalog entry. Librarian only.
func UpdateTitle(svc titlesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		titleID, err := pathUUID(r, "titleID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateTitleRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		title, err := svc.UpdateTitle(r.Context(), titleID, titlesvc.UpdateTitleInput{
			Name:          payload.Name,
			Author:        payload.Author,
			ISBN:          payload.ISBN,
			Category:      payload.Category,
			PublishedYear: payload.PublishedYear,
			Description:   payload.Description,
			CoverImageURL: payload.CoverImageURL,
			TotalCopies:   payload.TotalCopies,
			Rating:        payload.Rating,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, title)
	}
}

// DeleteTitle soft deletes a catalog entry. Librarian only.
func DeleteTitle(svc titlesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		titleID, err := pathUUID(r, "titleID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.DeleteTitle(r.Context(), titleID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// GetTitle returns one catalog entry.
func GetTitle(svc titlesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		titleID, err := pathUUID(r, "titleID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		title, err := svc.GetTitle(r.Context(), titleID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, title)
	}
}

// ListTitles browses the catalog with search and availability filters.
func ListTitles(svc titlesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		availableOnly, err := validators.ParseQueryBool(r, "available")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ListTitles(r.Context(), titlesvc.ListTitlesInput{
			Query:         validators.SanitizeString(r.URL.Query().Get("q"), 200),
			Category:      validators.SanitizeString(r.URL.Query().Get("category"), 100),
			AvailableOnly: availableOnly,
			Pagination: pagination.Params{
				Limit:  limit,
				Cursor: r.URL.Query().Get("cursor"),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// pathUUID parses a UUID path parameter.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return id, nil
}
