package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lendkeep/lendkeep-backend/api/middleware"
	"github.com/lendkeep/lendkeep-backend/api/responses"
	"github.com/lendkeep/lendkeep-backend/api/validators"
	"github.com/lendkeep/lendkeep-backend/internal/lending"
	"github.com/lendkeep/lendkeep-backend/pkg/enums"
	pkgerrors "github.com/lendkeep/lendkeep-backend/pkg/errors"
	"github.com/lendkeep/lendkeep-backend/pkg/logger"
	"github.com/lendkeep/lendkeep-backend/pkg/pagination"
)

type borrowRequest struct {
	TitleID string  `json:"title_id" validate:"required,uuid"`
	UserID  *string `json:"user_id,omitempty" validate:"omitempty,uuid"`
}

// Borrow checks out a copy for the authenticated member. Librarians
// may borrow on behalf of another member by supplying user_id.
func Borrow(svc lending.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload borrowRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		titleID, err := uuid.Parse(payload.TitleID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid title_id"))
			return
		}

		borrower := actor
		if payload.UserID != nil {
			requested, err := uuid.Parse(*payload.UserID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id"))
				return
			}
			if requested != actor && !isLibrarian(r) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "cannot borrow on behalf of another user"))
				return
			}
			borrower = requested
		}

		loan, err := svc.Borrow(r.Context(), borrower, titleID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, loan)
	}
}

// Return closes out a loan. Members may only return their own loans.
func Return(svc lending.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		loanID, err := pathUUID(r, "loanID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if !isLibrarian(r) {
			existing, err := svc.GetLoan(r.Context(), loanID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if existing.UserID != actor {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "cannot return another user's loan"))
				return
			}
		}

		loan, err := svc.Return(r.Context(), loanID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, loan)
	}
}

// Eligibility reports whether the authenticated member can borrow.
func Eligibility(svc lending.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		subject := actor
		if requested, err := validators.ParseQueryUUID(r, "user_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		} else if requested != nil {
			if *requested != actor && !isLibrarian(r) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "cannot inspect another user's eligibility"))
				return
			}
			subject = *requested
		}

		eligibility, err := svc.CanBorrow(r.Context(), subject)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, eligibility)
	}
}

// ListLoans returns loans for the caller, or any filter for librarians.
func ListLoans(svc lending.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		titleID, err := validators.ParseQueryUUID(r, "title_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var statuses []enums.LoanStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			for _, part := range strings.Split(raw, ",") {
				status, err := enums.ParseLoanStatus(part)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
					return
				}
				statuses = append(statuses, status)
			}
		}

		input := lending.ListLoansInput{
			TitleID:  titleID,
			Statuses: statuses,
			Pagination: pagination.Params{
				Limit:  limit,
				Cursor: r.URL.Query().Get("cursor"),
			},
		}

		if isLibrarian(r) {
			requested, err := validators.ParseQueryUUID(r, "user_id")
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			input.UserID = requested
		} else {
			input.UserID = &actor
		}

		result, err := svc.ListLoans(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// ListOverdue returns overdue loans. Librarian only.
func ListOverdue(svc lending.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ListOverdue(r.Context(), pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// ScanOverdue runs the overdue scan on demand. Librarian only.
func ScanOverdue(svc lending.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		marked, err := svc.MarkOverdue(r.Context(), time.Now().UTC())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"loans_marked": len(marked),
			"loans":        marked,
		})
	}
}

func isLibrarian(r *http.Request) bool {
	return middleware.RoleFromContext(r.Context()) == string(enums.UserRoleLibrarian)
}
