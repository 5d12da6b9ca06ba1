package lending

import (
	"time"

	"github.com/google/uuid"

	"github.com/lendkeep/lendkeep-backend/pkg/db/models"
	"github.com/lendkeep/lendkeep-backend/pkg/enums"
	"github.com/lendkeep/lendkeep-backend/pkg/pagination"
)

// LoanDTO is the API view of a loan.
type LoanDTO struct {
	ID         uuid.UUID        `json:"id"`
	UserID     uuid.UUID        `json:"user_id"`
	TitleID    uuid.UUID        `json:"title_id"`
	Status     enums.LoanStatus `json:"status"`
	BorrowedAt time.Time        `json:"borrowed_at"`
	DueAt      time.Time        `json:"due_at"`
	ReturnedAt *time.Time       `json:"returned_at,omitempty"`
	TitleName  string           `json:"title_name,omitempty"`
	Author     string           `json:"author,omitempty"`
	UserEmail  string           `json:"user_email,omitempty"`
}

// LoanListResult is one page of loans plus the next cursor.
type LoanListResult struct {
	Loans      []LoanDTO `json:"loans"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// ListLoansInput captures filter and pagination knobs for loan listings.
type ListLoansInput struct {
	UserID     *uuid.UUID
	TitleID    *uuid.UUID
	Statuses   []enums.LoanStatus
	Pagination pagination.Params
}

// EligibilityDTO reports whether a user may borrow right now.
type EligibilityDTO struct {
	CanBorrow      bool   `json:"can_borrow"`
	OpenLoans      int    `json:"open_loans"`
	MaxActiveLoans int    `json:"max_active_loans"`
	Reason         string `json:"reason,omitempty"`
}

func toLoanDTO(loan *models.Loan) *LoanDTO {
	dto := &LoanDTO{
		ID:         loan.ID,
		UserID:     loan.UserID,
		TitleID:    loan.TitleID,
		Status:     loan.Status,
		BorrowedAt: loan.BorrowedAt,
		DueAt:      loan.DueAt,
		ReturnedAt: loan.ReturnedAt,
	}
	if loan.Title != nil {
		dto.TitleName = loan.Title.Name
		dto.Author = loan.Title.Author
	}
	if loan.User != nil {
		dto.UserEmail = loan.User.Email
	}
	return dto
}
