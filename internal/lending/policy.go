package lending

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lendkeep/lendkeep-backend/internal/loans"
	pkgerrors "github.com/lendkeep/lendkeep-backend/pkg/errors"
)

// Eligibility is the policy outcome for a prospective borrow.
type Eligibility struct {
	Allowed   bool
	OpenLoans int
	Reason    string
}

// EligibilityPolicy decides whether a user may take out another loan.
// Implementations must read through the supplied transaction so the
// decision shares a snapshot with the borrow that follows it.
type EligibilityPolicy interface {
	CanBorrow(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (Eligibility, error)
	HasOpenLoan(ctx context.Context, tx *gorm.DB, userID, titleID uuid.UUID) (bool, error)
	MaxActiveLoans() int
}

// maxActiveLoansPolicy allows borrowing while the user holds fewer
// open loans than the configured ceiling.
type maxActiveLoansPolicy struct {
	loanRepo *loans.Repository
	maxLoans int
}

// NewMaxActiveLoansPolicy builds the default loan-count policy.
func NewMaxActiveLoansPolicy(loanRepo *loans.Repository, maxLoans int) (EligibilityPolicy, error) {
	if loanRepo == nil {
		return nil, fmt.Errorf("loan repository required")
	}
	if maxLoans < 1 {
		return nil, fmt.Errorf("max active loans must be at least 1, got %d", maxLoans)
	}
	return &maxActiveLoansPolicy{loanRepo: loanRepo, maxLoans: maxLoans}, nil
}

func (p *maxActiveLoansPolicy) CanBorrow(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (Eligibility, error) {
	count, err := p.loanRepo.WithTx(tx).CountOpenByUser(ctx, userID)
	if err != nil {
		return Eligibility{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count open loans")
	}

	open := int(count)
	if open >= p.maxLoans {
		return Eligibility{
			Allowed:   false,
			OpenLoans: open,
			Reason:    fmt.Sprintf("user already holds %d of %d allowed loans", open, p.maxLoans),
		}, nil
	}
	return Eligibility{Allowed: true, OpenLoans: open}, nil
}

func (p *maxActiveLoansPolicy) HasOpenLoan(ctx context.Context, tx *gorm.DB, userID, titleID uuid.UUID) (bool, error) {
	loan, err := p.loanRepo.WithTx(tx).FindOpenByUserAndTitle(ctx, userID, titleID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find open loan")
	}
	return loan != nil, nil
}

func (p *maxActiveLoansPolicy) MaxActiveLoans() int {
	return p.maxLoans
}
