package lending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	retry "github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/lendkeep/lendkeep-backend/internal/inventory"
	"github.com/lendkeep/lendkeep-backend/internal/loans"
	"github.com/lendkeep/lendkeep-backend/internal/titles"
	"github.com/lendkeep/lendkeep-backend/pkg/config"
	"github.com/lendkeep/lendkeep-backend/pkg/db"
	"github.com/lendkeep/lendkeep-backend/pkg/db/models"
	"github.com/lendkeep/lendkeep-backend/pkg/enums"
	pkgerrors "github.com/lendkeep/lendkeep-backend/pkg/errors"
	"github.com/lendkeep/lendkeep-backend/pkg/logger"
	"github.com/lendkeep/lendkeep-backend/pkg/pagination"
)

const retryBackoffBase = 25 * time.Millisecond

// openLoanIndex is the partial unique index backing the one open loan
// per (user, title) rule at the storage level.
const openLoanIndex = "loans_open_user_title_idx"

// Service is the lending engine: the only write path for loans and,
// through the inventory manager, for copy counters.
type Service interface {
	Borrow(ctx context.Context, userID, titleID uuid.UUID) (*LoanDTO, error)
	Return(ctx context.Context, loanID uuid.UUID) (*LoanDTO, error)
	CanBorrow(ctx context.Context, userID uuid.UUID) (*EligibilityDTO, error)
	GetLoan(ctx context.Context, loanID uuid.UUID) (*LoanDTO, error)
	ListLoans(ctx context.Context, input ListLoansInput) (*LoanListResult, error)
	ListOverdue(ctx context.Context, p pagination.Params) (*LoanListResult, error)
	MarkOverdue(ctx context.Context, now time.Time) ([]LoanDTO, error)
}

type userLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	loanRepo  *loans.Repository
	titleRepo *titles.Repository
	userRepo  userLoader
	inventory inventory.Manager
	policy    EligibilityPolicy
	tx        txRunner
	cfg       config.LendingConfig
	logg      *logger.Logger
	now       func() time.Time
}

// NewService constructs the lending engine.
func NewService(
	loanRepo *loans.Repository,
	titleRepo *titles.Repository,
	userRepo userLoader,
	inv inventory.Manager,
	policy EligibilityPolicy,
	tx txRunner,
	cfg config.LendingConfig,
	logg *logger.Logger,
) (Service, error) {
	if loanRepo == nil {
		return nil, fmt.Errorf("loan repository required")
	}
	if titleRepo == nil {
		return nil, fmt.Errorf("title repository required")
	}
	if userRepo == nil {
		return nil, fmt.Errorf("user repository required")
	}
	if policy == nil {
		return nil, fmt.Errorf("eligibility policy required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		loanRepo:  loanRepo,
		titleRepo: titleRepo,
		userRepo:  userRepo,
		inventory: inv,
		policy:    policy,
		tx:        tx,
		cfg:       cfg,
		logg:      logg,
		now:       time.Now,
	}, nil
}

// Borrow checks eligibility, reserves a copy, and records the loan in
// one transaction. Transient lock conflicts are retried a bounded
// number of times before surfacing.
func (s *service) Borrow(ctx context.Context, userID, titleID uuid.UUID) (*LoanDTO, error) {
	var created *models.Loan

	err := s.withTxRetry(ctx, func(tx *gorm.DB) error {
		created = nil

		if err := s.ensureActiveUser(ctx, userID); err != nil {
			return err
		}
		if err := s.ensureBorrowableTitle(ctx, tx, titleID); err != nil {
			return err
		}

		hasOpen, err := s.policy.HasOpenLoan(ctx, tx, userID, titleID)
		if err != nil {
			return err
		}
		if hasOpen {
			return pkgerrors.New(pkgerrors.CodeConflict, "user already has this title checked out")
		}

		eligibility, err := s.policy.CanBorrow(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !eligibility.Allowed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, eligibility.Reason)
		}

		if err := s.inventory.ReserveCopy(ctx, tx, titleID); err != nil {
			return err
		}

		now := s.now().UTC()
		loan := &models.Loan{
			UserID:     userID,
			TitleID:    titleID,
			Status:     enums.LoanStatusBorrowed,
			BorrowedAt: now,
			DueAt:      now.Add(s.cfg.LoanPeriod()),
		}
		if err := s.loanRepo.WithTx(tx).Create(ctx, loan); err != nil {
			// A concurrent borrow of the same title by the same user
			// lands here via the partial unique index.
			if db.IsUniqueViolation(err, openLoanIndex) {
				return pkgerrors.New(pkgerrors.CodeConflict, "user already has this title checked out")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create loan")
		}

		created = loan
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"loan_id":  created.ID.String(),
		"title_id": titleID.String(),
		"user_id":  userID.String(),
	})
	s.logg.Info(ctx, "loan created")
	return toLoanDTO(created), nil
}

// Return marks the loan returned and releases its copy atomically.
// Calling it twice reports the loan as already returned without moving
// the copy counter again.
func (s *service) Return(ctx context.Context, loanID uuid.UUID) (*LoanDTO, error) {
	var returned *models.Loan

	err := s.withTxRetry(ctx, func(tx *gorm.DB) error {
		returned = nil
		txRepo := s.loanRepo.WithTx(tx)

		loan, err := txRepo.FindByID(ctx, loanID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "loan not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load loan")
		}
		if loan.Status == enums.LoanStatusReturned {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "loan already returned")
		}

		now := s.now().UTC()
		loan.Status = enums.LoanStatusReturned
		loan.ReturnedAt = &now
		if err := txRepo.Update(ctx, loan); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update loan")
		}

		if err := s.inventory.ReleaseCopy(ctx, tx, loan.TitleID); err != nil {
			return err
		}

		returned = loan
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithField(ctx, "loan_id", returned.ID.String())
	s.logg.Info(ctx, "loan returned")
	return toLoanDTO(returned), nil
}

// CanBorrow reports eligibility without side effects.
func (s *service) CanBorrow(ctx context.Context, userID uuid.UUID) (*EligibilityDTO, error) {
	if err := s.ensureActiveUser(ctx, userID); err != nil {
		return nil, err
	}

	eligibility, err := s.policy.CanBorrow(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	return &EligibilityDTO{
		CanBorrow:      eligibility.Allowed,
		OpenLoans:      eligibility.OpenLoans,
		MaxActiveLoans: s.policy.MaxActiveLoans(),
		Reason:         eligibility.Reason,
	}, nil
}

func (s *service) GetLoan(ctx context.Context, loanID uuid.UUID) (*LoanDTO, error) {
	loan, err := s.loanRepo.FindByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "loan not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load loan")
	}
	return toLoanDTO(loan), nil
}

func (s *service) ListLoans(ctx context.Context, input ListLoansInput) (*LoanListResult, error) {
	for _, status := range input.Statuses {
		if !status.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown loan status %q", status))
		}
	}
	cursor, err := pagination.ParseCursor(input.Pagination.Cursor)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")
	}

	rows, next, err := s.loanRepo.List(ctx, loans.ListParams{
		UserID:   input.UserID,
		TitleID:  input.TitleID,
		Statuses: input.Statuses,
		Limit:    input.Pagination.Limit,
		Cursor:   cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list loans")
	}

	result := &LoanListResult{Loans: make([]LoanDTO, 0, len(rows))}
	for i := range rows {
		result.Loans = append(result.Loans, *toLoanDTO(&rows[i]))
	}
	if next != nil {
		result.NextCursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func (s *service) ListOverdue(ctx context.Context, p pagination.Params) (*LoanListResult, error) {
	return s.ListLoans(ctx, ListLoansInput{
		Statuses:   []enums.LoanStatus{enums.LoanStatusOverdue},
		Pagination: p,
	})
}

// MarkOverdue reclassifies loans still borrowed past their due date and
// returns the loans it flipped. Rerunning with the same clock is a
// no-op because already overdue loans no longer match the scan.
func (s *service) MarkOverdue(ctx context.Context, now time.Time) ([]LoanDTO, error) {
	var marked []models.Loan

	err := s.withTxRetry(ctx, func(tx *gorm.DB) error {
		marked = nil
		txRepo := s.loanRepo.WithTx(tx)

		due, err := txRepo.FindOpenDueBefore(ctx, now.UTC())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan overdue loans")
		}
		if len(due) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, 0, len(due))
		for i := range due {
			ids = append(ids, due[i].ID)
		}
		affected, err := txRepo.MarkOverdue(ctx, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark loans overdue")
		}
		if affected != int64(len(ids)) {
			// Some loans were returned between the scan and the update.
			s.logg.Info(s.logg.WithField(ctx, "skipped", int64(len(ids))-affected), "overdue scan skipped returned loans")
		}

		// Re-read so the result carries only the loans the guarded
		// update flipped, not every loan the scan saw.
		marked, err = txRepo.FindOverdueByIDs(ctx, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload overdue loans")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make([]LoanDTO, 0, len(marked))
	for i := range marked {
		result = append(result, *toLoanDTO(&marked[i]))
	}
	return result, nil
}

// ensureBorrowableTitle resolves the title before any eligibility
// checks so an unknown or retired title reads as not found rather than
// as a policy refusal.
func (s *service) ensureBorrowableTitle(ctx context.Context, tx *gorm.DB, titleID uuid.UUID) error {
	title, err := s.titleRepo.WithTx(tx).FindByID(ctx, titleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "title not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load title")
	}
	if !title.IsActive {
		return pkgerrors.New(pkgerrors.CodeNotFound, "title not found")
	}
	return nil
}

func (s *service) ensureActiveUser(ctx context.Context, userID uuid.UUID) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	if !user.IsActive {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "user account is inactive")
	}
	return nil
}

// withTxRetry runs fn in a transaction, retrying the whole transaction
// on serialization conflicts up to the configured attempt budget.
func (s *service) withTxRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	attempts := s.cfg.TxRetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewFibonacci(retryBackoffBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		txErr := s.tx.WithTx(ctx, fn)
		if txErr != nil && db.IsSerializationFailure(txErr) {
			return retry.RetryableError(txErr)
		}
		return txErr
	})
	if err != nil && db.IsSerializationFailure(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "storage conflict persisted after retries")
	}
	return err
}
