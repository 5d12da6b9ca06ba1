package loans

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lendkeep/lendkeep-backend/pkg/db/models"
	"github.com/lendkeep/lendkeep-backend/pkg/enums"
	"github.com/lendkeep/lendkeep-backend/pkg/pagination"
)

// ListParams filters loan listings.
type ListParams struct {
	UserID   *uuid.UUID
	TitleID  *uuid.UUID
	Statuses []enums.LoanStatus
	Limit    int
	Cursor   *pagination.Cursor
}

// Repository provides loan persistence for the lending engine and scanners.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a loan repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, loan *models.Loan) error {
	if loan.ID == uuid.Nil {
		loan.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(loan).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	var loan models.Loan
	err := r.db.WithContext(ctx).
		Preload("Title").
		Preload("User").
		Where("id = ?", id).
		First(&loan).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *Repository) FindOpenByUserAndTitle(ctx context.Context, userID, titleID uuid.UUID) (*models.Loan, error) {
	var loan models.Loan
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND title_id = ? AND status IN ?", userID, titleID, enums.OpenLoanStatuses).
		First(&loan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &loan, nil
}

func (r *Repository) CountOpenByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Loan{}).
		Where("user_id = ? AND status IN ?", userID, enums.OpenLoanStatuses).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *Repository) Update(ctx context.Context, loan *models.Loan) error {
	return r.db.WithContext(ctx).Save(loan).Error
}

func (r *Repository) List(ctx context.Context, params ListParams) ([]models.Loan, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)

	query := r.db.WithContext(ctx).
		Preload("Title").
		Preload("User").
		Model(&models.Loan{})

	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.TitleID != nil {
		query = query.Where("title_id = ?", *params.TitleID)
	}
	if len(params.Statuses) > 0 {
		query = query.Where("status IN ?", params.Statuses)
	}
	if params.Cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID,
		)
	}

	var rows []models.Loan
	err := query.
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, nil, err
	}

	if len(rows) < limit {
		return rows, nil, nil
	}

	rows = rows[:limit-1]
	last := rows[len(rows)-1]
	return rows, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
}

func (r *Repository) FindOpenDueBefore(ctx context.Context, cutoff time.Time) ([]models.Loan, error) {
	var rows []models.Loan
	err := r.db.WithContext(ctx).
		Where("status = ? AND due_at < ?", enums.LoanStatusBorrowed, cutoff).
		Order("due_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repository) MarkOverdue(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	// Guarded on status so a loan returned between the scan and the
	// update is left alone.
	res := r.db.WithContext(ctx).
		Model(&models.Loan{}).
		Where("id IN ? AND status = ?", ids, enums.LoanStatusBorrowed).
		Update("status", enums.LoanStatusOverdue)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// FindOverdueByIDs returns the subset of ids that are overdue now.
// MarkOverdue callers use it to see which of the scanned loans the
// guarded update actually flipped.
func (r *Repository) FindOverdueByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Loan, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Loan
	err := r.db.WithContext(ctx).
		Where("id IN ? AND status = ?", ids, enums.LoanStatusOverdue).
		Order("due_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
