package titles

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lendkeep/lendkeep-backend/pkg/db/models"
	"github.com/lendkeep/lendkeep-backend/pkg/pagination"
)

// Repository provides catalog persistence for titles.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a title repository bound to the provided DB.
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

func (r *Repository) Create(ctx context.Context, title *models.Title) error {
	if title.ID == uuid.Nil {
		title.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(title).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Title, error) {
	var title models.Title
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&title).Error; err != nil {
		return nil, err
	}
	return &title, nil
}

func (r *Repository) FindByISBN(ctx context.Context, isbn string) (*models.Title, error) {
	var title models.Title
	err := r.db.WithContext(ctx).Where("isbn = ?", isbn).First(&title).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &title, nil
}

// Update persists descriptive fields only. Copy counters are excluded
// so a snapshot read before the save can never overwrite a reservation
// committed in between; counters move solely through AdjustTotalCopies
// and the lending engine's conditional updates.
func (r *Repository) Update(ctx context.Context, title *models.Title) error {
	return r.db.WithContext(ctx).
		Omit("available_copies", "total_copies").
		Save(title).Error
}

// AdjustTotalCopies moves total_copies to newTotal and shifts
// available_copies by the same delta in one statement. The guard keeps
// available_copies from dropping below zero, which would strand copies
// that are currently checked out. Returns the number of rows changed.
func (r *Repository) AdjustTotalCopies(ctx context.Context, id uuid.UUID, newTotal int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE titles
		SET total_copies = ?,
		    available_copies = available_copies + (? - total_copies),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		  AND is_active
		  AND available_copies + (? - total_copies) >= 0
	`, newTotal, newTotal, id, newTotal)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// Deactivate soft deletes a title. The guard refuses while copies are
// still checked out so open loans always point at an active title.
func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE titles
		SET is_active = FALSE,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		  AND is_active
		  AND available_copies = total_copies
	`, id)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *Repository) List(ctx context.Context, input ListTitlesInput, cursor *pagination.Cursor) ([]models.Title, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(input.Pagination.Limit)

	query := r.db.WithContext(ctx).Model(&models.Title{})

	if !input.IncludeInactive {
		query = query.Where("is_active")
	}
	if input.AvailableOnly {
		query = query.Where("available_copies > 0")
	}
	if input.Category != "" {
		query = query.Where("category = ?", input.Category)
	}
	if q := strings.TrimSpace(input.Query); q != "" {
		pattern := "%" + strings.ToLower(q) + "%"
		query = query.Where("(LOWER(name) LIKE ? OR LOWER(author) LIKE ?)", pattern, pattern)
	}
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.Title
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
