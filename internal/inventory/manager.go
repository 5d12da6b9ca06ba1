package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lendkeep/lendkeep-backend/pkg/db/models"
	pkgerrors "github.com/lendkeep/lendkeep-backend/pkg/errors"
)

// Manager owns every mutation of a title's available-copies counter.
// No other component writes the counter; callers go through ReserveCopy
// and ReleaseCopy inside the transaction that covers the rest of the
// borrow or return.
type Manager struct{}

// NewManager returns the inventory manager.
func NewManager() Manager {
	return Manager{}
}

// ReserveCopy claims one available copy of an active title. The check
// and the decrement are a single conditional UPDATE, so two concurrent
// reservations against the last copy cannot both succeed.
func (Manager) ReserveCopy(ctx context.Context, tx *gorm.DB, titleID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for copy reservation")
	}
	if titleID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "title id required")
	}

	res := tx.WithContext(ctx).Exec(`
		UPDATE titles
		SET available_copies = available_copies - 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND is_active AND available_copies > 0
	`, titleID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve copy")
	}
	if res.RowsAffected > 0 {
		return nil
	}

	return diagnoseReserveFailure(ctx, tx, titleID)
}

// ReleaseCopy returns one copy to the pool, capped at total_copies. A
// release that would push the counter past the cap signals a bookkeeping
// defect upstream and is rejected rather than clamped.
func (Manager) ReleaseCopy(ctx context.Context, tx *gorm.DB, titleID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for copy release")
	}
	if titleID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "title id required")
	}

	res := tx.WithContext(ctx).Exec(`
		UPDATE titles
		SET available_copies = available_copies + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND available_copies < total_copies
	`, titleID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release copy")
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var title models.Title
	err := tx.WithContext(ctx).Select("id", "available_copies", "total_copies").
		Where("id = ?", titleID).First(&title).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "title not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load title after failed release")
	}

	return pkgerrors.New(pkgerrors.CodeInternal, "copy release would exceed total copies").
		WithDetails(map[string]any{
			"title_id":         titleID,
			"available_copies": title.AvailableCopies,
			"total_copies":     title.TotalCopies,
		})
}

func diagnoseReserveFailure(ctx context.Context, tx *gorm.DB, titleID uuid.UUID) error {
	var title models.Title
	err := tx.WithContext(ctx).Select("id", "is_active", "available_copies", "total_copies").
		Where("id = ?", titleID).First(&title).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "title not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load title after failed reservation")
	}
	if !title.IsActive {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "title is no longer in the catalog")
	}
	if title.AvailableCopies < 0 || title.AvailableCopies > title.TotalCopies {
		return pkgerrors.New(pkgerrors.CodeInternal, "copy counter outside valid range").
			WithDetails(map[string]any{
				"title_id":         titleID,
				"available_copies": title.AvailableCopies,
				"total_copies":     title.TotalCopies,
			})
	}
	return pkgerrors.New(pkgerrors.CodeUnavailable, "no copies available for this title")
}
