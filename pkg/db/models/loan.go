package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lendkeep/lendkeep-backend/pkg/enums"
)

// Loan records one user borrowing one copy of one title. Loans are never
// deleted; a returned loan stays behind as the audit trail. The partial
// unique index on (user_id, title_id) for open statuses backs the
// one-open-loan-per-pair invariant at the storage layer.
type Loan struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID     uuid.UUID        `gorm:"column:user_id;type:uuid;not null;index"`
	TitleID    uuid.UUID        `gorm:"column:title_id;type:uuid;not null;index"`
	Status     enums.LoanStatus `gorm:"column:status;type:text;not null;default:'borrowed'"`
	BorrowedAt time.Time        `gorm:"column:borrowed_at;not null"`
	DueAt      time.Time        `gorm:"column:due_at;not null"`
	ReturnedAt *time.Time       `gorm:"column:returned_at"`
	User       *User            `gorm:"foreignKey:UserID"`
	Title      *Title           `gorm:"foreignKey:TitleID"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
