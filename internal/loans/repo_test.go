package loans

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lendkeep/lendkeep-backend/pkg/db/models"
	"github.com/lendkeep/lendkeep-backend/pkg/enums"
	"github.com/lendkeep/lendkeep-backend/pkg/pagination"
)

func setupLoansTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	users := `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  first_name TEXT NOT NULL,
  last_name TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'member',
  is_active INTEGER NOT NULL DEFAULT 1,
  last_login_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	titles := `
CREATE TABLE IF NOT EXISTS titles (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  author TEXT NOT NULL,
  isbn TEXT UNIQUE,
  category TEXT,
  published_year INTEGER,
  description TEXT,
  cover_image_url TEXT,
  total_copies INTEGER NOT NULL,
  available_copies INTEGER NOT NULL,
  rating REAL NOT NULL DEFAULT 0,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`
	loans := `
CREATE TABLE IF NOT EXISTS loans (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  title_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'borrowed',
  borrowed_at DATETIME NOT NULL,
  due_at DATETIME NOT NULL,
  returned_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	openIdx := `
CREATE UNIQUE INDEX IF NOT EXISTS loans_open_user_title_idx
ON loans (user_id, title_id) WHERE status IN ('borrowed', 'overdue');`

	require.NoError(t, db.Exec(users).Error)
	require.NoError(t, db.Exec(titles).Error)
	require.NoError(t, db.Exec(loans).Error)
	require.NoError(t, db.Exec(openIdx).Error)
	return db
}

func newLoanUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: "x",
		FirstName:    "Test",
		LastName:     "Reader",
		Role:         enums.UserRoleMember,
		IsActive:     true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func newLoanTitle(t *testing.T, db *gorm.DB, name string, copies int) *models.Title {
	t.Helper()

	title := &models.Title{
		ID:              uuid.New(),
		Name:            name,
		Author:          "Author",
		TotalCopies:     copies,
		AvailableCopies: copies,
		IsActive:        true,
	}
	require.NoError(t, db.Create(title).Error)
	return title
}

func newLoan(t *testing.T, db *gorm.DB, userID, titleID uuid.UUID, status enums.LoanStatus, dueAt time.Time) *models.Loan {
	t.Helper()

	loan := &models.Loan{
		ID:         uuid.New(),
		UserID:     userID,
		TitleID:    titleID,
		Status:     status,
		BorrowedAt: dueAt.Add(-14 * 24 * time.Hour),
		DueAt:      dueAt,
	}
	if status == enums.LoanStatusReturned {
		returned := dueAt.Add(-time.Hour)
		loan.ReturnedAt = &returned
	}
	require.NoError(t, db.Create(loan).Error)
	return loan
}

func TestFindOpenByUserAndTitle(t *testing.T) {
	db := setupLoansTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	user := newLoanUser(t, db, "open-loan@example.com")
	title := newLoanTitle(t, db, "Open Loan Title", 2)
	other := newLoanTitle(t, db, "Other Title", 1)

	newLoan(t, db, user.ID, title.ID, enums.LoanStatusBorrowed, time.Now().Add(24*time.Hour))
	newLoan(t, db, user.ID, other.ID, enums.LoanStatusReturned, time.Now().Add(-24*time.Hour))

	found, err := repo.FindOpenByUserAndTitle(ctx, user.ID, title.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, title.ID, found.TitleID)

	// A returned loan does not count as open.
	found, err = repo.FindOpenByUserAndTitle(ctx, user.ID, other.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestCountOpenByUser(t *testing.T) {
	db := setupLoansTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	user := newLoanUser(t, db, "count-open@example.com")
	a := newLoanTitle(t, db, "Count A", 1)
	b := newLoanTitle(t, db, "Count B", 1)
	c := newLoanTitle(t, db, "Count C", 1)

	newLoan(t, db, user.ID, a.ID, enums.LoanStatusBorrowed, time.Now().Add(24*time.Hour))
	newLoan(t, db, user.ID, b.ID, enums.LoanStatusOverdue, time.Now().Add(-24*time.Hour))
	newLoan(t, db, user.ID, c.ID, enums.LoanStatusReturned, time.Now().Add(-48*time.Hour))

	count, err := repo.CountOpenByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestListPagination(t *testing.T) {
	db := setupLoansTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	user := newLoanUser(t, db, "list-pagination@example.com")
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		title := newLoanTitle(t, db, "Paged Title", 1)
		loan := newLoan(t, db, user.ID, title.ID, enums.LoanStatusReturned, base)
		// Spread created_at so keyset ordering is deterministic.
		createdAt := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, db.Model(loan).Update("created_at", createdAt).Error)
	}

	first, cursor, err := repo.List(ctx, ListParams{UserID: &user.ID, Limit: 3})
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.NotNil(t, cursor)

	second, next, err := repo.List(ctx, ListParams{UserID: &user.ID, Limit: 3, Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Nil(t, next)

	seen := map[uuid.UUID]bool{}
	for _, loan := range append(first, second...) {
		assert.False(t, seen[loan.ID], "loan %s appeared twice across pages", loan.ID)
		seen[loan.ID] = true
	}
}

func TestListStatusFilter(t *testing.T) {
	db := setupLoansTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	user := newLoanUser(t, db, "list-status@example.com")
	a := newLoanTitle(t, db, "Status A", 1)
	b := newLoanTitle(t, db, "Status B", 1)

	newLoan(t, db, user.ID, a.ID, enums.LoanStatusBorrowed, time.Now().Add(24*time.Hour))
	newLoan(t, db, user.ID, b.ID, enums.LoanStatusReturned, time.Now().Add(-24*time.Hour))

	rows, _, err := repo.List(ctx, ListParams{
		UserID:   &user.ID,
		Statuses: []enums.LoanStatus{enums.LoanStatusBorrowed},
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.LoanStatusBorrowed, rows[0].Status)
}

func TestFindOpenDueBefore(t *testing.T) {
	db := setupLoansTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	user := newLoanUser(t, db, "due-before@example.com")
	past := newLoanTitle(t, db, "Past Due", 1)
	future := newLoanTitle(t, db, "Future Due", 1)
	returned := newLoanTitle(t, db, "Returned Past Due", 1)

	overdue := newLoan(t, db, user.ID, past.ID, enums.LoanStatusBorrowed, now.Add(-time.Hour))
	newLoan(t, db, user.ID, future.ID, enums.LoanStatusBorrowed, now.Add(time.Hour))
	newLoan(t, db, user.ID, returned.ID, enums.LoanStatusReturned, now.Add(-2*time.Hour))

	rows, err := repo.FindOpenDueBefore(ctx, now)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, overdue.ID, rows[0].ID)
}

func TestMarkOverdueSkipsReturnedLoans(t *testing.T) {
	db := setupLoansTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	user := newLoanUser(t, db, "mark-overdue@example.com")
	a := newLoanTitle(t, db, "Mark A", 1)
	b := newLoanTitle(t, db, "Mark B", 1)

	stillOut := newLoan(t, db, user.ID, a.ID, enums.LoanStatusBorrowed, now.Add(-time.Hour))
	cameBack := newLoan(t, db, user.ID, b.ID, enums.LoanStatusBorrowed, now.Add(-time.Hour))

	// Simulate a return landing between the scan and the update.
	require.NoError(t, db.Model(cameBack).Update("status", enums.LoanStatusReturned).Error)

	ids := []uuid.UUID{stillOut.ID, cameBack.ID}
	affected, err := repo.MarkOverdue(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	var reloaded models.Loan
	require.NoError(t, db.Where("id = ?", stillOut.ID).First(&reloaded).Error)
	assert.Equal(t, enums.LoanStatusOverdue, reloaded.Status)

	var reloadedReturned models.Loan
	require.NoError(t, db.Where("id = ?", cameBack.ID).First(&reloadedReturned).Error)
	assert.Equal(t, enums.LoanStatusReturned, reloadedReturned.Status)

	// The re-read after the guarded update must report only the loan
	// that actually flipped, not every loan the scan saw.
	flipped, err := repo.FindOverdueByIDs(ctx, ids)
	require.NoError(t, err)
	require.Len(t, flipped, 1)
	assert.Equal(t, stillOut.ID, flipped[0].ID)
}

func TestFindOverdueByIDsEmpty(t *testing.T) {
	db := setupLoansTestDB(t)
	repo := NewRepository(db)

	rows, err := repo.FindOverdueByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMarkOverdueEmptyIDs(t *testing.T) {
	db := setupLoansTestDB(t)
	repo := NewRepository(db)

	affected, err := repo.MarkOverdue(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestListEncodesStableCursor(t *testing.T) {
	db := setupLoansTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	user := newLoanUser(t, db, "cursor-roundtrip@example.com")
	for i := 0; i < 3; i++ {
		title := newLoanTitle(t, db, "Cursor Title", 1)
		newLoan(t, db, user.ID, title.ID, enums.LoanStatusReturned, time.Now())
	}

	_, cursor, err := repo.List(ctx, ListParams{UserID: &user.ID, Limit: 2})
	require.NoError(t, err)
	require.NotNil(t, cursor)

	encoded := pagination.EncodeCursor(*cursor)
	decoded, err := pagination.ParseCursor(encoded)
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.Equal(t, cursor.ID, decoded.ID)
}
