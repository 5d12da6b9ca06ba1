package lending

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lendkeep/lendkeep-backend/internal/inventory"
	"github.com/lendkeep/lendkeep-backend/internal/loans"
	"github.com/lendkeep/lendkeep-backend/internal/titles"
	"github.com/lendkeep/lendkeep-backend/internal/users"
	"github.com/lendkeep/lendkeep-backend/pkg/config"
	"github.com/lendkeep/lendkeep-backend/pkg/db/models"
	"github.com/lendkeep/lendkeep-backend/pkg/enums"
	pkgerrors "github.com/lendkeep/lendkeep-backend/pkg/errors"
	"github.com/lendkeep/lendkeep-backend/pkg/logger"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type lendingHarness struct {
	db      *gorm.DB
	service Service
}

func newLendingHarness(t *testing.T, maxLoans int) *lendingHarness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS users (
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
);`,
		`CREATE TABLE IF NOT EXISTS titles (
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
);`,
		`CREATE TABLE IF NOT EXISTS loans (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  title_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'borrowed',
  borrowed_at DATETIME NOT NULL,
  due_at DATETIME NOT NULL,
  returned_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS loans_open_user_title_idx
ON loans (user_id, title_id) WHERE status IN ('borrowed', 'overdue');`,
	} {
		if err := db.Exec(ddl).Error; err != nil {
			t.Fatalf("apply ddl: %v", err)
		}
	}

	loanRepo := loans.NewRepository(db)
	titleRepo := titles.NewRepository(db)
	userRepo := users.NewRepository(db)

	policy, err := NewMaxActiveLoansPolicy(loanRepo, maxLoans)
	if err != nil {
		t.Fatalf("build policy: %v", err)
	}

	cfg := config.LendingConfig{
		LoanPeriodDays:  14,
		MaxActiveLoans:  maxLoans,
		TxRetryAttempts: 3,
	}
	logg := logger.New(logger.Options{ServiceName: "lending-test"})

	svc, err := NewService(loanRepo, titleRepo, userRepo, inventory.NewManager(), policy, gormTxRunner{db: db}, cfg, logg)
	if err != nil {
		t.Fatalf("build service: %v", err)
	}

	return &lendingHarness{db: db, service: svc}
}

func (h *lendingHarness) seedUser(t *testing.T, email string, active bool) *models.User {
	t.Helper()

	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: "x",
		FirstName:    "Borrow",
		LastName:     "Tester",
		Role:         enums.UserRoleMember,
		IsActive:     active,
	}
	if err := h.db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if !active {
		if err := h.db.Model(user).Update("is_active", false).Error; err != nil {
			t.Fatalf("deactivate user: %v", err)
		}
	}
	return user
}

func (h *lendingHarness) seedTitle(t *testing.T, name string, copies int) *models.Title {
	t.Helper()

	title := &models.Title{
		ID:              uuid.New(),
		Name:            name,
		Author:          "Author",
		TotalCopies:     copies,
		AvailableCopies: copies,
		IsActive:        true,
	}
	if err := h.db.Create(title).Error; err != nil {
		t.Fatalf("seed title: %v", err)
	}
	return title
}

func (h *lendingHarness) availableCopies(t *testing.T, id uuid.UUID) int {
	t.Helper()

	var title models.Title
	if err := h.db.Where("id = ?", id).First(&title).Error; err != nil {
		t.Fatalf("load title: %v", err)
	}
	return title.AvailableCopies
}

func expectCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()

	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != code {
		t.Fatalf("expected %s error, got %v", code, err)
	}
}

func TestBorrowCreatesLoanAndReservesCopy(t *testing.T) {
	h := newLendingHarness(t, 1)
	ctx := context.Background()
	user := h.seedUser(t, "borrow-basic@example.com", true)
	title := h.seedTitle(t, "Borrow Basic", 2)

	loan, err := h.service.Borrow(ctx, user.ID, title.ID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if loan.Status != enums.LoanStatusBorrowed {
		t.Fatalf("expected borrowed status, got %s", loan.Status)
	}
	wantDue := loan.BorrowedAt.Add(14 * 24 * time.Hour)
	if !loan.DueAt.Equal(wantDue) {
		t.Fatalf("expected due date 14 days out, got %s", loan.DueAt)
	}
	if got := h.availableCopies(t, title.ID); got != 1 {
		t.Fatalf("expected 1 available copy after borrow, got %d", got)
	}
}

func TestBorrowThenReturnRestoresCount(t *testing.T) {
	h := newLendingHarness(t, 1)
	ctx := context.Background()
	user := h.seedUser(t, "borrow-return@example.com", true)
	title := h.seedTitle(t, "Borrow Return", 3)

	loan, err := h.service.Borrow(ctx, user.ID, title.ID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if got := h.availableCopies(t, title.ID); got != 2 {
		t.Fatalf("expected 2 available after borrow, got %d", got)
	}

	returned, err := h.service.Return(ctx, loan.ID)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if returned.Status != enums.LoanStatusReturned {
		t.Fatalf("expected returned status, got %s", returned.Status)
	}
	if returned.ReturnedAt == nil {
		t.Fatalf("expected returned_at to be set")
	}
	if got := h.availableCopies(t, title.ID); got != 3 {
		t.Fatalf("expected count restored to 3, got %d", got)
	}
}

func TestDoubleReturnDoesNotDoubleIncrement(t *testing.T) {
	h := newLendingHarness(t, 1)
	ctx := context.Background()
	user := h.seedUser(t, "double-return@example.com", true)
	title := h.seedTitle(t, "Double Return", 1)

	loan, err := h.service.Borrow(ctx, user.ID, title.ID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := h.service.Return(ctx, loan.ID); err != nil {
		t.Fatalf("first return: %v", err)
	}

	_, err = h.service.Return(ctx, loan.ID)
	expectCode(t, err, pkgerrors.CodeStateConflict)

	if got := h.availableCopies(t, title.ID); got != 1 {
		t.Fatalf("expected counter at 1 after double return, got %d", got)
	}
}

func TestBorrowLastCopyOnlyOnce(t *testing.T) {
	h := newLendingHarness(t, 1)
	ctx := context.Background()
	alice := h.seedUser(t, "last-copy-alice@example.com", true)
	bob := h.seedUser(t, "last-copy-bob@example.com", true)
	title := h.seedTitle(t, "Last Copy", 1)

	if _, err := h.service.Borrow(ctx, alice.ID, title.ID); err != nil {
		t.Fatalf("first borrow: %v", err)
	}

	_, err := h.service.Borrow(ctx, bob.ID, title.ID)
	expectCode(t, err, pkgerrors.CodeUnavailable)

	if got := h.availableCopies(t, title.ID); got != 0 {
		t.Fatalf("expected 0 available, got %d", got)
	}
}

// isSQLiteLocked reports whether any error in the chain is one of
// sqlite's writer collision errors. Shared-cache sqlite surfaces those
// instead of queueing concurrent writers the way postgres does.
func isSQLiteLocked(err error) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := e.Error()
		if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") {
			return true
		}
	}
	return false
}

func TestConcurrentBorrowLastCopy(t *testing.T) {
	h := newLendingHarness(t, 1)
	ctx := context.Background()
	alice := h.seedUser(t, "race-alice@example.com", true)
	bob := h.seedUser(t, "race-bob@example.com", true)
	title := h.seedTitle(t, "Race Last Copy", 1)

	borrow := func(userID uuid.UUID) error {
		var err error
		for attempt := 0; attempt < 50; attempt++ {
			_, err = h.service.Borrow(ctx, userID, title.ID)
			if !isSQLiteLocked(err) {
				return err
			}
			time.Sleep(5 * time.Millisecond)
		}
		return err
	}

	results := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(len(results))
	go func() {
		defer wg.Done()
		results[0] = borrow(alice.ID)
	}()
	go func() {
		defer wg.Done()
		results[1] = borrow(bob.ID)
	}()
	wg.Wait()

	var succeeded, refused int
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() != pkgerrors.CodeUnavailable {
			t.Fatalf("unexpected borrow error: %v", err)
		}
		refused++
	}
	if succeeded != 1 || refused != 1 {
		t.Fatalf("expected one borrow and one refusal, got %d borrowed, %d refused", succeeded, refused)
	}
	if got := h.availableCopies(t, title.ID); got != 0 {
		t.Fatalf("expected 0 available after racing for the last copy, got %d", got)
	}
}

func TestBorrowSameTitleTwiceConflicts(t *testing.T) {
	h := newLendingHarness(t, 5)
	ctx := context.Background()
	user := h.seedUser(t, "same-title@example.com", true)
	title := h.seedTitle(t, "Same Title", 3)

	if _, err := h.service.Borrow(ctx, user.ID, title.ID); err != nil {
		t.Fatalf("first borrow: %v", err)
	}

	_, err := h.service.Borrow(ctx, user.ID, title.ID)
	expectCode(t, err, pkgerrors.CodeConflict)

	if got := h.availableCopies(t, title.ID); got != 2 {
		t.Fatalf("expected only one copy reserved, got %d available", got)
	}
}

func TestBorrowDeniedAtThreshold(t *testing.T) {
	h := newLendingHarness(t, 1)
	ctx := context.Background()
	user := h.seedUser(t, "threshold@example.com", true)
	first := h.seedTitle(t, "Threshold First", 1)
	second := h.seedTitle(t, "Threshold Second", 1)

	if _, err := h.service.Borrow(ctx, user.ID, first.ID); err != nil {
		t.Fatalf("first borrow: %v", err)
	}

	_, err := h.service.Borrow(ctx, user.ID, second.ID)
	expectCode(t, err, pkgerrors.CodeStateConflict)

	// The denied borrow must not touch the second title's counter.
	if got := h.availableCopies(t, second.ID); got != 1 {
		t.Fatalf("expected second title untouched, got %d available", got)
	}
}

func TestBorrowAllowedAgainAfterReturn(t *testing.T) {
	h := newLendingHarness(t, 1)
	ctx := context.Background()
	user := h.seedUser(t, "borrow-again@example.com", true)
	first := h.seedTitle(t, "Again First", 1)
	second := h.seedTitle(t, "Again Second", 1)

	loan, err := h.service.Borrow(ctx, user.ID, first.ID)
	if err != nil {
		t.Fatalf("first borrow: %v", err)
	}
	if _, err := h.service.Return(ctx, loan.ID); err != nil {
		t.Fatalf("return: %v", err)
	}

	if _, err := h.service.Borrow(ctx, user.ID, second.ID); err != nil {
		t.Fatalf("borrow after return should succeed: %v", err)
	}
}

func TestBorrowInactiveUser(t *testing.T) {
	h := newLendingHarness(t, 1)
	ctx := context.Background()
	user := h.seedUser(t, "inactive@example.com", false)
	title := h.seedTitle(t, "Inactive User Title", 1)

	_, err := h.service.Borrow(ctx, user.ID, title.ID)
	expectCode(t, err, pkgerrors.CodeStateConflict)
}

func TestBorrowUnknownUser(t *testing.T) {
	h := newLendingHarness(t, 1)
	title := h.seedTitle(t, "Unknown User Title", 1)

	_, err := h.service.Borrow(context.Background(), uuid.New(), title.ID)
	expectCode(t, err, pkgerrors.CodeNotFound)
}

func TestBorrowUnknownTitle(t *testing.T) {
	h := newLendingHarness(t, 1)
	ctx := context.Background()
	user := h.seedUser(t, "unknown-title@example.com", true)
	held := h.seedTitle(t, "Unknown Title Held", 1)

	// Fill the loan quota first: the missing title must still read as
	// not found, not as a quota refusal.
	if _, err := h.service.Borrow(ctx, user.ID, held.ID); err != nil {
		t.Fatalf("setup borrow: %v", err)
	}

	_, err := h.service.Borrow(ctx, user.ID, uuid.New())
	expectCode(t, err, pkgerrors.CodeNotFound)
}

func TestBorrowRetiredTitle(t *testing.T) {
	h := newLendingHarness(t, 1)
	ctx := context.Background()
	user := h.seedUser(t, "retired-title@example.com", true)
	title := h.seedTitle(t, "Retired Title", 1)

	if err := h.db.Model(&models.Title{}).Where("id = ?", title.ID).Update("is_active", false).Error; err != nil {
		t.Fatalf("retire title: %v", err)
	}

	_, err := h.service.Borrow(ctx, user.ID, title.ID)
	expectCode(t, err, pkgerrors.CodeNotFound)

	if got := h.availableCopies(t, title.ID); got != 1 {
		t.Fatalf("expected retired title untouched, got %d available", got)
	}
}

func TestReturnUnknownLoan(t *testing.T) {
	h := newLendingHarness(t, 1)

	_, err := h.service.Return(context.Background(), uuid.New())
	expectCode(t, err, pkgerrors.CodeNotFound)
}

func TestCanBorrowReportsThreshold(t *testing.T) {
	h := newLendingHarness(t, 2)
	ctx := context.Background()
	user := h.seedUser(t, "eligibility@example.com", true)
	title := h.seedTitle(t, "Eligibility Title", 1)

	before, err := h.service.CanBorrow(ctx, user.ID)
	if err != nil {
		t.Fatalf("can borrow: %v", err)
	}
	if !before.CanBorrow || before.OpenLoans != 0 || before.MaxActiveLoans != 2 {
		t.Fatalf("unexpected eligibility before borrow: %+v", before)
	}

	if _, err := h.service.Borrow(ctx, user.ID, title.ID); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	after, err := h.service.CanBorrow(ctx, user.ID)
	if err != nil {
		t.Fatalf("can borrow: %v", err)
	}
	if !after.CanBorrow || after.OpenLoans != 1 {
		t.Fatalf("unexpected eligibility after borrow: %+v", after)
	}
}

func TestMarkOverdueIsIdempotent(t *testing.T) {
	h := newLendingHarness(t, 5)
	ctx := context.Background()
	user := h.seedUser(t, "overdue@example.com", true)
	late := h.seedTitle(t, "Overdue Late", 1)
	onTime := h.seedTitle(t, "Overdue On Time", 1)

	lateLoan, err := h.service.Borrow(ctx, user.ID, late.ID)
	if err != nil {
		t.Fatalf("borrow late: %v", err)
	}
	if _, err := h.service.Borrow(ctx, user.ID, onTime.ID); err != nil {
		t.Fatalf("borrow on time: %v", err)
	}

	// Push the first loan past its due date.
	past := time.Now().UTC().Add(-48 * time.Hour)
	if err := h.db.Model(&models.Loan{}).Where("id = ?", lateLoan.ID).Update("due_at", past).Error; err != nil {
		t.Fatalf("backdate loan: %v", err)
	}

	now := time.Now().UTC()
	marked, err := h.service.MarkOverdue(ctx, now)
	if err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	if len(marked) != 1 || marked[0].ID != lateLoan.ID {
		t.Fatalf("expected exactly the late loan marked, got %+v", marked)
	}
	if marked[0].Status != enums.LoanStatusOverdue {
		t.Fatalf("expected overdue status, got %s", marked[0].Status)
	}

	// Marking overdue never touches copy counters.
	if got := h.availableCopies(t, late.ID); got != 0 {
		t.Fatalf("expected available copies untouched, got %d", got)
	}

	again, err := h.service.MarkOverdue(ctx, now)
	if err != nil {
		t.Fatalf("second mark overdue: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected rerun to be a no-op, marked %d", len(again))
	}
}

func TestReturnOverdueLoan(t *testing.T) {
	h := newLendingHarness(t, 1)
	ctx := context.Background()
	user := h.seedUser(t, "return-overdue@example.com", true)
	title := h.seedTitle(t, "Return Overdue", 1)

	loan, err := h.service.Borrow(ctx, user.ID, title.ID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	past := time.Now().UTC().Add(-time.Hour)
	if err := h.db.Model(&models.Loan{}).Where("id = ?", loan.ID).Update("due_at", past).Error; err != nil {
		t.Fatalf("backdate loan: %v", err)
	}
	if _, err := h.service.MarkOverdue(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("mark overdue: %v", err)
	}

	returned, err := h.service.Return(ctx, loan.ID)
	if err != nil {
		t.Fatalf("return overdue loan: %v", err)
	}
	if returned.Status != enums.LoanStatusReturned {
		t.Fatalf("expected returned status, got %s", returned.Status)
	}
	if got := h.availableCopies(t, title.ID); got != 1 {
		t.Fatalf("expected copy released, got %d", got)
	}
}

func TestListLoansRejectsUnknownStatus(t *testing.T) {
	h := newLendingHarness(t, 1)

	_, err := h.service.ListLoans(context.Background(), ListLoansInput{
		Statuses: []enums.LoanStatus{"misplaced"},
	})
	expectCode(t, err, pkgerrors.CodeValidation)
}
