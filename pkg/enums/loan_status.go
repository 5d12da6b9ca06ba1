package enums

import "fmt"

// LoanStatus tracks the lifecycle of a loan record.
type LoanStatus string

const (
	LoanStatusBorrowed LoanStatus = "borrowed"
	LoanStatusReturned LoanStatus = "returned"
	LoanStatusOverdue  LoanStatus = "overdue"
)

var validLoanStatuses = []LoanStatus{
	LoanStatusBorrowed,
	LoanStatusReturned,
	LoanStatusOverdue,
}

// OpenLoanStatuses are the statuses that count against a user's
// active-loan limit and block duplicate borrows of the same title.
var OpenLoanStatuses = []LoanStatus{
	LoanStatusBorrowed,
	LoanStatusOverdue,
}

// String implements fmt.Stringer.
func (s LoanStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known LoanStatus.
func (s LoanStatus) IsValid() bool {
	for _, candidate := range validLoanStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsOpen reports whether a loan in this status still holds a copy.
func (s LoanStatus) IsOpen() bool {
	return s == LoanStatusBorrowed || s == LoanStatusOverdue
}

// ParseLoanStatus converts raw input into a LoanStatus.
func ParseLoanStatus(value string) (LoanStatus, error) {
	for _, candidate := range validLoanStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid loan status %q", value)
}
