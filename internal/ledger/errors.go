package ledger

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrAccountNotFound     = errors.New("ledger: account not found")
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
	ErrReservationNotFound = errors.New("ledger: reservation not found")

	// ErrLedgerInconsistency marks a settlement that could not be applied or
	// confirmed: a refund attempted on a committed reservation, or a journal
	// write that failed after retries. It represents an un-reconciled balance
	// and must never be silently dropped.
	ErrLedgerInconsistency = errors.New("ledger: inconsistency")
)

// InconsistencyError wraps ErrLedgerInconsistency with the context an operator
// needs for manual reconciliation.
type InconsistencyError struct {
	AccountID     string
	ReservationID string
	Amount        int64
	Op            string
	Err           error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("ledger: inconsistency during %s: account=%s reservation=%s amount=%d: %v",
		e.Op, e.AccountID, e.ReservationID, e.Amount, e.Err)
}

func (e *InconsistencyError) Unwrap() error {
	return ErrLedgerInconsistency
}
