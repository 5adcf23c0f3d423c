// Package ledger owns per-account credit balances.
//
// DESIGN: Balances are mutated only through Reserve/Commit/Refund. The
// check-then-debit in Reserve runs inside a per-account critical section so
// two concurrent reserves can never both succeed against a balance that
// covers only one of them. Every transition appends an immutable entry to the
// audit journal.
package ledger

import "time"

// ReservationState tracks the lifecycle of a held debit.
type ReservationState string

const (
	ReservationHeld      ReservationState = "held"
	ReservationCommitted ReservationState = "committed"
	ReservationRefunded  ReservationState = "refunded"
)

// Reservation is a held-but-not-yet-finalized credit debit.
type Reservation struct {
	ID        string
	AccountID string
	Amount    int64
	State     ReservationState
	CreatedAt time.Time
	SettledAt time.Time
}

// EntryReason classifies journal entries.
type EntryReason string

const (
	ReasonReserve EntryReason = "reserve"
	ReasonCommit  EntryReason = "commit"
	ReasonRefund  EntryReason = "refund"
	ReasonCredit  EntryReason = "credit"
)

// Entry is one immutable line of the audit journal.
type Entry struct {
	ID            string      `json:"id"`
	AccountID     string      `json:"account_id"`
	ReservationID string      `json:"reservation_id,omitempty"`
	Delta         int64       `json:"delta"`
	Balance       int64       `json:"balance"`
	Reason        EntryReason `json:"reason"`
	CreatedAt     time.Time   `json:"created_at"`
}

// AccountSnapshot is a read-only view of one account.
type AccountSnapshot struct {
	ID      string
	Balance int64
}
