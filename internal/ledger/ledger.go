package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Ledger owns per-account credit balances and their reservations.
//
// Balances live in memory and are written through to the Store on every
// mutation. Each account has its own lock, so the reserve critical section
// of one account never blocks another.
type Ledger struct {
	store Store

	mu           sync.Mutex // guards the three maps, never held across I/O
	accounts     map[string]int64
	locks        map[string]*sync.Mutex
	reservations map[string]*Reservation

	retryAttempts    int
	retryBackoff     time.Duration
	settledRetention time.Duration
}

// Option configures the Ledger.
type Option func(*Ledger)

// WithSettleRetry overrides the bounded retry used for commit/refund writes.
func WithSettleRetry(attempts int, backoff time.Duration) Option {
	return func(l *Ledger) {
		l.retryAttempts = attempts
		l.retryBackoff = backoff
	}
}

// WithSettledRetention overrides how long settled reservations stay known.
// The window must outlive late idempotent settle calls from racing exit
// paths and sweep retries.
func WithSettledRetention(d time.Duration) Option {
	return func(l *Ledger) {
		l.settledRetention = d
	}
}

// New creates a Ledger backed by store, loading persisted balances.
func New(ctx context.Context, store Store, opts ...Option) (*Ledger, error) {
	accounts, err := store.LoadAccounts(ctx)
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		store:            store,
		accounts:         accounts,
		locks:            make(map[string]*sync.Mutex),
		reservations:     make(map[string]*Reservation),
		retryAttempts:    3,
		retryBackoff:     200 * time.Millisecond,
		settledRetention: time.Hour,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// accountLock returns the mutex serializing mutations for one account.
func (l *Ledger) accountLock(accountID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountID] = m
	}
	return m
}

// Reserve atomically checks and debits amount from the account, returning the
// reservation ID. The check and the debit share one critical section: of two
// concurrent reserves against a balance that covers only one, exactly one
// succeeds.
func (l *Ledger) Reserve(ctx context.Context, accountID string, amount int64) (string, error) {
	lock := l.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	l.mu.Lock()
	balance, ok := l.accounts[accountID]
	l.mu.Unlock()

	if !ok {
		return "", ErrAccountNotFound
	}
	if balance < amount {
		return "", ErrInsufficientCredits
	}

	newBalance := balance - amount
	res := &Reservation{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Amount:    amount,
		State:     ReservationHeld,
		CreatedAt: time.Now(),
	}

	if err := l.store.SaveBalance(ctx, accountID, newBalance); err != nil {
		return "", err
	}
	if err := l.appendEntry(ctx, accountID, res.ID, -amount, newBalance, ReasonReserve); err != nil {
		// Undo the debit so a failed journal write cannot strand credits.
		if undoErr := l.store.SaveBalance(ctx, accountID, balance); undoErr != nil {
			log.Error().Err(undoErr).
				Str("account_id", accountID).
				Int64("amount", amount).
				Msg("ledger: failed to undo debit after journal failure")
		}
		return "", err
	}

	l.mu.Lock()
	l.accounts[accountID] = newBalance
	l.reservations[res.ID] = res
	l.mu.Unlock()

	return res.ID, nil
}

// Commit finalizes the debit held by a reservation. Calling it twice is a
// no-op; calling it after a refund is a ledger inconsistency.
func (l *Ledger) Commit(ctx context.Context, reservationID string) error {
	return l.settle(ctx, reservationID, ReservationCommitted)
}

// Refund re-credits the amount held by a reservation. Calling it twice is a
// no-op; calling it after a commit is a ledger inconsistency (it would
// double-credit) and is rejected.
func (l *Ledger) Refund(ctx context.Context, reservationID string) error {
	return l.settle(ctx, reservationID, ReservationRefunded)
}

func (l *Ledger) settle(ctx context.Context, reservationID string, target ReservationState) error {
	l.mu.Lock()
	res, ok := l.reservations[reservationID]
	l.mu.Unlock()
	if !ok {
		return ErrReservationNotFound
	}

	lock := l.accountLock(res.AccountID)
	lock.Lock()
	defer lock.Unlock()

	op := "commit"
	if target == ReservationRefunded {
		op = "refund"
	}

	switch res.State {
	case target:
		// Retry-safe callers may settle twice; the second call is a no-op.
		return nil
	case ReservationHeld:
		// fall through
	default:
		incErr := &InconsistencyError{
			AccountID:     res.AccountID,
			ReservationID: res.ID,
			Amount:        res.Amount,
			Op:            op,
			Err:           errStateViolation(res.State, target),
		}
		log.Error().
			Str("account_id", res.AccountID).
			Str("reservation_id", res.ID).
			Int64("amount", res.Amount).
			Str("op", op).
			Str("state", string(res.State)).
			Msg("ledger: settlement state violation, manual reconciliation required")
		return incErr
	}

	l.mu.Lock()
	balance := l.accounts[res.AccountID]
	l.mu.Unlock()

	var delta int64
	reason := ReasonCommit
	if target == ReservationRefunded {
		delta = res.Amount
		reason = ReasonRefund
	}
	newBalance := balance + delta

	write := func() error {
		if delta != 0 {
			if err := l.store.SaveBalance(ctx, res.AccountID, newBalance); err != nil {
				return err
			}
		}
		return l.appendEntry(ctx, res.AccountID, res.ID, delta, newBalance, reason)
	}

	if err := l.withRetry(ctx, write); err != nil {
		incErr := &InconsistencyError{
			AccountID:     res.AccountID,
			ReservationID: res.ID,
			Amount:        res.Amount,
			Op:            op,
			Err:           err,
		}
		log.Error().Err(err).
			Str("account_id", res.AccountID).
			Str("reservation_id", res.ID).
			Int64("amount", res.Amount).
			Str("op", op).
			Msg("ledger: settlement write failed after retries, manual reconciliation required")
		return incErr
	}

	now := time.Now()
	l.mu.Lock()
	res.State = target
	res.SettledAt = now
	l.accounts[res.AccountID] = newBalance
	l.evictSettledLocked(now)
	l.mu.Unlock()

	return nil
}

// evictSettledLocked drops reservations that settled longer ago than the
// retention window, bounding the map over the process lifetime. Held
// reservations are never dropped.
func (l *Ledger) evictSettledLocked(now time.Time) {
	for id, r := range l.reservations {
		if r.State != ReservationHeld && now.Sub(r.SettledAt) >= l.settledRetention {
			delete(l.reservations, id)
		}
	}
}

// withRetry runs write with bounded backoff. Settlement writes represent real
// credits; they are retried before being surfaced for manual reconciliation.
func (l *Ledger) withRetry(ctx context.Context, write func() error) error {
	var err error
	for attempt := 0; attempt < l.retryAttempts; attempt++ {
		if err = write(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryBackoff * time.Duration(attempt+1)):
		}
	}
	return err
}

func (l *Ledger) appendEntry(ctx context.Context, accountID, reservationID string, delta, balance int64, reason EntryReason) error {
	return l.store.AppendEntry(ctx, Entry{
		ID:            uuid.New().String(),
		AccountID:     accountID,
		ReservationID: reservationID,
		Delta:         delta,
		Balance:       balance,
		Reason:        reason,
		CreatedAt:     time.Now(),
	})
}

// Credit adds amount to an account, creating it if needed. Used for top-ups
// and seeding.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount int64) error {
	lock := l.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	l.mu.Lock()
	balance := l.accounts[accountID]
	l.mu.Unlock()

	newBalance := balance + amount
	if err := l.store.SaveBalance(ctx, accountID, newBalance); err != nil {
		return err
	}
	if err := l.appendEntry(ctx, accountID, "", amount, newBalance, ReasonCredit); err != nil {
		return err
	}

	l.mu.Lock()
	l.accounts[accountID] = newBalance
	l.mu.Unlock()
	return nil
}

// EnsureAccount creates an account with an initial balance if it does not
// exist yet. Existing accounts are left untouched.
func (l *Ledger) EnsureAccount(ctx context.Context, accountID string, initial int64) error {
	l.mu.Lock()
	_, exists := l.accounts[accountID]
	l.mu.Unlock()
	if exists {
		return nil
	}
	return l.Credit(ctx, accountID, initial)
}

// Balance returns the current balance for an account.
func (l *Ledger) Balance(accountID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.accounts[accountID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return balance, nil
}

// Reservation returns a copy of the reservation, if known.
func (l *Ledger) Reservation(reservationID string) (Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[reservationID]
	if !ok {
		return Reservation{}, false
	}
	return *res, true
}

// stateViolation is the inner error for an illegal settlement transition.
type stateViolation struct {
	from ReservationState
	to   ReservationState
}

func errStateViolation(from, to ReservationState) error {
	return &stateViolation{from: from, to: to}
}

func (e *stateViolation) Error() string {
	return "reservation already " + string(e.from) + ", cannot " + string(e.to)
}
