package ledger

import "context"

// Store persists balances and the append-only audit journal.
//
// AppendEntry must be durable before returning: the ledger treats a returned
// error as "the entry may not exist" and retries.
type Store interface {
	// LoadAccounts returns all persisted account balances.
	LoadAccounts(ctx context.Context) (map[string]int64, error)

	// SaveBalance persists the current balance for an account.
	SaveBalance(ctx context.Context, accountID string, balance int64) error

	// AppendEntry appends one immutable journal entry.
	AppendEntry(ctx context.Context, entry Entry) error

	// Entries returns the most recent journal entries for an account,
	// newest first.
	Entries(ctx context.Context, accountID string, limit int) ([]Entry, error)

	Close() error
}
