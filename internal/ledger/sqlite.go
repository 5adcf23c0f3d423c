package ledger

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists balances and journal entries in a local sqlite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the ledger database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			account_id TEXT PRIMARY KEY,
			balance INTEGER NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			reservation_id TEXT,
			delta INTEGER NOT NULL,
			balance INTEGER NOT NULL,
			reason TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_account ON ledger_entries(account_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) LoadAccounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT account_id, balance FROM accounts")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make(map[string]int64)
	for rows.Next() {
		var id string
		var balance int64
		if err := rows.Scan(&id, &balance); err != nil {
			return nil, err
		}
		accounts[id] = balance
	}
	return accounts, rows.Err()
}

func (s *SQLiteStore) SaveBalance(ctx context.Context, accountID string, balance int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (account_id, balance, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(account_id) DO UPDATE SET balance = excluded.balance, updated_at = CURRENT_TIMESTAMP`,
		accountID, balance,
	)
	return err
}

func (s *SQLiteStore) AppendEntry(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, account_id, reservation_id, delta, balance, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.AccountID, entry.ReservationID, entry.Delta, entry.Balance,
		string(entry.Reason), entry.CreatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) Entries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, reservation_id, delta, balance, reason, created_at
		 FROM ledger_entries WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var reservationID sql.NullString
		var reason string
		if err := rows.Scan(&e.ID, &e.AccountID, &reservationID, &e.Delta, &e.Balance, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ReservationID = reservationID.String
		e.Reason = EntryReason(reason)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
