package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/promptgate/promptgate/internal/ledger"
)

// Store implements ledger.SnapshotStore backed by SQLite. Save rewrites the
// whole snapshot inside one transaction, which keeps the store contract
// identical to the file backend while gaining journaled writes.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	identity TEXT PRIMARY KEY,
	balance REAL NOT NULL CHECK(balance >= 0),
	expires_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS credentials (
	code TEXT PRIMARY KEY,
	grant_days INTEGER NOT NULL,
	grant_balance REAL NOT NULL CHECK(grant_balance >= 0)
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the complete snapshot.
func (s *Store) Load() (ledger.Snapshot, error) {
	snap := ledger.EmptySnapshot()

	rows, err := s.db.Query(`SELECT identity, balance, expires_at FROM accounts`)
	if err != nil {
		return snap, fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var acct ledger.Account
		var expires time.Time
		if err := rows.Scan(&acct.Identity, &acct.Balance, &expires); err != nil {
			return snap, fmt.Errorf("scan account: %w", err)
		}
		acct.ExpiresAt = expires
		snap.Accounts[acct.Identity] = acct
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}

	credRows, err := s.db.Query(`SELECT code, grant_days, grant_balance FROM credentials`)
	if err != nil {
		return snap, fmt.Errorf("load credentials: %w", err)
	}
	defer credRows.Close()
	for credRows.Next() {
		var code string
		var cred ledger.Credential
		if err := credRows.Scan(&code, &cred.GrantDays, &cred.GrantBalance); err != nil {
			return snap, fmt.Errorf("scan credential: %w", err)
		}
		snap.Credentials[code] = cred
	}
	return snap, credRows.Err()
}

// Save replaces the persisted snapshot with the given one atomically.
func (s *Store) Save(snap ledger.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`DELETE FROM accounts`); err != nil {
		return fmt.Errorf("clear accounts: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM credentials`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	for identity, acct := range snap.Accounts {
		if _, err := tx.Exec(
			`INSERT INTO accounts(identity, balance, expires_at) VALUES(?, ?, ?)`,
			identity, acct.Balance, acct.ExpiresAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert account %s: %w", identity, err)
		}
	}
	for code, cred := range snap.Credentials {
		if _, err := tx.Exec(
			`INSERT INTO credentials(code, grant_days, grant_balance) VALUES(?, ?, ?)`,
			code, cred.GrantDays, cred.GrantBalance,
		); err != nil {
			return fmt.Errorf("insert credential: %w", err)
		}
	}
	return tx.Commit()
}
