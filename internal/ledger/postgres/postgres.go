package postgres

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/promptgate/promptgate/internal/ledger"
)

// Store implements ledger.SnapshotStore backed by PostgreSQL, for
// deployments where the snapshot should live off the bot host.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed store using the provided DSN and connection
// pool settings. Zero values leave the pool defaults untouched.
func New(dsn string, maxOpen, maxIdle int, connLifetime time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if connLifetime > 0 {
		db.SetConnMaxLifetime(connLifetime)
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
	balance DOUBLE PRECISION NOT NULL CHECK(balance >= 0),
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS credentials (
	code TEXT PRIMARY KEY,
	grant_days INTEGER NOT NULL,
	grant_balance DOUBLE PRECISION NOT NULL CHECK(grant_balance >= 0)
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
		if err := rows.Scan(&acct.Identity, &acct.Balance, &acct.ExpiresAt); err != nil {
			return snap, fmt.Errorf("scan account: %w", err)
		}
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

// Save replaces the persisted snapshot inside one transaction.
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
			`INSERT INTO accounts(identity, balance, expires_at) VALUES($1, $2, $3)`,
			identity, acct.Balance, acct.ExpiresAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert account %s: %w", identity, err)
		}
	}
	for code, cred := range snap.Credentials {
		if _, err := tx.Exec(
			`INSERT INTO credentials(code, grant_days, grant_balance) VALUES($1, $2, $3)`,
			code, cred.GrantDays, cred.GrantBalance,
		); err != nil {
			return fmt.Errorf("insert credential: %w", err)
		}
	}
	return tx.Commit()
}
