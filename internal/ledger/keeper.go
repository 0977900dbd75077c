package ledger

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Ledger owns the in-memory accounts and credentials and is the single
// authority over them. One mutex serializes every mutation together with the
// snapshot write that follows it, so a credential can never be redeemed
// twice and a balance read-modify-write cannot lose an update.
type Ledger struct {
	mu     sync.Mutex
	store  SnapshotStore
	snap   Snapshot
	logger *log.Logger
}

// New builds a Ledger on top of the given store. A load failure is logged
// and the ledger starts empty; the process stays available.
func New(store SnapshotStore) *Ledger {
	l := &Ledger{
		store:  store,
		logger: log.New(log.Writer(), "[promptgate/ledger] ", log.LstdFlags|log.Lmicroseconds),
	}
	snap, err := store.Load()
	if err != nil {
		l.logf("load snapshot failed, starting empty: %v", err)
		snap = EmptySnapshot()
	}
	if snap.Accounts == nil {
		snap.Accounts = make(map[string]Account)
	}
	if snap.Credentials == nil {
		snap.Credentials = make(map[string]Credential)
	}
	l.snap = snap
	return l
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (l *Ledger) SetLogger(logger *log.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

func (l *Ledger) logf(format string, args ...any) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
	}
}

// persistLocked writes the full snapshot. Write errors are logged and
// swallowed: the in-memory state remains authoritative and the process keeps
// serving. Callers must hold l.mu.
func (l *Ledger) persistLocked() {
	if err := l.store.Save(l.copySnapshotLocked()); err != nil {
		l.logf("persist snapshot failed: %v", err)
	}
}

func (l *Ledger) copySnapshotLocked() Snapshot {
	out := Snapshot{
		Accounts:    make(map[string]Account, len(l.snap.Accounts)),
		Credentials: make(map[string]Credential, len(l.snap.Credentials)),
	}
	for k, v := range l.snap.Accounts {
		out.Accounts[k] = v
	}
	for k, v := range l.snap.Credentials {
		out.Credentials[k] = v
	}
	return out
}

// Issue creates a new single-use activation code carrying the given grant
// terms and persists it. Collisions with outstanding codes are retried.
func (l *Ledger) Issue(grantDays int, grantBalance float64) (string, error) {
	if grantDays <= 0 {
		return "", fmt.Errorf("grant days must be positive, got %d", grantDays)
	}
	if grantBalance < 0 {
		return "", fmt.Errorf("grant balance must not be negative, got %v", grantBalance)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var code string
	for {
		generated, err := GenerateCode()
		if err != nil {
			return "", err
		}
		if _, exists := l.snap.Credentials[generated]; !exists {
			code = generated
			break
		}
	}
	l.snap.Credentials[code] = Credential{GrantDays: grantDays, GrantBalance: grantBalance}
	l.persistLocked()
	l.logf("issued code days=%d balance=%.4f outstanding=%d", grantDays, grantBalance, len(l.snap.Credentials))
	return code, nil
}

// Activate redeems the code for the identity. Removal of the credential and
// the account grant happen under one lock acquisition: either both take
// effect or neither does. A second activation with the same code returns
// ErrInvalidCode.
func (l *Ledger) Activate(identity, code string, now time.Time) (Grant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cred, ok := l.snap.Credentials[code]
	if !ok {
		return Grant{}, ErrInvalidCode
	}
	delete(l.snap.Credentials, code)
	acct := l.grantLocked(identity, cred.GrantDays, cred.GrantBalance, now)
	l.persistLocked()
	l.logf("activated identity=%s days=%d balance=%.4f expires=%s",
		identity, cred.GrantDays, cred.GrantBalance, acct.ExpiresAt.Format(time.RFC3339))
	return Grant{Days: cred.GrantDays, Balance: cred.GrantBalance, ExpiresAt: acct.ExpiresAt}, nil
}

// GrantOrRenew creates the account or overwrites an existing one with the
// new terms. Renewal replaces balance and expiry rather than stacking.
func (l *Ledger) GrantOrRenew(identity string, days int, balance float64, now time.Time) Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.grantLocked(identity, days, balance, now)
	l.persistLocked()
	return acct
}

func (l *Ledger) grantLocked(identity string, days int, balance float64, now time.Time) Account {
	acct := Account{
		Identity:  identity,
		Balance:   balance,
		ExpiresAt: now.AddDate(0, 0, days),
	}
	l.snap.Accounts[identity] = acct
	return acct
}

// Get returns the account for the identity, if present.
func (l *Ledger) Get(identity string) (Account, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.snap.Accounts[identity]
	return acct, ok
}

// Authorize evaluates whether the identity may proceed right now. Finding an
// expired account purges it as a side effect, so a later Get no longer sees
// it.
func (l *Ledger) Authorize(identity string, now time.Time) AuthState {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.snap.Accounts[identity]
	if !ok {
		return StateUnknown
	}
	if now.After(acct.ExpiresAt) {
		delete(l.snap.Accounts, identity)
		l.persistLocked()
		l.logf("purged expired account identity=%s expired=%s", identity, acct.ExpiresAt.Format(time.RFC3339))
		return StateExpired
	}
	if acct.Balance <= 0 {
		return StateExhausted
	}
	return StateAuthorized
}

// Debit subtracts amount from the identity's balance, flooring at zero, and
// returns the amount actually applied. A debit against a missing account is
// a no-op; Authorize should have gated the call.
func (l *Ledger) Debit(identity string, amount float64) float64 {
	if amount <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.snap.Accounts[identity]
	if !ok {
		return 0
	}
	applied := amount
	if applied > acct.Balance {
		applied = acct.Balance
	}
	acct.Balance -= applied
	l.snap.Accounts[identity] = acct
	l.persistLocked()
	l.logf("debit identity=%s amount=%.6f applied=%.6f remaining=%.6f", identity, amount, applied, acct.Balance)
	return applied
}

// Totals aggregates the current ledger state for operator reporting.
type Totals struct {
	Accounts        int     `json:"accounts"`
	OutstandingKeys int     `json:"outstanding_keys"`
	TotalBalance    float64 `json:"total_balance"`
}

// Summary returns aggregate counts and the sum of all balances.
func (l *Ledger) Summary() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := Totals{
		Accounts:        len(l.snap.Accounts),
		OutstandingKeys: len(l.snap.Credentials),
	}
	for _, acct := range l.snap.Accounts {
		t.TotalBalance += acct.Balance
	}
	return t
}

// SnapshotCopy returns a deep copy of the current state, e.g. for the admin
// accounts listing.
func (l *Ledger) SnapshotCopy() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.copySnapshotLocked()
}
