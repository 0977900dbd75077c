package ledger

import (
	"errors"
	"time"
)

// Account is the per-identity ledger entry. Balance is denominated in the
// same currency as the configured price per 1K tokens and never goes below
// zero.
type Account struct {
	Identity  string    `json:"identity"`
	Balance   float64   `json:"balance"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Credential is an unredeemed activation key. The code itself is the map key
// in the snapshot; a credential disappears from the store the moment it is
// redeemed.
type Credential struct {
	GrantDays    int     `json:"grant_days"`
	GrantBalance float64 `json:"grant_balance"`
}

// Grant reports the terms applied by a successful activation.
type Grant struct {
	Days      int
	Balance   float64
	ExpiresAt time.Time
}

// Snapshot is the full persisted state: all accounts plus all outstanding
// credentials, written as one unit.
type Snapshot struct {
	Accounts    map[string]Account    `json:"accounts"`
	Credentials map[string]Credential `json:"credentials"`
}

// EmptySnapshot returns a snapshot with initialized maps.
func EmptySnapshot() Snapshot {
	return Snapshot{
		Accounts:    make(map[string]Account),
		Credentials: make(map[string]Credential),
	}
}

// SnapshotStore defines persistence behaviour for the ledger. Save must
// never leave a partially written snapshot visible to a concurrent Load.
type SnapshotStore interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
	Close() error
}

// AuthState is the ledger's answer to "may this identity proceed".
type AuthState int

const (
	// StateUnknown means no account exists for the identity.
	StateUnknown AuthState = iota
	// StateAuthorized means the account is active with balance remaining.
	StateAuthorized
	// StateExpired means the account validity window has passed.
	StateExpired
	// StateExhausted means the account balance is used up.
	StateExhausted
)

func (s AuthState) String() string {
	switch s {
	case StateAuthorized:
		return "authorized"
	case StateExpired:
		return "expired"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// ErrInvalidCode is returned when an activation code is unknown or was
// already redeemed.
var ErrInvalidCode = errors.New("invalid or already redeemed activation code")
