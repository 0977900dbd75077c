package core

import (
	"errors"
	"log"
	"time"

	"github.com/promptgate/promptgate/internal/ledger"
	"github.com/promptgate/promptgate/internal/pricing"
)

// ErrNotOperator is returned when a privileged operation is attempted by a
// non-operator identity.
var ErrNotOperator = errors.New("operation restricted to the operator identity")

// DecisionKind classifies the outcome of an authorization check.
type DecisionKind int

const (
	// DecisionProceed allows the request to reach the upstream model.
	DecisionProceed DecisionKind = iota
	// DecisionNeedsActivation means the identity has no account yet.
	DecisionNeedsActivation
	// DecisionExpired means the account validity window has passed.
	DecisionExpired
	// DecisionExhausted means the account balance is used up.
	DecisionExhausted
	// DecisionRedeemed means the message was an activation code and it was
	// consumed successfully; Grant carries the applied terms.
	DecisionRedeemed
	// DecisionInvalidCode means the message looked like an activation code
	// but no such credential exists.
	DecisionInvalidCode
)

// Decision is the Gatekeeper's verdict on one inbound message.
type Decision struct {
	Kind  DecisionKind
	Admin bool
	Grant ledger.Grant
}

// Gatekeeper decides, per inbound message, whether the sender may reach the
// completion upstream, handles activation codes, and meters usage after a
// completed call.
type Gatekeeper struct {
	ledger     *ledger.Ledger
	operatorID string
	prices     *pricing.Table
	logger     *log.Logger
}

// NewGatekeeper creates a Gatekeeper. operatorID is the privileged identity
// exempt from authorization and metering; it is fixed for the process
// lifetime.
func NewGatekeeper(l *ledger.Ledger, operatorID string, prices *pricing.Table) *Gatekeeper {
	return &Gatekeeper{
		ledger:     l,
		operatorID: operatorID,
		prices:     prices,
		logger:     log.New(log.Writer(), "[promptgate/core] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (g *Gatekeeper) SetLogger(logger *log.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

func (g *Gatekeeper) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

// IsOperator reports whether the identity is the privileged operator.
func (g *Gatekeeper) IsOperator(identity string) bool {
	return g.operatorID != "" && identity == g.operatorID
}

// Authorize inspects one inbound message. Activation codes are redeemed
// regardless of who sends them; the operator bypasses every balance and
// expiry check; everyone else is judged by the ledger.
func (g *Gatekeeper) Authorize(identity, text string, now time.Time) Decision {
	if ledger.IsCode(text) {
		grant, err := g.ledger.Activate(identity, text, now)
		if err != nil {
			g.logf("authorize identity=%s decision=invalid_code", identity)
			return Decision{Kind: DecisionInvalidCode}
		}
		g.logf("authorize identity=%s decision=redeemed days=%d balance=%.4f", identity, grant.Days, grant.Balance)
		return Decision{Kind: DecisionRedeemed, Grant: grant}
	}
	if g.IsOperator(identity) {
		return Decision{Kind: DecisionProceed, Admin: true}
	}
	state := g.ledger.Authorize(identity, now)
	g.logf("authorize identity=%s state=%s", identity, state)
	switch state {
	case ledger.StateAuthorized:
		return Decision{Kind: DecisionProceed}
	case ledger.StateExpired:
		return Decision{Kind: DecisionExpired}
	case ledger.StateExhausted:
		return Decision{Kind: DecisionExhausted}
	default:
		return Decision{Kind: DecisionNeedsActivation}
	}
}

// Charge converts the reported token count into a cost and debits it,
// returning the amount actually applied. The operator is never charged, and
// a missing usage report (zero tokens) charges nothing: failing to meter is
// preferred over mischarging.
func (g *Gatekeeper) Charge(identity, model string, reportedTokens int) float64 {
	if reportedTokens <= 0 || g.IsOperator(identity) {
		return 0
	}
	cost := float64(reportedTokens) / 1000 * g.prices.Per1K(model)
	applied := g.ledger.Debit(identity, cost)
	g.logf("charge identity=%s model=%s tokens=%d cost=%.6f applied=%.6f", identity, model, reportedTokens, cost, applied)
	return applied
}

// IssueKey mints a new activation code. Only the operator may issue keys.
func (g *Gatekeeper) IssueKey(identity string, days int, balance float64) (string, error) {
	if !g.IsOperator(identity) {
		g.logf("issue_key denied identity=%s", identity)
		return "", ErrNotOperator
	}
	return g.ledger.Issue(days, balance)
}

// UsageSummary returns the aggregate ledger state. Only the operator may
// query it.
func (g *Gatekeeper) UsageSummary(identity string) (ledger.Totals, error) {
	if !g.IsOperator(identity) {
		return ledger.Totals{}, ErrNotOperator
	}
	return g.ledger.Summary(), nil
}

// Account exposes the ledger entry for an identity, for balance display.
func (g *Gatekeeper) Account(identity string) (ledger.Account, bool) {
	return g.ledger.Get(identity)
}
