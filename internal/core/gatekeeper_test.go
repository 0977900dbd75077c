package core

import (
	"math"
	"testing"
	"time"

	"github.com/promptgate/promptgate/internal/ledger"
	"github.com/promptgate/promptgate/internal/pricing"
)

type nopStore struct{}

func (nopStore) Load() (ledger.Snapshot, error) { return ledger.EmptySnapshot(), nil }
func (nopStore) Save(ledger.Snapshot) error     { return nil }
func (nopStore) Close() error                   { return nil }

func newGatekeeper() (*Gatekeeper, *ledger.Ledger) {
	l := ledger.New(nopStore{})
	return NewGatekeeper(l, "operator", pricing.NewStatic(0.02)), l
}

func TestAuthorizeOperatorBypass(t *testing.T) {
	g, _ := newGatekeeper()
	d := g.Authorize("operator", "write me a parser", time.Now())
	if d.Kind != DecisionProceed || !d.Admin {
		t.Fatalf("expected admin proceed, got %+v", d)
	}
}

func TestAuthorizeStates(t *testing.T) {
	g, l := newGatekeeper()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if d := g.Authorize("u1", "hello", now); d.Kind != DecisionNeedsActivation {
		t.Fatalf("expected needs activation, got %+v", d)
	}

	l.GrantOrRenew("u1", 30, 5.0, now)
	if d := g.Authorize("u1", "hello", now.Add(time.Hour)); d.Kind != DecisionProceed || d.Admin {
		t.Fatalf("expected non-admin proceed, got %+v", d)
	}

	l.GrantOrRenew("u2", 30, 0, now)
	if d := g.Authorize("u2", "hello", now.Add(time.Hour)); d.Kind != DecisionExhausted {
		t.Fatalf("expected exhausted, got %+v", d)
	}

	if d := g.Authorize("u1", "hello", now.AddDate(0, 0, 31)); d.Kind != DecisionExpired {
		t.Fatalf("expected expired, got %+v", d)
	}
}

func TestAuthorizeRedeemsCodes(t *testing.T) {
	g, l := newGatekeeper()
	now := time.Now()

	code, err := l.Issue(30, 5.0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Redemption wins over admin status: even the operator message that
	// carries a code is treated as a redemption attempt.
	d := g.Authorize("operator", code, now)
	if d.Kind != DecisionRedeemed {
		t.Fatalf("expected redeemed, got %+v", d)
	}
	if d.Grant.Days != 30 || d.Grant.Balance != 5.0 {
		t.Fatalf("unexpected grant %+v", d.Grant)
	}

	if d := g.Authorize("u1", code, now); d.Kind != DecisionInvalidCode {
		t.Fatalf("expected invalid code on reuse, got %+v", d)
	}
	if d := g.Authorize("u1", "KEY-ZZZZ9999", now); d.Kind != DecisionInvalidCode {
		t.Fatalf("expected invalid code, got %+v", d)
	}
}

func TestChargeDebitsExactCost(t *testing.T) {
	g, l := newGatekeeper()
	now := time.Now()
	l.GrantOrRenew("u1", 30, 5.0, now)

	applied := g.Charge("u1", "anthropic/claude-4.5-opus", 1000)
	if math.Abs(applied-0.02) > 1e-9 {
		t.Fatalf("expected cost 0.02, got %v", applied)
	}
	acct, _ := l.Get("u1")
	if math.Abs(acct.Balance-4.98) > 1e-9 {
		t.Fatalf("expected balance 4.98, got %v", acct.Balance)
	}
}

func TestChargeOperatorIsFree(t *testing.T) {
	g, l := newGatekeeper()
	if got := g.Charge("operator", "any/model", 1_000_000); got != 0 {
		t.Fatalf("operator charge must be 0, got %v", got)
	}
	if _, ok := l.Get("operator"); ok {
		t.Fatal("operator must not gain a ledger account")
	}
}

func TestChargeWithoutUsageReport(t *testing.T) {
	g, l := newGatekeeper()
	l.GrantOrRenew("u1", 30, 5.0, time.Now())
	if got := g.Charge("u1", "any/model", 0); got != 0 {
		t.Fatalf("missing usage report must charge nothing, got %v", got)
	}
	acct, _ := l.Get("u1")
	if acct.Balance != 5.0 {
		t.Fatalf("balance must be untouched, got %v", acct.Balance)
	}
}

func TestIssueKeyOperatorOnly(t *testing.T) {
	g, _ := newGatekeeper()
	if _, err := g.IssueKey("u1", 30, 5.0); err != ErrNotOperator {
		t.Fatalf("expected ErrNotOperator, got %v", err)
	}
	code, err := g.IssueKey("operator", 30, 5.0)
	if err != nil {
		t.Fatalf("IssueKey: %v", err)
	}
	if !ledger.IsCode(code) {
		t.Fatalf("issued code %q has wrong syntax", code)
	}
}

func TestUsageSummaryOperatorOnly(t *testing.T) {
	g, l := newGatekeeper()
	l.GrantOrRenew("u1", 30, 5.0, time.Now())

	if _, err := g.UsageSummary("u1"); err != ErrNotOperator {
		t.Fatalf("expected ErrNotOperator, got %v", err)
	}
	totals, err := g.UsageSummary("operator")
	if err != nil {
		t.Fatalf("UsageSummary: %v", err)
	}
	if totals.Accounts != 1 || totals.TotalBalance != 5.0 {
		t.Fatalf("unexpected totals %+v", totals)
	}
}
