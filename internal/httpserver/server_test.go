package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/promptgate/promptgate/internal/auth"
	"github.com/promptgate/promptgate/internal/ledger"
)

type nopStore struct{}

func (nopStore) Load() (ledger.Snapshot, error) { return ledger.EmptySnapshot(), nil }
func (nopStore) Save(ledger.Snapshot) error     { return nil }
func (nopStore) Close() error                   { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(nopStore{})
	mgr, err := auth.NewManager("test-signing-secret")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s, err := New(l, mgr, "operator-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv, l
}

func login(t *testing.T, srv *httptest.Server, secret string) (string, int) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"secret": secret})
	resp, err := http.Post(srv.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return payload.Token, resp.StatusCode
}

func authedRequest(t *testing.T, method, url, token string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestLoginRejectsWrongSecret(t *testing.T) {
	srv, _ := newTestServer(t)
	if _, status := login(t, srv, "wrong"); status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := authedRequest(t, "GET", srv.URL+"/api/v1/admin/usage", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = authedRequest(t, "GET", srv.URL+"/api/v1/admin/usage", "not-a-token", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.StatusCode)
	}
}

func TestIssueKeyAndListAccounts(t *testing.T) {
	srv, l := newTestServer(t)
	token, status := login(t, srv, "operator-secret")
	if status != http.StatusOK {
		t.Fatalf("login failed with %d", status)
	}

	body, _ := json.Marshal(map[string]any{"days": 30, "balance": 5.0})
	resp := authedRequest(t, "POST", srv.URL+"/api/v1/admin/keys", token, body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ledger.IsCode(created.Key) {
		t.Fatalf("unexpected key %q", created.Key)
	}

	l.GrantOrRenew("42", 30, 5.0, time.Now())

	resp = authedRequest(t, "GET", srv.URL+"/api/v1/admin/accounts", token, nil)
	defer resp.Body.Close()
	var listing struct {
		Accounts        []ledger.Account `json:"accounts"`
		OutstandingKeys int              `json:"outstanding_keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode accounts: %v", err)
	}
	if len(listing.Accounts) != 1 || listing.Accounts[0].Identity != "42" {
		t.Fatalf("unexpected accounts %+v", listing.Accounts)
	}
	if listing.OutstandingKeys != 1 {
		t.Fatalf("expected one outstanding key, got %d", listing.OutstandingKeys)
	}
}

func TestIssueKeyValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	token, _ := login(t, srv, "operator-secret")

	body, _ := json.Marshal(map[string]any{"days": 0, "balance": 5.0})
	resp := authedRequest(t, "POST", srv.URL+"/api/v1/admin/keys", token, body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero days, got %d", resp.StatusCode)
	}
}

func TestUsageTotals(t *testing.T) {
	srv, l := newTestServer(t)
	token, _ := login(t, srv, "operator-secret")
	l.GrantOrRenew("1", 30, 2.5, time.Now())
	l.GrantOrRenew("2", 30, 1.5, time.Now())

	resp := authedRequest(t, "GET", srv.URL+"/api/v1/admin/usage", token, nil)
	defer resp.Body.Close()
	var totals ledger.Totals
	if err := json.NewDecoder(resp.Body).Decode(&totals); err != nil {
		t.Fatalf("decode totals: %v", err)
	}
	if totals.Accounts != 2 || totals.TotalBalance != 4.0 {
		t.Fatalf("unexpected totals %+v", totals)
	}
}
