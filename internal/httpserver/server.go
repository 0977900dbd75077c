// Package httpserver exposes the operator's REST API: issuing activation
// keys, inspecting accounts and reading usage totals. It is a maintenance
// surface, separate from the chat loop, and is disabled unless configured.
package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/promptgate/promptgate/internal/auth"
	"github.com/promptgate/promptgate/internal/ledger"
	"github.com/promptgate/promptgate/internal/version"
)

const tokenSubject = "operator"

// Server exposes REST endpoints over the ledger.
type Server struct {
	ledger *ledger.Ledger
	auth   *auth.Manager
	secret string
	logger *log.Logger
}

// New constructs a Server. secret is the shared operator secret exchanged
// for a session token at login.
func New(l *ledger.Ledger, authManager *auth.Manager, secret string) (*Server, error) {
	if l == nil {
		return nil, errors.New("httpserver: ledger required")
	}
	if authManager == nil {
		return nil, errors.New("httpserver: auth manager required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("httpserver: operator secret required")
	}
	return &Server{
		ledger: l,
		auth:   authManager,
		secret: secret,
		logger: log.New(log.Writer(), "[promptgate/http] ", log.LstdFlags|log.Lmicroseconds),
	}, nil
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (s *Server) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/api/v1/auth/login", s.handleLogin)

	r.Route("/api/v1/admin", func(admin chi.Router) {
		admin.Use(s.sessionMiddleware)
		admin.Post("/keys", s.handleIssueKey)
		admin.Get("/accounts", s.handleListAccounts)
		admin.Get("/usage", s.handleUsage)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Info(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Secret != s.secret {
		s.respondError(w, http.StatusUnauthorized, errors.New("invalid secret"))
		return
	}
	ttl := 24 * time.Hour
	token, err := s.auth.IssueToken(tokenSubject, ttl)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"expires": time.Now().Add(ttl).UTC().Format(time.RFC3339),
	})
}

func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" || token == header {
			s.respondError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		if _, err := s.auth.ValidateToken(token); err != nil {
			s.respondError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIssueKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Days    int     `json:"days"`
		Balance float64 `json:"balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	code, err := s.ledger.Issue(req.Days, req.Balance)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.logger.Printf("issued key via admin api days=%d balance=%.4f", req.Days, req.Balance)
	s.respondJSON(w, http.StatusCreated, map[string]any{
		"key":     code,
		"days":    req.Days,
		"balance": req.Balance,
	})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	snap := s.ledger.SnapshotCopy()
	accounts := make([]ledger.Account, 0, len(snap.Accounts))
	for _, acct := range snap.Accounts {
		accounts = append(accounts, acct)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"accounts":         accounts,
		"outstanding_keys": len(snap.Credentials),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.ledger.Summary())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
