// Package file persists ledger snapshots as a single JSON document on local
// disk. It is the default backend; sqlite and postgres cover deployments
// that outgrow full-file rewrites.
package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/promptgate/promptgate/internal/ledger"
)

// Store implements ledger.SnapshotStore backed by a JSON file.
type Store struct {
	path string
}

// New creates a file store at the given path, creating parent directories as
// needed. The file itself is created on first Save.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Load reads the snapshot. A missing file yields an empty snapshot and no
// error; malformed content yields an empty snapshot plus the parse error so
// the caller can log it and keep running.
func (s *Store) Load() (ledger.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ledger.EmptySnapshot(), nil
		}
		return ledger.EmptySnapshot(), fmt.Errorf("read snapshot: %w", err)
	}
	var snap ledger.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return ledger.EmptySnapshot(), fmt.Errorf("parse snapshot %s: %w", s.path, err)
	}
	if snap.Accounts == nil {
		snap.Accounts = make(map[string]ledger.Account)
	}
	if snap.Credentials == nil {
		snap.Credentials = make(map[string]ledger.Credential)
	}
	return snap, nil
}

// Save writes the full snapshot to a temporary file in the same directory
// and renames it into place, so a concurrent Load never observes a partial
// write.
func (s *Store) Save(snap ledger.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Close is a no-op; the store holds no open handles between operations.
func (s *Store) Close() error {
	return nil
}
