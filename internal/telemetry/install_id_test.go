package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestGetOrCreateInstallID(t *testing.T) {
	tmp := t.TempDir()

	id, err := GetOrCreateInstallID(tmp)
	if err != nil {
		t.Fatalf("GetOrCreateInstallID: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected UUID, got %q", id)
	}

	again, err := GetOrCreateInstallID(tmp)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if again != id {
		t.Fatalf("expected stable id, got %q then %q", id, again)
	}
}

func TestGetOrCreateInstallIDReplacesGarbage(t *testing.T) {
	tmp := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmp, "install_id"), []byte("not-a-uuid\n"), 0600); err != nil {
		t.Fatalf("seed garbage: %v", err)
	}

	id, err := GetOrCreateInstallID(tmp)
	if err != nil {
		t.Fatalf("GetOrCreateInstallID: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected fresh UUID, got %q", id)
	}
}
