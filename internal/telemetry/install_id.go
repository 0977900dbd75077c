// Package telemetry identifies this installation for diagnostics.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// GetOrCreateInstallID returns a persistent installation UUID. It is stored
// under ~/.promptgate/install_id and survives restarts; an unreadable or
// malformed file is replaced with a fresh ID.
func GetOrCreateInstallID(basePath string) (string, error) {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		basePath = filepath.Join(home, ".promptgate")
	}

	if err := os.MkdirAll(basePath, 0700); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", basePath, err)
	}

	installIDPath := filepath.Join(basePath, "install_id")

	data, err := os.ReadFile(installIDPath)
	if err == nil {
		installID := strings.TrimSpace(string(data))
		if _, err := uuid.Parse(installID); err == nil {
			return installID, nil
		}
	}

	installID := uuid.New().String()
	if err := os.WriteFile(installIDPath, []byte(installID+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to write install_id: %w", err)
	}
	return installID, nil
}
