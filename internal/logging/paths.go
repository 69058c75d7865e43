package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.kbfusion/logs, or a temp-dir equivalent when the
// home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".kbfusion", "logs")
	}
	return filepath.Join(home, ".kbfusion", "logs")
}

// DefaultLogPath returns the default server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}
