// Package paths resolves where the CLI keeps its data by default.
package paths

import (
	"os"
	"path/filepath"
)

const (
	appDir      = "p2p-simnet"
	traceDBFile = "traces.db"
)

// DefaultDataDir returns a per-user directory for persisted traces.
// It prefers os.UserConfigDir and falls back to a dot directory in the
// current directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, appDir)
	}
	return "." + appDir
}

// TraceDB is the trace database path inside dir, or inside DefaultDataDir
// when dir is empty.
func TraceDB(dir string) string {
	if dir == "" {
		dir = DefaultDataDir()
	}
	return filepath.Join(dir, traceDBFile)
}

// EnsureDir makes sure dir exists and returns the cleaned path.
func EnsureDir(dir string) (string, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
