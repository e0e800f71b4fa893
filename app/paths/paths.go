// Package paths picks writable locations for the log, state and metadata files.
package paths

import (
	"log/slog"
	"os"
	"path/filepath"
)

const appDir = "rss-relay"

type Paths struct {
	LogPath   string
	StatePath string
	MetaPath  string
	StateDB   string
}

// Resolve keeps every configured path that can be written and replaces the
// others with a file of the same name under the user's ~/.local directories.
func Resolve(configured Paths) Paths {
	return Paths{
		LogPath:   resolve(configured.LogPath, "share"),
		StatePath: resolve(configured.StatePath, "state"),
		MetaPath:  resolve(configured.MetaPath, "state"),
		StateDB:   resolve(configured.StateDB, "state"),
	}
}

func resolve(path, kind string) string {
	if path != "" && Writable(path) {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("No home directory for fallback path", "path", path, "error", err)
		return path
	}

	name := filepath.Base(path)
	if path == "" || name == "." || name == string(filepath.Separator) {
		name = "relay." + kind
	}
	fallback := filepath.Join(home, ".local", kind, appDir, name)
	if !Writable(fallback) {
		slog.Warn("Fallback path is not writable either", "path", path, "fallback", fallback)
		return fallback
	}
	slog.Debug("Using fallback path", "path", path, "fallback", fallback)
	return fallback
}

// Writable creates the parent directory and the file itself if needed.
func Writable(path string) bool {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return false
	}
	return f.Close() == nil
}
