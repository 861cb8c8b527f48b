package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.groupwatch.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".groupwatch")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// SourceDBPath returns the whatsmeow session.db path.
func SourceDBPath(name string) string {
	return filepath.Join(Dir(name), "session.db")
}

// AppDBPath returns the app-owned groupwatch.db path.
func AppDBPath(name string) string {
	return filepath.Join(Dir(name), "groupwatch.db")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "groupwatchd.log")
}

// ImportDir returns the default chat-export drop directory for a session.
func ImportDir(name string) string {
	return filepath.Join(Dir(name), "imports")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
		ImportDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
