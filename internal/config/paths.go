package config

import (
	"os"
	"path/filepath"
)

// baseDir returns ~/.medisync.
func baseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".medisync")
}

// ConfigPath returns the config file path.
func ConfigPath() string {
	return filepath.Join(baseDir(), "config.toml")
}

// DBPath returns the local store path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "medisync.db")
}

// LockPath returns the single-instance lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "LOCK")
}

// SocketPath returns the agent's control socket path.
func (c *Config) SocketPath() string {
	return filepath.Join(c.DataDir, "agent.sock")
}

// LogDir returns the log directory.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// LogPath returns the agent log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.LogDir(), "medisyncd.log")
}

// EnsureDirs creates the data directory tree with proper permissions.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.DataDir, c.LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
