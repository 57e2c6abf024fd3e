package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	AppName = "mailsync"

	// DirEnv relocates every mailsync file, for example to keep several
	// accounts apart.
	DirEnv = "MAILSYNC_CONFIG_DIR"

	configFile = "config.yaml"
	cacheFile  = "cache.db"
	keyringDir = "keyring"
)

// Dir is $MAILSYNC_CONFIG_DIR when set, ~/.config/mailsync otherwise.
func Dir() (string, error) {
	if dir := os.Getenv(DirEnv); dir != "" {
		return filepath.Clean(dir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home dir: %w", err)
	}
	return filepath.Join(home, ".config", AppName), nil
}

func ConfigPath() (string, error) {
	return inDir(configFile)
}

// CachePath is the default location of the message cache database.
func CachePath() (string, error) {
	return inDir(cacheFile)
}

// KeyringDir is where the keyring "file" backend stores encrypted entries.
func KeyringDir() (string, error) {
	return inDir(keyringDir)
}

func EnsureKeyringDir() (string, error) {
	dir, err := KeyringDir()
	if err != nil {
		return "", err
	}
	if err := ensureDir(dir); err != nil {
		return "", fmt.Errorf("ensure keyring dir: %w", err)
	}
	return dir, nil
}

func inDir(name string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ensureDir creates dir readable by the owner only; it holds credentials.
func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o700)
}
