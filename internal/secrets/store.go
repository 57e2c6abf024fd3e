// Package secrets keeps account credentials in the system keyring.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"mailsync/internal/config"
)

const (
	keyringPasswordEnv = "MAILSYNC_KEYRING_PASSWORD" //nolint:gosec // env var name, not a credential
	keyringBackendEnv  = "MAILSYNC_KEYRING_BACKEND"  //nolint:gosec // env var name, not a credential
)

var (
	ErrSecretNotFound        = errors.New("secret not found")
	errMissingAccount        = errors.New("missing account")
	errMissingSecret         = errors.New("missing secret value")
	errNoTTY                 = errors.New("no TTY available for keyring file backend password prompt")
	errInvalidKeyringBackend = errors.New("invalid keyring backend")
	errKeyringTimeout        = errors.New("keyring connection timed out")
	keyringOpenFunc          = keyring.Open
)

// Class is the kind of credential stored for an account.
type Class string

const (
	ClassPassword Class = "password"
	ClassToken    Class = "token"
)

// Token is an OAuth token record.
type Token struct {
	AccessToken  string    `yaml:"access_token"`
	RefreshToken string    `yaml:"refresh_token,omitempty"`
	Expiry       time.Time `yaml:"expiry,omitempty"`
	TokenType    string    `yaml:"token_type"`
	Scope        string    `yaml:"scope,omitempty"`
}

// Expired reports whether the token has an expiry at or before now.
func (t Token) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && !now.Before(t.Expiry)
}

// Store reads and writes credentials keyed by account and class.
type Store struct {
	ring keyring.Keyring
}

func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Open opens the system keyring selected by cfg and the environment.
func Open(cfg config.Config) (*Store, error) {
	ring, err := openKeyring(cfg)
	if err != nil {
		return nil, err
	}
	return New(ring), nil
}

func (s *Store) SetPassword(account, password string) error {
	if password == "" {
		return errMissingSecret
	}
	return s.set(account, ClassPassword, []byte(password))
}

func (s *Store) Password(account string) (string, error) {
	data, err := s.get(account, ClassPassword)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) SetToken(account string, tok Token) error {
	if tok.AccessToken == "" {
		return errMissingSecret
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	data, err := yaml.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	return s.set(account, ClassToken, data)
}

func (s *Store) Token(account string) (Token, error) {
	data, err := s.get(account, ClassToken)
	if err != nil {
		return Token{}, err
	}
	var tok Token
	if err := yaml.Unmarshal(data, &tok); err != nil {
		return Token{}, fmt.Errorf("decode token for %s: %w", account, err)
	}
	return tok, nil
}

// Delete removes one credential. Deleting a missing credential is not an error.
func (s *Store) Delete(account string, class Class) error {
	key, err := secretKey(account, class)
	if err != nil {
		return err
	}
	if err := s.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) && !os.IsNotExist(err) {
		return wrapKeychainError(fmt.Errorf("delete secret: %w", err))
	}
	return nil
}

func (s *Store) set(account string, class Class, data []byte) error {
	key, err := secretKey(account, class)
	if err != nil {
		return err
	}
	item := keyring.Item{Key: key, Data: data, Label: config.AppName}
	if err := s.ring.Set(item); err != nil {
		return wrapKeychainError(fmt.Errorf("store secret: %w", err))
	}
	return nil
}

func (s *Store) get(account string, class Class) ([]byte, error) {
	key, err := secretKey(account, class)
	if err != nil {
		return nil, err
	}
	item, err := s.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, ErrSecretNotFound
		}
		return nil, wrapKeychainError(fmt.Errorf("read secret: %w", err))
	}
	return item.Data, nil
}

func secretKey(account string, class Class) (string, error) {
	account = strings.ToLower(strings.TrimSpace(account))
	if account == "" {
		return "", errMissingAccount
	}
	switch class {
	case ClassPassword, ClassToken:
	default:
		return "", fmt.Errorf("unknown credential class %q", class)
	}
	return fmt.Sprintf("auth:%s:%s", class, account), nil
}

type KeyringBackendInfo struct {
	Value  string
	Source string
}

const (
	keyringBackendSourceEnv     = "env"
	keyringBackendSourceConfig  = "config"
	keyringBackendSourceDefault = "default"
	keyringBackendAuto          = "auto"
)

func ResolveKeyringBackendInfo(cfg config.Config) KeyringBackendInfo {
	if v := normalizeKeyringBackend(os.Getenv(keyringBackendEnv)); v != "" {
		return KeyringBackendInfo{Value: v, Source: keyringBackendSourceEnv}
	}
	if v := normalizeKeyringBackend(cfg.KeyringBackend); v != "" {
		return KeyringBackendInfo{Value: v, Source: keyringBackendSourceConfig}
	}
	return KeyringBackendInfo{Value: keyringBackendAuto, Source: keyringBackendSourceDefault}
}

func allowedBackends(info KeyringBackendInfo) ([]keyring.BackendType, error) {
	switch info.Value {
	case "", keyringBackendAuto:
		return nil, nil
	case "keychain":
		return []keyring.BackendType{keyring.KeychainBackend}, nil
	case "secret-service":
		return []keyring.BackendType{keyring.SecretServiceBackend}, nil
	case "file":
		return []keyring.BackendType{keyring.FileBackend}, nil
	default:
		return nil, fmt.Errorf("%w: %q (expected %s, keychain, secret-service, or file)", errInvalidKeyringBackend, info.Value, keyringBackendAuto)
	}
}

// wrapKeychainError adds unlock guidance to locked-keychain errors on macOS.
func wrapKeychainError(err error) error {
	if err == nil {
		return nil
	}
	if IsKeychainLockedError(err.Error()) {
		return fmt.Errorf("%w\n\nYour macOS keychain is locked. To unlock it, run:\n  security unlock-keychain ~/Library/Keychains/login.keychain-db", err)
	}
	return err
}

// IsKeychainLockedError matches the macOS Security framework messages for a
// locked keychain (errSecInteractionNotAllowed, errSecAuthFailed).
func IsKeychainLockedError(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "user interaction is not allowed") ||
		strings.Contains(msg, "-25308") ||
		(strings.Contains(msg, "keychain") && strings.Contains(msg, "locked"))
}

func fileKeyringPasswordFuncFrom(password string, passwordSet bool, isTTY bool) keyring.PromptFunc {
	// Treat "set to empty string" as intentional; empty passphrase is valid.
	if passwordSet {
		return keyring.FixedStringPrompt(password)
	}
	if isTTY {
		return keyring.TerminalPrompt
	}
	return func(_ string) (string, error) {
		return "", fmt.Errorf("%w; set %s", errNoTTY, keyringPasswordEnv)
	}
}

func fileKeyringPasswordFunc() keyring.PromptFunc {
	password, passwordSet := os.LookupEnv(keyringPasswordEnv)
	return fileKeyringPasswordFuncFrom(password, passwordSet, term.IsTerminal(int(os.Stdin.Fd())))
}

func normalizeKeyringBackend(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// keyringOpenTimeout bounds keyring.Open. On headless Linux, D-Bus
// SecretService can hang indefinitely if gnome-keyring is installed but not
// running.
const keyringOpenTimeout = 5 * time.Second

func shouldForceFileBackend(goos string, backendInfo KeyringBackendInfo, dbusAddr string) bool {
	return goos == "linux" && backendInfo.Value == keyringBackendAuto && dbusAddr == ""
}

func shouldUseKeyringTimeout(goos string, backendInfo KeyringBackendInfo, dbusAddr string) bool {
	return goos == "linux" && backendInfo.Value == keyringBackendAuto && dbusAddr != ""
}

func openKeyring(appCfg config.Config) (keyring.Keyring, error) {
	keyringDir, err := config.EnsureKeyringDir()
	if err != nil {
		return nil, fmt.Errorf("ensure keyring dir: %w", err)
	}

	backendInfo := ResolveKeyringBackendInfo(appCfg)
	backends, err := allowedBackends(backendInfo)
	if err != nil {
		return nil, err
	}

	dbusAddr := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if shouldForceFileBackend(runtime.GOOS, backendInfo, dbusAddr) {
		backends = []keyring.BackendType{keyring.FileBackend}
	}

	cfg := keyring.Config{
		ServiceName:              config.AppName,
		KeychainTrustApplication: false,
		AllowedBackends:          backends,
		FileDir:                  keyringDir,
		FilePasswordFunc:         fileKeyringPasswordFunc(),
	}

	if shouldUseKeyringTimeout(runtime.GOOS, backendInfo, dbusAddr) {
		return openKeyringWithTimeout(cfg, keyringOpenTimeout)
	}

	ring, err := keyringOpenFunc(cfg)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return ring, nil
}

type keyringResult struct {
	ring keyring.Keyring
	err  error
}

func openKeyringWithTimeout(cfg keyring.Config, timeout time.Duration) (keyring.Keyring, error) {
	ch := make(chan keyringResult, 1)

	go func() {
		ring, err := keyringOpenFunc(cfg)
		ch <- keyringResult{ring, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("open keyring: %w", res.err)
		}
		return res.ring, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w after %v (D-Bus SecretService may be unresponsive); "+
			"set %s=file and %s=<password> to use encrypted file storage instead",
			errKeyringTimeout, timeout, keyringBackendEnv, keyringPasswordEnv)
	}
}
