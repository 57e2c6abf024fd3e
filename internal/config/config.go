package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"mailsync/internal/transport"
)

const (
	AuthModePassword = "password"
	AuthModeOAuth    = "oauth"
)

type Config struct {
	IMAP           ServerConfig `mapstructure:"imap" yaml:"imap"`
	SMTP           ServerConfig `mapstructure:"smtp" yaml:"smtp"`
	Auth           AuthConfig   `mapstructure:"auth" yaml:"auth"`
	Sync           SyncConfig   `mapstructure:"sync" yaml:"sync"`
	Log            LogConfig    `mapstructure:"log" yaml:"log"`
	KeyringBackend string       `mapstructure:"keyring_backend" yaml:"keyring_backend,omitempty"`
}

// ServerConfig describes one endpoint. TLS is implicit (negotiated on
// connect), as on ports 993 and 465.
type ServerConfig struct {
	Host               string        `mapstructure:"host" yaml:"host"`
	Port               int           `mapstructure:"port" yaml:"port"`
	TLS                bool          `mapstructure:"tls" yaml:"tls"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type AuthConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	Mode     string `mapstructure:"mode" yaml:"mode"`
	// PasswordSource records where Password came from: env, config or keyring.
	PasswordSource string `mapstructure:"-" yaml:"-"`
}

type SyncConfig struct {
	Folders     []string      `mapstructure:"folders" yaml:"folders"`
	FetchLimit  int           `mapstructure:"fetch_limit" yaml:"fetch_limit"`
	Freshness   time.Duration `mapstructure:"freshness" yaml:"freshness"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	CachePath   string        `mapstructure:"cache_path" yaml:"cache_path,omitempty"`
	TrashFolder string        `mapstructure:"trash_folder" yaml:"trash_folder"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

func DefaultConfig() Config {
	return Config{
		IMAP: ServerConfig{
			Port:    993,
			TLS:     true,
			Timeout: 30 * time.Second,
		},
		SMTP: ServerConfig{
			Port:    465,
			TLS:     true,
			Timeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModePassword,
		},
		Sync: SyncConfig{
			Folders:     []string{"INBOX"},
			FetchLimit:  50,
			Freshness:   5 * time.Minute,
			Interval:    2 * time.Minute,
			TrashFolder: "Trash",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	if cfg.Sync.CachePath == "" {
		path, err := CachePath()
		if err != nil {
			return cfg, err
		}
		cfg.Sync.CachePath = path
	}
	cfg.Auth.Mode = strings.ToLower(strings.TrimSpace(cfg.Auth.Mode))

	return cfg, nil
}

func Save(cfg Config) (string, error) {
	path, err := ConfigPath()
	if err != nil {
		return "", err
	}

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	return path, nil
}

func Redact(cfg Config) Config {
	masked := cfg
	if masked.Auth.Password != "" {
		masked.Auth.Password = "****"
	}
	return masked
}

// IMAPParams returns the connection parameters for the IMAP session.
func (c Config) IMAPParams() transport.Params {
	return c.IMAP.params()
}

func (c Config) SMTPParams() transport.Params {
	return c.SMTP.params()
}

func (s ServerConfig) params() transport.Params {
	return transport.Params{
		Host:               s.Host,
		Port:               s.Port,
		Encrypted:          s.TLS,
		InsecureSkipVerify: s.InsecureSkipVerify,
		DialTimeout:        s.Timeout,
		ReadTimeout:        s.Timeout,
	}
}

func setDefaults(v *viper.Viper, cfg Config) {
	for _, s := range []struct {
		name string
		cfg  ServerConfig
	}{{"imap", cfg.IMAP}, {"smtp", cfg.SMTP}} {
		v.SetDefault(s.name+".host", s.cfg.Host)
		v.SetDefault(s.name+".port", s.cfg.Port)
		v.SetDefault(s.name+".tls", s.cfg.TLS)
		v.SetDefault(s.name+".insecure_skip_verify", s.cfg.InsecureSkipVerify)
		v.SetDefault(s.name+".timeout", s.cfg.Timeout)
	}

	v.SetDefault("auth.username", cfg.Auth.Username)
	v.SetDefault("auth.password", cfg.Auth.Password)
	v.SetDefault("auth.mode", cfg.Auth.Mode)

	v.SetDefault("sync.folders", cfg.Sync.Folders)
	v.SetDefault("sync.fetch_limit", cfg.Sync.FetchLimit)
	v.SetDefault("sync.freshness", cfg.Sync.Freshness)
	v.SetDefault("sync.interval", cfg.Sync.Interval)
	v.SetDefault("sync.cache_path", cfg.Sync.CachePath)
	v.SetDefault("sync.trash_folder", cfg.Sync.TrashFolder)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("keyring_backend", cfg.KeyringBackend)
}

func Validate(cfg Config) error {
	if err := ValidateIMAP(cfg); err != nil {
		return err
	}
	if err := ValidateSMTP(cfg); err != nil {
		return err
	}
	return ValidateSync(cfg)
}

func ValidateIMAP(cfg Config) error {
	if cfg.IMAP.Host == "" {
		return fmt.Errorf("imap.host is required")
	}
	return validateAuth(cfg)
}

func ValidateSMTP(cfg Config) error {
	if cfg.SMTP.Host == "" {
		return fmt.Errorf("smtp.host is required")
	}
	if cfg.Auth.Mode == AuthModeOAuth {
		return fmt.Errorf("smtp sending supports password auth only")
	}
	return validateAuth(cfg)
}

func ValidateSync(cfg Config) error {
	if len(cfg.Sync.Folders) == 0 {
		return fmt.Errorf("sync.folders must list at least one folder")
	}
	if cfg.Sync.FetchLimit <= 0 {
		return fmt.Errorf("sync.fetch_limit must be positive, got %d", cfg.Sync.FetchLimit)
	}
	if cfg.Sync.Freshness <= 0 || cfg.Sync.Interval <= 0 {
		return fmt.Errorf("sync.freshness and sync.interval must be positive")
	}
	return nil
}

func validateAuth(cfg Config) error {
	if cfg.Auth.Username == "" {
		return fmt.Errorf("auth.username is required")
	}
	switch cfg.Auth.Mode {
	case AuthModePassword:
		if cfg.Auth.Password == "" {
			return fmt.Errorf("auth.password is required")
		}
	case AuthModeOAuth:
	default:
		return fmt.Errorf("auth.mode must be %q or %q, got %q", AuthModePassword, AuthModeOAuth, cfg.Auth.Mode)
	}
	return nil
}
