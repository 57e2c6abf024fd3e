package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mailsync/internal/cache"
	"mailsync/internal/config"
	"mailsync/internal/imap"
	"mailsync/internal/message"
	"mailsync/internal/secrets"
	msync "mailsync/internal/sync"
)

const logoutTimeout = 5 * time.Second

// loadConfig resolves the password from env, then config, then the keyring.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}

	if _, ok := os.LookupEnv("MAILSYNC_AUTH_PASSWORD"); ok {
		cfg.Auth.PasswordSource = "env"
		return cfg, nil
	}

	if cfg.Auth.Password != "" {
		cfg.Auth.PasswordSource = "config"
		return cfg, nil
	}

	if cfg.Auth.Username == "" || cfg.Auth.Mode != config.AuthModePassword {
		return cfg, nil
	}

	store, err := secrets.Open(cfg)
	if err != nil {
		return cfg, err
	}
	password, err := store.Password(cfg.Auth.Username)
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return cfg, nil
		}
		return cfg, err
	}

	cfg.Auth.Password = password
	cfg.Auth.PasswordSource = "keyring"
	return cfg, nil
}

// app wires the cache, the sync engine and, for online commands, a live
// IMAP session for one invocation.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	cache   *cache.SQLiteStore
	engine  *msync.Engine
	session *imap.Session
}

func newApp(cmd *cobra.Command, online bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := config.ValidateSync(cfg); err != nil {
		return nil, err
	}
	if online {
		if err := config.ValidateIMAP(cfg); err != nil {
			return nil, err
		}
	} else if cfg.Auth.Username == "" {
		return nil, fmt.Errorf("auth.username is required")
	}

	level := cfg.Log.Level
	if flag, _ := cmd.Flags().GetString("log-level"); flag != "" {
		level = flag
	}
	log := newLogger(cmd.ErrOrStderr(), level)

	store, err := cache.NewSQLiteStore(cfg.Sync.CachePath)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	a := &app{
		cfg:   cfg,
		log:   log,
		cache: store,
		engine: msync.NewEngine(store,
			msync.WithLogger(log),
			msync.WithFreshness(cfg.Sync.Freshness),
			msync.WithTrashFolder(cfg.Sync.TrashFolder),
		),
	}
	if online {
		if err := a.connect(cmd.Context()); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) account() string {
	return a.cfg.Auth.Username
}

func (a *app) connect(ctx context.Context) error {
	params := a.cfg.IMAPParams()
	a.log.Debug().Str("host", params.Host).Int("port", params.Port).Bool("tls", params.Encrypted).Msg("connecting to IMAP server")

	session, err := imap.Dial(ctx, params,
		imap.WithLogger(a.log),
		imap.WithAssembler(message.Assembler{Account: a.account(), Self: a.account(), Now: time.Now}),
	)
	if err != nil {
		return err
	}

	switch a.cfg.Auth.Mode {
	case config.AuthModeOAuth:
		err = a.authenticateToken(ctx, session)
	default:
		err = session.Login(ctx, a.account(), a.cfg.Auth.Password)
	}
	if err != nil {
		_ = session.Close()
		return err
	}

	a.session = session
	a.engine.Attach(a.account(), session)
	return nil
}

// online connects once; later calls reuse the session.
func (a *app) online(ctx context.Context) error {
	if a.session != nil {
		return nil
	}
	if err := config.ValidateIMAP(a.cfg); err != nil {
		return err
	}
	return a.connect(ctx)
}

func (a *app) authenticateToken(ctx context.Context, session *imap.Session) error {
	store, err := secrets.Open(a.cfg)
	if err != nil {
		return err
	}
	tok, err := store.Token(a.account())
	if err != nil {
		return fmt.Errorf("loading token for %s: %w", a.account(), err)
	}
	if tok.Expired(time.Now()) {
		return fmt.Errorf("token for %s expired at %s; run `mailsync auth token`", a.account(), tok.Expiry.Format(time.RFC3339))
	}
	return session.AuthenticateToken(ctx, a.account(), tok.AccessToken, a.cfg.IMAP.Host, a.cfg.IMAP.Port)
}

func (a *app) close() {
	if a.session != nil {
		ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
		if err := a.session.Logout(ctx); err != nil {
			a.log.Debug().Err(err).Msg("logout failed")
		}
		cancel()
	}
	if err := a.cache.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing cache")
	}
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}
