package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mailsync/internal/cache"
	"mailsync/internal/config"
	"mailsync/internal/secrets"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication and config setup",
	}
	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthTokenCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var (
		imapHost     string
		imapPort     int
		imapTLS      bool
		imapInsecure bool

		smtpHost     string
		smtpPort     int
		smtpTLS      bool
		smtpInsecure bool

		username   string
		password   string
		mode       string
		useKeyring bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store IMAP/SMTP credentials and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("imap-host") {
				cfg.IMAP.Host = imapHost
			}
			if cmd.Flags().Changed("imap-port") {
				cfg.IMAP.Port = imapPort
			}
			if cmd.Flags().Changed("imap-tls") {
				cfg.IMAP.TLS = imapTLS
			}
			if cmd.Flags().Changed("imap-insecure") {
				cfg.IMAP.InsecureSkipVerify = imapInsecure
			}

			if cmd.Flags().Changed("smtp-host") {
				cfg.SMTP.Host = smtpHost
			}
			if cmd.Flags().Changed("smtp-port") {
				cfg.SMTP.Port = smtpPort
			}
			if cmd.Flags().Changed("smtp-tls") {
				cfg.SMTP.TLS = smtpTLS
			}
			if cmd.Flags().Changed("smtp-insecure") {
				cfg.SMTP.InsecureSkipVerify = smtpInsecure
			}

			if cmd.Flags().Changed("username") {
				cfg.Auth.Username = username
			}
			if cmd.Flags().Changed("mode") {
				cfg.Auth.Mode = strings.ToLower(mode)
			}
			if cmd.Flags().Changed("password") {
				cfg.Auth.Password = password
			}

			// Validation needs the password; the keyring copy replaces the
			// config one before saving.
			if err := config.Validate(cfg); err != nil {
				return err
			}

			if useKeyring && cfg.Auth.Password != "" {
				store, err := secrets.Open(cfg)
				if err != nil {
					return err
				}
				if err := store.SetPassword(cfg.Auth.Username, cfg.Auth.Password); err != nil {
					return err
				}
				cfg.Auth.Password = ""
				fmt.Fprintln(cmd.OutOrStdout(), "Password stored in keyring.")
			}

			path, err := config.Save(cfg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&imapHost, "imap-host", "", "IMAP host")
	cmd.Flags().IntVar(&imapPort, "imap-port", 0, "IMAP port")
	cmd.Flags().BoolVar(&imapTLS, "imap-tls", true, "Use IMAP TLS")
	cmd.Flags().BoolVar(&imapInsecure, "imap-insecure", false, "Skip IMAP TLS verification")

	cmd.Flags().StringVar(&smtpHost, "smtp-host", "", "SMTP host")
	cmd.Flags().IntVar(&smtpPort, "smtp-port", 0, "SMTP port")
	cmd.Flags().BoolVar(&smtpTLS, "smtp-tls", true, "Use SMTP TLS")
	cmd.Flags().BoolVar(&smtpInsecure, "smtp-insecure", false, "Skip SMTP TLS verification")

	cmd.Flags().StringVar(&username, "username", "", "Username (the account email address)")
	cmd.Flags().StringVar(&password, "password", "", "Password or app password")
	cmd.Flags().StringVar(&mode, "mode", "", "Auth mode: password or oauth")
	cmd.Flags().BoolVar(&useKeyring, "keyring", false, "Store the password in the system keyring instead of the config file")

	return cmd
}

func newAuthTokenCmd() *cobra.Command {
	var (
		accessToken  string
		refreshToken string
		expiresIn    time.Duration
		scope        string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Store an OAuth access token for the configured account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Auth.Username == "" {
				return fmt.Errorf("auth.username is required; run mailsync auth login first")
			}
			if accessToken == "" {
				return fmt.Errorf("--access-token is required")
			}

			tok := secrets.Token{
				AccessToken:  accessToken,
				RefreshToken: refreshToken,
				Scope:        scope,
			}
			if expiresIn > 0 {
				tok.Expiry = time.Now().Add(expiresIn)
			}

			store, err := secrets.Open(cfg)
			if err != nil {
				return err
			}
			if err := store.SetToken(cfg.Auth.Username, tok); err != nil {
				return err
			}

			if cfg.Auth.Mode != config.AuthModeOAuth {
				cfg.Auth.Mode = config.AuthModeOAuth
				if _, err := config.Save(cfg); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Token stored for %s.\n", cfg.Auth.Username)
			return nil
		},
	}

	cmd.Flags().StringVar(&accessToken, "access-token", "", "OAuth access token")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Token lifetime, e.g. 1h")
	cmd.Flags().StringVar(&scope, "scope", "", "Granted scope")

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	var keepCache bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget stored credentials and cached mail for the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Auth.Username == "" {
				return fmt.Errorf("auth.username is required")
			}

			store, err := secrets.Open(cfg)
			if err != nil {
				return err
			}
			for _, class := range []secrets.Class{secrets.ClassPassword, secrets.ClassToken} {
				if err := store.Delete(cfg.Auth.Username, class); err != nil {
					return err
				}
			}

			if !keepCache {
				db, err := cache.NewSQLiteStore(cfg.Sync.CachePath)
				if err != nil {
					return fmt.Errorf("opening cache: %w", err)
				}
				err = db.ClearAccount(cmd.Context(), cfg.Auth.Username)
				_ = db.Close()
				if err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged out %s.\n", cfg.Auth.Username)
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepCache, "keep-cache", false, "Keep cached messages")

	return cmd
}
