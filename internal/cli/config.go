package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mailsync/internal/config"
	"mailsync/internal/secrets"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config management",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigEditCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

// configSections maps section names to the part of Config they print.
func configSections(cfg config.Config) map[string]any {
	return map[string]any{
		"imap": cfg.IMAP,
		"smtp": cfg.SMTP,
		"auth": cfg.Auth,
		"sync": cfg.Sync,
		"log":  cfg.Log,
	}
}

func newConfigShowCmd() *cobra.Command {
	var showPassword bool

	cmd := &cobra.Command{
		Use:       "show [imap|smtp|auth|sync|log]",
		Short:     "Show effective configuration, optionally one section",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"imap", "smtp", "auth", "sync", "log"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			source := cfg.Auth.PasswordSource
			if !showPassword {
				cfg = config.Redact(cfg)
			}

			var section string
			if len(args) == 1 {
				section = args[0]
			}
			if err := writeConfig(cmd.OutOrStdout(), cfg, section); err != nil {
				return err
			}
			if section != "" && section != "auth" {
				return nil
			}

			out := cmd.OutOrStdout()
			if source != "" {
				fmt.Fprintf(out, "# password source: %s\n", source)
			}
			info := secrets.ResolveKeyringBackendInfo(cfg)
			fmt.Fprintf(out, "# keyring backend: %s (%s)\n", info.Value, info.Source)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showPassword, "show-password", false, "Show password in output")

	return cmd
}

// writeConfig prints cfg as YAML, or only section when it is set.
func writeConfig(w io.Writer, cfg config.Config, section string) error {
	var value any = cfg
	if section != "" {
		sections := configSections(cfg)
		v, ok := sections[section]
		if !ok {
			names := make([]string, 0, len(sections))
			for name := range sections {
				names = append(names, name)
			}
			sort.Strings(names)
			return fmt.Errorf("unknown config section %q (expected one of %v)", section, names)
		}
		value = map[string]any{section: v}
	}
	out, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func newConfigEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Open config file in $EDITOR, creating it with defaults if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ConfigPath()
			if err != nil {
				return err
			}
			editor := os.Getenv("EDITOR")
			if editor == "" {
				return fmt.Errorf("EDITOR not set; config file is %s", path)
			}
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if _, err := config.Save(config.DefaultConfig()); err != nil {
					return err
				}
			}

			editCmd := exec.CommandContext(cmd.Context(), editor, path)
			editCmd.Stdout = os.Stdout
			editCmd.Stderr = os.Stderr
			editCmd.Stdin = os.Stdin
			if err := editCmd.Run(); err != nil {
				return err
			}

			// Report problems now rather than on the next sync.
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config no longer loads: %w", err)
			}
			if err := config.ValidateSync(cfg); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			return nil
		},
	}

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config, cache and keyring locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfgPath, err := config.ConfigPath()
			if err != nil {
				return err
			}
			keyringDir, err := config.KeyringDir()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:  %s\n", cfgPath)
			fmt.Fprintf(out, "cache:   %s\n", cfg.Sync.CachePath)
			fmt.Fprintf(out, "keyring: %s\n", keyringDir)
			return nil
		},
	}
}
