package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mailsync/internal/imap"
	"mailsync/internal/secrets"
	"mailsync/internal/smtp"
	msync "mailsync/internal/sync"
	"mailsync/internal/transport"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "mailsync",
		Short:        "mailsync keeps a local cache of an IMAP mailbox and sends mail over SMTP",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides log.level")

	cmd.AddCommand(newAuthCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newThreadsCmd())
	cmd.AddCommand(newReadCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newMarkCmd())
	cmd.AddCommand(newMoveCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newConfigCmd())

	cmd.SetErr(os.Stderr)
	cmd.SetOut(os.Stdout)

	return cmd
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, explain(err))
		stop()
		os.Exit(1)
	}
}

// explain adds the action a user can take for the failures that have one.
func explain(err error) error {
	var (
		authErr *imap.AuthError
		imapErr *imap.ServerError
		sendErr *smtp.ServerError
		connErr *transport.Error
	)
	switch {
	case errors.As(err, &authErr):
		return fmt.Errorf("%w\nhint: check credentials (mailsync auth login / mailsync auth token)", err)
	case errors.As(err, &imapErr) && imapErr.Command == "COPY":
		return fmt.Errorf("%w\nhint: the destination folder may not exist; create it or set sync.trash_folder", err)
	case errors.Is(err, msync.ErrDeclined):
		return fmt.Errorf("%w\nhint: the cached copy was left unchanged", err)
	case errors.As(err, &sendErr) && sendErr.Stage == smtp.StageAuth:
		return fmt.Errorf("%w\nhint: check credentials (mailsync auth login)", err)
	case errors.As(err, &connErr):
		return fmt.Errorf("%w\nhint: check network and the host/port/tls settings (mailsync config show)", err)
	case errors.Is(err, secrets.ErrSecretNotFound):
		return fmt.Errorf("%w\nhint: no stored credentials; run mailsync auth login", err)
	}
	return err
}
