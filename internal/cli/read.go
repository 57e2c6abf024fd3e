package cli

import (
	"fmt"
	"strings"

	"github.com/k3a/html2text"
	"github.com/spf13/cobra"

	"mailsync/internal/message"
)

func newReadCmd() *cobra.Command {
	var folder string
	var raw bool
	var markRead bool

	cmd := &cobra.Command{
		Use:   "read <uid>",
		Short: "Read a message by UID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			uid, err := parseUID(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			entry, err := a.cache.Get(ctx, a.account(), folder, uid)
			if err != nil {
				return err
			}
			if entry == nil {
				if err := a.online(ctx); err != nil {
					return err
				}
				if _, err := a.engine.Sync(ctx, a.account(), folder, a.cfg.Sync.FetchLimit); err != nil {
					return err
				}
				if entry, err = a.cache.Get(ctx, a.account(), folder, uid); err != nil {
					return err
				}
				if entry == nil {
					return fmt.Errorf("message %d not found in %s", uid, folder)
				}
			}

			printMessage(cmd, entry.Message, raw)

			if markRead && !entry.Message.Read {
				if err := a.online(ctx); err != nil {
					return err
				}
				return a.engine.SetRead(ctx, a.account(), folder, uid, true)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "INBOX", "Folder name")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print HTML bodies without converting to text")
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "Mark the message read on the server")

	return cmd
}

func printMessage(cmd *cobra.Command, m message.Message, raw bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "UID: %d\n", m.UID)
	fmt.Fprintf(out, "Subject: %s\n", m.Subject)
	fmt.Fprintf(out, "From: %s\n", m.From)
	if len(m.To) > 0 {
		fmt.Fprintf(out, "To: %s\n", strings.Join(m.To, ", "))
	}
	if len(m.Cc) > 0 {
		fmt.Fprintf(out, "Cc: %s\n", strings.Join(m.Cc, ", "))
	}
	if m.DateKnown {
		fmt.Fprintf(out, "Date: %s\n", m.Date.Format("2006-01-02 15:04:05 -0700"))
	}
	if len(m.Attachments) > 0 {
		fmt.Fprintf(out, "Attachments: %s\n", strings.Join(m.Attachments, ", "))
	}
	fmt.Fprintln(out, "")

	body := m.Body
	if m.IsHTML && !raw {
		body = html2text.HTML2Text(body)
	}
	fmt.Fprintln(out, body)
}
