package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailsync/internal/message"
)

func newListCmd() *cobra.Command {
	var folder string
	var limit int
	var refresh bool
	var unread bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached messages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			if refresh && !a.engine.IsValid(ctx, a.account(), folder) {
				if err := a.online(ctx); err != nil {
					return err
				}
				if _, err := a.engine.Sync(ctx, a.account(), folder, a.cfg.Sync.FetchLimit); err != nil {
					return err
				}
			}

			messages, err := a.engine.LoadCached(ctx, a.account(), folder)
			if err != nil {
				return err
			}
			total := len(messages)
			if unread {
				messages = filterMessages(messages, func(m message.Message) bool { return !m.Read })
			}
			if limit > 0 && len(messages) > limit {
				messages = messages[:limit]
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Folder: %s (cached %d)\n", folder, total)
			printMessages(cmd.OutOrStdout(), messages)
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "INBOX", "Folder name")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum messages to show (0 for all)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Sync the folder first when its cache is stale")
	cmd.Flags().BoolVar(&unread, "unread", false, "Only unread messages")

	return cmd
}

func filterMessages(messages []message.Message, keep func(message.Message) bool) []message.Message {
	out := messages[:0:0]
	for _, m := range messages {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}
