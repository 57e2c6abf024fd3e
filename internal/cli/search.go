package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mailsync/internal/message"
)

func newSearchCmd() *cobra.Command {
	var folder string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search cached messages by sender, subject or body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			messages, err := a.engine.LoadCached(cmd.Context(), a.account(), folder)
			if err != nil {
				return err
			}
			matches := filterMessages(messages, matchQuery(args[0]))
			total := len(matches)
			if limit > 0 && len(matches) > limit {
				matches = matches[:limit]
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Folder: %s (matches %d)\n", folder, total)
			printMessages(cmd.OutOrStdout(), matches)
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "INBOX", "Folder name")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum messages to show (0 for all)")

	return cmd
}

// matchQuery matches messages containing every word of query, ignoring case.
func matchQuery(query string) func(message.Message) bool {
	words := strings.Fields(strings.ToLower(query))
	return func(m message.Message) bool {
		haystack := strings.ToLower(strings.Join([]string{m.From, m.Subject, m.Body}, "\n"))
		for _, w := range words {
			if !strings.Contains(haystack, w) {
				return false
			}
		}
		return true
	}
}
