package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMarkCmd() *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:       "mark <uid> <read|unread|starred|unstarred>",
		Short:     "Change the read or starred flag of a message",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"read", "unread", "starred", "unstarred"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			uid, err := parseUID(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.close()

			switch args[1] {
			case "read":
				err = a.engine.SetRead(ctx, a.account(), folder, uid, true)
			case "unread":
				err = a.engine.SetRead(ctx, a.account(), folder, uid, false)
			case "starred":
				err = a.engine.SetStarred(ctx, a.account(), folder, uid, true)
			case "unstarred":
				err = a.engine.SetStarred(ctx, a.account(), folder, uid, false)
			default:
				return fmt.Errorf("unknown mark %q (expected read, unread, starred or unstarred)", args[1])
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Marked %d as %s.\n", uid, args[1])
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "INBOX", "Folder name")

	return cmd
}
