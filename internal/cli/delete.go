package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	var folder string
	var permanent bool

	cmd := &cobra.Command{
		Use:   "delete <uid>",
		Short: "Move a message to trash, or remove it with --permanent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := parseUID(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.engine.Delete(cmd.Context(), a.account(), folder, uid, permanent); err != nil {
				return err
			}

			if permanent {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d from %s.\n", uid, folder)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Moved %d to %s.\n", uid, a.cfg.Sync.TrashFolder)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "INBOX", "Folder name")
	cmd.Flags().BoolVar(&permanent, "permanent", false, "Expunge instead of moving to trash")

	return cmd
}
