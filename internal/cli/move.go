package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMoveCmd() *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "move <uid> <destination>",
		Short: "Move a message to another folder",
		Args:  cobra.ExactArgs(2),
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

			if err := a.engine.Move(cmd.Context(), a.account(), folder, uid, args[1]); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Moved %d from %s to %s.\n", uid, folder, args[1])
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "INBOX", "Source folder")

	return cmd
}
