package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mailsync/internal/message"
	"mailsync/internal/thread"
)

func newThreadsCmd() *cobra.Command {
	var folders []string
	var show string
	var limit int

	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Group cached messages into conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			if len(folders) == 0 {
				folders = a.cfg.Sync.Folders
			}
			var all []message.Message
			for _, folder := range folders {
				msgs, err := a.engine.LoadCached(cmd.Context(), a.account(), folder)
				if err != nil {
					return err
				}
				all = append(all, msgs...)
			}
			threads := thread.Group(all)

			if show != "" {
				for _, t := range threads {
					if strings.HasPrefix(t.ID, show) {
						printThread(cmd.OutOrStdout(), t)
						return nil
					}
				}
				return fmt.Errorf("no thread with id %s", show)
			}

			if limit > 0 && len(threads) > limit {
				threads = threads[:limit]
			}
			printThreads(cmd.OutOrStdout(), threads)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&folders, "folder", nil, "Folders to include (default: sync.folders)")
	cmd.Flags().StringVar(&show, "show", "", "Print the thread whose id starts with this prefix")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum threads to show (0 for all)")

	return cmd
}
