package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	msync "mailsync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	var folders []string
	var full bool
	var limit int

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize folders into the local cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.close()

			if len(folders) == 0 {
				folders = a.cfg.Sync.Folders
			}
			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.Sync.FetchLimit
			}

			var sweep msync.SweepResult
			if full {
				sweep.Failed = map[string]error{}
				for _, folder := range folders {
					res, err := a.engine.FullSync(ctx, a.account(), folder, limit)
					if err != nil {
						sweep.Failed[folder] = err
						continue
					}
					sweep.Synced = append(sweep.Synced, res)
				}
			} else {
				sweep = a.engine.SyncAll(ctx, a.account(), folders, limit)
			}

			printResults(cmd.OutOrStdout(), sweep.Synced)
			for folder, err := range sweep.Failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", folder, err)
			}
			if len(sweep.Synced) == 0 && len(sweep.Failed) > 0 {
				return sweep.Err()
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&folders, "folder", nil, "Folders to sync (default: sync.folders)")
	cmd.Flags().BoolVar(&full, "full", false, "Rebuild the cache instead of fetching new mail only")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum messages to fetch per folder (default: sync.fetch_limit)")

	return cmd
}

func printResults(out io.Writer, results []msync.Result) {
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "FOLDER\tMODE\tFETCHED\tHIGHEST UID\tTOTAL")
	for _, r := range results {
		mode := "incremental"
		if r.Full {
			mode = "full"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", r.Folder, mode, r.Fetched, r.HighestUID, r.Total)
	}
	_ = tw.Flush()
}
