package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	msync "mailsync/internal/sync"
)

func newWatchCmd() *cobra.Command {
	var folders []string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep folders in sync until interrupted",
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
			if interval <= 0 {
				interval = a.cfg.Sync.Interval
			}

			sweep := a.engine.SyncAll(ctx, a.account(), folders, a.cfg.Sync.FetchLimit)
			printResults(cmd.OutOrStdout(), sweep.Synced)
			for folder, err := range sweep.Failed {
				a.log.Warn().Err(err).Str("folder", folder).Msg("initial sync failed")
			}

			poller := msync.NewPoller(a.engine, a.account(), folders, interval, a.cfg.Sync.FetchLimit)
			poller.Start(ctx)
			defer poller.Stop()

			a.log.Info().Dur("interval", interval).Strs("folders", folders).Msg("watching")
			for {
				select {
				case <-ctx.Done():
					return nil
				case res := <-poller.Results():
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s: %d new (total %d)\n",
						time.Now().Format(time.Kitchen), res.Folder, res.Fetched, res.Total)
				}
			}
		},
	}

	cmd.Flags().StringSliceVar(&folders, "folder", nil, "Folders to watch (default: sync.folders)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Poll interval (default: sync.interval)")

	return cmd
}
