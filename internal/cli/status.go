package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cache state per folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			metas, err := a.cache.ListMeta(ctx, a.account())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Account: %s\n", a.account())
			fmt.Fprintf(out, "Cache: %s\n", a.cfg.Sync.CachePath)
			if len(metas) == 0 {
				fmt.Fprintln(out, "No folders synced yet; run mailsync sync.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "FOLDER\tSTATE\tLAST SYNC\tHIGHEST UID\tTOTAL")
			for _, m := range metas {
				state := a.engine.State(ctx, a.account(), m.Folder)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", m.Folder, state, m.LastSync.Local().Format(time.DateTime), m.HighestUID, m.Total)
			}
			return tw.Flush()
		},
	}

	return cmd
}
