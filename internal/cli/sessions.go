package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"pomobot/internal/app"
	"pomobot/internal/config"
	logx "pomobot/pkg/logx"

	"github.com/spf13/cobra"
)

func newSessionsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List persisted sessions",
		Long:  "Reads the configured store and prints one line per channel. Unreadable records are flagged.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgm := config.NewConfigManager(*cfgPath)
			cfg, err := cfgm.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			store, err := app.OpenStore(ctx, cfg, logx.NewConsole("warn"))
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.LoadAll(ctx)
			if err != nil {
				return err
			}
			loc, _ := config.LoadLocation(cfg.Pomodoro.Timezone)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHANNEL\tSTATE\tPHASE\tDEADLINE\tSUBSCRIBERS")
			for _, e := range entries {
				if e.Err != nil {
					fmt.Fprintf(w, "%s\tcorrupt\t-\t-\t%v\n", e.Channel, e.Err)
					continue
				}
				s, err := e.Snapshot.Restore()
				if err != nil {
					fmt.Fprintf(w, "%s\tcorrupt\t-\t-\t%v\n", e.Channel, err)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					s.Channel, s.State, s.Phase, s.Deadline.In(loc).Format(time.RFC3339),
					strings.Join(s.Subscribers(), ","))
			}
			return w.Flush()
		},
	}
}
