package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/email-intel/internal/prior"
)

var priorCmd = &cobra.Command{
	Use:   "prior",
	Short: "Inspect and refresh the global pattern prior",
}

var priorShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current global pattern distribution",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		table := prior.NewTable(st)
		if err := table.Refresh(ctx); err != nil {
			return eris.Wrap(err, "refresh prior")
		}
		return printJSON(cmd, table.Snapshot())
	},
}

var priorRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild the global prior from validated pattern counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		table := prior.NewTable(st)
		if err := table.Refresh(ctx); err != nil {
			return eris.Wrap(err, "refresh prior")
		}
		snap := table.Snapshot()
		cmd.Printf("prior rebuilt from %d validated patterns (map %s)\n", snap.SampleCount, snap.MAP())
		return nil
	},
}

var cacheGCCmd = &cobra.Command{
	Use:   "cache-gc",
	Short: "Delete expired verification cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.DeleteExpiredVerifications(ctx)
		if err != nil {
			return eris.Wrap(err, "cache gc")
		}
		cmd.Printf("deleted %d expired cache entries\n", n)
		return nil
	},
}

func init() {
	priorCmd.AddCommand(priorShowCmd, priorRefreshCmd)
	rootCmd.AddCommand(priorCmd, cacheGCCmd)
}
