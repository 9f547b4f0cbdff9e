package storage

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/iracelog-tiretemp/pkg/cmd/util"
)

var force bool

func NewStorageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "inspects and cleans the data directory",
	}
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newCleanupCmd())
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "shows the disk usage of sessions, models and calibrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := util.SetupLogger(); err != nil {
				return err
			}
			store, err := util.NewStore()
			if err != nil {
				return err
			}
			return util.PrintJSON(os.Stdout, store.Stats())
		},
	}
}

func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "distills old sessions and removes them when over the limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := util.SetupLogger(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if telemetry := util.SetupTelemetry(ctx); telemetry != nil {
				defer telemetry.Shutdown()
			}
			store, err := util.NewStore()
			if err != nil {
				return err
			}
			return util.PrintJSON(os.Stdout, store.CheckAndCleanup(ctx, force))
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "clean up even below the warn threshold")
	return cmd
}
