package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow/checkpoint"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/config"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/store"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the SQLite record and checkpoint stores",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, logger, err := root.load()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			out := cmd.OutOrStdout()

			if settings.Store.Driver == config.DriverSQLite {
				db, err := store.OpenSQLite(ctx, settings.Store.Path, store.WithSQLiteLogger(logger))
				if err != nil {
					return err
				}
				if err := db.Close(); err != nil {
					return err
				}
				fmt.Fprintf(out, "record store ready: %s\n", settings.Store.Path)
			}
			if settings.Checkpoint.Driver == config.DriverSQLite {
				cp, err := checkpoint.NewSQLiteStore(ctx, settings.Checkpoint.Path)
				if err != nil {
					return fmt.Errorf("open checkpoint store: %w", err)
				}
				if err := cp.Close(); err != nil {
					return err
				}
				fmt.Fprintf(out, "checkpoint store ready: %s\n", settings.Checkpoint.Path)
			}
			return nil
		},
	}
}
