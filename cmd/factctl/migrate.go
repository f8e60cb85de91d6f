package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/factstore/internal/config"
	"github.com/ashita-ai/factstore/internal/storage"
	"github.com/ashita-ai/factstore/migrations"
)

func newMigrateCmd(sf *storeFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres schema migrations",
		Long: `Apply the embedded schema migrations that the database has not recorded
yet. The server applies them on startup too; run this to migrate ahead of a
deploy. SQLite stores create their schema on open and need no migration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := sf.config()
			if err != nil {
				return err
			}
			if cfg.Storage != config.StoragePostgres {
				return fmt.Errorf("migrate applies to postgres storage only (have %s)", cfg.Storage)
			}

			ctx := cmd.Context()
			db, err := storage.New(ctx, cfg.DatabaseURL, "", sf.logger())
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer db.Close(context.Background())

			pending, err := db.PendingMigrations(ctx, migrations.FS)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(pending) == 0 {
				fmt.Fprintln(out, "schema is up to date")
				return nil
			}
			for _, name := range pending {
				fmt.Fprintf(out, "pending  %s\n", name)
			}
			if dryRun {
				return nil
			}
			if err := db.RunMigrations(ctx, migrations.FS); err != nil {
				return err
			}
			fmt.Fprintf(out, "applied %d migration(s)\n", len(pending))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list pending migrations without applying them")
	return cmd
}
