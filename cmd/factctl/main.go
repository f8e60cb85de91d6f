// Command factctl is the operator CLI for the fact store. It computes
// canonical keys and name similarity offline, and reads or writes facts
// directly against the configured store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/factstore/internal/config"
	"github.com/ashita-ai/factstore/internal/service/facts"
	"github.com/ashita-ai/factstore/internal/storage"
	"github.com/ashita-ai/factstore/internal/storage/sqlite"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// storeFlags override the environment's storage settings.
type storeFlags struct {
	storage     string
	sqlitePath  string
	databaseURL string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	sf := &storeFlags{}
	var noColor bool

	root := &cobra.Command{
		Use:   "factctl",
		Short: "Operate a fact store",
		Long: `factctl inspects canonical keys and name similarity, and reads or writes
facts directly against a store.

Storage is taken from the same environment as the server (FACTSTORE_STORAGE,
DATABASE_URL, FACTSTORE_SQLITE_PATH) unless overridden with flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&sf.storage, "storage", "", "storage backend: postgres or sqlite")
	pf.StringVar(&sf.sqlitePath, "sqlite-path", "", "SQLite database file (implies --storage sqlite)")
	pf.StringVar(&sf.databaseURL, "database-url", "", "Postgres URL (implies --storage postgres)")
	pf.BoolVarP(&sf.verbose, "verbose", "v", false, "log storage activity to stderr")
	pf.BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newKeyCmd(),
		newDomainCmd(),
		newSimilarityCmd(),
		newAddCmd(sf),
		newHistoryCmd(sf),
		newRetireCmd(sf),
		newMigrateCmd(sf),
	)
	return root
}

func (sf *storeFlags) logger() *slog.Logger {
	level := slog.LevelWarn
	if sf.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// config loads the environment configuration with flag overrides applied.
func (sf *storeFlags) config() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if sf.storage != "" {
		cfg.Storage = sf.storage
	}
	if sf.databaseURL != "" {
		cfg.Storage = config.StoragePostgres
		cfg.DatabaseURL = sf.databaseURL
	}
	if sf.sqlitePath != "" {
		cfg.Storage = config.StorageSQLite
		cfg.SQLitePath = sf.sqlitePath
	}
	return cfg, cfg.Validate()
}

// openFacts opens the configured store and a fact service over it. The
// caller closes the store.
func (sf *storeFlags) openFacts(ctx context.Context) (*facts.Service, storage.Store, error) {
	cfg, err := sf.config()
	if err != nil {
		return nil, nil, err
	}
	taxonomy, err := cfg.Taxonomy()
	if err != nil {
		return nil, nil, err
	}
	logger := sf.logger()

	var store storage.Store
	switch cfg.Storage {
	case config.StorageSQLite:
		store, err = sqlite.Open(ctx, cfg.SQLitePath, logger)
	default:
		store, err = storage.New(ctx, cfg.DatabaseURL, "", logger)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Storage, err)
	}

	svc := facts.New(store, logger, facts.Options{
		Taxonomy:       taxonomy,
		StrictTaxonomy: cfg.StrictTaxonomy,
	})
	return svc, store, nil
}
