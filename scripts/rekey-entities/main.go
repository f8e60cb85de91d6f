// Command rekey-entities recomputes the canonical key of every registered
// person and organization. Run it after a change to the key rules so lookups
// keep hitting existing rows instead of registering duplicates.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run ./scripts/rekey-entities [-dry-run]
//
// Rows whose new key already belongs to another row are left unchanged and
// reported as collisions; those pairs need a manual merge.
//
// Safe to run multiple times. Once every key is current it reports 0 changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/factstore/internal/service/entities"
	"github.com/ashita-ai/factstore/internal/storage"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "report changes without writing them")
	flag.Parse()
	if err := run(*dryRun); err != nil {
		log.Fatal(err)
	}
}

func run(dryRun bool) error {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	db, err := storage.New(ctx, dbURL, "", logger)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close(context.Background())

	resolver := entities.NewResolver(db, logger)

	people, err := resolver.RekeyPeople(ctx, dryRun)
	if err != nil {
		return err
	}
	fmt.Printf("people: scanned %d, %d stale keys, %d collisions\n", people.Scanned, people.Changed, people.Collisions)

	orgs, err := resolver.RekeyOrganizations(ctx, dryRun)
	if err != nil {
		return err
	}
	fmt.Printf("organizations: scanned %d, %d stale keys, %d collisions\n", orgs.Scanned, orgs.Changed, orgs.Collisions)

	if dryRun {
		fmt.Println("dry run: nothing written")
	}
	return nil
}
