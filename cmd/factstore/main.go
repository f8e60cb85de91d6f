// Command factstore serves the fact store HTTP and MCP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/factstore"
	"github.com/ashita-ai/factstore/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "version" || os.Args[1] == "--version") {
		fmt.Println(version)
		return
	}
	os.Exit(run())
}

func run() int {
	// A local .env may set the log variables, and config load errors should
	// already use the configured format.
	_ = godotenv.Load()
	logger := config.NewLogger(os.Stdout, os.Getenv("FACTSTORE_LOG_LEVEL"), os.Getenv("FACTSTORE_LOG_FORMAT"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := factstore.New(
		factstore.WithVersion(version),
		factstore.WithLogger(logger),
	)
	if err != nil {
		logger.Error("factstore: startup failed", "error", err)
		return 1
	}
	if err := app.Run(ctx); err != nil {
		logger.Error("factstore: server failed", "error", err)
		return 1
	}
	return 0
}
