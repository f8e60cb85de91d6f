// Package factstore is the public API for embedding the fact store server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := factstore.New(
//	    factstore.WithVersion(version),
//	    factstore.WithLogger(logger),
//	    factstore.WithHook(crmSync{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, but internal/* never imports the root
// package. Public types (Fact, Conflict) are standalone structs with no
// internal imports; the conversion helpers live here because this is the only
// file that sees both sides of the boundary.
package factstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/factstore/api"
	"github.com/ashita-ai/factstore/internal/config"
	"github.com/ashita-ai/factstore/internal/mcp"
	"github.com/ashita-ai/factstore/internal/model"
	"github.com/ashita-ai/factstore/internal/ratelimit"
	"github.com/ashita-ai/factstore/internal/server"
	"github.com/ashita-ai/factstore/internal/service/entities"
	"github.com/ashita-ai/factstore/internal/service/facts"
	"github.com/ashita-ai/factstore/internal/storage"
	"github.com/ashita-ai/factstore/internal/storage/sqlite"
	"github.com/ashita-ai/factstore/internal/telemetry"
	"github.com/ashita-ai/factstore/migrations"
)

// App is the fact store lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	store        storage.Store
	factSvc      *facts.Service
	srv          *server.Server
	broker       *server.Broker
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the fact store. It opens storage, applies the schema, wires
// all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.Storage = config.StoragePostgres
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	if o.sqlitePath != "" {
		cfg.Storage = config.StorageSQLite
		cfg.SQLitePath = o.sqlitePath
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	taxonomy, err := cfg.Taxonomy()
	if err != nil {
		return nil, err
	}

	logger.Info("factstore starting", "version", version, "port", cfg.Port, "storage", cfg.Storage)

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Storage:     cfg.Storage,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, err
	}

	// Notifications: Postgres fans out through NOTIFY so every replica's SSE
	// subscribers see every write. Without a LISTEN connection, or with
	// SQLite, events stay in process.
	var notifier storage.Notifier
	var broker *server.Broker
	switch {
	case db != nil && db.HasNotifyConn():
		notifier = db
		broker = server.NewBroker(db, logger)
	default:
		broker = server.NewBroker(nil, logger)
		notifier = broker
		logger.Info("SSE broker: in-process (no notify connection)")
	}

	var hooks []facts.Hook
	for _, h := range o.hooks {
		hooks = append(hooks, hookAdapter{hook: h})
	}

	factSvc := facts.New(store, logger, facts.Options{
		Notifier:         notifier,
		Hooks:            hooks,
		Taxonomy:         taxonomy,
		StrictTaxonomy:   cfg.StrictTaxonomy,
		BatchConcurrency: cfg.BatchConcurrency,
	})
	resolver := entities.NewResolver(store, logger)
	mcpSrv := mcp.New(factSvc, taxonomy, logger, version)

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}

	srv := server.New(server.Config{
		Store:               store,
		FactSvc:             factSvc,
		Resolver:            resolver,
		Logger:              logger,
		Limiter:             limiter,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		StorageName:         cfg.Storage,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
		Middlewares:         middlewares,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		factSvc:      factSvc,
		srv:          srv,
		broker:       broker,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// openStore opens the configured backend. db is non-nil only for Postgres.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, *storage.DB, error) {
	if cfg.Storage == config.StorageSQLite {
		s, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("storage: %w", err)
		}
		return s, nil, nil
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: %w", err)
	}
	db.RegisterPoolMetrics()
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close(ctx)
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return db, db, nil
}

// Handler returns the root HTTP handler, for serving the API from an
// existing listener or from tests.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the notification relay and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown is
// called automatically; callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	go a.broker.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown stops accepting HTTP requests, drains in-flight ones, waits for
// dispatched hooks, then closes storage and the OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("factstore shutting down")

	httpCtx, httpCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	a.factSvc.WaitHooks()
	_ = a.limiter.Close()
	if err := a.otelShutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown error", "error", err)
	}
	a.store.Close(ctx)

	a.logger.Info("factstore stopped")
	return nil
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// hookAdapter exposes a public Hook as an internal facts.Hook.
type hookAdapter struct {
	hook Hook
}

func (a hookAdapter) OnFactRecorded(ctx context.Context, f model.Fact, res model.AddFactResult) error {
	return a.hook.OnFactRecorded(ctx, toPublicFact(f, res))
}

func (a hookAdapter) OnConflictEscalated(ctx context.Context, c model.ConflictRecord) error {
	return a.hook.OnConflictEscalated(ctx, toPublicConflict(c))
}

var _ facts.Hook = hookAdapter{}

func toPublicFact(f model.Fact, res model.AddFactResult) Fact {
	return Fact{
		ID:             f.ID,
		EntityType:     string(f.Subject.Type),
		EntityID:       f.Subject.ID,
		FactType:       f.FactType,
		Key:            f.Key,
		Value:          f.Value,
		SourceType:     f.SourceType,
		SourceID:       f.SourceID,
		SourceURL:      f.SourceURL,
		Confidence:     f.Confidence,
		ValidFrom:      f.ValidFrom,
		CreatedAt:      f.CreatedAt,
		CreatedBy:      f.CreatedBy,
		Classification: string(res.Classification),
		SupersededID:   res.SupersededID,
	}
}

func toPublicConflict(c model.ConflictRecord) Conflict {
	out := Conflict{
		EntityType:         string(c.Slot.Subject.Type),
		EntityID:           c.Slot.Subject.ID,
		FactType:           c.Slot.FactType,
		Key:                c.Slot.Key,
		IncomingValue:      c.IncomingValue,
		IncomingSourceType: c.IncomingSourceType,
		IncomingSourceID:   c.IncomingSourceID,
		IncomingConfidence: c.IncomingConfidence,
		Reason:             string(c.Reason),
	}
	if e := c.Existing; e != nil {
		id, value, source, confidence := e.ID, e.Value, e.SourceType, e.Confidence
		out.ExistingFactID = &id
		out.ExistingValue = &value
		out.ExistingSourceType = &source
		out.ExistingConfidence = &confidence
	}
	return out
}
