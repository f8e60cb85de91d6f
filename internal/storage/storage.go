// Package storage is the Postgres backend of the fact store.
//
// Queries go through a pgxpool.Pool, which may sit behind PgBouncer. LISTEN
// needs a session that outlives any one query, so it gets its own direct
// pgx.Conn. The ports the services depend on are declared in repository.go;
// the sqlite and memstore packages implement them too.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/factstore/internal/telemetry"
)

// Session names reported in pg_stat_activity.
const (
	appName      = "factstore"
	listenerName = "factstore-listener"
)

const poolHealthCheckPeriod = 30 * time.Second

// DB is the Postgres-backed Store.
type DB struct {
	pool       *pgxpool.Pool
	notifyConn *pgx.Conn
	logger     *slog.Logger
}

// New connects the query pool to poolDSN and, when notifyDSN is set, opens the
// LISTEN connection to it. notifyDSN must bypass any transaction pooler.
// Without it Notify still works but Listen fails.
func New(ctx context.Context, poolDSN, notifyDSN string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(poolDSN)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}
	setAppName(poolCfg.ConnConfig, appName)
	poolCfg.HealthCheckPeriod = poolHealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	db := &DB{pool: pool, logger: logger}
	if notifyDSN == "" {
		return db, nil
	}

	connCfg, err := pgx.ParseConfig(notifyDSN)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: parse notify DSN: %w", err)
	}
	setAppName(connCfg, listenerName)
	if db.notifyConn, err = pgx.ConnectConfig(ctx, connCfg); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: connect notify: %w", err)
	}
	return db, nil
}

// setAppName fills application_name unless the DSN already chose one.
func setAppName(cfg *pgx.ConnConfig, name string) {
	if _, ok := cfg.RuntimeParams["application_name"]; !ok {
		cfg.RuntimeParams["application_name"] = name
	}
}

// Pool exposes the query pool to tests and maintenance tools.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// HasNotifyConn reports whether Listen is available.
func (db *DB) HasNotifyConn() bool {
	return db.notifyConn != nil
}

// Ping checks that the pool can reach the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close releases the pool and the notify connection.
func (db *DB) Close(ctx context.Context) {
	db.pool.Close()
	if db.notifyConn == nil {
		return
	}
	if err := db.notifyConn.Close(ctx); err != nil {
		db.logger.Warn("storage: close notify connection", "error", err)
	}
}

// RegisterPoolMetrics reports pool occupancy as observable gauges.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("factstore/storage")
	gauge := func(name, desc string) (metric.Int64ObservableGauge, error) {
		return meter.Int64ObservableGauge("factstore.db.pool."+name, metric.WithDescription(desc))
	}
	acquired, errA := gauge("acquired_conns", "Connections checked out of the pool")
	idle, errI := gauge("idle_conns", "Idle connections held by the pool")
	total, errT := gauge("total_conns", "All connections held by the pool")
	if err := errors.Join(errA, errI, errT); err != nil {
		db.logger.Warn("storage: pool metrics unavailable", "error", err)
		return
	}

	_, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stat := db.pool.Stat()
		o.ObserveInt64(acquired, int64(stat.AcquiredConns()))
		o.ObserveInt64(idle, int64(stat.IdleConns()))
		o.ObserveInt64(total, int64(stat.TotalConns()))
		return nil
	}, acquired, idle, total)
	if err != nil {
		db.logger.Warn("storage: register pool metrics callback", "error", err)
	}
}
