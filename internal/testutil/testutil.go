// Package testutil holds shared test fixtures: a throwaway Postgres in a
// container, a quiet logger and valid fact inputs.
//
// Integration suites start one container per package in TestMain:
//
//	func TestMain(m *testing.M) {
//	    pg := testutil.MustStartPostgres()
//	    testDB, _ = pg.NewTestDB(context.Background(), testutil.TestLogger())
//	    code := m.Run()
//	    pg.Terminate()
//	    os.Exit(code)
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/factstore/internal/model"
	"github.com/ashita-ai/factstore/internal/storage"
	"github.com/ashita-ai/factstore/migrations"
)

const (
	pgImage    = "postgres:17-alpine"
	pgUser     = "factstore"
	pgPassword = "factstore"
	pgDatabase = "factstore"
)

// TestContainer is a running Postgres container and the DSN that reaches it.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgres starts a Postgres container and waits until it accepts
// connections.
func StartPostgres(ctx context.Context) (*TestContainer, error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        pgImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     pgUser,
				"POSTGRES_PASSWORD": pgPassword,
				"POSTGRES_DB":       pgDatabase,
			},
			// The server logs readiness twice: once for the init run, once for real.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("testutil: start postgres: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("testutil: postgres host: %w", err)
	}
	port, err := c.MappedPort(ctx, "5432")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("testutil: postgres port: %w", err)
	}

	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(pgUser, pgPassword),
		Host:     net.JoinHostPort(host, port.Port()),
		Path:     pgDatabase,
		RawQuery: "sslmode=disable",
	}
	return &TestContainer{Container: c, DSN: dsn.String()}, nil
}

// MustStartPostgres is StartPostgres for TestMain: it exits the process on
// failure.
func MustStartPostgres() *TestContainer {
	tc, err := StartPostgres(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return tc
}

// NewTestDB connects to the container with both a query pool and a notify
// connection, then applies every migration.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: connect: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("testutil: migrate: %w", err)
	}
	return db, nil
}

// Terminate removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger logs warnings and errors to stderr.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// FactInput returns a valid input for a metric slot on a fresh organization.
func FactInput(key, value, sourceType string) model.FactInput {
	return model.FactInput{
		Subject:    model.OrganizationSubject(uuid.New()),
		FactType:   model.FactTypeMetric,
		Key:        key,
		Value:      value,
		SourceType: sourceType,
	}
}
