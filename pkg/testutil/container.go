// Package testutil provides testing utilities for Cornerstone backend services.
// It includes a PostgreSQL test database with schema-per-test isolation,
// sqlmock helpers, event publisher doubles and fixtures.
package testutil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Environment overrides for integration tests.
const (
	// EnvTestDatabaseURL points the suite at an existing server (CI service
	// container, local postgres) instead of starting one with Docker.
	EnvTestDatabaseURL = "CORNERSTONE_TEST_DATABASE_URL"
	// EnvTestPostgresImage overrides the container image.
	EnvTestPostgresImage = "CORNERSTONE_TEST_POSTGRES_IMAGE"
)

const defaultPostgresImage = "postgres:16-alpine"

// TestDatabase is the PostgreSQL server shared by one test binary. It is
// either a testcontainers instance or an external server from EnvTestDatabaseURL.
type TestDatabase struct {
	DSN       string
	container *postgres.PostgresContainer
}

// StartTestDatabase returns the external server when EnvTestDatabaseURL is
// set and otherwise starts a container, waiting until it accepts connections.
func StartTestDatabase(ctx context.Context) (*TestDatabase, error) {
	if dsn := os.Getenv(EnvTestDatabaseURL); dsn != "" {
		return &TestDatabase{DSN: dsn}, nil
	}

	image := os.Getenv(EnvTestPostgresImage)
	if image == "" {
		image = defaultPostgresImage
	}

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(image),
		postgres.WithDatabase("cornerstone_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			// postgres logs readiness twice: once for the init server, once for the real one
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &TestDatabase{DSN: dsn, container: container}, nil
}

// Connect opens an admin connection used to create and drop test schemas
func (d *TestDatabase) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", d.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	return db, nil
}

// Terminate removes the container. External servers are left alone.
func (d *TestDatabase) Terminate(ctx context.Context) error {
	if d.container == nil {
		return nil
	}
	return d.container.Terminate(ctx)
}
