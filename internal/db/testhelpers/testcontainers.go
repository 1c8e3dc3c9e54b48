// Package testhelpers starts a disposable PostgreSQL for integration tests.
package testhelpers

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ajitpratap0/tradeledger/internal/db"
)

// PostgresContainer holds the testcontainer instance and connection details
type PostgresContainer struct {
	Container     *postgres.PostgresContainer
	ConnectionStr string
	DB            *db.DB
	t             *testing.T
}

// SetupTestDatabase starts PostgreSQL and connects a store to it. The
// container is terminated when the test ends.
func SetupTestDatabase(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("tradeledger_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	database, err := db.New(ctx, db.PoolConfig{URL: connStr, MaxConns: 5, MinConns: 1})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(database.Close)

	return &PostgresContainer{
		Container:     container,
		ConnectionStr: connStr,
		DB:            database,
		t:             t,
	}
}

// ApplyMigrations runs the migration files in dir through the Migrator
func (tc *PostgresContainer) ApplyMigrations(dir string) error {
	tc.t.Helper()

	sqlDB, err := sql.Open("postgres", tc.ConnectionStr)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()

	applied, err := db.NewMigrator(sqlDB, dir).Migrate(context.Background())
	for _, m := range applied {
		tc.t.Logf("Applied migration %d: %s", m.Version, m.Description)
	}
	return err
}
