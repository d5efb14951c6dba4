package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/sofia-platform/billing/migrations"
)

// TestDBContainer holds the PostgreSQL test container
type TestDBContainer struct {
	Container  *postgres.PostgresContainer
	ConnString string
	Pool       *pgxpool.Pool
}

// SetupTestDBContainer starts a PostgreSQL container and applies the embedded migrations
func SetupTestDBContainer(ctx context.Context, t *testing.T) (*TestDBContainer, error) {
	t.Helper()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("billing_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	if err := migrations.Up(connString); err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, err
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &TestDBContainer{
		Container:  container,
		ConnString: connString,
		Pool:       pool,
	}, nil
}

// Teardown cleans up the test container
func (tc *TestDBContainer) Teardown(t *testing.T) {
	t.Helper()
	if tc.Pool != nil {
		tc.Pool.Close()
	}
	if tc.Container != nil {
		if err := testcontainers.TerminateContainer(tc.Container); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}
}

// Truncate empties the billing tables between subtests
func (tc *TestDBContainer) Truncate(ctx context.Context, t *testing.T) {
	t.Helper()
	if _, err := tc.Pool.Exec(ctx, `TRUNCATE transactions, subscriptions`); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}
