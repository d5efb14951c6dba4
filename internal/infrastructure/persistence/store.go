// Package persistence selects and opens the billing store backend.
package persistence

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
	"github.com/sofia-platform/billing/internal/domain/repository"
	"github.com/sofia-platform/billing/internal/infrastructure/config"
	"github.com/sofia-platform/billing/internal/infrastructure/persistence/pool"
	pgrepo "github.com/sofia-platform/billing/internal/infrastructure/persistence/repository"
	"github.com/sofia-platform/billing/internal/infrastructure/persistence/supabase"
)

const (
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"
)

// Store bundles the repositories of one backend
type Store struct {
	Backend       string
	Subscriptions repository.SubscriptionRepository
	Transactions  repository.TransactionRepository
	close         func()
}

// Close releases the backend's resources
func (s *Store) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

// Open connects to Postgres when DATABASE_URL is set, otherwise to the Supabase REST API.
// It returns ErrStoreNotConfigured when neither is configured.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Store, error) {
	switch {
	case cfg.Database.Enabled():
		dbPool, err := pool.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx, dbPool); err != nil {
			pool.Close(dbPool)
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		logger.Info("Billing store connected", zap.String("backend", BackendPostgres))
		return &Store{
			Backend:       BackendPostgres,
			Subscriptions: pgrepo.NewSubscriptionRepository(dbPool),
			Transactions:  pgrepo.NewTransactionRepository(dbPool),
			close:         func() { pool.Close(dbPool) },
		}, nil

	case cfg.Supabase.Enabled():
		client := supabase.NewClient(supabase.Config{
			BaseURL:        cfg.Supabase.URL,
			ServiceRoleKey: cfg.Supabase.ServiceRoleKey,
			Timeout:        cfg.Dunning.CallTimeout,
		}, logger.With(zap.String("component", "supabase")))
		logger.Info("Billing store configured", zap.String("backend", BackendSupabase))
		return &Store{
			Backend:       BackendSupabase,
			Subscriptions: supabase.NewSubscriptionStore(client),
			Transactions:  supabase.NewTransactionStore(client),
		}, nil

	default:
		return nil, domainErrors.ErrStoreNotConfigured
	}
}
