package bootstrap_test

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sofia-platform/billing/internal/bootstrap"
	"github.com/sofia-platform/billing/internal/infrastructure/config"
	"github.com/sofia-platform/billing/internal/infrastructure/external/email"
	"github.com/sofia-platform/billing/internal/infrastructure/persistence"
	"github.com/sofia-platform/billing/internal/mocks"
	"github.com/sofia-platform/billing/internal/worker/tasks"
)

func TestDunningConfig(t *testing.T) {
	cfg := &config.Config{Dunning: config.DunningConfig{
		SiteURL:     "https://sofia.app",
		BatchSize:   100,
		CallTimeout: 3 * time.Second,
		LeaseTTL:    time.Minute,
	}}

	dc := bootstrap.DunningConfig(cfg)
	assert.Equal(t, "https://sofia.app", dc.SiteURL)
	assert.Equal(t, 100, dc.BatchSize)
	assert.Equal(t, 3*time.Second, dc.CallTimeout)
	assert.Equal(t, time.Minute, dc.LeaseTTL)
	assert.NotEmpty(t, dc.Statuses)
}

func TestNewMailer(t *testing.T) {
	logger := zap.NewNop()

	m, err := bootstrap.NewMailer(config.EmailConfig{}, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &email.LogMailer{}, m)

	m, err = bootstrap.NewMailer(config.EmailConfig{ResendAPIKey: "re_test"}, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &email.ResendMailer{}, m)

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: "127.0.0.1:0"})
	defer client.Close()
	m, err = bootstrap.NewMailer(config.EmailConfig{ResendAPIKey: "re_test", Queue: true}, client, logger)
	require.NoError(t, err)
	assert.IsType(t, &tasks.QueueMailer{}, m)
}

func TestNewDunningService(t *testing.T) {
	cfg := &config.Config{Dunning: config.DunningConfig{BatchSize: 10}}

	assert.Nil(t, bootstrap.NewDunningService(nil, cfg, nil, zap.NewNop()))

	store := &persistence.Store{
		Backend:       persistence.BackendPostgres,
		Subscriptions: mocks.NewMockSubscriptionRepository(),
		Transactions:  mocks.NewMockTransactionRepository(),
	}
	svc := bootstrap.NewDunningService(store, cfg, nil, zap.NewNop())
	require.NotNil(t, svc)
	assert.Equal(t, 10, svc.Config().BatchSize)
}
