package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sofia-platform/billing/internal/domain/entity"
	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
	"github.com/sofia-platform/billing/internal/domain/service"
	"github.com/sofia-platform/billing/internal/mocks"
)

func TestListDunningSubscriptionsQuery_Execute(t *testing.T) {
	now := time.Date(2026, 4, 15, 9, 0, 0, 0, time.UTC)
	tomorrow := now.Add(24 * time.Hour)

	due := &entity.Subscription{ID: uuid.New(), UserID: uuid.New(), Status: entity.StatusPastDue, Metadata: entity.Metadata{}}
	waiting := &entity.Subscription{ID: uuid.New(), UserID: uuid.New(), Status: entity.StatusUnpaid, Metadata: entity.DunningPatch(entity.DunningState{RetryCount: 1, NextRetryAt: &tomorrow})}
	exhausted := &entity.Subscription{ID: uuid.New(), UserID: uuid.New(), Status: entity.StatusPastDue, Metadata: entity.Metadata{"retry_count": 3}}

	repo := mocks.NewMockSubscriptionRepository()
	repo.On("ListByStatuses", mock.Anything, entity.DunningStatuses, 50).
		Return([]*entity.Subscription{due, waiting, exhausted}, nil).Once()

	cfg := service.DefaultDunningConfig()
	cfg.BatchSize = 50
	q := NewListDunningSubscriptionsQuery(repo, cfg)
	q.now = func() time.Time { return now }

	resp, err := q.Execute(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Reviewed)
	assert.Equal(t, 1, resp.Due)
	assert.Equal(t, "2026-04-15T09:00:00.000Z", resp.GeneratedAt)
	require.Len(t, resp.Subscriptions, 3)

	assert.True(t, resp.Subscriptions[0].Due)
	assert.Nil(t, resp.Subscriptions[0].NextRetryAt)

	assert.False(t, resp.Subscriptions[1].Due)
	require.NotNil(t, resp.Subscriptions[1].NextRetryAt)
	assert.Equal(t, "2026-04-16T09:00:00.000Z", *resp.Subscriptions[1].NextRetryAt)

	assert.False(t, resp.Subscriptions[2].Due)
	assert.True(t, resp.Subscriptions[2].Exhausted)
	repo.AssertExpectations(t)
}

func TestListDunningSubscriptionsQuery_Limits(t *testing.T) {
	repo := mocks.NewMockSubscriptionRepository()
	repo.On("ListByStatuses", mock.Anything, mock.Anything, 10).Return([]*entity.Subscription{}, nil).Once()
	repo.On("ListByStatuses", mock.Anything, mock.Anything, 500).Return(nil, errors.New("connection refused")).Once()

	q := NewListDunningSubscriptionsQuery(repo, service.DefaultDunningConfig())

	resp, err := q.Execute(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, resp.Subscriptions)

	_, err = q.Execute(context.Background(), 10_000)
	assert.ErrorContains(t, err, "connection refused")
	repo.AssertExpectations(t)
}

func TestListDunningSubscriptionsQuery_NoStore(t *testing.T) {
	q := NewListDunningSubscriptionsQuery(nil, service.DefaultDunningConfig())
	_, err := q.Execute(context.Background(), 0)
	assert.ErrorIs(t, err, domainErrors.ErrStoreNotConfigured)
}
