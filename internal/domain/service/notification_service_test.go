package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
	"github.com/sofia-platform/billing/internal/domain/service"
	"github.com/sofia-platform/billing/internal/mocks"
)

func TestPaymentURL(t *testing.T) {
	assert.Equal(t, "https://sofia.app/dashboard/billing", service.PaymentURL("https://sofia.app"))
	assert.Equal(t, "https://sofia.app/dashboard/billing", service.PaymentURL("https://sofia.app///"))
	assert.Equal(t, "http://localhost:3000/dashboard/billing", service.PaymentURL("http://localhost:3000/"))
}

func TestNotificationService_SendDunningNotice(t *testing.T) {
	ctx := context.Background()
	next := time.Date(2026, 4, 16, 9, 0, 0, 0, time.UTC)

	t.Run("normalizes recipient before sending", func(t *testing.T) {
		mailer := mocks.NewMockMailer()
		svc := service.NewNotificationService(mailer, zap.NewNop())

		mailer.On("SendDunningEmail", mock.Anything, mock.MatchedBy(func(n service.DunningNotice) bool {
			return n.To == "joao@example.com" && n.RetryCount == 1 && n.NextRetryAt.Equal(next)
		})).Return(nil).Once()

		err := svc.SendDunningNotice(ctx, service.DunningNotice{
			To:          " Joao@Example.com ",
			RetryCount:  1,
			NextRetryAt: &next,
			PaymentURL:  service.PaymentURL("https://sofia.app"),
		})
		require.NoError(t, err)
		mailer.AssertExpectations(t)
	})

	t.Run("invalid recipient is rejected without sending", func(t *testing.T) {
		mailer := mocks.NewMockMailer()
		svc := service.NewNotificationService(mailer, zap.NewNop())

		err := svc.SendDunningNotice(ctx, service.DunningNotice{To: "not-an-email", RetryCount: 1})
		assert.ErrorIs(t, err, domainErrors.ErrNotificationFailed)
		mailer.AssertNotCalled(t, "SendDunningEmail", mock.Anything, mock.Anything)
	})

	t.Run("mailer error is wrapped", func(t *testing.T) {
		mailer := mocks.NewMockMailer()
		svc := service.NewNotificationService(mailer, zap.NewNop())
		mailer.On("SendDunningEmail", mock.Anything, mock.Anything).Return(errors.New("rate limited")).Once()

		err := svc.SendDunningNotice(ctx, service.DunningNotice{To: "ana@example.com", RetryCount: 3, CancelAt: &next})
		assert.ErrorIs(t, err, domainErrors.ErrNotificationFailed)
		assert.Contains(t, err.Error(), "rate limited")
	})

	t.Run("no mailer logs the notice", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		svc := service.NewNotificationService(nil, zap.New(core))

		err := svc.SendDunningNotice(ctx, service.DunningNotice{To: "ana@example.com", RetryCount: 3, CancelAt: &next})
		require.NoError(t, err)

		entries := logs.FilterMessage("Dunning notice (no mailer configured)").All()
		require.Len(t, entries, 1)
		assert.Equal(t, true, entries[0].ContextMap()["final"])
	})
}
