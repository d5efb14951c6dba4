package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sofia-platform/billing/internal/domain/service"
)

// MockNotifier is a mock implementation of service.Notifier
type MockNotifier struct {
	mock.Mock
}

// NewMockNotifier creates a new mock notifier
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) SendDunningNotice(ctx context.Context, notice service.DunningNotice) error {
	args := m.Called(ctx, notice)
	return args.Error(0)
}

// MockMailer is a mock implementation of service.Mailer
type MockMailer struct {
	mock.Mock
}

// NewMockMailer creates a new mock mailer
func NewMockMailer() *MockMailer {
	return &MockMailer{}
}

func (m *MockMailer) SendDunningEmail(ctx context.Context, notice service.DunningNotice) error {
	args := m.Called(ctx, notice)
	return args.Error(0)
}
