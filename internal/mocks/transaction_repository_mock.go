package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/sofia-platform/billing/internal/domain/entity"
)

// MockTransactionRepository is a mock implementation of TransactionRepository
type MockTransactionRepository struct {
	mock.Mock
}

// NewMockTransactionRepository creates a new mock transaction repository
func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{}
}

func (m *MockTransactionRepository) GetLatestByUserID(ctx context.Context, userID uuid.UUID) (*entity.Transaction, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) MergeMetadata(ctx context.Context, id uuid.UUID, patch entity.Metadata) error {
	args := m.Called(ctx, id, patch)
	return args.Error(0)
}
