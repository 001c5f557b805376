package app

import (
	"context"

	"chat_sync_service/internal/chat/domain"

	"github.com/stretchr/testify/mock"
)

// MockViewPublisher Mock ViewPublisher
type MockViewPublisher struct {
	mock.Mock
}

// Publish mock publish snapshot
func (m *MockViewPublisher) Publish(ctx context.Context, snap domain.Snapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

// MockEmitter Mock outbound side of the channel
type MockEmitter struct {
	mock.Mock
}

// Emit mock emit event
func (m *MockEmitter) Emit(event domain.Action, payload interface{}) error {
	args := m.Called(event, payload)
	return args.Error(0)
}
