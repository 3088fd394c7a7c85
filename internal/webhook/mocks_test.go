// Package webhook содержит моки для unit тестов пакета.
package webhook

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"example.com/commerce-sync/internal/outbox"
)

// MockLedgerRepository — мок LedgerRepository.
type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) Create(ctx context.Context, entry *Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockLedgerRepository) GetByWebhookID(ctx context.Context, webhookID string) (*Entry, error) {
	args := m.Called(ctx, webhookID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Entry), args.Error(1)
}

func (m *MockLedgerRepository) Claim(ctx context.Context, webhookID string, from ...Status) error {
	args := m.Called(ctx, webhookID, from)
	return args.Error(0)
}

func (m *MockLedgerRepository) MarkCompleted(ctx context.Context, webhookID string, processedAt time.Time) error {
	args := m.Called(ctx, webhookID, processedAt)
	return args.Error(0)
}

func (m *MockLedgerRepository) CompleteWithOutbox(ctx context.Context, webhookID string, record *outbox.Record, processedAt time.Time) error {
	args := m.Called(ctx, webhookID, record, processedAt)
	return args.Error(0)
}

func (m *MockLedgerRepository) MarkFailed(ctx context.Context, webhookID, errMsg string, retryCount int, nextRetryAt *time.Time, dead bool) error {
	args := m.Called(ctx, webhookID, errMsg, retryCount, nextRetryAt, dead)
	return args.Error(0)
}

func (m *MockLedgerRepository) FindRetryable(ctx context.Context, now time.Time, limit int) ([]*Entry, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Entry), args.Error(1)
}

func (m *MockLedgerRepository) ListDeadLetters(ctx context.Context, limit, offset int) ([]*Entry, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Entry), args.Error(1)
}

func (m *MockLedgerRepository) ListDeadLettersByTopic(ctx context.Context, topic string, limit, offset int) ([]*Entry, error) {
	args := m.Called(ctx, topic, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Entry), args.Error(1)
}

func (m *MockLedgerRepository) SearchDeadLetters(ctx context.Context, errorSubstring string, limit, offset int) ([]*Entry, error) {
	args := m.Called(ctx, errorSubstring, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Entry), args.Error(1)
}

func (m *MockLedgerRepository) DeadLetterStats(ctx context.Context) (*DeadLetterStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DeadLetterStats), args.Error(1)
}

func (m *MockLedgerRepository) ReplayDeadLetter(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockLedgerRepository) DeleteDeadLetter(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockLedgerRepository) DeleteDeadLettersOlderThan(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedgerRepository) ExportDeadLetters(ctx context.Context, limit int) ([]*Entry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Entry), args.Error(1)
}
