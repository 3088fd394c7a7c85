// Package outbox содержит unit тесты диспетчера outbox.
package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"example.com/commerce-sync/internal/event"
	"example.com/commerce-sync/pkg/kafka"
)

// =============================================================================
// Моки
// =============================================================================

// MockRepository — мок Repository.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, record *Record) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockRepository) CreateTx(tx *gorm.DB, record *Record) error {
	args := m.Called(tx, record)
	return args.Error(0)
}

func (m *MockRepository) GetByCausationID(ctx context.Context, causationID string) ([]*Record, error) {
	args := m.Called(ctx, causationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Record), args.Error(1)
}

func (m *MockRepository) GetDispatchable(ctx context.Context, now time.Time, limit int) ([]*Record, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Record), args.Error(1)
}

func (m *MockRepository) MarkDispatched(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) MarkAttemptFailed(ctx context.Context, id string, attempts int, nextAttemptAt *time.Time, terminal bool) error {
	args := m.Called(ctx, id, attempts, nextAttemptAt, terminal)
	return args.Error(0)
}

func (m *MockRepository) DeleteDispatchedBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

// MockProducer — мок KafkaProducer.
type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) SendMessage(ctx context.Context, msg *kafka.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// =============================================================================
// Вспомогательные функции
// =============================================================================

func testRecord(t *testing.T) *Record {
	evt := event.New("order.created", "order", "8812", "wh-1", map[string]any{"id": 8812})
	record, err := NewRecord(evt, "commerce.events")
	require.NoError(t, err)
	return record
}

// =============================================================================
// Тесты
// =============================================================================

func TestNewRecord(t *testing.T) {
	t.Run("валидное событие", func(t *testing.T) {
		record := testRecord(t)

		assert.Equal(t, "order.created", record.EventType)
		assert.Equal(t, "8812", record.SourceEntityID)
		assert.Equal(t, "wh-1", record.CausationID)
		assert.Equal(t, "commerce.events", record.PublishTo)
		assert.Equal(t, StatusPending, record.Status)
		assert.Equal(t, len(record.Payload), record.PayloadSize)
		assert.Equal(t, DefaultMaxAttempts, record.MaxAttempts)
	})

	t.Run("невалидное событие", func(t *testing.T) {
		evt := event.New("", "order", "1", "wh-1", nil)
		_, err := NewRecord(evt, "commerce.events")
		assert.Error(t, err)
	})
}

func TestDispatch_Success(t *testing.T) {
	repo := new(MockRepository)
	producer := new(MockProducer)
	worker := NewWorker(repo, producer, DefaultWorkerConfig())

	record := testRecord(t)

	producer.On("SendMessage", mock.Anything, mock.MatchedBy(func(msg *kafka.Message) bool {
		return msg.Topic == "commerce.events" &&
			string(msg.Key) == "8812" &&
			msg.Headers[kafka.HeaderEventType] == "order.created" &&
			msg.Headers[kafka.HeaderCausationID] == "wh-1"
	})).Return(nil)
	repo.On("MarkDispatched", mock.Anything, record.ID).Return(nil)

	worker.DispatchSingle(context.Background(), record)

	repo.AssertExpectations(t)
	producer.AssertExpectations(t)
}

func TestDispatch_SendFailureSchedulesRetry(t *testing.T) {
	repo := new(MockRepository)
	producer := new(MockProducer)
	cfg := DefaultWorkerConfig()
	worker := NewWorker(repo, producer, cfg)

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	worker.clock = func() time.Time { return now }

	record := testRecord(t)
	record.Attempts = 1

	producer.On("SendMessage", mock.Anything, mock.Anything).Return(errors.New("broker unavailable"))
	// attempts=2 ⇒ backoff base * 2^2 = 20s
	expectedNext := now.Add(cfg.RetryBaseDelay * 4)
	repo.On("MarkAttemptFailed", mock.Anything, record.ID, 2, &expectedNext, false).Return(nil)

	worker.DispatchSingle(context.Background(), record)

	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkDispatched", mock.Anything, mock.Anything)
}

func TestDispatch_ExhaustedAttemptsTerminal(t *testing.T) {
	repo := new(MockRepository)
	producer := new(MockProducer)
	worker := NewWorker(repo, producer, DefaultWorkerConfig())

	record := testRecord(t)
	record.Attempts = 4 // следующая попытка — пятая, лимит 5

	producer.On("SendMessage", mock.Anything, mock.Anything).Return(errors.New("broker unavailable"))
	repo.On("MarkAttemptFailed", mock.Anything, record.ID, 5, (*time.Time)(nil), true).Return(nil)

	worker.DispatchSingle(context.Background(), record)

	repo.AssertExpectations(t)
}

func TestDispatchBatch(t *testing.T) {
	repo := new(MockRepository)
	producer := new(MockProducer)
	worker := NewWorker(repo, producer, DefaultWorkerConfig())

	records := []*Record{testRecord(t), testRecord(t)}

	repo.On("GetDispatchable", mock.Anything, mock.Anything, 100).Return(records, nil)
	producer.On("SendMessage", mock.Anything, mock.Anything).Return(nil)
	repo.On("MarkDispatched", mock.Anything, mock.Anything).Return(nil)

	worker.dispatchBatch(context.Background())

	producer.AssertNumberOfCalls(t, "SendMessage", 2)
	repo.AssertNumberOfCalls(t, "MarkDispatched", 2)
}

func TestCleanupDispatched(t *testing.T) {
	repo := new(MockRepository)
	producer := new(MockProducer)
	cfg := DefaultWorkerConfig()
	worker := NewWorker(repo, producer, cfg)

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	worker.clock = func() time.Time { return now }

	repo.On("DeleteDispatchedBefore", mock.Anything, now.Add(-cfg.CleanupRetention)).
		Return(int64(3), nil)

	worker.cleanupDispatched(context.Background())

	repo.AssertExpectations(t)
}
