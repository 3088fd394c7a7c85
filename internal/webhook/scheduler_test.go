package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func testScheduler(ledger *MockLedgerRepository) *RetryScheduler {
	intake := NewIntake(ledger, NewTransformer(), testIntakeConfig())
	return NewRetryScheduler(ledger, intake, SchedulerConfig{
		Interval:    time.Minute,
		BatchSize:   50,
		Concurrency: 10,
	})
}

func TestRunCycle_ProcessesBatch(t *testing.T) {
	ledger := new(MockLedgerRepository)
	scheduler := testScheduler(ledger)

	entries := []*Entry{
		{ID: "e1", WebhookID: "wh-1", Topic: "order.created", Payload: map[string]any{"id": float64(1)}, Status: StatusFailed, RetryCount: 1, MaxRetries: 5},
		{ID: "e2", WebhookID: "wh-2", Topic: "product.updated", Payload: map[string]any{"id": float64(2)}, Status: StatusFailed, RetryCount: 2, MaxRetries: 5},
	}

	ledger.On("FindRetryable", mock.Anything, mock.Anything, 50).Return(entries, nil)
	ledger.On("Claim", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ledger.On("CompleteWithOutbox", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	scheduler.runCycle(context.Background())

	ledger.AssertNumberOfCalls(t, "CompleteWithOutbox", 2)
}

func TestRunCycle_OneFailureDoesNotAbortBatch(t *testing.T) {
	ledger := new(MockLedgerRepository)
	scheduler := testScheduler(ledger)

	entries := []*Entry{
		{ID: "e1", WebhookID: "wh-1", Topic: "order.created", Payload: map[string]any{"id": float64(1)}, Status: StatusFailed, RetryCount: 1, MaxRetries: 5},
		{ID: "e2", WebhookID: "wh-2", Topic: "order.created", Payload: map[string]any{"id": float64(2)}, Status: StatusFailed, RetryCount: 1, MaxRetries: 5},
	}

	ledger.On("FindRetryable", mock.Anything, mock.Anything, 50).Return(entries, nil)
	ledger.On("Claim", mock.Anything, "wh-1", mock.Anything).Return(nil)
	ledger.On("Claim", mock.Anything, "wh-2", mock.Anything).Return(nil)
	ledger.On("CompleteWithOutbox", mock.Anything, "wh-1", mock.Anything, mock.Anything).
		Return(errors.New("storage unavailable"))
	ledger.On("MarkFailed", mock.Anything, "wh-1", mock.Anything, 2, mock.Anything, false).Return(nil)
	ledger.On("CompleteWithOutbox", mock.Anything, "wh-2", mock.Anything, mock.Anything).Return(nil)

	scheduler.runCycle(context.Background())

	ledger.AssertExpectations(t)
}

// Возвращённая оператором запись dead_letter (pending, retry_count=0,
// next_retry_at=now) проходит обычный цикл повторов до completed.
func TestRunCycle_ProcessesReplayedDeadLetter(t *testing.T) {
	ledger := new(MockLedgerRepository)
	scheduler := testScheduler(ledger)

	replayed := []*Entry{
		{ID: "e1", WebhookID: "wh-1", Topic: "order.created", Payload: map[string]any{"id": float64(1)}, Status: StatusPending, RetryCount: 0, MaxRetries: 5},
	}

	ledger.On("FindRetryable", mock.Anything, mock.Anything, 50).Return(replayed, nil)
	ledger.On("Claim", mock.Anything, "wh-1", []Status{StatusPending, StatusFailed}).Return(nil)
	ledger.On("CompleteWithOutbox", mock.Anything, "wh-1", mock.Anything, mock.Anything).Return(nil)

	scheduler.runCycle(context.Background())

	ledger.AssertExpectations(t)
	ledger.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunCycle_QueryErrorSkipsCycle(t *testing.T) {
	ledger := new(MockLedgerRepository)
	scheduler := testScheduler(ledger)

	ledger.On("FindRetryable", mock.Anything, mock.Anything, 50).Return(nil, errors.New("connection lost"))

	scheduler.runCycle(context.Background())

	ledger.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunCycle_OverlapSkipped(t *testing.T) {
	ledger := new(MockLedgerRepository)
	scheduler := testScheduler(ledger)

	release := make(chan struct{})
	started := make(chan struct{})

	entries := []*Entry{
		{ID: "e1", WebhookID: "wh-1", Topic: "order.created", Payload: map[string]any{"id": float64(1)}, Status: StatusFailed, RetryCount: 1, MaxRetries: 5},
	}

	ledger.On("FindRetryable", mock.Anything, mock.Anything, 50).Return(entries, nil)
	ledger.On("Claim", mock.Anything, "wh-1", mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-release
		}).Return(ErrAlreadyClaimed)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.runCycle(context.Background())
	}()

	<-started

	// Тик во время выполняющегося цикла — no-op, не очередь
	scheduler.runCycle(context.Background())
	ledger.AssertNumberOfCalls(t, "FindRetryable", 1)

	close(release)
	wg.Wait()
}

func TestRunCycle_EmptyBatch(t *testing.T) {
	ledger := new(MockLedgerRepository)
	scheduler := testScheduler(ledger)

	ledger.On("FindRetryable", mock.Anything, mock.Anything, 50).Return([]*Entry{}, nil)

	scheduler.runCycle(context.Background())

	assert.False(t, scheduler.running.Load())
}
