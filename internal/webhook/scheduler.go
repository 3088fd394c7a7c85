package webhook

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"example.com/commerce-sync/pkg/logger"
	"example.com/commerce-sync/pkg/metrics"
)

// SchedulerConfig — настройки планировщика повторов.
type SchedulerConfig struct {
	// Interval — интервал между циклами планировщика.
	Interval time.Duration

	// BatchSize — количество записей за один цикл.
	BatchSize int

	// Concurrency — максимум записей в обработке одновременно.
	Concurrency int
}

// DefaultSchedulerConfig возвращает конфигурацию по умолчанию.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:    60 * time.Second,
		BatchSize:   50,
		Concurrency: 10,
	}
}

// RetryScheduler периодически находит записи ledger, готовые
// к повторной обработке, и прогоняет их через шаг обработки intake.
// Перекрывающиеся циклы пропускаются, а не ставятся в очередь.
type RetryScheduler struct {
	ledger  LedgerRepository
	intake  *Intake
	cfg     SchedulerConfig
	running atomic.Bool
}

// NewRetryScheduler создаёт новый планировщик повторов.
func NewRetryScheduler(ledger LedgerRepository, intake *Intake, cfg SchedulerConfig) *RetryScheduler {
	return &RetryScheduler{
		ledger: ledger,
		intake: intake,
		cfg:    cfg,
	}
}

// Run запускает планировщик. Блокирует выполнение до отмены контекста.
// Запущенные обработки при остановке дорабатывают до конца —
// durable-состояние ledger делает at-least-once восстановление безопасным.
func (s *RetryScheduler) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("interval", s.cfg.Interval).
		Int("batch_size", s.cfg.BatchSize).
		Int("concurrency", s.cfg.Concurrency).
		Msg("Запуск планировщика повторов webhook")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка планировщика повторов webhook")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle выполняет один цикл повторов. Если предыдущий цикл ещё
// не завершён, новый пропускается.
func (s *RetryScheduler) runCycle(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		log := logger.FromContext(ctx)
		log.Debug().Msg("Предыдущий цикл повторов ещё выполняется, пропуск")
		return
	}
	defer s.running.Store(false)

	log := logger.FromContext(ctx)

	entries, err := s.ledger.FindRetryable(ctx, time.Now(), s.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка выборки записей для повтора")
		return
	}

	if len(entries) == 0 {
		return
	}

	log.Info().Int("count", len(entries)).Msg("Найдены записи для повторной обработки")

	// Семафор ограничивает количество записей в обработке одновременно.
	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, entry := range entries {
		wg.Add(1)
		sem <- struct{}{}

		go func(e *Entry) {
			defer wg.Done()
			defer func() { <-sem }()
			s.retryEntry(ctx, e)
		}(entry)
	}

	wg.Wait()
}

// retryEntry повторно обрабатывает одну запись. Ошибка одной записи
// не прерывает пачку — она фиксируется в ledger и в метриках.
func (s *RetryScheduler) retryEntry(ctx context.Context, entry *Entry) {
	log := logger.FromContext(ctx)

	if err := s.intake.ProcessEntry(ctx, entry); err != nil {
		log.Warn().
			Str("webhook_id", entry.WebhookID).
			Int("retry_count", entry.RetryCount+1).
			Err(err).
			Msg("Повторная обработка webhook не удалась")
		metrics.WebhookRetries.WithLabelValues("failed").Inc()
		return
	}

	metrics.WebhookRetries.WithLabelValues("completed").Inc()
}
