package outbox

import (
	"context"
	"time"

	"example.com/commerce-sync/pkg/kafka"
	"example.com/commerce-sync/pkg/logger"
	"example.com/commerce-sync/pkg/metrics"
)

// KafkaProducer — интерфейс для отправки сообщений в Kafka.
// Позволяет замокать kafka.Producer в unit-тестах (Dependency Inversion).
type KafkaProducer interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// WorkerConfig — настройки диспетчера outbox.
type WorkerConfig struct {
	// PollInterval — интервал между опросами таблицы event_outbox.
	PollInterval time.Duration

	// BatchSize — количество записей за один запрос.
	BatchSize int

	// MaxAttempts — максимальное количество попыток отправки.
	// После превышения запись помечается как failed и выводится из очереди.
	MaxAttempts int

	// RetryBaseDelay — базовая задержка перед повторной отправкой.
	RetryBaseDelay time.Duration

	// CleanupRetention — срок хранения отправленных записей.
	CleanupRetention time.Duration
}

// DefaultWorkerConfig возвращает конфигурацию по умолчанию.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:     1 * time.Second,
		BatchSize:        100,
		MaxAttempts:      DefaultMaxAttempts,
		RetryBaseDelay:   5 * time.Second,
		CleanupRetention: 7 * 24 * time.Hour,
	}
}

// cleanupInterval — интервал очистки отправленных записей outbox.
const cleanupInterval = 1 * time.Hour

// Worker читает записи из event_outbox и отправляет их во внутренний
// поток событий. Реализует гарантию "at-least-once" доставки: запись
// помечается dispatched только после подтверждения от Kafka.
type Worker struct {
	repo     Repository
	producer KafkaProducer
	cfg      WorkerConfig
	clock    func() time.Time // Переопределяется в тестах
}

// NewWorker создаёт новый диспетчер outbox.
func NewWorker(repo Repository, producer KafkaProducer, cfg WorkerConfig) *Worker {
	return &Worker{
		repo:     repo,
		producer: producer,
		cfg:      cfg,
		clock:    time.Now,
	}
}

// Run запускает диспетчер. Блокирует выполнение до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск диспетчера outbox")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка диспетчера outbox")
			return
		case <-ticker.C:
			w.dispatchBatch(ctx)
		case <-cleanupTicker.C:
			w.cleanupDispatched(ctx)
		}
	}
}

// dispatchBatch обрабатывает пачку готовых к отправке записей.
func (w *Worker) dispatchBatch(ctx context.Context) {
	log := logger.FromContext(ctx)

	records, err := w.repo.GetDispatchable(ctx, w.clock(), w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка чтения outbox")
		return
	}

	if len(records) == 0 {
		return
	}

	log.Debug().Int("count", len(records)).Msg("Отправка записей outbox")

	for _, record := range records {
		// Проверяем контекст перед обработкой
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.dispatch(ctx, record)
	}
}

// dispatch отправляет одну запись в поток событий и фиксирует результат.
func (w *Worker) dispatch(ctx context.Context, record *Record) {
	log := logger.FromContext(ctx)

	msg := &kafka.Message{
		Topic: record.PublishTo,
		Key:   []byte(record.SourceEntityID),
		Value: record.Payload,
		Headers: map[string]string{
			kafka.HeaderEventType:     record.EventType,
			kafka.HeaderCorrelationID: record.CorrelationID,
			kafka.HeaderCausationID:   record.CausationID,
		},
	}

	if err := w.producer.SendMessage(ctx, msg); err != nil {
		w.recordFailure(ctx, record, err)
		return
	}

	if err := w.repo.MarkDispatched(ctx, record.ID); err != nil {
		log.Error().
			Err(err).
			Str("outbox_id", record.ID).
			Msg("Ошибка пометки записи outbox как отправленной")
		return
	}

	metrics.OutboxDispatched.WithLabelValues("dispatched").Inc()

	log.Debug().
		Str("outbox_id", record.ID).
		Str("event_type", record.EventType).
		Str("topic", record.PublishTo).
		Msg("Событие отправлено в поток")
}

// recordFailure фиксирует неуспешную попытку отправки с экспоненциальным
// backoff; при исчерпании лимита запись переводится в failed.
func (w *Worker) recordFailure(ctx context.Context, record *Record, sendErr error) {
	log := logger.FromContext(ctx)

	attempts := record.Attempts + 1
	terminal := attempts >= record.MaxAttempts

	var nextAttemptAt *time.Time
	if !terminal {
		next := w.clock().Add(w.cfg.RetryBaseDelay * time.Duration(1<<attempts))
		nextAttemptAt = &next
	}

	if terminal {
		log.Warn().
			Str("outbox_id", record.ID).
			Str("event_type", record.EventType).
			Int("attempts", attempts).
			Msg("Запись outbox исчерпала лимит попыток отправки")
	} else {
		log.Error().
			Err(sendErr).
			Str("outbox_id", record.ID).
			Int("attempts", attempts).
			Msg("Ошибка отправки записи outbox, запланирован повтор")
	}

	if err := w.repo.MarkAttemptFailed(ctx, record.ID, attempts, nextAttemptAt, terminal); err != nil {
		log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка фиксации неуспешной попытки outbox")
		return
	}

	metrics.OutboxDispatched.WithLabelValues("failed").Inc()
}

// cleanupDispatched удаляет отправленные записи старше срока хранения.
func (w *Worker) cleanupDispatched(ctx context.Context) {
	log := logger.FromContext(ctx)

	before := w.clock().Add(-w.cfg.CleanupRetention)
	deleted, err := w.repo.DeleteDispatchedBefore(ctx, before)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка очистки outbox")
		return
	}

	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Очистка отправленных записей outbox")
	}
}

// DispatchSingle отправляет одну запись outbox (для тестирования).
func (w *Worker) DispatchSingle(ctx context.Context, record *Record) {
	w.dispatch(ctx, record)
}
