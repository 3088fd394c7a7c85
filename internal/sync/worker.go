package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/commerce-sync/internal/event"
	"example.com/commerce-sync/pkg/logger"
	"example.com/commerce-sync/pkg/metrics"
)

// Pusher — интерфейс выталкивания данных на платформу.
// Позволяет замокать platform.Client в unit-тестах.
type Pusher interface {
	PushPrice(ctx context.Context, externalID string, payload map[string]any) error
	PushStock(ctx context.Context, externalID string, payload map[string]any) error
	PushProduct(ctx context.Context, externalID string, payload map[string]any) error
	PushCategory(ctx context.Context, externalID string, payload map[string]any) error
	PushImage(ctx context.Context, externalID string, payload map[string]any) error
}

// WorkerConfig — настройки воркера синхронизации.
type WorkerConfig struct {
	// Interval — интервал между циклами разбора очереди.
	Interval time.Duration

	// BatchSize — количество работ за один цикл.
	BatchSize int

	// MaxAttempts — максимум попыток, после которого работа
	// остаётся в failed без дальнейшего разбора.
	MaxAttempts int
}

// DefaultWorkerConfig возвращает конфигурацию по умолчанию.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Interval:    30 * time.Second,
		BatchSize:   50,
		MaxAttempts: 3,
	}
}

// EventPublisher — интерфейс публикации доменных событий через outbox.
type EventPublisher interface {
	Publish(ctx context.Context, evt *event.Event) (string, error)
}

// Worker разбирает очередь синхронизации в порядке бизнес-приоритета
// и выталкивает данные на платформу. Отдельно отслеживает нарушения SLA.
type Worker struct {
	repo   Repository
	pusher Pusher
	events EventPublisher // опциональный, nil отключает события жизненного цикла
	cfg    WorkerConfig

	// breaching — работы, чьё нарушение SLA уже посчитано.
	// Счётчик нарушений растёт один раз на работу, не на каждый тик.
	breaching map[string]struct{}
}

// NewWorker создаёт новый воркер синхронизации.
func NewWorker(repo Repository, pusher Pusher, cfg WorkerConfig) *Worker {
	return &Worker{
		repo:      repo,
		pusher:    pusher,
		cfg:       cfg,
		breaching: make(map[string]struct{}),
	}
}

// WithEventPublisher включает публикацию событий жизненного цикла
// синхронизации (sync.completed / sync.failed) через outbox.
func (w *Worker) WithEventPublisher(events EventPublisher) *Worker {
	w.events = events
	return w
}

// slaCheckInterval — интервал проверки SLA и глубины очереди.
const slaCheckInterval = 1 * time.Minute

// Run запускает воркер. Блокирует выполнение до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("interval", w.cfg.Interval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск воркера синхронизации")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	slaTicker := time.NewTicker(slaCheckInterval)
	defer slaTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка воркера синхронизации")
			return
		case <-ticker.C:
			w.processQueue(ctx)
		case <-slaTicker.C:
			w.observeSLA(ctx)
		}
	}
}

// processQueue обрабатывает пачку работ в порядке приоритета.
// Ошибка одной работы не прерывает пачку.
func (w *Worker) processQueue(ctx context.Context) {
	log := logger.FromContext(ctx)

	items, err := w.repo.GetPending(ctx, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка чтения очереди синхронизации")
		return
	}

	for _, item := range items {
		if err := w.processItem(ctx, item); err != nil {
			log.Warn().
				Str("item_id", item.ID).
				Str("sync_type", string(item.SyncType)).
				Err(err).
				Msg("Работа синхронизации не выполнена")
		}
	}
}

// processItem выполняет одну работу: claim → push → completed,
// с обновлением связки сущностей.
func (w *Worker) processItem(ctx context.Context, item *WorkItem) error {
	log := logger.FromContext(ctx)

	if err := w.repo.Claim(ctx, item.ID); err != nil {
		if errors.Is(err, ErrAlreadySyncing) {
			return nil
		}
		return fmt.Errorf("захват работы: %w", err)
	}

	if err := w.pushItem(ctx, item); err != nil {
		w.recordFailure(ctx, item, err)
		return err
	}

	now := time.Now()
	if err := w.repo.MarkCompleted(ctx, item.ID, now); err != nil {
		return fmt.Errorf("завершение работы: %w", err)
	}

	entityType := entityTypeFor(item.SyncType)
	if err := w.repo.MarkMappingStatus(ctx, entityType, item.EntityID, MappingInSync, &now); err != nil && !errors.Is(err, ErrMappingNotFound) {
		log.Warn().Str("item_id", item.ID).Err(err).Msg("Не удалось обновить связку после синхронизации")
	}

	w.publishLifecycle(ctx, item, "sync.completed", nil)

	log.Info().
		Str("item_id", item.ID).
		Str("sync_type", string(item.SyncType)).
		Str("entity_id", item.EntityID).
		Msg("Работа синхронизации выполнена")

	return nil
}

// publishLifecycle публикует событие жизненного цикла работы через outbox.
// Сбой публикации не влияет на результат работы.
func (w *Worker) publishLifecycle(ctx context.Context, item *WorkItem, eventType string, cause error) {
	if w.events == nil {
		return
	}

	payload := map[string]any{
		"sync_type": string(item.SyncType),
		"entity_id": item.EntityID,
		"attempts":  item.Attempts,
	}
	if cause != nil {
		payload["error"] = cause.Error()
	}

	evt := event.New(eventType, entityTypeFor(item.SyncType), item.EntityID, item.ID, payload)
	if _, err := w.events.Publish(ctx, evt); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Str("item_id", item.ID).Err(err).Msg("Не удалось опубликовать событие синхронизации")
	}
}

// pushItem выталкивает данные работы на платформу. Внешний ID сущности
// берётся из связки; без связки товар создаётся под внутренним ID.
func (w *Worker) pushItem(ctx context.Context, item *WorkItem) error {
	entityType := entityTypeFor(item.SyncType)

	externalID := item.EntityID
	if mapping, err := w.repo.GetMapping(ctx, entityType, item.EntityID); err == nil {
		externalID = mapping.ExternalID
	}

	switch item.SyncType {
	case TypePrice:
		return w.pusher.PushPrice(ctx, externalID, item.Payload)
	case TypeStock:
		return w.pusher.PushStock(ctx, externalID, item.Payload)
	case TypeProduct:
		return w.pusher.PushProduct(ctx, externalID, item.Payload)
	case TypeCategory:
		return w.pusher.PushCategory(ctx, externalID, item.Payload)
	case TypeImage:
		return w.pusher.PushImage(ctx, externalID, item.Payload)
	}
	return fmt.Errorf("неизвестный тип синхронизации: %s", item.SyncType)
}

// recordFailure фиксирует неуспешную попытку работы.
func (w *Worker) recordFailure(ctx context.Context, item *WorkItem, cause error) {
	log := logger.FromContext(ctx)

	attempts := item.Attempts + 1
	terminal := attempts >= item.MaxAttempts

	if err := w.repo.MarkFailed(ctx, item.ID, cause.Error(), attempts); err != nil {
		log.Error().Str("item_id", item.ID).Err(err).Msg("Не удалось зафиксировать ошибку синхронизации")
		return
	}

	if terminal {
		entityType := entityTypeFor(item.SyncType)
		if err := w.repo.MarkMappingStatus(ctx, entityType, item.EntityID, MappingError, nil); err != nil && !errors.Is(err, ErrMappingNotFound) {
			log.Warn().Str("item_id", item.ID).Err(err).Msg("Не удалось пометить связку ошибочной")
		}
		w.publishLifecycle(ctx, item, "sync.failed", cause)
		log.Error().
			Str("item_id", item.ID).
			Str("sync_type", string(item.SyncType)).
			Int("attempts", attempts).
			Err(cause).
			Msg("Исчерпаны попытки синхронизации")
	}
}

// observeSLA публикует метрики глубины очереди и нарушений SLA.
// На порядок обработки не влияет.
func (w *Worker) observeSLA(ctx context.Context) {
	log := logger.FromContext(ctx)
	now := time.Now()

	counts, err := w.repo.CountPendingByType(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка подсчёта глубины очереди синхронизации")
	} else {
		for _, t := range OrderedTypes() {
			metrics.SyncQueueDepth.WithLabelValues(string(t)).Set(float64(counts[t]))
		}
	}

	breaching, err := w.repo.FindBreaching(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка поиска нарушений SLA")
		return
	}

	current := make(map[string]struct{}, len(breaching))
	perType := make(map[Type]int, len(OrderedTypes()))

	for _, item := range breaching {
		current[item.ID] = struct{}{}
		perType[item.SyncType]++

		if _, seen := w.breaching[item.ID]; seen {
			continue
		}
		metrics.SyncSLABreaches.WithLabelValues(string(item.SyncType)).Inc()
		log.Warn().
			Str("item_id", item.ID).
			Str("sync_type", string(item.SyncType)).
			Dur("age", now.Sub(item.CreatedAt)).
			Msg("Работа синхронизации нарушает SLA")
	}

	for _, t := range OrderedTypes() {
		metrics.SyncSLABreaching.WithLabelValues(string(t)).Set(float64(perType[t]))
	}

	w.breaching = current
}

// entityTypeFor возвращает тип сущности связки для типа синхронизации.
func entityTypeFor(t Type) string {
	switch t {
	case TypeCategory:
		return "category"
	default:
		return "product"
	}
}
