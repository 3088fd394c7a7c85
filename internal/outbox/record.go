// Package outbox реализует Outbox Pattern для канонических доменных событий.
// Событие записывается в таблицу event_outbox в одной транзакции с переходом
// статуса webhook ledger — сбой между ними не может породить состояния
// "completed без события" или "событие без completed". Отдельный Worker
// читает outbox и отправляет события во внутренний поток (Kafka).
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/commerce-sync/internal/event"
)

// Status — статус записи outbox.
type Status string

const (
	// StatusPending — запись ждёт отправки в поток событий.
	StatusPending Status = "pending"

	// StatusDispatched — запись успешно отправлена.
	StatusDispatched Status = "dispatched"

	// StatusFailed — лимит попыток отправки исчерпан.
	StatusFailed Status = "failed"
)

// ContentTypeJSON — content type полезной нагрузки записей outbox.
const ContentTypeJSON = "application/json"

// DefaultMaxAttempts — лимит попыток отправки по умолчанию.
const DefaultMaxAttempts = 5

// Record — durable-форма канонического доменного события.
type Record struct {
	ID               string         // ID записи outbox (UUID)
	EventID          string         // Уникальный ID события
	EventType        string         // Тип события
	EventVersion     string         // Версия схемы
	EventDomain      string         // Домен события
	SourceService    string         // Сервис-источник
	SourceEntityType string         // Тип сущности платформы
	SourceEntityID   string         // ID сущности на платформе
	CorrelationID    string         // Корреляция событий одной доставки
	CausationID      string         // webhook_id породившей доставки
	Payload          []byte         // JSON полезной нагрузки
	PayloadSize      int            // Размер полезной нагрузки в байтах
	Metadata         []byte         // JSON служебных данных
	ContentType      string         // Content type полезной нагрузки
	Priority         event.Priority // Приоритет downstream-диспетчеризации
	PublishTo        string         // Топик потока событий
	Status           Status         // Статус отправки
	Attempts         int            // Количество попыток отправки
	MaxAttempts      int            // Лимит попыток
	NextAttemptAt    *time.Time     // Время следующей попытки (nil — сразу)
	OccurredAt       time.Time      // Бизнес-время события
	CreatedAt        time.Time      // Время записи в outbox
}

// NewRecord создаёт запись outbox из канонического события.
// publishTo — топик потока событий для downstream-диспетчера.
func NewRecord(evt *event.Event, publishTo string) (*Record, error) {
	if err := evt.Validate(); err != nil {
		return nil, fmt.Errorf("невалидное событие: %w", err)
	}

	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации payload события: %w", err)
	}

	metadata, err := json.Marshal(evt.Metadata)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации metadata события: %w", err)
	}

	return &Record{
		ID:               uuid.New().String(),
		EventID:          evt.EventID,
		EventType:        evt.EventType,
		EventVersion:     evt.EventVersion,
		EventDomain:      evt.EventDomain,
		SourceService:    evt.SourceService,
		SourceEntityType: evt.SourceEntityType,
		SourceEntityID:   evt.SourceEntityID,
		CorrelationID:    evt.CorrelationID,
		CausationID:      evt.CausationID,
		Payload:          payload,
		PayloadSize:      len(payload),
		Metadata:         metadata,
		ContentType:      ContentTypeJSON,
		Priority:         evt.Priority,
		PublishTo:        publishTo,
		Status:           StatusPending,
		Attempts:         0,
		MaxAttempts:      DefaultMaxAttempts,
		OccurredAt:       evt.OccurredAt,
	}, nil
}
