// Package event определяет каноническое доменное событие — результат
// трансформации webhook торговой платформы. События записываются в outbox
// и далее публикуются во внутренний поток событий.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceService — имя сервиса-источника, проставляется во все события.
const SourceService = "commerce-sync"

// EventDomain — домен событий торговой платформы.
const EventDomain = "commerce"

// DefaultVersion — версия схемы события по умолчанию.
const DefaultVersion = "1.0"

// Priority — приоритет события для downstream-диспетчеризации.
// Не влияет на retry-логику пайплайна приёма.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid возвращает true для известного приоритета.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Event — каноническое доменное событие.
type Event struct {
	EventID          string         // Уникальный ID события (UUID)
	EventType        string         // Тип события (order.created, product.updated...)
	EventVersion     string         // Версия схемы события
	EventDomain      string         // Домен события
	SourceService    string         // Сервис-источник
	SourceEntityType string         // Тип сущности платформы (order / product / customer)
	SourceEntityID   string         // ID сущности на платформе
	CorrelationID    string         // Связывает события одной доставки webhook
	CausationID      string         // webhook_id доставки, породившей событие
	Payload          map[string]any // Нормализованные данные события
	Metadata         map[string]any // Служебные данные (исходный топик и т.д.)
	Priority         Priority       // Приоритет downstream-диспетчеризации
	OccurredAt       time.Time      // Бизнес-время события на платформе
}

// New создаёт событие с сгенерированными EventID и CorrelationID.
// causationID — webhook_id доставки, породившей событие.
func New(eventType, entityType, entityID, causationID string, payload map[string]any) *Event {
	return &Event{
		EventID:          uuid.New().String(),
		EventType:        eventType,
		EventVersion:     DefaultVersion,
		EventDomain:      EventDomain,
		SourceService:    SourceService,
		SourceEntityType: entityType,
		SourceEntityID:   entityID,
		CorrelationID:    uuid.New().String(),
		CausationID:      causationID,
		Payload:          payload,
		Metadata:         map[string]any{},
		Priority:         PriorityNormal,
		OccurredAt:       time.Now().UTC(),
	}
}

// Validate проверяет обязательные поля события перед записью в outbox.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("пустой event_id")
	}
	if e.EventType == "" {
		return fmt.Errorf("пустой event_type")
	}
	if e.SourceEntityType == "" || e.SourceEntityID == "" {
		return fmt.Errorf("не указана сущность-источник события")
	}
	if e.CausationID == "" {
		return fmt.Errorf("пустой causation_id")
	}
	if !e.Priority.Valid() {
		return fmt.Errorf("неизвестный приоритет: %s", e.Priority)
	}
	return nil
}
