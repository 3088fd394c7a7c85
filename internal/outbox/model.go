package outbox

import (
	"time"

	"example.com/commerce-sync/internal/event"
)

// RecordModel — GORM модель для таблицы event_outbox.
type RecordModel struct {
	ID               string     `gorm:"column:id;type:varchar(36);primaryKey"`
	EventID          string     `gorm:"column:event_id;type:varchar(36);not null;uniqueIndex"`
	EventType        string     `gorm:"column:event_type;type:varchar(100);not null;index"`
	EventVersion     string     `gorm:"column:event_version;type:varchar(10);not null"`
	EventDomain      string     `gorm:"column:event_domain;type:varchar(50);not null"`
	SourceService    string     `gorm:"column:source_service;type:varchar(50);not null"`
	SourceEntityType string     `gorm:"column:source_entity_type;type:varchar(50);not null"`
	SourceEntityID   string     `gorm:"column:source_entity_id;type:varchar(100);not null;index"`
	CorrelationID    string     `gorm:"column:correlation_id;type:varchar(36);not null"`
	CausationID      string     `gorm:"column:causation_id;type:varchar(100);not null;index"`
	Payload          []byte     `gorm:"column:payload;type:json;not null"`
	PayloadSize      int        `gorm:"column:payload_size;not null"`
	Metadata         []byte     `gorm:"column:metadata;type:json"`
	ContentType      string     `gorm:"column:content_type;type:varchar(50);not null"`
	Priority         string     `gorm:"column:priority;type:varchar(10);not null"`
	PublishTo        string     `gorm:"column:publish_to;type:varchar(100);not null"`
	Status           string     `gorm:"column:status;type:varchar(20);not null;index:idx_outbox_pending"`
	Attempts         int        `gorm:"column:attempts;not null;default:0"`
	MaxAttempts      int        `gorm:"column:max_attempts;not null"`
	NextAttemptAt    *time.Time `gorm:"column:next_attempt_at;index:idx_outbox_pending"`
	OccurredAt       time.Time  `gorm:"column:occurred_at;not null"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (RecordModel) TableName() string {
	return "event_outbox"
}

// ToDomain конвертирует GORM модель в доменную сущность.
func (m *RecordModel) ToDomain() *Record {
	return &Record{
		ID:               m.ID,
		EventID:          m.EventID,
		EventType:        m.EventType,
		EventVersion:     m.EventVersion,
		EventDomain:      m.EventDomain,
		SourceService:    m.SourceService,
		SourceEntityType: m.SourceEntityType,
		SourceEntityID:   m.SourceEntityID,
		CorrelationID:    m.CorrelationID,
		CausationID:      m.CausationID,
		Payload:          m.Payload,
		PayloadSize:      m.PayloadSize,
		Metadata:         m.Metadata,
		ContentType:      m.ContentType,
		Priority:         event.Priority(m.Priority),
		PublishTo:        m.PublishTo,
		Status:           Status(m.Status),
		Attempts:         m.Attempts,
		MaxAttempts:      m.MaxAttempts,
		NextAttemptAt:    m.NextAttemptAt,
		OccurredAt:       m.OccurredAt,
		CreatedAt:        m.CreatedAt,
	}
}

// ModelFromRecord конвертирует доменную сущность в GORM модель.
func ModelFromRecord(r *Record) *RecordModel {
	return &RecordModel{
		ID:               r.ID,
		EventID:          r.EventID,
		EventType:        r.EventType,
		EventVersion:     r.EventVersion,
		EventDomain:      r.EventDomain,
		SourceService:    r.SourceService,
		SourceEntityType: r.SourceEntityType,
		SourceEntityID:   r.SourceEntityID,
		CorrelationID:    r.CorrelationID,
		CausationID:      r.CausationID,
		Payload:          r.Payload,
		PayloadSize:      r.PayloadSize,
		Metadata:         r.Metadata,
		ContentType:      r.ContentType,
		Priority:         string(r.Priority),
		PublishTo:        r.PublishTo,
		Status:           string(r.Status),
		Attempts:         r.Attempts,
		MaxAttempts:      r.MaxAttempts,
		NextAttemptAt:    r.NextAttemptAt,
		OccurredAt:       r.OccurredAt,
		CreatedAt:        r.CreatedAt,
	}
}
