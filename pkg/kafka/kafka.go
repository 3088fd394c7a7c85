// Package kafka предоставляет обёртку над kafka-go для публикации
// канонических доменных событий из outbox во внутренний поток событий.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/commerce-sync/pkg/logger"
)

// Топики внутреннего потока событий.
const (
	// TopicCommerceEvents - топик по умолчанию для канонических доменных событий.
	// Конкретный топик задаётся полем publish_to записи outbox.
	TopicCommerceEvents = "commerce.events"
)

// Ключи для headers сообщений Kafka.
const (
	// HeaderTraceID - идентификатор трассировки для distributed tracing.
	HeaderTraceID = "trace_id"

	// HeaderCorrelationID - идентификатор корреляции: связывает все события
	// одной доставки webhook.
	HeaderCorrelationID = "correlation_id"

	// HeaderCausationID - идентификатор причины события (webhook_id доставки).
	HeaderCausationID = "causation_id"

	// HeaderEventType - тип доменного события (order.created и т.д.).
	HeaderEventType = "event_type"

	// HeaderTimestamp - временная метка создания сообщения.
	HeaderTimestamp = "timestamp"
)

// Config содержит настройки для подключения к Kafka.
type Config struct {
	// Brokers - список адресов брокеров Kafka.
	Brokers []string
}

// Message представляет сообщение Kafka с метаданными.
type Message struct {
	// Key - ключ сообщения для партиционирования (source_entity_id).
	Key []byte

	// Value - тело сообщения (payload).
	Value []byte

	// Topic - топик сообщения.
	Topic string

	// Headers - заголовки сообщения (trace_id, correlation_id и т.д.).
	Headers map[string]string

	// Time - временная метка сообщения.
	Time time.Time
}

// toKafkaMessage конвертирует Message в kafka.Message.
func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{
			Key:   k,
			Value: []byte(v),
		})
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}

// TraceIDFromContext извлекает trace_id из context.
// Делегирует в pkg/logger для единообразной работы с контекстом.
func TraceIDFromContext(ctx context.Context) string {
	return logger.TraceIDFromContext(ctx)
}

// CorrelationIDFromContext извлекает correlation_id из context.
// Делегирует в pkg/logger для единообразной работы с контекстом.
func CorrelationIDFromContext(ctx context.Context) string {
	return logger.CorrelationIDFromContext(ctx)
}
