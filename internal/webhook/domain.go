// Package webhook реализует надёжный приём webhook от торговой платформы:
// идемпотичный ledger доставок, проверку подписи, трансформацию в канонические
// доменные события, публикацию в outbox, планировщик повторных попыток
// и управление dead letter.
package webhook

import (
	"strings"
	"time"
)

// Status — статус записи в webhook ledger.
// Переходы монотонны, за двумя исключениями:
// dead_letter -> pending (replay оператором) и failed -> processing (retry планировщиком).
type Status string

const (
	// StatusPending — доставка записана, обработка ещё не началась.
	StatusPending Status = "pending"

	// StatusProcessing — запись захвачена обработчиком (claim before process).
	StatusProcessing Status = "processing"

	// StatusCompleted — обработка завершена успешно (событие записано в outbox
	// либо топик не порождает события — валидный no-op).
	StatusCompleted Status = "completed"

	// StatusFailed — обработка упала, запись ждёт retry по расписанию.
	StatusFailed Status = "failed"

	// StatusDeadLetter — лимит попыток исчерпан, запись в карантине
	// до ручного разбора оператором.
	StatusDeadLetter Status = "dead_letter"
)

// Entry — запись webhook ledger: одна строка на одну доставку.
// Это доменная сущность без зависимостей от инфраструктуры (GORM).
type Entry struct {
	ID                string         // Внутренний ID записи (UUID)
	WebhookID         string         // ID доставки, присвоенный платформой (ключ дедупликации)
	Topic             string         // Топик доставки (order.created, product.updated...)
	Payload           map[string]any // Сырое декодированное тело доставки
	Status            Status         // Текущий статус обработки
	RetryCount        int            // Количество неуспешных попыток
	MaxRetries        int            // Лимит попыток до dead letter
	LastRetryAt       *time.Time     // Время последней попытки (nil — не было)
	NextRetryAt       *time.Time     // Время следующей попытки (nil — не запланирована)
	ErrorMessage      *string        // Текст последней ошибки
	SignatureVerified bool           // Результат проверки подписи (фиксируется всегда)
	CreatedAt         time.Time      // Время записи доставки в ledger
	ProcessedAt       *time.Time     // Время успешного завершения обработки
}

// IsTerminal возвращает true для статусов, из которых нет автоматических переходов.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDeadLetter
}

// Topic — типизированный топик webhook торговой платформы.
// Явный вариант TopicUnsupported заменяет runtime default-ветку
// строкового switch: неизвестный топик — валидный no-op, а не ошибка.
type Topic string

const (
	TopicOrderCreated    Topic = "order.created"
	TopicOrderUpdated    Topic = "order.updated"
	TopicOrderDeleted    Topic = "order.deleted"
	TopicProductCreated  Topic = "product.created"
	TopicProductUpdated  Topic = "product.updated"
	TopicProductDeleted  Topic = "product.deleted"
	TopicCustomerCreated Topic = "customer.created"
	TopicCustomerUpdated Topic = "customer.updated"
	TopicCustomerDeleted Topic = "customer.deleted"

	// TopicUnsupported — любой топик, который пайплайн не обрабатывает.
	TopicUnsupported Topic = ""
)

// supportedTopics — множество поддерживаемых топиков.
var supportedTopics = map[Topic]struct{}{
	TopicOrderCreated:    {},
	TopicOrderUpdated:    {},
	TopicOrderDeleted:    {},
	TopicProductCreated:  {},
	TopicProductUpdated:  {},
	TopicProductDeleted:  {},
	TopicCustomerCreated: {},
	TopicCustomerUpdated: {},
	TopicCustomerDeleted: {},
}

// ParseTopic разбирает строковый топик доставки.
// Для неизвестного топика возвращает TopicUnsupported и false.
func ParseTopic(s string) (Topic, bool) {
	t := Topic(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := supportedTopics[t]; ok {
		return t, true
	}
	return TopicUnsupported, false
}

// EntityType возвращает тип сущности платформы, к которой относится топик.
func (t Topic) EntityType() string {
	switch {
	case strings.HasPrefix(string(t), "order."):
		return "order"
	case strings.HasPrefix(string(t), "product."):
		return "product"
	case strings.HasPrefix(string(t), "customer."):
		return "customer"
	default:
		return ""
	}
}
