package webhook

import (
	"fmt"
	"strings"
	"time"

	"example.com/commerce-sync/internal/event"
)

// Transformer — чистая функция преобразования webhook payload
// в каноническое доменное событие. Без I/O и без состояния.
type Transformer struct{}

// NewTransformer создаёт новый трансформер.
func NewTransformer() *Transformer {
	return &Transformer{}
}

// Transform преобразует (topic, payload) в каноническое событие.
// Возвращает nil без ошибки, если событие неприменимо
// (неподдерживаемый топик) — это валидный no-op, не сбой.
// causationID — это webhook_id исходной доставки.
func (t *Transformer) Transform(topic Topic, payload map[string]any, causationID string) (*event.Event, error) {
	switch topic {
	case TopicOrderCreated:
		return t.orderEvent("order.created", payload, causationID)
	case TopicOrderUpdated:
		return t.orderEvent("order.updated", payload, causationID)
	case TopicOrderDeleted:
		// Удаление заказа на платформе НЕ отменяет внутренний заказ
		// автоматически — событие информационное, решение за оператором.
		return t.orderEvent("order.cancelled", payload, causationID)
	case TopicProductCreated:
		return t.productEvent("product.created", payload, causationID)
	case TopicProductUpdated:
		return t.productEvent("product.updated", payload, causationID)
	case TopicProductDeleted:
		return t.productEvent("product.archived", payload, causationID)
	case TopicCustomerCreated:
		return t.customerEvent("customer.created", payload, causationID)
	case TopicCustomerUpdated:
		return t.customerEvent("customer.updated", payload, causationID)
	case TopicCustomerDeleted:
		return t.customerEvent("customer.deleted", payload, causationID)
	case TopicUnsupported:
		return nil, nil
	}
	return nil, nil
}

// orderEvent собирает событие заказа: нормализованные адреса,
// позиции, номер заказа и кросс-референс внутреннего ID (best-effort).
func (t *Transformer) orderEvent(eventType string, payload map[string]any, causationID string) (*event.Event, error) {
	entityID := extractEntityID(payload)
	if entityID == "" {
		return nil, fmt.Errorf("%w: отсутствует id заказа", ErrMalformedPayload)
	}

	body := map[string]any{
		"external_id":  entityID,
		"order_number": orderNumber(payload, entityID),
		"status":       stringField(payload, "status"),
		"currency":     stringField(payload, "currency"),
		"total":        payload["total"],
		"billing":      normalizeAddress(mapField(payload, "billing")),
		"shipping":     normalizeAddress(mapField(payload, "shipping")),
		"line_items":   normalizeLineItems(payload),
	}

	// Платформа может хранить внутренний ID заказа в произвольных
	// метаданных — если нашли, прокидываем для сверки.
	if ref := extractCrossReferenceID(payload); ref != "" {
		body["internal_order_id"] = ref
	}

	evt := event.New(eventType, "order", entityID, causationID, body)
	applyOccurredAt(evt, payload)
	return evt, nil
}

// productEvent собирает событие товара.
func (t *Transformer) productEvent(eventType string, payload map[string]any, causationID string) (*event.Event, error) {
	entityID := extractEntityID(payload)
	if entityID == "" {
		return nil, fmt.Errorf("%w: отсутствует id товара", ErrMalformedPayload)
	}

	body := map[string]any{
		"external_id": entityID,
		"name":        stringField(payload, "name"),
		"sku":         stringField(payload, "sku"),
		"price":       payload["price"],
		"stock":       payload["stock_quantity"],
		"status":      stringField(payload, "status"),
	}

	evt := event.New(eventType, "product", entityID, causationID, body)
	applyOccurredAt(evt, payload)
	return evt, nil
}

// customerEvent собирает событие клиента.
func (t *Transformer) customerEvent(eventType string, payload map[string]any, causationID string) (*event.Event, error) {
	entityID := extractEntityID(payload)
	if entityID == "" {
		return nil, fmt.Errorf("%w: отсутствует id клиента", ErrMalformedPayload)
	}

	body := map[string]any{
		"external_id": entityID,
		"email":       stringField(payload, "email"),
		"first_name":  stringField(payload, "first_name"),
		"last_name":   stringField(payload, "last_name"),
	}

	evt := event.New(eventType, "customer", entityID, causationID, body)
	applyOccurredAt(evt, payload)
	return evt, nil
}

// ============================================================
// Нормализация payload
// ============================================================

// extractEntityID достаёт id сущности из payload. Платформа присылает
// числовой id, поэтому приводим любое представление к строке.
func extractEntityID(payload map[string]any) string {
	return anyToString(payload["id"])
}

// orderNumber возвращает номер заказа из payload, либо строит его из id.
func orderNumber(payload map[string]any, entityID string) string {
	if n := stringField(payload, "number"); n != "" {
		return n
	}
	return entityID
}

// normalizeAddress приводит блок адреса к каноническому виду.
// Пустой блок возвращается как nil.
func normalizeAddress(addr map[string]any) map[string]any {
	if len(addr) == 0 {
		return nil
	}
	return map[string]any{
		"first_name": stringField(addr, "first_name"),
		"last_name":  stringField(addr, "last_name"),
		"company":    stringField(addr, "company"),
		"address_1":  stringField(addr, "address_1"),
		"address_2":  stringField(addr, "address_2"),
		"city":       stringField(addr, "city"),
		"state":      stringField(addr, "state"),
		"postcode":   stringField(addr, "postcode"),
		"country":    stringField(addr, "country"),
		"email":      stringField(addr, "email"),
		"phone":      stringField(addr, "phone"),
	}
}

// normalizeLineItems приводит позиции заказа к каноническому виду.
// Позиции без id или product_id пропускаются.
func normalizeLineItems(payload map[string]any) []map[string]any {
	raw, ok := payload["line_items"].([]any)
	if !ok {
		return nil
	}

	items := make([]map[string]any, 0, len(raw))
	for _, li := range raw {
		item, ok := li.(map[string]any)
		if !ok {
			continue
		}
		items = append(items, map[string]any{
			"external_id": anyToString(item["id"]),
			"product_id":  anyToString(item["product_id"]),
			"name":        stringField(item, "name"),
			"sku":         stringField(item, "sku"),
			"quantity":    item["quantity"],
			"price":       item["price"],
			"total":       item["total"],
		})
	}
	return items
}

// occurredAtKeys — поля payload с бизнес-временем события на платформе.
// GMT-варианты идут первыми: они без локального смещения.
var occurredAtKeys = []string{"date_modified_gmt", "date_created_gmt", "date_modified", "date_created"}

// occurredAtLayouts — форматы времени, которые присылает платформа.
var occurredAtLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

// applyOccurredAt подставляет в событие бизнес-время из payload.
// Отсутствие или нечитаемый формат — не ошибка, остаётся время приёма.
func applyOccurredAt(evt *event.Event, payload map[string]any) {
	for _, key := range occurredAtKeys {
		raw := stringField(payload, key)
		if raw == "" {
			continue
		}
		for _, layout := range occurredAtLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				evt.OccurredAt = ts.UTC()
				return
			}
		}
	}
}

// crossRefKeys — имена полей метаданных, под которыми платформа может
// хранить внутренний ID заказа.
var crossRefKeys = []string{"internal_order_id", "sync_order_id", "crm_order_id"}

// extractCrossReferenceID ищет внутренний ID заказа в произвольных
// метаданных (custom_fields, attributes, meta_data). Отсутствие — не ошибка.
func extractCrossReferenceID(payload map[string]any) string {
	for _, container := range []string{"custom_fields", "attributes"} {
		if fields := mapField(payload, container); fields != nil {
			for _, key := range crossRefKeys {
				if v := anyToString(fields[key]); v != "" {
					return v
				}
			}
		}
	}

	// meta_data приходит списком пар {key, value}
	if meta, ok := payload["meta_data"].([]any); ok {
		for _, m := range meta {
			pair, ok := m.(map[string]any)
			if !ok {
				continue
			}
			key := stringField(pair, "key")
			for _, want := range crossRefKeys {
				if key == want {
					if v := anyToString(pair["value"]); v != "" {
						return v
					}
				}
			}
		}
	}

	return ""
}

// ============================================================
// Вспомогательные функции
// ============================================================

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func mapField(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

// anyToString приводит значение из JSON к строке. encoding/json
// декодирует числа как float64, поэтому целые форматируем без дробной части.
func anyToString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	default:
		return ""
	}
}
