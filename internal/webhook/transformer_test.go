package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/commerce-sync/internal/event"
)

func TestParseTopic(t *testing.T) {
	tests := []struct {
		raw       string
		topic     Topic
		supported bool
	}{
		{"order.created", TopicOrderCreated, true},
		{"order.updated", TopicOrderUpdated, true},
		{"order.deleted", TopicOrderDeleted, true},
		{"product.created", TopicProductCreated, true},
		{"product.deleted", TopicProductDeleted, true},
		{"customer.updated", TopicCustomerUpdated, true},
		{"coupon.created", TopicUnsupported, false},
		{"", TopicUnsupported, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			topic, ok := ParseTopic(tt.raw)
			assert.Equal(t, tt.topic, topic)
			assert.Equal(t, tt.supported, ok)
		})
	}
}

func TestTransform_Order(t *testing.T) {
	tr := NewTransformer()

	payload := map[string]any{
		"id":       float64(8812),
		"number":   "WC-8812",
		"status":   "processing",
		"currency": "RUB",
		"total":    "4590.00",
		"billing": map[string]any{
			"first_name": "Анна",
			"last_name":  "Петрова",
			"city":       "Москва",
			"email":      "anna@example.com",
		},
		"line_items": []any{
			map[string]any{
				"id":         float64(1),
				"product_id": float64(300),
				"name":       "Чайник",
				"quantity":   float64(2),
				"price":      "2295.00",
			},
		},
		"meta_data": []any{
			map[string]any{"key": "irrelevant", "value": "x"},
			map[string]any{"key": "internal_order_id", "value": "ord-42"},
		},
	}

	evt, err := tr.Transform(TopicOrderCreated, payload, "wh-1")
	require.NoError(t, err)
	require.NotNil(t, evt)

	assert.Equal(t, "order.created", evt.EventType)
	assert.Equal(t, "order", evt.SourceEntityType)
	assert.Equal(t, "8812", evt.SourceEntityID)
	assert.Equal(t, "wh-1", evt.CausationID)
	assert.NotEmpty(t, evt.EventID)
	assert.NotEmpty(t, evt.CorrelationID)

	assert.Equal(t, "WC-8812", evt.Payload["order_number"])
	assert.Equal(t, "ord-42", evt.Payload["internal_order_id"])

	billing, ok := evt.Payload["billing"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Анна", billing["first_name"])
	assert.Equal(t, "Москва", billing["city"])

	items, ok := evt.Payload["line_items"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, "300", items[0]["product_id"])
	assert.Equal(t, "Чайник", items[0]["name"])

	// shipping отсутствует в payload — нормализуется в nil
	assert.Nil(t, evt.Payload["shipping"])
}

func TestTransform_OrderDeleted(t *testing.T) {
	tr := NewTransformer()

	// Удаление на платформе даёт информационное order.cancelled,
	// внутренний заказ автоматически не отменяется.
	evt, err := tr.Transform(TopicOrderDeleted, map[string]any{"id": float64(7)}, "wh-2")
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, "order.cancelled", evt.EventType)
	assert.Equal(t, "7", evt.SourceEntityID)
}

func TestTransform_OrderNumberFallback(t *testing.T) {
	tr := NewTransformer()

	evt, err := tr.Transform(TopicOrderUpdated, map[string]any{"id": float64(55)}, "wh-3")
	require.NoError(t, err)
	assert.Equal(t, "55", evt.Payload["order_number"])
}

func TestTransform_Product(t *testing.T) {
	tr := NewTransformer()

	tests := []struct {
		topic     Topic
		eventType string
	}{
		{TopicProductCreated, "product.created"},
		{TopicProductUpdated, "product.updated"},
		{TopicProductDeleted, "product.archived"},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			payload := map[string]any{
				"id":    float64(300),
				"name":  "Чайник",
				"sku":   "KT-300",
				"price": "2295.00",
			}
			evt, err := tr.Transform(tt.topic, payload, "wh-4")
			require.NoError(t, err)
			require.NotNil(t, evt)
			assert.Equal(t, tt.eventType, evt.EventType)
			assert.Equal(t, "product", evt.SourceEntityType)
			assert.Equal(t, "KT-300", evt.Payload["sku"])
		})
	}
}

func TestTransform_Customer(t *testing.T) {
	tr := NewTransformer()

	evt, err := tr.Transform(TopicCustomerDeleted, map[string]any{
		"id":    float64(9),
		"email": "gone@example.com",
	}, "wh-5")
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, "customer.deleted", evt.EventType)
	assert.Equal(t, "customer", evt.SourceEntityType)
	assert.Equal(t, "gone@example.com", evt.Payload["email"])
}

func TestTransform_UnsupportedTopic(t *testing.T) {
	tr := NewTransformer()

	evt, err := tr.Transform(TopicUnsupported, map[string]any{"id": float64(1)}, "wh-6")
	assert.NoError(t, err)
	assert.Nil(t, evt)
}

func TestTransform_MissingID(t *testing.T) {
	tr := NewTransformer()

	_, err := tr.Transform(TopicOrderCreated, map[string]any{"status": "processing"}, "wh-7")
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestTransform_FreshCorrelationPerCall(t *testing.T) {
	tr := NewTransformer()
	payload := map[string]any{"id": float64(1)}

	first, err := tr.Transform(TopicProductUpdated, payload, "wh-8")
	require.NoError(t, err)
	second, err := tr.Transform(TopicProductUpdated, payload, "wh-8")
	require.NoError(t, err)

	assert.NotEqual(t, first.EventID, second.EventID)
	assert.NotEqual(t, first.CorrelationID, second.CorrelationID)
}

func TestTransform_OccurredAtFromPayload(t *testing.T) {
	tr := NewTransformer()

	t.Run("бизнес-время из date_modified_gmt", func(t *testing.T) {
		evt, err := tr.Transform(TopicProductUpdated, map[string]any{
			"id":                float64(1),
			"date_modified_gmt": "2026-08-15T10:30:00",
			"date_created":      "2026-01-01T00:00:00",
		}, "wh-9")
		require.NoError(t, err)

		want := time.Date(2026, 8, 15, 10, 30, 0, 0, time.UTC)
		assert.Equal(t, want, evt.OccurredAt)
	})

	t.Run("RFC3339 со смещением зоны", func(t *testing.T) {
		evt, err := tr.Transform(TopicOrderCreated, map[string]any{
			"id":           float64(2),
			"date_created": "2026-08-15T13:30:00+03:00",
		}, "wh-10")
		require.NoError(t, err)

		want := time.Date(2026, 8, 15, 10, 30, 0, 0, time.UTC)
		assert.Equal(t, want, evt.OccurredAt)
	})

	t.Run("без временных полей — время приёма", func(t *testing.T) {
		before := time.Now().UTC()
		evt, err := tr.Transform(TopicCustomerCreated, map[string]any{"id": float64(3)}, "wh-11")
		require.NoError(t, err)

		assert.False(t, evt.OccurredAt.Before(before))
	})

	t.Run("нечитаемый формат — время приёма", func(t *testing.T) {
		before := time.Now().UTC()
		evt, err := tr.Transform(TopicProductUpdated, map[string]any{
			"id":            float64(4),
			"date_modified": "вчера",
		}, "wh-12")
		require.NoError(t, err)

		assert.False(t, evt.OccurredAt.Before(before))
	})
}

func TestExtractCrossReferenceID(t *testing.T) {
	t.Run("из custom_fields", func(t *testing.T) {
		got := extractCrossReferenceID(map[string]any{
			"custom_fields": map[string]any{"sync_order_id": "s-1"},
		})
		assert.Equal(t, "s-1", got)
	})

	t.Run("из attributes", func(t *testing.T) {
		got := extractCrossReferenceID(map[string]any{
			"attributes": map[string]any{"crm_order_id": float64(77)},
		})
		assert.Equal(t, "77", got)
	})

	t.Run("отсутствие не ошибка", func(t *testing.T) {
		assert.Empty(t, extractCrossReferenceID(map[string]any{"id": float64(1)}))
	})
}

func TestEventValidate(t *testing.T) {
	evt := event.New("order.created", "order", "1", "wh-9", map[string]any{"x": 1})
	assert.NoError(t, evt.Validate())

	evt.EventType = ""
	assert.Error(t, evt.Validate())
}
