// Package handler содержит HTTP обработчики сервиса синхронизации.
package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/commerce-sync/internal/webhook"
	"example.com/commerce-sync/pkg/logger"
)

// Заголовки входящих webhook платформы.
const (
	HeaderWebhookID        = "X-Webhook-Id"
	HeaderWebhookTopic     = "X-Webhook-Topic"
	HeaderWebhookSignature = "X-Webhook-Signature"
)

// maxWebhookBody — максимальный размер тела webhook (1 МБ).
const maxWebhookBody = 1 << 20

// WebhookIntake — интерфейс приёма доставок.
// Позволяет замокать webhook.Intake в тестах.
type WebhookIntake interface {
	ProcessWebhook(ctx context.Context, rawBody []byte, signature, webhookID, topic string) webhook.Result
}

// WebhookHandler — обработчик входящих webhook платформы.
type WebhookHandler struct {
	intake WebhookIntake
}

// NewWebhookHandler создаёт новый обработчик webhook.
func NewWebhookHandler(intake WebhookIntake) *WebhookHandler {
	return &WebhookHandler{intake: intake}
}

// webhookResponse — тело ответа на webhook.
type webhookResponse struct {
	Status        string `json:"status"`
	LedgerEntryID string `json:"ledger_entry_id,omitempty"`
}

// Receive обрабатывает POST /webhook.
// Любой исход обработки после записи в ledger отвечает 200 — платформа
// не должна передоставлять, восстановление идёт внутренними повторами.
// Не-200 допустим в двух случаях: некорректная форма запроса
// (отсутствуют обязательные заголовки, 400) и сбой до записи в ledger
// (500 — без записи идемпотентность не гарантируется, нужна передоставка).
func (h *WebhookHandler) Receive(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	webhookID := c.GetHeader(HeaderWebhookID)
	topic := c.GetHeader(HeaderWebhookTopic)
	if webhookID == "" || topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_headers",
			"message": "Требуются заголовки " + HeaderWebhookID + " и " + HeaderWebhookTopic,
		})
		return
	}

	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		log.Warn().Str("webhook_id", webhookID).Err(err).Msg("Ошибка чтения тела webhook")
		// Всё равно 200: тело потеряно, передоставка не поможет при обрыве у нас.
		c.JSON(http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}

	ctx = logger.WithWebhookID(ctx, webhookID)
	signature := c.GetHeader(HeaderWebhookSignature)

	result := h.intake.ProcessWebhook(ctx, rawBody, signature, webhookID, topic)

	// Сбой до записи в ledger (недоступное хранилище на проверке
	// идемпотентности, не-JSON тело): зафиксировать доставку не удалось,
	// отвечаем 5xx — передоставка платформы здесь единственный путь
	// восстановления.
	if result.Err != nil && result.LedgerEntryID == "" && !result.Duplicate {
		log.Error().Str("webhook_id", webhookID).Err(result.Err).Msg("Webhook не зафиксирован в ledger")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Доставка не зафиксирована, требуется передоставка",
		})
		return
	}

	resp := webhookResponse{LedgerEntryID: result.LedgerEntryID}
	switch {
	case result.Duplicate:
		resp.Status = "duplicate"
	case result.Rejected:
		resp.Status = "rejected"
	case result.Ignored:
		resp.Status = "ignored"
	default:
		// Accepted, в том числе со сбоем обработки после записи в ledger:
		// восстановление идёт внутренними повторами, не передоставкой.
		resp.Status = "accepted"
	}

	c.JSON(http.StatusOK, resp)
}
