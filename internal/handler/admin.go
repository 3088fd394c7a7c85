package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	syncq "example.com/commerce-sync/internal/sync"
	"example.com/commerce-sync/internal/webhook"
	"example.com/commerce-sync/pkg/logger"
)

// DeadLetterManager — интерфейс операторских операций dead_letter.
type DeadLetterManager interface {
	List(ctx context.Context, limit, offset int) ([]*webhook.Entry, error)
	ListByTopic(ctx context.Context, topic string, limit, offset int) ([]*webhook.Entry, error)
	Search(ctx context.Context, errorSubstring string, limit, offset int) ([]*webhook.Entry, error)
	Statistics(ctx context.Context) (*webhook.DeadLetterStats, error)
	Replay(ctx context.Context, id string) error
	BatchReplay(ctx context.Context, ids []string) []webhook.BatchResult
	Delete(ctx context.Context, id string) error
	BatchDelete(ctx context.Context, ids []string) []webhook.BatchResult
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
	Export(ctx context.Context, limit int) ([]*webhook.Entry, error)
}

// SyncStats — интерфейс статистики очереди синхронизации.
type SyncStats interface {
	CountPendingByType(ctx context.Context) (map[syncq.Type]int64, error)
	FindBreaching(ctx context.Context, now time.Time) ([]*syncq.WorkItem, error)
}

// AdminHandler — обработчик операторского API: управление dead_letter
// и наблюдение за очередью синхронизации.
type AdminHandler struct {
	deadLetters DeadLetterManager
	syncStats   SyncStats
}

// NewAdminHandler создаёт новый обработчик операторского API.
func NewAdminHandler(deadLetters DeadLetterManager, syncStats SyncStats) *AdminHandler {
	return &AdminHandler{
		deadLetters: deadLetters,
		syncStats:   syncStats,
	}
}

// === Request/Response DTOs ===

// batchRequest — пакетный запрос по списку записей.
type batchRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

// entryResponse — запись ledger в ответе операторского API.
type entryResponse struct {
	ID                string         `json:"id"`
	WebhookID         string         `json:"webhook_id"`
	Topic             string         `json:"topic"`
	Payload           map[string]any `json:"payload,omitempty"`
	Status            string         `json:"status"`
	RetryCount        int            `json:"retry_count"`
	MaxRetries        int            `json:"max_retries"`
	ErrorMessage      *string        `json:"error_message,omitempty"`
	SignatureVerified bool           `json:"signature_verified"`
	CreatedAt         time.Time      `json:"created_at"`
	ProcessedAt       *time.Time     `json:"processed_at,omitempty"`
}

func entryToResponse(e *webhook.Entry) entryResponse {
	return entryResponse{
		ID:                e.ID,
		WebhookID:         e.WebhookID,
		Topic:             e.Topic,
		Payload:           e.Payload,
		Status:            string(e.Status),
		RetryCount:        e.RetryCount,
		MaxRetries:        e.MaxRetries,
		ErrorMessage:      e.ErrorMessage,
		SignatureVerified: e.SignatureVerified,
		CreatedAt:         e.CreatedAt,
		ProcessedAt:       e.ProcessedAt,
	}
}

func entriesToResponse(entries []*webhook.Entry) []entryResponse {
	out := make([]entryResponse, len(entries))
	for i, e := range entries {
		out[i] = entryToResponse(e)
	}
	return out
}

// === Dead letter endpoints ===

// ListDeadLetters обрабатывает GET /admin/dead-letters.
// Параметры: topic (фильтр), search (подстрока ошибки), limit, offset.
func (h *AdminHandler) ListDeadLetters(c *gin.Context) {
	ctx := c.Request.Context()
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	var (
		entries []*webhook.Entry
		err     error
	)
	switch {
	case c.Query("search") != "":
		entries, err = h.deadLetters.Search(ctx, c.Query("search"), limit, offset)
	case c.Query("topic") != "":
		entries, err = h.deadLetters.ListByTopic(ctx, c.Query("topic"), limit, offset)
	default:
		entries, err = h.deadLetters.List(ctx, limit, offset)
	}
	if err != nil {
		internalError(c, err, "dead_letter_list")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entriesToResponse(entries),
		"limit":   limit,
		"offset":  offset,
	})
}

// DeadLetterStats обрабатывает GET /admin/dead-letters/stats.
func (h *AdminHandler) DeadLetterStats(c *gin.Context) {
	stats, err := h.deadLetters.Statistics(c.Request.Context())
	if err != nil {
		internalError(c, err, "dead_letter_stats")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":    stats.Total,
		"by_topic": stats.ByTopic,
		"by_error": stats.ByError,
		"oldest":   stats.Oldest,
		"newest":   stats.Newest,
	})
}

// ExportDeadLetters обрабатывает GET /admin/dead-letters/export.
func (h *AdminHandler) ExportDeadLetters(c *gin.Context) {
	entries, err := h.deadLetters.Export(c.Request.Context(), queryInt(c, "limit", 0))
	if err != nil {
		internalError(c, err, "dead_letter_export")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entriesToResponse(entries),
		"count":   len(entries),
	})
}

// ReplayDeadLetter обрабатывает POST /admin/dead-letters/:id/replay.
func (h *AdminHandler) ReplayDeadLetter(c *gin.Context) {
	id := c.Param("id")

	if err := h.deadLetters.Replay(c.Request.Context(), id); err != nil {
		if errors.Is(err, webhook.ErrNotDeadLetter) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Запись dead_letter не найдена",
			})
			return
		}
		internalError(c, err, "dead_letter_replay")
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "status": "pending"})
}

// BatchReplayDeadLetters обрабатывает POST /admin/dead-letters/replay.
func (h *AdminHandler) BatchReplayDeadLetters(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	results := h.deadLetters.BatchReplay(c.Request.Context(), req.IDs)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// DeleteDeadLetter обрабатывает DELETE /admin/dead-letters/:id.
func (h *AdminHandler) DeleteDeadLetter(c *gin.Context) {
	id := c.Param("id")

	if err := h.deadLetters.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, webhook.ErrNotDeadLetter) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Запись dead_letter не найдена",
			})
			return
		}
		internalError(c, err, "dead_letter_delete")
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}

// BatchDeleteDeadLetters обрабатывает POST /admin/dead-letters/delete.
func (h *AdminHandler) BatchDeleteDeadLetters(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	results := h.deadLetters.BatchDelete(c.Request.Context(), req.IDs)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// PurgeDeadLetters обрабатывает DELETE /admin/dead-letters.
// Параметр older_than_hours обязателен: удаление без границы запрещено.
func (h *AdminHandler) PurgeDeadLetters(c *gin.Context) {
	hours := queryInt(c, "older_than_hours", 0)
	if hours <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_argument",
			"message": "Требуется параметр older_than_hours > 0",
		})
		return
	}

	deleted, err := h.deadLetters.DeleteOlderThan(c.Request.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		internalError(c, err, "dead_letter_purge")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// === Sync queue endpoints ===

// SyncQueueStats обрабатывает GET /admin/sync/stats: глубина очереди
// по типам и работы, нарушающие SLA.
func (h *AdminHandler) SyncQueueStats(c *gin.Context) {
	ctx := c.Request.Context()
	now := time.Now()

	counts, err := h.syncStats.CountPendingByType(ctx)
	if err != nil {
		internalError(c, err, "sync_stats")
		return
	}

	breaching, err := h.syncStats.FindBreaching(ctx, now)
	if err != nil {
		internalError(c, err, "sync_stats")
		return
	}

	type breachInfo struct {
		ID       string `json:"id"`
		SyncType string `json:"sync_type"`
		EntityID string `json:"entity_id"`
		AgeSec   int64  `json:"age_seconds"`
	}
	breaches := make([]breachInfo, len(breaching))
	for i, item := range breaching {
		breaches[i] = breachInfo{
			ID:       item.ID,
			SyncType: string(item.SyncType),
			EntityID: item.EntityID,
			AgeSec:   int64(now.Sub(item.CreatedAt).Seconds()),
		}
	}

	depth := make(map[string]int64, len(counts))
	for t, n := range counts {
		depth[string(t)] = n
	}

	c.JSON(http.StatusOK, gin.H{
		"queue_depth":  depth,
		"sla_breaches": breaches,
		"breach_count": len(breaches),
	})
}

// === Вспомогательные функции ===

func queryInt(c *gin.Context, name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_argument",
		"message": err.Error(),
	})
}

func internalError(c *gin.Context, err error, method string) {
	log := logger.FromContext(c.Request.Context())
	log.Error().Err(err).Str("method", method).Msg("Внутренняя ошибка")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Внутренняя ошибка сервиса",
	})
}
