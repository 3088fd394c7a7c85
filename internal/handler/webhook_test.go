// Package handler содержит unit тесты HTTP обработчиков.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/commerce-sync/internal/webhook"
)

// MockIntake — мок WebhookIntake.
type MockIntake struct {
	mock.Mock
}

func (m *MockIntake) ProcessWebhook(ctx context.Context, rawBody []byte, signature, webhookID, topic string) webhook.Result {
	args := m.Called(ctx, rawBody, signature, webhookID, topic)
	return args.Get(0).(webhook.Result)
}

func setupWebhookRouter(intake WebhookIntake) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h := NewWebhookHandler(intake)
	engine.POST("/webhook", h.Receive)
	return engine
}

func postWebhook(t *testing.T, engine *gin.Engine, headers map[string]string, body []byte) *httptest.ResponseRecorder {
	req, err := http.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestReceive_Accepted(t *testing.T) {
	intake := new(MockIntake)
	engine := setupWebhookRouter(intake)

	body := []byte(`{"id":1}`)
	intake.On("ProcessWebhook", mock.Anything, body, "c2ln", "wh-1", "order.created").
		Return(webhook.Result{Accepted: true, LedgerEntryID: "e1"})

	w := postWebhook(t, engine, map[string]string{
		HeaderWebhookID:        "wh-1",
		HeaderWebhookTopic:     "order.created",
		HeaderWebhookSignature: "c2ln",
	}, body)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.Equal(t, "e1", resp["ledger_entry_id"])
}

func TestReceive_MissingHeaders(t *testing.T) {
	intake := new(MockIntake)
	engine := setupWebhookRouter(intake)

	// Отсутствие обязательных заголовков — единственный случай не-200
	w := postWebhook(t, engine, map[string]string{HeaderWebhookTopic: "order.created"}, []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postWebhook(t, engine, map[string]string{HeaderWebhookID: "wh-1"}, []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	intake.AssertNotCalled(t, "ProcessWebhook", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReceive_DuplicateStill200(t *testing.T) {
	intake := new(MockIntake)
	engine := setupWebhookRouter(intake)

	intake.On("ProcessWebhook", mock.Anything, mock.Anything, mock.Anything, "wh-1", "order.created").
		Return(webhook.Result{Duplicate: true})

	w := postWebhook(t, engine, map[string]string{
		HeaderWebhookID:    "wh-1",
		HeaderWebhookTopic: "order.created",
	}, []byte(`{"id":1}`))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "duplicate", resp["status"])
}

func TestReceive_FailureAfterLedgerWriteStill200(t *testing.T) {
	intake := new(MockIntake)
	engine := setupWebhookRouter(intake)

	// Запись в ledger есть — восстановление идёт повторами, не передоставкой
	intake.On("ProcessWebhook", mock.Anything, mock.Anything, mock.Anything, "wh-1", "order.created").
		Return(webhook.Result{Accepted: true, LedgerEntryID: "e1", Err: assert.AnError})

	w := postWebhook(t, engine, map[string]string{
		HeaderWebhookID:    "wh-1",
		HeaderWebhookTopic: "order.created",
	}, []byte(`{"id":1}`))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
}

func TestReceive_FailureBeforeLedgerWriteIs500(t *testing.T) {
	intake := new(MockIntake)
	engine := setupWebhookRouter(intake)

	// Записи в ledger нет: 200 означал бы молчаливую потерю доставки,
	// передоставка платформы — единственный путь восстановления
	intake.On("ProcessWebhook", mock.Anything, mock.Anything, mock.Anything, "wh-1", "order.created").
		Return(webhook.Result{Err: assert.AnError})

	w := postWebhook(t, engine, map[string]string{
		HeaderWebhookID:    "wh-1",
		HeaderWebhookTopic: "order.created",
	}, []byte(`{"id":1}`))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}

func TestReceive_IgnoredTopic(t *testing.T) {
	intake := new(MockIntake)
	engine := setupWebhookRouter(intake)

	intake.On("ProcessWebhook", mock.Anything, mock.Anything, mock.Anything, "wh-1", "coupon.created").
		Return(webhook.Result{Accepted: true, Ignored: true, LedgerEntryID: "e1"})

	w := postWebhook(t, engine, map[string]string{
		HeaderWebhookID:    "wh-1",
		HeaderWebhookTopic: "coupon.created",
	}, []byte(`{"id":1}`))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ignored", resp["status"])
}
