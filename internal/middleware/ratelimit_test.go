package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRateLimitRedis(t *testing.T) *redis.Client {
	t.Helper()

	// Используем miniredis для тестирования
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func rateLimitedRequest(mw *RateLimitMiddleware, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhook", nil)
	c.Request.RemoteAddr = remoteAddr

	mw.Handle()(c)
	return w
}

func TestRateLimitMiddleware_AllowsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mw := NewRateLimitMiddleware(RateLimitConfig{
		Redis:  setupRateLimitRedis(t),
		Limit:  5,
		Window: time.Minute,
	})

	// Первые 5 запросов проходят
	for i := 0; i < 5; i++ {
		w := rateLimitedRequest(mw, "192.168.1.1:12345")
		assert.NotEqual(t, http.StatusTooManyRequests, w.Code, "запрос %d должен пройти", i+1)
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimitMiddleware_BlocksExcessRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mw := NewRateLimitMiddleware(RateLimitConfig{
		Redis:  setupRateLimitRedis(t),
		Limit:  3,
		Window: time.Minute,
	})

	for i := 0; i < 3; i++ {
		w := rateLimitedRequest(mw, "10.0.0.1:12345")
		assert.NotEqual(t, http.StatusTooManyRequests, w.Code, "запрос %d должен пройти", i+1)
	}

	// Четвёртый запрос должен быть заблокирован
	w := rateLimitedRequest(mw, "10.0.0.1:12345")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRateLimitMiddleware_SeparateLimitsPerIP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mw := NewRateLimitMiddleware(RateLimitConfig{
		Redis:  setupRateLimitRedis(t),
		Limit:  2,
		Window: time.Minute,
	})

	// Первый IP исчерпывает лимит
	for i := 0; i < 2; i++ {
		rateLimitedRequest(mw, "1.1.1.1:1234")
	}
	w1 := rateLimitedRequest(mw, "1.1.1.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, w1.Code)

	// Второй IP имеет свой счётчик
	w2 := rateLimitedRequest(mw, "2.2.2.2:1234")
	assert.NotEqual(t, http.StatusTooManyRequests, w2.Code, "другой IP имеет свой лимит")
}

func TestRateLimitMiddleware_Headers(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mw := NewRateLimitMiddleware(RateLimitConfig{
		Redis:  setupRateLimitRedis(t),
		Limit:  10,
		Window: time.Minute,
	})

	w := rateLimitedRequest(mw, "3.3.3.3:1234")

	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimitMiddleware_FailOpenOnRedisError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Redis недоступен — webhook всё равно проходят, терять доставки нельзя
	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:1", // заведомо мёртвый адрес
	})
	defer func() { _ = client.Close() }()

	mw := NewRateLimitMiddleware(RateLimitConfig{
		Redis:  client,
		Limit:  1,
		Window: time.Minute,
	})

	for i := 0; i < 3; i++ {
		w := rateLimitedRequest(mw, "4.4.4.4:1234")
		assert.NotEqual(t, http.StatusTooManyRequests, w.Code, "fail-open: запрос %d должен пройти", i+1)
	}
}

func TestRateLimitMiddleware_DefaultValues(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Не указываем Limit и Window — должны использоваться значения по умолчанию
	mw := NewRateLimitMiddleware(RateLimitConfig{
		Redis: setupRateLimitRedis(t),
	})

	assert.Equal(t, 300, mw.limit)
	assert.Equal(t, time.Minute, mw.window)
}
