// Package platform содержит HTTP клиент REST API коммерческой платформы
// для выталкивания данных (push-синхронизация).
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"example.com/commerce-sync/pkg/circuitbreaker"
	"example.com/commerce-sync/pkg/logger"
)

// ErrUnavailable — платформа недоступна (circuit breaker открыт
// или сетевой сбой). Работа вернётся в очередь на повтор.
var ErrUnavailable = errors.New("платформа недоступна")

// Config — настройки клиента платформы.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client — HTTP клиент платформы. Все вызовы идут через circuit breaker:
// при серии сбоев платформы перестаём её дёргать и быстро отклоняем работы.
type Client struct {
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	baseURL    string
	apiKey     string
}

// NewClient создаёт новый клиент платформы.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuitbreaker.New("platform-api"),
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
	}
}

// PushPrice обновляет цену товара на платформе.
func (c *Client) PushPrice(ctx context.Context, externalID string, payload map[string]any) error {
	return c.push(ctx, fmt.Sprintf("/products/%s/price", externalID), payload)
}

// PushStock обновляет остаток товара на платформе.
func (c *Client) PushStock(ctx context.Context, externalID string, payload map[string]any) error {
	return c.push(ctx, fmt.Sprintf("/products/%s/stock", externalID), payload)
}

// PushProduct создаёт или обновляет товар на платформе.
func (c *Client) PushProduct(ctx context.Context, externalID string, payload map[string]any) error {
	return c.push(ctx, fmt.Sprintf("/products/%s", externalID), payload)
}

// PushCategory создаёт или обновляет категорию на платформе.
func (c *Client) PushCategory(ctx context.Context, externalID string, payload map[string]any) error {
	return c.push(ctx, fmt.Sprintf("/categories/%s", externalID), payload)
}

// PushImage загружает изображение товара на платформу.
func (c *Client) PushImage(ctx context.Context, externalID string, payload map[string]any) error {
	return c.push(ctx, fmt.Sprintf("/products/%s/images", externalID), payload)
}

// push выполняет PUT запрос к платформе через circuit breaker.
func (c *Client) push(ctx context.Context, path string, payload map[string]any) error {
	log := logger.FromContext(ctx)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("сериализация payload: %w", err)
	}

	err = c.breaker.Do(func() error {
		return c.doRequest(ctx, http.MethodPut, path, body)
	})
	if err != nil {
		if circuitbreaker.IsOpen(err) {
			log.Warn().Str("path", path).Msg("Circuit breaker платформы открыт, запрос отклонён")
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}

	return nil
}

// doRequest выполняет один HTTP запрос и интерпретирует статус ответа.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Тело ошибки читаем ограниченно: платформа может вернуть HTML страницу.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: статус %d: %s", ErrUnavailable, resp.StatusCode, respBody)
	}
	return fmt.Errorf("платформа отклонила запрос: статус %d: %s", resp.StatusCode, respBody)
}
