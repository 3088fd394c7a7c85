package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/commerce-sync/internal/outbox"
	"example.com/commerce-sync/pkg/logger"
	"example.com/commerce-sync/pkg/metrics"
)

// IntakeConfig — настройки приёма webhook.
type IntakeConfig struct {
	// Secret — общий секрет для проверки подписи. Пустой секрет
	// означает fail open: подпись не проверяется, это фиксируется в ledger.
	Secret string

	// StrictSignature требует корректную подпись даже без секрета.
	// Для production профиля должен быть включён.
	StrictSignature bool

	// MaxRetries — максимум повторных попыток до перевода в dead_letter.
	MaxRetries int

	// RetryBaseDelay — базовая задержка экспоненциального backoff.
	RetryBaseDelay time.Duration

	// PublishTo — Kafka топик для публикации канонических событий.
	PublishTo string
}

// Result — итог приёма одной доставки. Отдаётся хендлеру
// для метрик и тела ответа; HTTP статус от него не зависит.
type Result struct {
	Accepted      bool   // Доставка принята в обработку
	Duplicate     bool   // Доставка с таким webhook_id уже есть в ledger
	Ignored       bool   // Неподдерживаемый топик, доставка проигнорирована
	Rejected      bool   // Подпись не прошла проверку
	LedgerEntryID string // ID записи ledger, если она создана
	Err           error  // Внутренняя ошибка обработки, наружу не отдаётся
}

// Intake оркестрирует приём webhook: дедупликация, проверка подписи,
// запись в ledger, трансформация и публикация через outbox.
type Intake struct {
	ledger      LedgerRepository
	transformer *Transformer
	cfg         IntakeConfig
}

// NewIntake создаёт новый оркестратор приёма.
func NewIntake(ledger LedgerRepository, transformer *Transformer, cfg IntakeConfig) *Intake {
	return &Intake{
		ledger:      ledger,
		transformer: transformer,
		cfg:         cfg,
	}
}

// ProcessWebhook обрабатывает одну входящую доставку.
// Любая внутренняя ошибка после записи в ledger не возвращается
// вызывающему как сбой — восстановление идёт через планировщик повторов.
func (in *Intake) ProcessWebhook(ctx context.Context, rawBody []byte, signature, webhookID, topic string) Result {
	log := logger.FromContext(ctx)

	// 1. Идемпотентность: повторная доставка не трогает ни трансформер,
	// ни outbox. Ledger — единственный источник истины.
	if _, err := in.ledger.GetByWebhookID(ctx, webhookID); err == nil {
		log.Debug().Str("webhook_id", webhookID).Msg("Повторная доставка webhook, игнорируем")
		metrics.WebhooksReceived.WithLabelValues(topic, "duplicate").Inc()
		return Result{Duplicate: true}
	} else if !errors.Is(err, ErrEntryNotFound) {
		metrics.WebhooksReceived.WithLabelValues(topic, "failed").Inc()
		return Result{Err: fmt.Errorf("проверка идемпотентности: %w", err)}
	}

	// 2. Проверка подписи над сырыми байтами тела.
	sigOK := VerifySignature(rawBody, signature, in.cfg.Secret)
	rejected := false
	switch {
	case in.cfg.Secret != "" && !sigOK:
		rejected = true
	case in.cfg.Secret == "" && in.cfg.StrictSignature:
		rejected = true
	}

	var payload map[string]any
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		log.Warn().Str("webhook_id", webhookID).Err(err).Msg("Webhook с некорректным JSON")
		metrics.WebhooksReceived.WithLabelValues(topic, "failed").Inc()
		return Result{Err: fmt.Errorf("%w: %v", ErrMalformedPayload, err)}
	}

	// 3. Запись в ledger со статусом pending.
	entry := &Entry{
		ID:                uuid.New().String(),
		WebhookID:         webhookID,
		Topic:             topic,
		Payload:           payload,
		Status:            StatusPending,
		MaxRetries:        in.cfg.MaxRetries,
		SignatureVerified: sigOK,
	}
	if err := in.ledger.Create(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateDelivery) {
			// Гонка конкурентных доставок: уникальный индекс победил.
			metrics.WebhooksReceived.WithLabelValues(topic, "duplicate").Inc()
			return Result{Duplicate: true}
		}
		metrics.WebhooksReceived.WithLabelValues(topic, "failed").Inc()
		return Result{Err: fmt.Errorf("запись в ledger: %w", err)}
	}

	// Отклонённая подпись фиксируется в ledger и сразу уходит
	// в dead_letter: повторы её не починят.
	if rejected {
		log.Warn().Str("webhook_id", webhookID).Str("topic", topic).Msg("Webhook отклонён: подпись не прошла проверку")
		errMsg := ErrSignatureRejected.Error()
		if err := in.ledger.MarkFailed(ctx, webhookID, errMsg, in.cfg.MaxRetries, nil, true); err != nil {
			log.Error().Str("webhook_id", webhookID).Err(err).Msg("Не удалось зафиксировать отклонение подписи")
		}
		metrics.WebhooksReceived.WithLabelValues(topic, "rejected").Inc()
		return Result{Rejected: true, LedgerEntryID: entry.ID}
	}

	_, supported := ParseTopic(topic)

	// 4. Обработка: claim → transform → publish → completed.
	if err := in.ProcessEntry(ctx, entry); err != nil {
		// Ошибка уже зафиксирована в ledger, наружу отдаём accepted —
		// платформа не должна передоставлять, восстановимся сами.
		log.Warn().Str("webhook_id", webhookID).Err(err).Msg("Обработка webhook не удалась, запланирован повтор")
		metrics.WebhooksReceived.WithLabelValues(topic, "failed").Inc()
		return Result{Accepted: true, LedgerEntryID: entry.ID, Err: err}
	}

	return Result{Accepted: true, Ignored: !supported, LedgerEntryID: entry.ID}
}

// ProcessEntry выполняет шаг обработки для записи ledger:
// claim → трансформация → атомарные completed+outbox. Используется
// и при первичном приёме, и планировщиком повторов. Идемпотентность
// и подпись повторно не проверяются.
func (in *Intake) ProcessEntry(ctx context.Context, entry *Entry) error {
	log := logger.FromContext(ctx)

	// Claim before process: запись достаётся ровно одному обработчику.
	if err := in.ledger.Claim(ctx, entry.WebhookID, StatusPending, StatusFailed); err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			log.Debug().Str("webhook_id", entry.WebhookID).Msg("Запись уже захвачена другим обработчиком")
			return nil
		}
		return fmt.Errorf("захват записи: %w", err)
	}

	if err := in.processClaimed(ctx, entry); err != nil {
		in.recordFailure(ctx, entry, err)
		return err
	}

	return nil
}

// processClaimed обрабатывает уже захваченную запись.
func (in *Intake) processClaimed(ctx context.Context, entry *Entry) error {
	log := logger.FromContext(ctx)
	now := time.Now()

	parsedTopic, supported := ParseTopic(entry.Topic)
	if !supported {
		// Неподдерживаемый топик — валидный no-op.
		log.Info().Str("webhook_id", entry.WebhookID).Str("topic", entry.Topic).Msg("Неподдерживаемый топик webhook, завершаем без события")
		if err := in.ledger.MarkCompleted(ctx, entry.WebhookID, now); err != nil {
			return fmt.Errorf("завершение без события: %w", err)
		}
		metrics.WebhooksReceived.WithLabelValues(entry.Topic, "ignored").Inc()
		return nil
	}

	evt, err := in.transformer.Transform(parsedTopic, entry.Payload, entry.WebhookID)
	if err != nil {
		return fmt.Errorf("трансформация: %w", err)
	}
	if evt == nil {
		if err := in.ledger.MarkCompleted(ctx, entry.WebhookID, now); err != nil {
			return fmt.Errorf("завершение без события: %w", err)
		}
		metrics.WebhooksReceived.WithLabelValues(entry.Topic, "ignored").Inc()
		return nil
	}

	record, err := outbox.NewRecord(evt, in.cfg.PublishTo)
	if err != nil {
		return fmt.Errorf("подготовка записи outbox: %w", err)
	}

	// Completed и запись outbox в одной транзакции: сбой между ними невозможен.
	if err := in.ledger.CompleteWithOutbox(ctx, entry.WebhookID, record, now); err != nil {
		return fmt.Errorf("фиксация результата: %w", err)
	}

	log.Info().
		Str("webhook_id", entry.WebhookID).
		Str("topic", entry.Topic).
		Str("event_id", evt.EventID).
		Str("event_type", evt.EventType).
		Msg("Webhook обработан, событие записано в outbox")
	metrics.WebhooksReceived.WithLabelValues(entry.Topic, "completed").Inc()

	return nil
}

// recordFailure фиксирует неуспешную попытку: инкремент счётчика,
// экспоненциальный backoff либо перевод в dead_letter.
func (in *Intake) recordFailure(ctx context.Context, entry *Entry, cause error) {
	log := logger.FromContext(ctx)

	retryCount := entry.RetryCount + 1
	dead := retryCount >= entry.MaxRetries

	var nextRetryAt *time.Time
	if !dead {
		next := time.Now().Add(in.backoffDelay(retryCount))
		nextRetryAt = &next
	}

	if err := in.ledger.MarkFailed(ctx, entry.WebhookID, cause.Error(), retryCount, nextRetryAt, dead); err != nil {
		log.Error().Str("webhook_id", entry.WebhookID).Err(err).Msg("Не удалось зафиксировать ошибку обработки")
		return
	}

	if dead {
		log.Error().
			Str("webhook_id", entry.WebhookID).
			Str("topic", entry.Topic).
			Int("retry_count", retryCount).
			Err(cause).
			Msg("Исчерпаны повторы, запись переведена в dead_letter")
		metrics.DeadLetters.WithLabelValues(entry.Topic).Inc()
	}
}

// backoffDelay вычисляет задержку экспоненциального backoff:
// delay = base * 2^retryCount (база 1s ⇒ 2s, 4s, 8s, 16s, 32s).
func (in *Intake) backoffDelay(retryCount int) time.Duration {
	return in.cfg.RetryBaseDelay * time.Duration(1<<retryCount)
}
