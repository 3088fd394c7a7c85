package outbox

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"example.com/commerce-sync/internal/event"
	"example.com/commerce-sync/pkg/logger"
)

// Publisher durable-публикует канонические события в outbox.
// Ключевое свойство корректности: запись outbox создаётся в одной
// транзакции с любыми другими записями вызывающего кода — сбой между
// ними невозможен.
type Publisher struct {
	db        *gorm.DB
	repo      Repository
	publishTo string // Топик потока событий по умолчанию
}

// NewPublisher создаёт новый Publisher.
// publishTo — топик потока событий для новых записей.
func NewPublisher(db *gorm.DB, repo Repository, publishTo string) *Publisher {
	return &Publisher{
		db:        db,
		repo:      repo,
		publishTo: publishTo,
	}
}

// PublishResult — результат публикации одного события из батча.
type PublishResult struct {
	EventID  string // ID события
	RecordID string // ID созданной записи outbox (пусто при ошибке)
	Err      error  // Ошибка публикации (nil при успехе)
}

// Publish записывает одно событие в outbox в собственной транзакции.
// Возвращает ID созданной записи outbox.
func (p *Publisher) Publish(ctx context.Context, evt *event.Event) (string, error) {
	var recordID string

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := p.PublishTx(tx, evt)
		if err != nil {
			return err
		}
		recordID = record.ID
		return nil
	})
	if err != nil {
		return "", err
	}

	return recordID, nil
}

// PublishTx записывает событие в outbox внутри уже открытой транзакции.
// Используется ledger-репозиторием: переход статуса ledger и вставка outbox
// фиксируются атомарно.
func (p *Publisher) PublishTx(tx *gorm.DB, evt *event.Event) (*Record, error) {
	record, err := NewRecord(evt, p.publishTo)
	if err != nil {
		return nil, err
	}

	if err := p.repo.CreateTx(tx, record); err != nil {
		return nil, fmt.Errorf("ошибка записи события в outbox: %w", err)
	}

	return record, nil
}

// PublishBatch записывает события в одной общей транзакции.
// Невалидные события пропускаются с ошибкой в результате, не прерывая
// остальных. Если транзакция не зафиксировалась — все события в батче
// помечаются как неуспешные (откат).
func (p *Publisher) PublishBatch(ctx context.Context, events []*event.Event) []PublishResult {
	log := logger.FromContext(ctx)
	results := make([]PublishResult, len(events))

	txErr := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted := 0
		for i, evt := range events {
			results[i].EventID = evt.EventID

			record, err := p.PublishTx(tx, evt)
			if err != nil {
				// Ошибка уровня события (валидация) не прерывает батч.
				results[i].Err = err
				continue
			}
			results[i].RecordID = record.ID
			inserted++
		}

		log.Debug().
			Int("total", len(events)).
			Int("inserted", inserted).
			Msg("Батч событий записан в outbox")

		return nil
	})

	// Откат транзакции: ни одна запись не сохранилась.
	if txErr != nil {
		for i := range results {
			results[i].RecordID = ""
			results[i].Err = fmt.Errorf("транзакция батча откатилась: %w", txErr)
		}
	}

	return results
}
