package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrRecordNotFound — запись outbox не найдена.
var ErrRecordNotFound = errors.New("запись outbox не найдена")

// Repository определяет методы работы с таблицей event_outbox.
// Интерфейс для тестируемости (Dependency Inversion).
type Repository interface {
	// Create создаёт новую запись outbox.
	Create(ctx context.Context, record *Record) error

	// CreateTx создаёт запись outbox внутри уже открытой транзакции.
	// Используется ledger-репозиторием для атомарного "completed + outbox".
	CreateTx(tx *gorm.DB, record *Record) error

	// GetByCausationID возвращает записи, порождённые указанной доставкой webhook.
	GetByCausationID(ctx context.Context, causationID string) ([]*Record, error)

	// GetDispatchable возвращает записи, готовые к отправке в поток событий:
	// status=pending и next_attempt_at не в будущем.
	GetDispatchable(ctx context.Context, now time.Time, limit int) ([]*Record, error)

	// MarkDispatched помечает запись как отправленную.
	MarkDispatched(ctx context.Context, id string) error

	// MarkAttemptFailed фиксирует неуспешную попытку отправки: инкремент attempts,
	// перенос next_attempt_at; при исчерпании лимита — status=failed.
	MarkAttemptFailed(ctx context.Context, id string, attempts int, nextAttemptAt *time.Time, terminal bool) error

	// DeleteDispatchedBefore удаляет отправленные записи старше указанного времени.
	// Возвращает количество удалённых записей. Используется для очистки outbox.
	DeleteDispatchedBefore(ctx context.Context, before time.Time) (int64, error)
}

// repository — GORM реализация Repository.
type repository struct {
	db *gorm.DB
}

// NewRepository создаёт новый репозиторий outbox.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Create создаёт новую запись outbox.
func (r *repository) Create(ctx context.Context, record *Record) error {
	return r.CreateTx(r.db.WithContext(ctx), record)
}

// CreateTx создаёт запись outbox внутри переданной транзакции.
func (r *repository) CreateTx(tx *gorm.DB, record *Record) error {
	model := ModelFromRecord(record)
	if err := tx.Create(model).Error; err != nil {
		return err
	}
	record.CreatedAt = model.CreatedAt
	return nil
}

// GetByCausationID возвращает записи, порождённые указанной доставкой.
func (r *repository) GetByCausationID(ctx context.Context, causationID string) ([]*Record, error) {
	var models []RecordModel

	if err := r.db.WithContext(ctx).
		Where("causation_id = ?", causationID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	return toDomainSlice(models), nil
}

// GetDispatchable возвращает записи, готовые к отправке, старые — первыми.
func (r *repository) GetDispatchable(ctx context.Context, now time.Time, limit int) ([]*Record, error) {
	var models []RecordModel

	if err := r.db.WithContext(ctx).
		Where("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)", string(StatusPending), now).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	return toDomainSlice(models), nil
}

// MarkDispatched помечает запись как отправленную.
func (r *repository) MarkDispatched(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&RecordModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          string(StatusDispatched),
			"next_attempt_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkAttemptFailed фиксирует неуспешную попытку отправки.
// terminal=true переводит запись в status=failed (лимит попыток исчерпан).
func (r *repository) MarkAttemptFailed(ctx context.Context, id string, attempts int, nextAttemptAt *time.Time, terminal bool) error {
	status := string(StatusPending)
	if terminal {
		status = string(StatusFailed)
		nextAttemptAt = nil
	}

	result := r.db.WithContext(ctx).Model(&RecordModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          status,
			"attempts":        attempts,
			"next_attempt_at": nextAttemptAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// DeleteDispatchedBefore удаляет отправленные записи outbox старше указанного времени.
// Удаляет пачками по 1000 для предотвращения длинных блокировок.
func (r *repository) DeleteDispatchedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(StatusDispatched), before).
		Limit(1000).
		Delete(&RecordModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// toDomainSlice конвертирует срез моделей в доменные сущности.
func toDomainSlice(models []RecordModel) []*Record {
	result := make([]*Record, len(models))
	for i := range models {
		result[i] = models[i].ToDomain()
	}
	return result
}
