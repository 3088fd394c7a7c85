package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"example.com/commerce-sync/internal/outbox"
)

// EntryModel — GORM модель для таблицы webhook_ledger.
// Отделена от доменной сущности для гибкости.
type EntryModel struct {
	ID                string     `gorm:"column:id;type:varchar(36);primaryKey"`
	WebhookID         string     `gorm:"column:webhook_id;type:varchar(100);not null;uniqueIndex"`
	Topic             string     `gorm:"column:topic;type:varchar(100);not null;index"`
	Payload           []byte     `gorm:"column:payload;type:json;not null"`
	Status            string     `gorm:"column:status;type:varchar(20);not null;index:idx_ledger_retry"`
	RetryCount        int        `gorm:"column:retry_count;not null;default:0"`
	MaxRetries        int        `gorm:"column:max_retries;not null"`
	LastRetryAt       *time.Time `gorm:"column:last_retry_at"`
	NextRetryAt       *time.Time `gorm:"column:next_retry_at;index:idx_ledger_retry"`
	ErrorMessage      *string    `gorm:"column:error_message;type:text"`
	SignatureVerified bool       `gorm:"column:signature_verified;not null;default:false"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	ProcessedAt       *time.Time `gorm:"column:processed_at"`
}

// TableName возвращает имя таблицы в БД.
func (EntryModel) TableName() string {
	return "webhook_ledger"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *EntryModel) toDomain() *Entry {
	entry := &Entry{
		ID:                m.ID,
		WebhookID:         m.WebhookID,
		Topic:             m.Topic,
		Status:            Status(m.Status),
		RetryCount:        m.RetryCount,
		MaxRetries:        m.MaxRetries,
		LastRetryAt:       m.LastRetryAt,
		NextRetryAt:       m.NextRetryAt,
		ErrorMessage:      m.ErrorMessage,
		SignatureVerified: m.SignatureVerified,
		CreatedAt:         m.CreatedAt,
		ProcessedAt:       m.ProcessedAt,
	}

	// Десериализуем payload из JSON; битый payload оставляем nil —
	// оператор увидит его в export в сыром виде.
	if len(m.Payload) > 0 {
		_ = json.Unmarshal(m.Payload, &entry.Payload)
	}

	return entry
}

// modelFromEntry конвертирует доменную сущность в GORM модель.
func modelFromEntry(e *Entry) (*EntryModel, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}

	return &EntryModel{
		ID:                e.ID,
		WebhookID:         e.WebhookID,
		Topic:             e.Topic,
		Payload:           payload,
		Status:            string(e.Status),
		RetryCount:        e.RetryCount,
		MaxRetries:        e.MaxRetries,
		LastRetryAt:       e.LastRetryAt,
		NextRetryAt:       e.NextRetryAt,
		ErrorMessage:      e.ErrorMessage,
		SignatureVerified: e.SignatureVerified,
		CreatedAt:         e.CreatedAt,
		ProcessedAt:       e.ProcessedAt,
	}, nil
}

// DeadLetterStats — агрегированная статистика dead letter для триажа оператором.
type DeadLetterStats struct {
	Total   int64            // Всего записей в dead_letter
	ByTopic map[string]int64 // Количество по топикам
	ByError map[string]int64 // Количество по усечённым текстам ошибок
	Oldest  *time.Time       // Самая старая запись
	Newest  *time.Time       // Самая свежая запись
}

// errTruncateLen — длина усечения текста ошибки при группировке статистики.
const errTruncateLen = 100

// LedgerRepository определяет методы работы с webhook ledger в БД.
type LedgerRepository interface {
	// Create регистрирует новую доставку в ledger.
	// Возвращает ErrDuplicateDelivery, если webhook_id уже существует —
	// в том числе при гонке конкурентных повторных доставок.
	Create(ctx context.Context, entry *Entry) error

	// GetByWebhookID возвращает запись по ID доставки платформы.
	GetByWebhookID(ctx context.Context, webhookID string) (*Entry, error)

	// Claim захватывает запись под обработку: атомарный переход
	// из одного из статусов from в processing. Возвращает ErrAlreadyClaimed,
	// если запись уже не в допустимом исходном статусе.
	Claim(ctx context.Context, webhookID string, from ...Status) error

	// MarkCompleted завершает обработку без события (валидный no-op,
	// например неподдерживаемый под-топик).
	MarkCompleted(ctx context.Context, webhookID string, processedAt time.Time) error

	// CompleteWithOutbox атомарно фиксирует completed и вставляет запись
	// outbox в одной транзакции. Сбой между ними невозможен — это ключевое
	// свойство корректности пайплайна.
	CompleteWithOutbox(ctx context.Context, webhookID string, record *outbox.Record, processedAt time.Time) error

	// MarkFailed фиксирует неуспешную попытку: текст ошибки, счётчик,
	// время следующей попытки. dead=true переводит запись в dead_letter.
	MarkFailed(ctx context.Context, webhookID, errMsg string, retryCount int, nextRetryAt *time.Time, dead bool) error

	// FindRetryable возвращает записи, готовые к повторной обработке:
	// status failed или pending (replay из dead_letter) с назначенным
	// next_retry_at не в будущем. Старые — первыми.
	FindRetryable(ctx context.Context, now time.Time, limit int) ([]*Entry, error)

	// === Dead letter ===

	// ListDeadLetters возвращает страницу записей dead_letter, свежие — первыми.
	ListDeadLetters(ctx context.Context, limit, offset int) ([]*Entry, error)

	// ListDeadLettersByTopic возвращает страницу записей dead_letter по топику.
	ListDeadLettersByTopic(ctx context.Context, topic string, limit, offset int) ([]*Entry, error)

	// SearchDeadLetters ищет записи dead_letter по подстроке текста ошибки.
	SearchDeadLetters(ctx context.Context, errorSubstring string, limit, offset int) ([]*Entry, error)

	// DeadLetterStats возвращает агрегированную статистику dead_letter.
	DeadLetterStats(ctx context.Context) (*DeadLetterStats, error)

	// ReplayDeadLetter возвращает запись dead_letter в обработку:
	// status=pending, retry_count=0, error_message=NULL, next_retry_at=now.
	ReplayDeadLetter(ctx context.Context, id string) error

	// DeleteDeadLetter навсегда удаляет разобранную запись dead_letter.
	DeleteDeadLetter(ctx context.Context, id string) error

	// DeleteDeadLettersOlderThan удаляет записи dead_letter старше указанной даты.
	// Возвращает количество удалённых записей.
	DeleteDeadLettersOlderThan(ctx context.Context, before time.Time) (int64, error)

	// ExportDeadLetters возвращает ограниченный набор записей для offline-анализа.
	ExportDeadLetters(ctx context.Context, limit int) ([]*Entry, error)
}

// ledgerRepository — GORM реализация LedgerRepository.
type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository создаёт новый репозиторий webhook ledger.
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

// Create регистрирует новую доставку в ledger.
func (r *ledgerRepository) Create(ctx context.Context, entry *Entry) error {
	model, err := modelFromEntry(entry)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		// Уникальный индекс webhook_id закрывает гонку конкурентных
		// повторных доставок (MySQL error 1062).
		if isDuplicateKeyError(err) {
			return ErrDuplicateDelivery
		}
		return err
	}

	entry.CreatedAt = model.CreatedAt
	return nil
}

// GetByWebhookID возвращает запись по ID доставки.
func (r *ledgerRepository) GetByWebhookID(ctx context.Context, webhookID string) (*Entry, error) {
	var model EntryModel

	if err := r.db.WithContext(ctx).Where("webhook_id = ?", webhookID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// Claim атомарно захватывает запись под обработку (claim before process).
// Conditional UPDATE гарантирует, что запись достанется ровно одному
// обработчику: конкурент увидит RowsAffected=0.
func (r *ledgerRepository) Claim(ctx context.Context, webhookID string, from ...Status) error {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	result := r.db.WithContext(ctx).Model(&EntryModel{}).
		Where("webhook_id = ? AND status IN ?", webhookID, statuses).
		Update("status", string(StatusProcessing))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

// MarkCompleted завершает обработку без события.
func (r *ledgerRepository) MarkCompleted(ctx context.Context, webhookID string, processedAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&EntryModel{}).
		Where("webhook_id = ?", webhookID).
		Updates(map[string]any{
			"status":        string(StatusCompleted),
			"processed_at":  processedAt,
			"next_retry_at": nil,
			"error_message": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// CompleteWithOutbox атомарно фиксирует completed и вставляет запись outbox.
func (r *ledgerRepository) CompleteWithOutbox(ctx context.Context, webhookID string, record *outbox.Record, processedAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&EntryModel{}).
			Where("webhook_id = ?", webhookID).
			Updates(map[string]any{
				"status":        string(StatusCompleted),
				"processed_at":  processedAt,
				"next_retry_at": nil,
				"error_message": nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrEntryNotFound
		}

		if err := tx.Create(outbox.ModelFromRecord(record)).Error; err != nil {
			return err
		}

		return nil
	})
}

// MarkFailed фиксирует неуспешную попытку обработки.
func (r *ledgerRepository) MarkFailed(ctx context.Context, webhookID, errMsg string, retryCount int, nextRetryAt *time.Time, dead bool) error {
	status := string(StatusFailed)
	if dead {
		status = string(StatusDeadLetter)
		// Из dead_letter автоматических повторов нет.
		nextRetryAt = nil
	}

	now := time.Now()
	result := r.db.WithContext(ctx).Model(&EntryModel{}).
		Where("webhook_id = ?", webhookID).
		Updates(map[string]any{
			"status":        status,
			"error_message": errMsg,
			"retry_count":   retryCount,
			"last_retry_at": now,
			"next_retry_at": nextRetryAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// FindRetryable возвращает записи, готовые к повторной обработке.
// Помимо failed сюда попадают pending записи с назначенным next_retry_at —
// так возвращаются replay-записи из dead_letter. Свежие записи приёма
// имеют next_retry_at = NULL и под выборку не попадают.
func (r *ledgerRepository) FindRetryable(ctx context.Context, now time.Time, limit int) ([]*Entry, error) {
	var models []EntryModel

	if err := r.db.WithContext(ctx).
		Where("status IN ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?",
			[]string{string(StatusFailed), string(StatusPending)}, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	return entriesFromModels(models), nil
}

// ListDeadLetters возвращает страницу записей dead_letter.
func (r *ledgerRepository) ListDeadLetters(ctx context.Context, limit, offset int) ([]*Entry, error) {
	var models []EntryModel

	if err := r.db.WithContext(ctx).
		Where("status = ?", string(StatusDeadLetter)).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error; err != nil {
		return nil, err
	}

	return entriesFromModels(models), nil
}

// ListDeadLettersByTopic возвращает страницу записей dead_letter по топику.
func (r *ledgerRepository) ListDeadLettersByTopic(ctx context.Context, topic string, limit, offset int) ([]*Entry, error) {
	var models []EntryModel

	if err := r.db.WithContext(ctx).
		Where("status = ? AND topic = ?", string(StatusDeadLetter), topic).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error; err != nil {
		return nil, err
	}

	return entriesFromModels(models), nil
}

// SearchDeadLetters ищет записи dead_letter по подстроке текста ошибки.
func (r *ledgerRepository) SearchDeadLetters(ctx context.Context, errorSubstring string, limit, offset int) ([]*Entry, error) {
	var models []EntryModel

	if err := r.db.WithContext(ctx).
		Where("status = ? AND error_message LIKE ?", string(StatusDeadLetter), "%"+errorSubstring+"%").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error; err != nil {
		return nil, err
	}

	return entriesFromModels(models), nil
}

// DeadLetterStats возвращает агрегированную статистику dead_letter.
func (r *ledgerRepository) DeadLetterStats(ctx context.Context) (*DeadLetterStats, error) {
	stats := &DeadLetterStats{
		ByTopic: make(map[string]int64),
		ByError: make(map[string]int64),
	}

	// Группировка по топикам
	type topicCount struct {
		Topic string
		Count int64
	}
	var byTopic []topicCount
	if err := r.db.WithContext(ctx).Model(&EntryModel{}).
		Select("topic, COUNT(*) as count").
		Where("status = ?", string(StatusDeadLetter)).
		Group("topic").
		Scan(&byTopic).Error; err != nil {
		return nil, err
	}
	for _, tc := range byTopic {
		stats.ByTopic[tc.Topic] = tc.Count
		stats.Total += tc.Count
	}

	// Группировка по усечённым текстам ошибок
	type errCount struct {
		Err   string
		Count int64
	}
	var byErr []errCount
	if err := r.db.WithContext(ctx).Model(&EntryModel{}).
		Select("LEFT(COALESCE(error_message, ''), ?) as err, COUNT(*) as count", errTruncateLen).
		Where("status = ?", string(StatusDeadLetter)).
		Group("err").
		Scan(&byErr).Error; err != nil {
		return nil, err
	}
	for _, ec := range byErr {
		stats.ByError[ec.Err] = ec.Count
	}

	// Крайние timestamps
	type bounds struct {
		Oldest *time.Time
		Newest *time.Time
	}
	var b bounds
	if err := r.db.WithContext(ctx).Model(&EntryModel{}).
		Select("MIN(created_at) as oldest, MAX(created_at) as newest").
		Where("status = ?", string(StatusDeadLetter)).
		Scan(&b).Error; err != nil {
		return nil, err
	}
	stats.Oldest = b.Oldest
	stats.Newest = b.Newest

	return stats, nil
}

// ReplayDeadLetter возвращает запись dead_letter в обработку.
func (r *ledgerRepository) ReplayDeadLetter(ctx context.Context, id string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&EntryModel{}).
		Where("id = ? AND status = ?", id, string(StatusDeadLetter)).
		Updates(map[string]any{
			"status":        string(StatusPending),
			"retry_count":   0,
			"error_message": nil,
			"next_retry_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotDeadLetter
	}
	return nil
}

// DeleteDeadLetter навсегда удаляет запись dead_letter.
func (r *ledgerRepository) DeleteDeadLetter(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, string(StatusDeadLetter)).
		Delete(&EntryModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotDeadLetter
	}
	return nil
}

// DeleteDeadLettersOlderThan удаляет записи dead_letter старше указанной даты.
func (r *ledgerRepository) DeleteDeadLettersOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(StatusDeadLetter), before).
		Delete(&EntryModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ExportDeadLetters возвращает ограниченный набор записей для offline-анализа.
func (r *ledgerRepository) ExportDeadLetters(ctx context.Context, limit int) ([]*Entry, error) {
	var models []EntryModel

	if err := r.db.WithContext(ctx).
		Where("status = ?", string(StatusDeadLetter)).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	return entriesFromModels(models), nil
}

// entriesFromModels конвертирует срез моделей в доменные сущности.
func entriesFromModels(models []EntryModel) []*Entry {
	result := make([]*Entry, len(models))
	for i := range models {
		result[i] = models[i].toDomain()
	}
	return result
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа.
// MySQL возвращает ошибку с кодом 1062 при попытке вставить дубликат.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	// GORM v2 имеет ErrDuplicatedKey, также проверяем текст ошибки MySQL
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
