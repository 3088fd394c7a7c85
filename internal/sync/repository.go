package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// WorkItemModel — GORM модель для таблицы sync_queue.
type WorkItemModel struct {
	ID           string     `gorm:"column:id;type:varchar(36);primaryKey"`
	SyncType     string     `gorm:"column:sync_type;type:varchar(20);not null;index:idx_sync_pending"`
	EntityID     string     `gorm:"column:entity_id;type:varchar(100);not null"`
	Payload      []byte     `gorm:"column:payload;type:json"`
	Status       string     `gorm:"column:status;type:varchar(20);not null;index:idx_sync_pending"`
	Attempts     int        `gorm:"column:attempts;not null;default:0"`
	MaxAttempts  int        `gorm:"column:max_attempts;not null"`
	ErrorMessage *string    `gorm:"column:error_message;type:text"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	LastAttempt  *time.Time `gorm:"column:last_attempt"`
	CompletedAt  *time.Time `gorm:"column:completed_at"`
}

// TableName возвращает имя таблицы в БД.
func (WorkItemModel) TableName() string {
	return "sync_queue"
}

func (m *WorkItemModel) toDomain() *WorkItem {
	item := &WorkItem{
		ID:           m.ID,
		SyncType:     Type(m.SyncType),
		EntityID:     m.EntityID,
		Status:       Status(m.Status),
		Attempts:     m.Attempts,
		MaxAttempts:  m.MaxAttempts,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		LastAttempt:  m.LastAttempt,
		CompletedAt:  m.CompletedAt,
	}
	if len(m.Payload) > 0 {
		_ = json.Unmarshal(m.Payload, &item.Payload)
	}
	return item
}

func modelFromWorkItem(item *WorkItem) (*WorkItemModel, error) {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return nil, err
	}
	return &WorkItemModel{
		ID:           item.ID,
		SyncType:     string(item.SyncType),
		EntityID:     item.EntityID,
		Payload:      payload,
		Status:       string(item.Status),
		Attempts:     item.Attempts,
		MaxAttempts:  item.MaxAttempts,
		ErrorMessage: item.ErrorMessage,
		LastAttempt:  item.LastAttempt,
		CompletedAt:  item.CompletedAt,
	}, nil
}

// MappingModel — GORM модель для таблицы entity_mappings.
type MappingModel struct {
	ID           string     `gorm:"column:id;type:varchar(36);primaryKey"`
	EntityType   string     `gorm:"column:entity_type;type:varchar(20);not null;uniqueIndex:idx_mapping_entity"`
	InternalID   string     `gorm:"column:internal_id;type:varchar(100);not null;uniqueIndex:idx_mapping_entity"`
	ExternalID   string     `gorm:"column:external_id;type:varchar(100);not null;index"`
	Status       string     `gorm:"column:status;type:varchar(20);not null"`
	LastSyncedAt *time.Time `gorm:"column:last_synced_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (MappingModel) TableName() string {
	return "entity_mappings"
}

func (m *MappingModel) toDomain() *Mapping {
	return &Mapping{
		ID:           m.ID,
		EntityType:   m.EntityType,
		InternalID:   m.InternalID,
		ExternalID:   m.ExternalID,
		Status:       MappingStatus(m.Status),
		LastSyncedAt: m.LastSyncedAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// Repository определяет методы работы с очередью синхронизации
// и связками сущностей.
type Repository interface {
	// Enqueue ставит работу в очередь синхронизации.
	Enqueue(ctx context.Context, item *WorkItem) error

	// GetPending возвращает работы, готовые к разбору, в порядке
	// бизнес-приоритета типа, внутри одного приоритета — старые первыми.
	// Кроме pending сюда попадают failed с неисчерпанными попытками.
	GetPending(ctx context.Context, limit int) ([]*WorkItem, error)

	// Claim атомарно захватывает работу: pending или failed → syncing.
	// Возвращает ErrAlreadySyncing, если работа уже захвачена.
	Claim(ctx context.Context, id string) error

	// MarkCompleted завершает работу.
	MarkCompleted(ctx context.Context, id string, completedAt time.Time) error

	// MarkFailed фиксирует неуспешную попытку: статус failed,
	// счётчик попыток и время последней попытки.
	MarkFailed(ctx context.Context, id, errMsg string, attempts int) error

	// CountPendingByType возвращает количество ожидающих работ по типам —
	// глубина очереди для метрик.
	CountPendingByType(ctx context.Context) (map[Type]int64, error)

	// FindBreaching возвращает незавершённые работы старше указанного
	// возраста по каждому типу (для SLA-алертинга).
	FindBreaching(ctx context.Context, now time.Time) ([]*WorkItem, error)

	// UpsertMapping создаёт или обновляет связку внутренней сущности
	// с сущностью платформы.
	UpsertMapping(ctx context.Context, mapping *Mapping) error

	// GetMapping возвращает связку по типу и внутреннему ID.
	GetMapping(ctx context.Context, entityType, internalID string) (*Mapping, error)

	// MarkMappingStatus обновляет состояние синхронизации связки.
	MarkMappingStatus(ctx context.Context, entityType, internalID string, status MappingStatus, syncedAt *time.Time) error
}

type syncRepository struct {
	db *gorm.DB
}

// NewRepository создаёт новый репозиторий синхронизации.
func NewRepository(db *gorm.DB) Repository {
	return &syncRepository{db: db}
}

// Enqueue ставит работу в очередь.
func (r *syncRepository) Enqueue(ctx context.Context, item *WorkItem) error {
	model, err := modelFromWorkItem(item)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("постановка работы в очередь: %w", err)
	}
	item.CreatedAt = model.CreatedAt
	return nil
}

// priorityOrderExpr — SQL-выражение сортировки по бизнес-приоритету.
// MySQL FIELD() возвращает позицию значения в списке, что даёт
// детерминированный порядок price → stock → product → category → image.
func priorityOrderExpr() string {
	types := OrderedTypes()
	quoted := make([]string, len(types))
	for i, t := range types {
		quoted[i] = "'" + string(t) + "'"
	}
	return "FIELD(sync_type, " + strings.Join(quoted, ", ") + "), created_at ASC"
}

// GetPending возвращает готовые к разбору работы в порядке приоритета:
// pending плюс failed, пока попытки не исчерпаны.
func (r *syncRepository) GetPending(ctx context.Context, limit int) ([]*WorkItem, error) {
	var models []WorkItemModel

	if err := r.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND attempts < max_attempts)",
			string(StatusPending), string(StatusFailed)).
		Order(priorityOrderExpr()).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	items := make([]*WorkItem, len(models))
	for i := range models {
		items[i] = models[i].toDomain()
	}
	return items, nil
}

// Claim атомарно захватывает работу под выполнение.
func (r *syncRepository) Claim(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&WorkItemModel{}).
		Where("id = ? AND status IN ?", id, []string{string(StatusPending), string(StatusFailed)}).
		Update("status", string(StatusSyncing))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadySyncing
	}
	return nil
}

// MarkCompleted завершает работу.
func (r *syncRepository) MarkCompleted(ctx context.Context, id string, completedAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&WorkItemModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(StatusCompleted),
			"completed_at":  completedAt,
			"error_message": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWorkItemNotFound
	}
	return nil
}

// MarkFailed фиксирует неуспешную попытку.
func (r *syncRepository) MarkFailed(ctx context.Context, id, errMsg string, attempts int) error {
	result := r.db.WithContext(ctx).Model(&WorkItemModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(StatusFailed),
			"error_message": errMsg,
			"attempts":      attempts,
			"last_attempt":  time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWorkItemNotFound
	}
	return nil
}

// CountPendingByType возвращает глубину очереди по типам.
func (r *syncRepository) CountPendingByType(ctx context.Context) (map[Type]int64, error) {
	type row struct {
		SyncType string
		Count    int64
	}
	var rows []row

	if err := r.db.WithContext(ctx).Model(&WorkItemModel{}).
		Select("sync_type, COUNT(*) as count").
		Where("status = ?", string(StatusPending)).
		Group("sync_type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[Type]int64, len(rows))
	for _, rw := range rows {
		counts[Type(rw.SyncType)] = rw.Count
	}
	return counts, nil
}

// FindBreaching возвращает незавершённые работы, нарушающие SLA своего типа.
// SLA-окна разные, поэтому выбираем кандидатов по самому широкому окну
// и фильтруем точно в памяти.
func (r *syncRepository) FindBreaching(ctx context.Context, now time.Time) ([]*WorkItem, error) {
	var models []WorkItemModel

	// Кандидаты — всё старше самого узкого SLA-окна (price);
	// точная проверка окна каждого типа делается в памяти.
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]string{string(StatusPending), string(StatusSyncing), string(StatusFailed)},
			now.Add(-TypePrice.SLA())).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	var breaching []*WorkItem
	for i := range models {
		item := models[i].toDomain()
		if IsBreachingSLA(item, now) {
			breaching = append(breaching, item)
		}
	}
	return breaching, nil
}

// UpsertMapping создаёт или обновляет связку сущностей.
func (r *syncRepository) UpsertMapping(ctx context.Context, mapping *Mapping) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing MappingModel
		err := tx.Where("entity_type = ? AND internal_id = ?", mapping.EntityType, mapping.InternalID).
			First(&existing).Error

		switch {
		case err == nil:
			return tx.Model(&existing).Updates(map[string]any{
				"external_id":    mapping.ExternalID,
				"status":         string(mapping.Status),
				"last_synced_at": mapping.LastSyncedAt,
			}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&MappingModel{
				ID:           mapping.ID,
				EntityType:   mapping.EntityType,
				InternalID:   mapping.InternalID,
				ExternalID:   mapping.ExternalID,
				Status:       string(mapping.Status),
				LastSyncedAt: mapping.LastSyncedAt,
			}).Error
		default:
			return err
		}
	})
}

// GetMapping возвращает связку по типу и внутреннему ID.
func (r *syncRepository) GetMapping(ctx context.Context, entityType, internalID string) (*Mapping, error) {
	var model MappingModel

	if err := r.db.WithContext(ctx).
		Where("entity_type = ? AND internal_id = ?", entityType, internalID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMappingNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// MarkMappingStatus обновляет состояние синхронизации связки.
func (r *syncRepository) MarkMappingStatus(ctx context.Context, entityType, internalID string, status MappingStatus, syncedAt *time.Time) error {
	updates := map[string]any{"status": string(status)}
	if syncedAt != nil {
		updates["last_synced_at"] = *syncedAt
	}

	result := r.db.WithContext(ctx).Model(&MappingModel{}).
		Where("entity_type = ? AND internal_id = ?", entityType, internalID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMappingNotFound
	}
	return nil
}
