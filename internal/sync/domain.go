package sync

import (
	"errors"
	"time"
)

// Статусы работы синхронизации. Неудачная попытка переводит работу
// в failed; повторно она разбирается, только пока attempts < max_attempts.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Статусы связки внутренней сущности с сущностью платформы.
type MappingStatus string

const (
	MappingInSync    MappingStatus = "in_sync"
	MappingOutOfSync MappingStatus = "out_of_sync"
	MappingError     MappingStatus = "error"
)

var (
	// ErrWorkItemNotFound — работа не найдена.
	ErrWorkItemNotFound = errors.New("работа синхронизации не найдена")

	// ErrMappingNotFound — связка не найдена.
	ErrMappingNotFound = errors.New("связка сущностей не найдена")

	// ErrAlreadySyncing — работа уже захвачена другим воркером.
	ErrAlreadySyncing = errors.New("работа уже выполняется")
)

// WorkItem — единица отложенной работы по выталкиванию данных
// на платформу. Очередь работ разбирается в порядке приоритета типа.
type WorkItem struct {
	ID           string
	SyncType     Type
	EntityID     string // Внутренний ID сущности, которую выталкиваем
	Payload      map[string]any
	Status       Status
	Attempts     int
	MaxAttempts  int
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastAttempt  *time.Time
	CompletedAt  *time.Time
}

// Mapping — связка внутренней сущности с её представлением на платформе.
// Хранит внешний ID и состояние синхронизации.
type Mapping struct {
	ID           string
	EntityType   string // product / category / order / customer
	InternalID   string
	ExternalID   string
	Status       MappingStatus
	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
