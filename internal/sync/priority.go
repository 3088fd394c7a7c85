// Package sync реализует модель приоритетов синхронизации с платформой:
// очередь работ, упорядоченную по бизнес-приоритету типа данных,
// и контроль SLA-окон для алертинга.
package sync

import "time"

// Type — тип синхронизируемых данных.
type Type string

const (
	TypePrice    Type = "price"
	TypeStock    Type = "stock"
	TypeProduct  Type = "product"
	TypeCategory Type = "category"
	TypeImage    Type = "image"
)

// Valid проверяет, что тип синхронизации поддерживается.
func (t Type) Valid() bool {
	switch t {
	case TypePrice, TypeStock, TypeProduct, TypeCategory, TypeImage:
		return true
	}
	return false
}

// profile — приоритет и SLA-окно одного типа синхронизации.
type profile struct {
	rank int           // 1 — наивысший приоритет
	sla  time.Duration // Окно, в которое работа должна быть завершена
}

// Цены и остатки критичны для продаж, поэтому идут первыми.
// Картинки терпят час.
var profiles = map[Type]profile{
	TypePrice:    {rank: 1, sla: 2 * time.Minute},
	TypeStock:    {rank: 2, sla: 5 * time.Minute},
	TypeProduct:  {rank: 3, sla: 15 * time.Minute},
	TypeCategory: {rank: 4, sla: 30 * time.Minute},
	TypeImage:    {rank: 5, sla: 60 * time.Minute},
}

// lowestRank — ранг для неизвестных типов: обрабатываются последними.
const lowestRank = 100

// Rank возвращает приоритет типа (1 — наивысший).
func (t Type) Rank() int {
	if p, ok := profiles[t]; ok {
		return p.rank
	}
	return lowestRank
}

// SLA возвращает SLA-окно типа.
func (t Type) SLA() time.Duration {
	if p, ok := profiles[t]; ok {
		return p.sla
	}
	return profiles[TypeImage].sla
}

// OrderedTypes возвращает типы в порядке убывания приоритета.
// Порядок используется в SQL-сортировке очереди работ.
func OrderedTypes() []Type {
	return []Type{TypePrice, TypeStock, TypeProduct, TypeCategory, TypeImage}
}

// IsBreachingSLA возвращает true, если незавершённая работа находится
// в очереди дольше SLA-окна своего типа. Используется только для
// наблюдаемости, на порядок обработки не влияет.
func IsBreachingSLA(item *WorkItem, now time.Time) bool {
	if item.Status == StatusCompleted {
		return false
	}
	return now.Sub(item.CreatedAt) > item.SyncType.SLA()
}
