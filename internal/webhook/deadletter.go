package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/commerce-sync/pkg/logger"
)

// defaultExportLimit — максимум записей в одной выгрузке dead_letter.
const defaultExportLimit = 1000

// BatchResult — результат одной операции в пакетном запросе.
// Пакетные операции возвращают результат по каждому id отдельно,
// частичный успех — нормальный исход.
type BatchResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// DeadLetterService — операторский сервис работы с dead_letter:
// просмотр, поиск, повторная обработка и очистка окончательно
// неуспешных доставок.
type DeadLetterService struct {
	ledger LedgerRepository
}

// NewDeadLetterService создаёт новый сервис dead_letter.
func NewDeadLetterService(ledger LedgerRepository) *DeadLetterService {
	return &DeadLetterService{ledger: ledger}
}

// List возвращает страницу записей dead_letter, свежие — первыми.
func (s *DeadLetterService) List(ctx context.Context, limit, offset int) ([]*Entry, error) {
	return s.ledger.ListDeadLetters(ctx, normalizeLimit(limit), offset)
}

// ListByTopic возвращает страницу записей dead_letter по топику.
func (s *DeadLetterService) ListByTopic(ctx context.Context, topic string, limit, offset int) ([]*Entry, error) {
	return s.ledger.ListDeadLettersByTopic(ctx, topic, normalizeLimit(limit), offset)
}

// Search ищет записи dead_letter по подстроке текста ошибки.
func (s *DeadLetterService) Search(ctx context.Context, errorSubstring string, limit, offset int) ([]*Entry, error) {
	if errorSubstring == "" {
		return nil, fmt.Errorf("пустая строка поиска")
	}
	return s.ledger.SearchDeadLetters(ctx, errorSubstring, normalizeLimit(limit), offset)
}

// Statistics возвращает агрегированную статистику dead_letter
// для операторского триажа.
func (s *DeadLetterService) Statistics(ctx context.Context) (*DeadLetterStats, error) {
	return s.ledger.DeadLetterStats(ctx)
}

// Replay возвращает запись dead_letter в обработку: статус pending,
// счётчик повторов сброшен, следующая попытка — немедленно.
// Запись подхватит планировщик повторов.
func (s *DeadLetterService) Replay(ctx context.Context, id string) error {
	log := logger.FromContext(ctx)

	if err := s.ledger.ReplayDeadLetter(ctx, id); err != nil {
		if errors.Is(err, ErrNotDeadLetter) {
			return err
		}
		return fmt.Errorf("возврат записи в обработку: %w", err)
	}

	log.Info().Str("entry_id", id).Msg("Запись dead_letter возвращена в обработку")
	return nil
}

// BatchReplay возвращает набор записей в обработку. Ошибка одной
// записи не прерывает пакет.
func (s *DeadLetterService) BatchReplay(ctx context.Context, ids []string) []BatchResult {
	results := make([]BatchResult, 0, len(ids))
	for _, id := range ids {
		r := BatchResult{ID: id, Success: true}
		if err := s.Replay(ctx, id); err != nil {
			r.Success = false
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

// Delete навсегда удаляет разобранную запись dead_letter.
func (s *DeadLetterService) Delete(ctx context.Context, id string) error {
	log := logger.FromContext(ctx)

	if err := s.ledger.DeleteDeadLetter(ctx, id); err != nil {
		if errors.Is(err, ErrNotDeadLetter) {
			return err
		}
		return fmt.Errorf("удаление записи dead_letter: %w", err)
	}

	log.Info().Str("entry_id", id).Msg("Запись dead_letter удалена")
	return nil
}

// BatchDelete удаляет набор записей. Ошибка одной записи не прерывает пакет.
func (s *DeadLetterService) BatchDelete(ctx context.Context, ids []string) []BatchResult {
	results := make([]BatchResult, 0, len(ids))
	for _, id := range ids {
		r := BatchResult{ID: id, Success: true}
		if err := s.Delete(ctx, id); err != nil {
			r.Success = false
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

// DeleteOlderThan удаляет записи dead_letter старше указанного срока.
// Возвращает количество удалённых записей.
func (s *DeadLetterService) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	log := logger.FromContext(ctx)

	deleted, err := s.ledger.DeleteDeadLettersOlderThan(ctx, time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("очистка dead_letter: %w", err)
	}

	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("age", age).Msg("Очистка старых записей dead_letter")
	}
	return deleted, nil
}

// Export возвращает записи dead_letter для offline-анализа,
// старые — первыми. Размер выгрузки ограничен.
func (s *DeadLetterService) Export(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > defaultExportLimit {
		limit = defaultExportLimit
	}
	return s.ledger.ExportDeadLetters(ctx, limit)
}

// normalizeLimit приводит limit к разумным границам постраничного вывода.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
