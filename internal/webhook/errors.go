package webhook

import "errors"

// Доменные ошибки пайплайна приёма webhook.
var (
	// ErrEntryNotFound возвращается, когда запись ledger не найдена.
	ErrEntryNotFound = errors.New("запись webhook ledger не найдена")

	// ErrDuplicateDelivery возвращается при вставке записи с уже существующим
	// webhook_id. Это не сбой: повторная доставка — признанный идемпотентный no-op.
	ErrDuplicateDelivery = errors.New("доставка с таким webhook_id уже зарегистрирована")

	// ErrAlreadyClaimed возвращается, когда запись уже захвачена другим
	// обработчиком (claim before process).
	ErrAlreadyClaimed = errors.New("запись уже обрабатывается другим обработчиком")

	// ErrNotDeadLetter возвращается при операции dead letter над записью
	// в другом статусе.
	ErrNotDeadLetter = errors.New("запись не находится в статусе dead_letter")

	// ErrSignatureRejected возвращается в строгом режиме при невалидной подписи.
	ErrSignatureRejected = errors.New("подпись webhook не прошла проверку")

	// ErrMalformedPayload возвращается, когда тело доставки не разбирается как JSON
	// или не содержит обязательных полей.
	ErrMalformedPayload = errors.New("некорректное тело webhook")
)
