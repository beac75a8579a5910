package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора магазина.
	ErrStoreIDRequired = errors.New("store_id is required")
	// Ошибка отсутствующего идентификатора покупателя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной итоговой суммы заказа.
	ErrTotalNegative = errors.New("total_price must be non-negative")
	// Ошибка отсутствующего названия позиции.
	ErrItemNameRequired = errors.New("item name is required")
	// Ошибка при некорректном количестве (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка, если доплата за опцию отрицательная.
	ErrOptionPriceInvalid = errors.New("option price must be non-negative")
	// Ошибка несоответствия итоговой суммы и сумм позиций.
	ErrTotalMismatch = errors.New("total_price does not match items sum")
	// Ошибка некорректного статуса заказа.
	ErrStatusInvalid = errors.New("order status is not supported")
	// Ошибка недопустимого перехода статуса.
	ErrStatusTransition = errors.New("order status transition is not allowed")
	// Ошибка отсутствующего названия магазина.
	ErrStoreNameRequired = errors.New("store name is required")
	// Ошибка оформления заказа в закрытом магазине.
	ErrStoreClosed = errors.New("store is not accepting orders")

	// ErrStoreNotFound возвращается, если магазин не найден в каталоге.
	ErrStoreNotFound = errors.New("store not found")
	// ErrStoreAlreadyExists сигнализирует о повторной регистрации магазина.
	ErrStoreAlreadyExists = errors.New("store already exists")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderConflict — конфликт нумерации или версий не разрешился за
	// отведённый бюджет повторов; временная ошибка, вызов можно повторить.
	ErrOrderConflict = errors.New("order submit conflict")

	// ErrIdempotencyKeyRequired — не передан idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — не вычислен хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsValidation проверяет, относится ли ошибка к нарушению инвариантов
// заказа или магазина; такие ошибки не повторяются.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrStoreIDRequired, ErrUserRequired, ErrItemsRequired,
		ErrTotalNegative, ErrItemNameRequired, ErrItemQtyInvalid,
		ErrItemPriceInvalid, ErrOptionPriceInvalid, ErrTotalMismatch,
		ErrStatusInvalid, ErrStatusTransition, ErrStoreNameRequired,
		ErrStoreClosed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict проверяет, является ли ошибка исчерпанием бюджета повторов
// транзакции нумерации.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOrderConflict)
}
