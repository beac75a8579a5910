package domain

import "time"

// IdempotencyStatus — этап обработки запроса с Idempotency-Key.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing: первый запрос с этим ключом ещё выполняется.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone: оформление завершилось, ответ сохранён для повтора.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed: обработка упала; повтор получит ту же ошибку.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord фиксирует исход обработки одного Idempotency-Key.
// Повторная отправка той же корзины — двойное нажатие кнопки оплаты или
// сетевой ретрай клиента — получает сохранённый ответ, а не второй
// заказ со вторым номером.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что обработка ключа закончена и сохранённый ответ
// можно отдавать на повторные запросы.
func (s IdempotencyStatus) Terminal() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// Expired сообщает, что TTL записи истёк к моменту now и её можно
// удалять из хранилища.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}
