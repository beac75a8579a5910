package domain

import "time"

// StatusEvent описывает смену статуса в жизненном цикле заказа.
type StatusEvent struct {
	OrderID string
	Status  OrderStatus
	// Reason — произвольный комментарий оператора (например, причина отмены).
	Reason   string
	Occurred time.Time
}
