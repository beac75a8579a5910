package domain

import "time"

// OrderStatus описывает жизненный цикл заказа на самовывоз.
type OrderStatus string

const (
	// OrderStatusOrdered — заказ оформлен покупателем и ждёт подтверждения магазина.
	OrderStatusOrdered OrderStatus = "ordered"
	// OrderStatusReceived — магазин принял заказ в работу.
	OrderStatusReceived OrderStatus = "received"
	// OrderStatusPreparing — заказ готовится.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusPickedUp — покупатель забрал заказ; терминальный статус.
	OrderStatusPickedUp OrderStatus = "picked_up"
	// OrderStatusCanceled — заказ отменён до выдачи; терминальный статус.
	OrderStatusCanceled OrderStatus = "canceled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusOrdered, OrderStatusReceived, OrderStatusPreparing,
		OrderStatusPickedUp, OrderStatusCanceled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, завершён ли жизненный цикл заказа.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusPickedUp || s == OrderStatusCanceled
}

// CanTransitionTo проверяет допустимость перехода статуса оператором магазина.
// Отмена разрешена из любого нетерминального статуса.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if !next.Valid() || s.Terminal() {
		return false
	}
	if next == OrderStatusCanceled {
		return true
	}
	switch s {
	case OrderStatusOrdered:
		return next == OrderStatusReceived
	case OrderStatusReceived:
		return next == OrderStatusPreparing
	case OrderStatusPreparing:
		return next == OrderStatusPickedUp
	default:
		return false
	}
}

// OptionSelection — выбранная позиция внутри группы опций блюда.
type OptionSelection struct {
	// Group — название группы опций (например, размер или добавки).
	Group string
	// Name — название выбранной опции.
	Name string
	// Price — доплата за опцию в вонах; может быть нулевой.
	Price int64
}

// OrderItem представляет одну позицию заказа со всеми выбранными опциями.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// Name — название блюда на момент заказа.
	Name string
	// Price — базовая цена за единицу в вонах.
	Price int64
	// Qty — количество единиц.
	Qty int32
	// Options — выбранные опции; доплаты входят в стоимость единицы.
	Options []OptionSelection
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// UnitPrice возвращает стоимость одной единицы с учётом опций.
func (i OrderItem) UnitPrice() int64 {
	price := i.Price
	for _, opt := range i.Options {
		price += opt.Price
	}
	return price
}

// Order агрегирует состояние заказа, его позиции и выданный номер.
type Order struct {
	ID      string
	StoreID string
	UserID  string
	// Number — номер вида YYYYMMDD-NNNNNN, выдаётся атомарно при создании.
	Number string
	// Seq — порядковая часть номера; непрерывна в пределах (магазин, день).
	Seq         int64
	Status      OrderStatus
	Items       []OrderItem
	TotalPrice  int64
	RequestNote string
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.StoreID == "" {
		errs = append(errs, ErrStoreIDRequired)
	}
	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalPrice < 0 {
		errs = append(errs, ErrTotalNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * (цена + опции).
	var calc int64
	for _, item := range o.Items {
		if item.Name == "" {
			errs = append(errs, ErrItemNameRequired)
		}
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		for _, opt := range item.Options {
			if opt.Price < 0 {
				errs = append(errs, ErrOptionPriceInvalid)
			}
		}
		calc += int64(item.Qty) * item.UnitPrice()
	}
	if calc != o.TotalPrice {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}
