package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/foodalley/orders/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	// submitMaxAttempts — бюджет прозрачных повторов транзакции нумерации.
	// После исчерпания наружу уходит domain.ErrOrderConflict.
	submitMaxAttempts = 3
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// Submit выдаёт номер и сохраняет заказ в одной транзакции.
//
// Счётчик магазина блокируется через SELECT ... FOR UPDATE, поэтому
// конкурирующие оформления одного магазина сериализуются базой; при
// deadlock/serialization ошибке транзакция перечитывает счётчик заново —
// вычисленный seq никогда не переживает неудавшийся commit.
func (r *orderRepository) Submit(day string, order domain.Order) (domain.Order, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	// id позиции — первичный ключ order_items; пустой id у второй позиции
	// уронил бы вставку внутри собственной же транзакции.
	items := make([]domain.OrderItem, len(order.Items))
	for i, item := range order.Items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = order.CreatedAt
		}
		items[i] = item
	}
	order.Items = items

	var lastErr error
	for attempt := 1; attempt <= submitMaxAttempts; attempt++ {
		submitted, err := r.submitOnce(day, order)
		if err == nil {
			return submitted, nil
		}
		if !isRetryableTxError(err) {
			return domain.Order{}, err
		}
		lastErr = err
	}

	return domain.Order{}, fmt.Errorf("%w: %v", domain.ErrOrderConflict, lastErr)
}

func (r *orderRepository) submitOnce(day string, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Гарантируем наличие строки счётчика: конкурирующая вставка того же
	// магазина блокируется до commit первой, поэтому FOR UPDATE ниже
	// всегда находит и захватывает одну и ту же строку.
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO order_counters (store_id, day, seq)
		VALUES ($1, '', 0)
		ON CONFLICT (store_id) DO NOTHING
	`, order.StoreID); err != nil {
		return domain.Order{}, fmt.Errorf("ensure counter row: %w", err)
	}

	counter := domain.OrderCounter{StoreID: order.StoreID}
	if err = tx.QueryRowContext(ctx, `
		SELECT day, seq
		FROM order_counters
		WHERE store_id = $1
		FOR UPDATE
	`, order.StoreID).Scan(&counter.Day, &counter.Seq); err != nil {
		return domain.Order{}, fmt.Errorf("lock counter row: %w", err)
	}

	next := counter.Next(day)
	order.Seq = next.Seq
	order.Number = domain.FormatOrderNumber(day, next.Seq)

	// Полная перезапись обоих полей, не инкремент: смена дня обязана
	// сбрасывать последовательность.
	if _, err = tx.ExecContext(ctx, `
		UPDATE order_counters
		SET day = $1, seq = $2
		WHERE store_id = $3
	`, next.Day, next.Seq, order.StoreID); err != nil {
		return domain.Order{}, fmt.Errorf("advance counter: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, store_id, user_id, order_no, seq, status,
			total_price, request_note, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		order.ID, order.StoreID, order.UserID, order.Number, order.Seq,
		string(order.Status), order.TotalPrice, order.RequestNote,
		order.Version, order.CreatedAt, order.UpdatedAt,
	); err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, name, price, qty, created_at
			) VALUES ($1,$2,$3,$4,$5,$6)
		`,
			item.ID, order.ID, item.Name, item.Price, item.Qty, item.CreatedAt,
		); err != nil {
			return domain.Order{}, fmt.Errorf("insert order item: %w", err)
		}

		for ordinal, opt := range item.Options {
			if _, err = tx.ExecContext(ctx, `
				INSERT INTO order_item_options (
					item_id, ordinal, group_name, name, price
				) VALUES ($1,$2,$3,$4,$5)
			`,
				item.ID, ordinal, opt.Group, opt.Name, opt.Price,
			); err != nil {
				return domain.Order{}, fmt.Errorf("insert item option: %w", err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit submit order: %w", err)
	}
	committed = true

	return order, nil
}

func (r *orderRepository) Get(storeID, orderID string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := r.scanOrder(r.db.QueryRowContext(ctx, `
		SELECT id, store_id, user_id, order_no, seq, status,
		       total_price, request_note, version, created_at, updated_at
		FROM orders
		WHERE store_id = $1 AND id = $2
	`, storeID, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, err
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) ListByStore(storeID string, limit int) ([]domain.Order, error) {
	return r.list(`
		SELECT id, store_id, user_id, order_no, seq, status,
		       total_price, request_note, version, created_at, updated_at
		FROM orders
		WHERE store_id = $1
		ORDER BY created_at DESC, order_no DESC
	`, storeID, limit)
}

func (r *orderRepository) ListByUser(userID string, limit int) ([]domain.Order, error) {
	return r.list(`
		SELECT id, store_id, user_id, order_no, seq, status,
		       total_price, request_note, version, created_at, updated_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, order_no DESC
	`, userID, limit)
}

func (r *orderRepository) list(query, key string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", key, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, key)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := r.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

func (r *orderRepository) UpdateStatus(storeID, orderID string, status domain.OrderStatus, version int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    version = version + 1,
		    updated_at = $2
		WHERE store_id = $3
		  AND id = $4
		  AND version = $5
	`, string(status), time.Now().UTC(), storeID, orderID, version)
	if err != nil {
		return domain.Order{}, fmt.Errorf("update order status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := r.Get(storeID, orderID); errors.Is(getErr, domain.ErrOrderNotFound) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, domain.ErrOrderConflict
	}

	return r.Get(storeID, orderID)
}

func (r *orderRepository) Counter(storeID string) (domain.OrderCounter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	counter := domain.OrderCounter{StoreID: storeID}
	err := r.db.QueryRowContext(ctx, `
		SELECT day, seq
		FROM order_counters
		WHERE store_id = $1
	`, storeID).Scan(&counter.Day, &counter.Seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OrderCounter{StoreID: storeID}, nil
		}
		return domain.OrderCounter{}, fmt.Errorf("select counter: %w", err)
	}

	return counter, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *orderRepository) scanOrder(row rowScanner) (domain.Order, error) {
	var order domain.Order
	var status string
	if err := row.Scan(
		&order.ID, &order.StoreID, &order.UserID, &order.Number, &order.Seq,
		&status, &order.TotalPrice, &order.RequestNote, &order.Version,
		&order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("scan order row: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	return order, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, price, qty, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	index := make(map[string]int)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Price, &item.Qty, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		index[item.ID] = len(items)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	optRows, err := r.db.QueryContext(ctx, `
		SELECT o.item_id, o.group_name, o.name, o.price
		FROM order_item_options o
		JOIN order_items i ON i.id = o.item_id
		WHERE i.order_id = $1
		ORDER BY o.item_id, o.ordinal
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load item options: %w", err)
	}
	defer optRows.Close()

	for optRows.Next() {
		var itemID string
		var opt domain.OptionSelection
		if err := optRows.Scan(&itemID, &opt.Group, &opt.Name, &opt.Price); err != nil {
			return nil, fmt.Errorf("scan item option: %w", err)
		}
		if i, ok := index[itemID]; ok {
			items[i].Options = append(items[i].Options, opt)
		}
	}
	if err := optRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item options: %w", err)
	}

	return items, nil
}

// isRetryableTxError распознаёт конфликты, после которых транзакцию
// нумерации безопасно перезапустить с чистого чтения: serialization
// failure и deadlock. Нарушение уникальности сюда не входит: счётчик
// заблокирован FOR UPDATE, одинаковый seq дважды не вычисляется, и
// 23505 означает ошибку данных, а не состязание транзакций.
func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
