package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foodalley/orders/internal/domain"
)

type storeRepository struct {
	db *sql.DB
}

// NewStoreRepository создаёт PostgreSQL-реализацию StoreRepository.
func NewStoreRepository(store *Store) domain.StoreRepository {
	return &storeRepository{db: store.DB()}
}

func (r *storeRepository) Create(store domain.Store) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if store.ID == "" {
		store.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if store.CreatedAt.IsZero() {
		store.CreatedAt = now
	}
	if store.UpdatedAt.IsZero() {
		store.UpdatedAt = now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stores (id, name, phone, address, open, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, store.ID, store.Name, store.Phone, store.Address, store.Open, store.CreatedAt, store.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrStoreAlreadyExists
		}
		return fmt.Errorf("insert store: %w", err)
	}

	return nil
}

func (r *storeRepository) Get(id string) (domain.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var store domain.Store
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, phone, address, open, created_at, updated_at
		FROM stores
		WHERE id = $1
	`, id).Scan(&store.ID, &store.Name, &store.Phone, &store.Address, &store.Open, &store.CreatedAt, &store.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Store{}, domain.ErrStoreNotFound
		}
		return domain.Store{}, fmt.Errorf("query store: %w", err)
	}

	return store, nil
}

func (r *storeRepository) List(limit int) ([]domain.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, phone, address, open, created_at, updated_at
		FROM stores
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query stores: %w", err)
	}
	defer rows.Close()

	stores := make([]domain.Store, 0, limit)
	for rows.Next() {
		var store domain.Store
		if err := rows.Scan(&store.ID, &store.Name, &store.Phone, &store.Address, &store.Open, &store.CreatedAt, &store.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		stores = append(stores, store)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stores: %w", err)
	}

	return stores, nil
}

func (r *storeRepository) Save(store domain.Store) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	store.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE stores
		SET name = $2, phone = $3, address = $4, open = $5, updated_at = $6
		WHERE id = $1
	`, store.ID, store.Name, store.Phone, store.Address, store.Open, store.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update store: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update store rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrStoreNotFound
	}

	return nil
}

var _ domain.StoreRepository = (*storeRepository)(nil)
