package domain

import "time"

// Store — карточка магазина в каталоге.
type Store struct {
	ID      string
	Name    string
	Phone   string
	Address string
	// Open показывает, принимает ли магазин заказы прямо сейчас.
	Open      bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет обязательные поля карточки.
func (s *Store) ValidateInvariants() []error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, ErrStoreNameRequired)
	}
	return errs
}
