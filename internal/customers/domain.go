package customers

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the customers package.
var (
	ErrNotFound       = errors.New("customers: customer not found")
	ErrDuplicatePhone = errors.New("customers: phone already registered")
	ErrDeleteBlocked  = errors.New("customers: delete blocked")
)

// Customer represents a customer master data record.
type Customer struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone"`
	Email     string     `json:"email"`
	Address   string     `json:"address"`
	Notes     string     `json:"notes"`
	IsActive  bool       `json:"is_active"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedBy int64      `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ListFilters represents standard list page filters.
type ListFilters struct {
	Page    int
	PerPage int
	Search  string
}

// RepositoryPort defines data access methods for customers.
type RepositoryPort interface {
	List(ctx context.Context, filters ListFilters) ([]Customer, int, error)
	Get(ctx context.Context, id int64) (Customer, error)
	Create(ctx context.Context, customer Customer) (Customer, error)
	Update(ctx context.Context, id int64, customer Customer) error
	SoftDelete(ctx context.Context, id int64, at time.Time) error
}
