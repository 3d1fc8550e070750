package customers

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const customerColumns = `id, name, phone, email, address, notes, is_active,
deleted_at, created_by, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for customers.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns active customers matching the filters plus a total count.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Customer, int, error) {
	if filters.PerPage <= 0 {
		filters.PerPage = 20
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	search := "%" + filters.Search + "%"

	var total int
	err := r.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM customers
WHERE deleted_at IS NULL AND (name ILIKE $1 OR phone ILIKE $1)`, search).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+customerColumns+` FROM customers
WHERE deleted_at IS NULL AND (name ILIKE $1 OR phone ILIKE $1)
ORDER BY name, id
LIMIT $2 OFFSET $3`, search, filters.PerPage, (filters.Page-1)*filters.PerPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// Get loads one customer by id.
func (r *Repository) Get(ctx context.Context, id int64) (Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1 AND deleted_at IS NULL`, id))
}

// Create inserts a customer and returns it with generated fields.
func (r *Repository) Create(ctx context.Context, customer Customer) (Customer, error) {
	err := r.pool.QueryRow(ctx, `
INSERT INTO customers (name, phone, email, address, notes, is_active, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
		customer.Name, customer.Phone, customer.Email, customer.Address, customer.Notes,
		customer.IsActive, customer.CreatedBy, customer.CreatedAt, customer.UpdatedAt).Scan(&customer.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Customer{}, ErrDuplicatePhone
		}
		return Customer{}, err
	}
	return customer, nil
}

// Update rewrites the editable fields of a customer.
func (r *Repository) Update(ctx context.Context, id int64, customer Customer) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE customers
SET name = $1, phone = $2, email = $3, address = $4, notes = $5, is_active = $6, updated_at = $7
WHERE id = $8 AND deleted_at IS NULL`,
		customer.Name, customer.Phone, customer.Email, customer.Address, customer.Notes,
		customer.IsActive, customer.UpdatedAt, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePhone
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete marks a customer deleted without touching the ledger.
func (r *Repository) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE customers SET deleted_at = $1, is_active = FALSE, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.Notes,
		&c.IsActive, &c.DeletedAt, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, err
	}
	return c, nil
}
