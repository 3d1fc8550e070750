package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const saleColumns = `id, number, customer_id, total_amount, amount_paid, status,
sold_at, voided, voided_at, created_by, created_at`

const paymentColumns = `id, number, customer_id, sale_id, amount, method,
received_at, voided, created_by, created_at`

// Repository provides PostgreSQL backed persistence for sales and payments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateSale inserts a sale row and returns it with generated fields.
func (r *Repository) CreateSale(ctx context.Context, sale Sale) (Sale, error) {
	err := r.pool.QueryRow(ctx, `
INSERT INTO sales (number, customer_id, total_amount, amount_paid, status, sold_at, voided, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8)
RETURNING id`,
		sale.Number, sale.CustomerID, sale.TotalAmount, sale.AmountPaid, sale.Status,
		sale.SoldAt, sale.CreatedBy, sale.CreatedAt).Scan(&sale.ID)
	if err != nil {
		return Sale{}, err
	}
	return sale, nil
}

// GetSale loads one sale by id.
func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, error) {
	var s Sale
	err := r.pool.QueryRow(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = $1`, id).Scan(
		&s.ID, &s.Number, &s.CustomerID, &s.TotalAmount, &s.AmountPaid, &s.Status,
		&s.SoldAt, &s.Voided, &s.VoidedAt, &s.CreatedBy, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrSaleNotFound
		}
		return Sale{}, err
	}
	return s, nil
}

// ListSales returns a customer's most recent sales.
func (r *Repository) ListSales(ctx context.Context, customerID int64, limit int) ([]Sale, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE customer_id = $1 ORDER BY sold_at DESC, id DESC LIMIT $2`,
		customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Sale
	for rows.Next() {
		var s Sale
		if err := rows.Scan(&s.ID, &s.Number, &s.CustomerID, &s.TotalAmount, &s.AmountPaid,
			&s.Status, &s.SoldAt, &s.Voided, &s.VoidedAt, &s.CreatedBy, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateSaleSettlement records how much of a sale was tendered.
func (r *Repository) UpdateSaleSettlement(ctx context.Context, id int64, status SaleStatus, amountPaid decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sales SET status = $1, amount_paid = $2 WHERE id = $3`, status, amountPaid, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSaleNotFound
	}
	return nil
}

// MarkSaleVoided flags a sale voided. The row itself is kept.
func (r *Repository) MarkSaleVoided(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sales SET voided = TRUE, voided_at = $1 WHERE id = $2 AND voided = FALSE`, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyVoided
	}
	return nil
}

// CreatePayment inserts a payment row and returns it with generated fields.
func (r *Repository) CreatePayment(ctx context.Context, payment Payment) (Payment, error) {
	err := r.pool.QueryRow(ctx, `
INSERT INTO payments (number, customer_id, sale_id, amount, method, received_at, voided, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8)
RETURNING id`,
		payment.Number, payment.CustomerID, payment.SaleID, payment.Amount, payment.Method,
		payment.ReceivedAt, payment.CreatedBy, payment.CreatedAt).Scan(&payment.ID)
	if err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// NextSaleNumber draws the next number from the sales sequence.
func (r *Repository) NextSaleNumber(ctx context.Context) (string, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT nextval('sale_number_seq')`).Scan(&n); err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%06d", n), nil
}

// NextPaymentNumber draws the next number from the payments sequence.
func (r *Repository) NextPaymentNumber(ctx context.Context) (string, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT nextval('payment_number_seq')`).Scan(&n); err != nil {
		return "", err
	}
	return fmt.Sprintf("PAY-%06d", n), nil
}
