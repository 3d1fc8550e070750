package repairs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repairColumns = `id, number, customer_id, device, issue, status, estimated_cost,
deposit_amount, deposit_state, sale_id, received_at, completed_at, created_by, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for repairs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a repair and returns it with generated fields.
func (r *Repository) Create(ctx context.Context, repair Repair) (Repair, error) {
	err := r.pool.QueryRow(ctx, `
INSERT INTO repairs (number, customer_id, device, issue, status, estimated_cost,
deposit_amount, deposit_state, received_at, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`,
		repair.Number, repair.CustomerID, repair.Device, repair.Issue, repair.Status,
		repair.EstimatedCost, repair.DepositAmount, repair.DepositState,
		repair.ReceivedAt, repair.CreatedBy, repair.CreatedAt, repair.UpdatedAt).Scan(&repair.ID)
	if err != nil {
		return Repair{}, err
	}
	return repair, nil
}

// Get loads one repair by id.
func (r *Repository) Get(ctx context.Context, id int64) (Repair, error) {
	return scanRepair(r.pool.QueryRow(ctx,
		`SELECT `+repairColumns+` FROM repairs WHERE id = $1`, id))
}

// ListByCustomer returns a customer's most recent repairs.
func (r *Repository) ListByCustomer(ctx context.Context, customerID int64, limit int) ([]Repair, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+repairColumns+` FROM repairs WHERE customer_id = $1 ORDER BY received_at DESC, id DESC LIMIT $2`,
		customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Repair
	for rows.Next() {
		repair, err := scanRepair(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, repair)
	}
	return out, rows.Err()
}

// Update rewrites the mutable fields of a repair.
func (r *Repository) Update(ctx context.Context, repair Repair) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE repairs
SET status = $1, estimated_cost = $2, deposit_amount = $3, deposit_state = $4,
    sale_id = $5, completed_at = $6, updated_at = $7
WHERE id = $8`,
		repair.Status, repair.EstimatedCost, repair.DepositAmount, repair.DepositState,
		repair.SaleID, repair.CompletedAt, repair.UpdatedAt, repair.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// NextNumber draws the next number from the repairs sequence.
func (r *Repository) NextNumber(ctx context.Context) (string, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT nextval('repair_number_seq')`).Scan(&n); err != nil {
		return "", err
	}
	return fmt.Sprintf("REP-%06d", n), nil
}

func scanRepair(row pgx.Row) (Repair, error) {
	var rep Repair
	err := row.Scan(&rep.ID, &rep.Number, &rep.CustomerID, &rep.Device, &rep.Issue, &rep.Status,
		&rep.EstimatedCost, &rep.DepositAmount, &rep.DepositState, &rep.SaleID,
		&rep.ReceivedAt, &rep.CompletedAt, &rep.CreatedBy, &rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Repair{}, ErrNotFound
		}
		return Repair{}, err
	}
	return rep, nil
}
