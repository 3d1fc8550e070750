package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/techstore-pos/techstore/internal/platform/db"
)

const entryColumns = `id, uuid, customer_id, account_id, transaction_type, amount,
balance_before, balance_after, reference_type, reference_id, description,
transaction_date, created_by, created_at`

const accountColumns = `id, customer_id, account_balance, credit_limit, total_sales,
total_payments, last_payment_at, transaction_count, created_by, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for the ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps fn in a RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// CustomerExists checks the customers table.
func (r *Repository) CustomerExists(ctx context.Context, customerID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, customerID).Scan(&exists)
	return exists, err
}

// GetAccount loads the account aggregate for a customer.
func (r *Repository) GetAccount(ctx context.Context, customerID int64) (*Account, error) {
	return scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM customer_accounts WHERE customer_id = $1`, customerID))
}

// ListEntries returns all entries for a customer ordered by transaction date ascending.
func (r *Repository) ListEntries(ctx context.Context, customerID int64) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM customer_transactions WHERE customer_id = $1 ORDER BY transaction_date, id`,
		customerID)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// ListEntriesDesc returns the most recent entries first.
func (r *Repository) ListEntriesDesc(ctx context.Context, customerID int64, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM customer_transactions WHERE customer_id = $1 ORDER BY transaction_date DESC, id DESC LIMIT $2`,
		customerID, limit)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// ListAccountCustomerIDs returns every customer holding an account.
func (r *Repository) ListAccountCustomerIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT customer_id FROM customer_accounts ORDER BY customer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListUnrecordedSales finds completed, non-voided sales with a customer and
// no ledger entry referencing them.
func (r *Repository) ListUnrecordedSales(ctx context.Context, limit int) ([]MissingEvent, error) {
	rows, err := r.pool.Query(ctx, `
SELECT s.id, s.customer_id, s.total_amount, s.sold_at, COALESCE(s.number, '')
FROM sales s
WHERE s.voided = FALSE
  AND s.customer_id IS NOT NULL
  AND NOT EXISTS (
    SELECT 1 FROM customer_transactions t
    WHERE t.reference_type = 'sale' AND t.reference_id = s.id AND t.transaction_type = 'sale'
  )
ORDER BY s.sold_at, s.id
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectMissing(rows, MissingSale, "Sale ")
}

// ListUnrecordedPayments finds non-voided payments with a customer and no
// ledger entry referencing them.
func (r *Repository) ListUnrecordedPayments(ctx context.Context, limit int) ([]MissingEvent, error) {
	rows, err := r.pool.Query(ctx, `
SELECT p.id, p.customer_id, p.amount, p.received_at, COALESCE(p.number, '')
FROM payments p
WHERE p.voided = FALSE
  AND p.customer_id IS NOT NULL
  AND NOT EXISTS (
    SELECT 1 FROM customer_transactions t
    WHERE t.reference_type = 'payment' AND t.reference_id = p.id AND t.transaction_type = 'payment'
  )
ORDER BY p.received_at, p.id
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectMissing(rows, MissingPayment, "Payment ")
}

func (t *txRepo) GetAccountForUpdate(ctx context.Context, customerID int64) (*Account, error) {
	return scanAccount(t.tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM customer_accounts WHERE customer_id = $1 FOR UPDATE`, customerID))
}

func (t *txRepo) CreateAccount(ctx context.Context, account Account) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO customer_accounts (customer_id, account_balance, credit_limit, total_sales,
total_payments, last_payment_at, transaction_count, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		account.CustomerID, account.Balance, account.CreditLimit, account.TotalSales,
		account.TotalPayments, account.LastPaymentAt, account.TransactionCount,
		account.CreatedBy, account.CreatedAt, account.UpdatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) InsertEntry(ctx context.Context, entry Entry) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO customer_transactions (uuid, customer_id, account_id, transaction_type, amount,
balance_before, balance_after, reference_type, reference_id, description,
transaction_date, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		entry.UUID, entry.CustomerID, entry.AccountID, entry.Type, entry.Amount,
		entry.BalanceBefore, entry.BalanceAfter, string(entry.Reference.Kind),
		nullableRefID(entry.Reference), entry.Description, entry.TransactionDate,
		entry.CreatedBy, entry.CreatedAt).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrAlreadyRecorded
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepo) UpdateAccount(ctx context.Context, account Account) error {
	tag, err := t.tx.Exec(ctx, `
UPDATE customer_accounts
SET account_balance = $1, total_sales = $2, total_payments = $3,
    last_payment_at = $4, transaction_count = $5, updated_at = $6
WHERE id = $7`,
		account.Balance, account.TotalSales, account.TotalPayments,
		account.LastPaymentAt, account.TransactionCount, account.UpdatedAt, account.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func nullableRefID(ref Reference) *int64 {
	if ref.IsZero() {
		return nil
	}
	id := ref.ID
	return &id
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.CustomerID, &a.Balance, &a.CreditLimit, &a.TotalSales,
		&a.TotalPayments, &a.LastPaymentAt, &a.TransactionCount, &a.CreatedBy,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var refKind string
		var refID *int64
		if err := rows.Scan(&e.ID, &e.UUID, &e.CustomerID, &e.AccountID, &e.Type, &e.Amount,
			&e.BalanceBefore, &e.BalanceAfter, &refKind, &refID, &e.Description,
			&e.TransactionDate, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reference.Kind = ReferenceKind(refKind)
		if refID != nil {
			e.Reference.ID = *refID
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func collectMissing(rows pgx.Rows, kind MissingEventKind, descPrefix string) ([]MissingEvent, error) {
	defer rows.Close()
	var events []MissingEvent
	for rows.Next() {
		var ev MissingEvent
		var number string
		if err := rows.Scan(&ev.SourceID, &ev.CustomerID, &ev.Amount, &ev.OccurredAt, &number); err != nil {
			return nil, err
		}
		ev.Kind = kind
		ev.Description = descPrefix + number
		events = append(events, ev)
	}
	return events, rows.Err()
}
