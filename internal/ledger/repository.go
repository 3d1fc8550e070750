package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MissingEventKind tags the source table a missing row came from.
type MissingEventKind string

const (
	MissingSale    MissingEventKind = "sale"
	MissingPayment MissingEventKind = "payment"
)

// MissingEvent is a non-voided sale or payment that has no ledger entry,
// produced by the reconciler's detection queries.
type MissingEvent struct {
	Kind        MissingEventKind
	SourceID    int64
	CustomerID  int64
	Amount      decimal.Decimal
	OccurredAt  time.Time
	Description string
}

// TxRepository exposes the write operations that must share one transaction.
type TxRepository interface {
	// GetAccountForUpdate locks the account row for the customer, returning
	// ErrAccountNotFound when none exists.
	GetAccountForUpdate(ctx context.Context, customerID int64) (*Account, error)
	CreateAccount(ctx context.Context, account Account) (int64, error)
	InsertEntry(ctx context.Context, entry Entry) (int64, error)
	UpdateAccount(ctx context.Context, account Account) error
}

// RepositoryPort abstracts ledger persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	CustomerExists(ctx context.Context, customerID int64) (bool, error)
	GetAccount(ctx context.Context, customerID int64) (*Account, error)
	ListEntries(ctx context.Context, customerID int64) ([]Entry, error)
	ListEntriesDesc(ctx context.Context, customerID int64, limit int) ([]Entry, error)
	ListAccountCustomerIDs(ctx context.Context) ([]int64, error)

	// Reconciler detection queries: non-voided source rows with a customer
	// and no ledger entry referencing them.
	ListUnrecordedSales(ctx context.Context, limit int) ([]MissingEvent, error)
	ListUnrecordedPayments(ctx context.Context, limit int) ([]MissingEvent, error)
}
