package sales

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors for the sales package.
var (
	ErrSaleNotFound    = errors.New("sales: sale not found")
	ErrPaymentNotFound = errors.New("sales: payment not found")
	ErrAlreadyVoided   = errors.New("sales: sale already voided")
	ErrNoCustomer      = errors.New("sales: sale has no customer on account")
)

// SaleStatus tracks settlement of a completed sale.
type SaleStatus string

const (
	StatusPaid    SaleStatus = "paid"
	StatusPartial SaleStatus = "partial"
	StatusPending SaleStatus = "pending"
)

// Sale is a completed POS sale. Voiding never deletes the row; the ledger
// carries an offsetting entry instead.
type Sale struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	CustomerID  *int64          `json:"customer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Status      SaleStatus      `json:"status"`
	SoldAt      time.Time       `json:"sold_at"`
	Voided      bool            `json:"voided"`
	VoidedAt    *time.Time      `json:"voided_at,omitempty"`
	CreatedBy   int64           `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Payment is money received from a customer, either at the counter during a
// sale or later against outstanding debt.
type Payment struct {
	ID         int64           `json:"id"`
	Number     string          `json:"number"`
	CustomerID *int64          `json:"customer_id"`
	SaleID     *int64          `json:"sale_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	ReceivedAt time.Time       `json:"received_at"`
	Voided     bool            `json:"voided"`
	CreatedBy  int64           `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

// CompleteSaleInput describes a sale being rung up. A nil AmountPaid means
// paid in full; anything between zero and the total is a partial payment
// with the remainder going on the customer's account.
type CompleteSaleInput struct {
	CustomerID     *int64
	TotalAmount    decimal.Decimal
	AmountPaid     *decimal.Decimal
	PaymentMethod  string
	SoldAt         time.Time
	IdempotencyKey string
	ActorID        int64
}

// ReceivePaymentInput describes a standalone debt payment.
type ReceivePaymentInput struct {
	CustomerID     int64
	Amount         decimal.Decimal
	Method         string
	ReceivedAt     time.Time
	IdempotencyKey string
	ActorID        int64
}

// RepositoryPort defines data access for sales and payments.
type RepositoryPort interface {
	CreateSale(ctx context.Context, sale Sale) (Sale, error)
	GetSale(ctx context.Context, id int64) (Sale, error)
	ListSales(ctx context.Context, customerID int64, limit int) ([]Sale, error)
	UpdateSaleSettlement(ctx context.Context, id int64, status SaleStatus, amountPaid decimal.Decimal) error
	MarkSaleVoided(ctx context.Context, id int64, at time.Time) error
	CreatePayment(ctx context.Context, payment Payment) (Payment, error)
	NextSaleNumber(ctx context.Context) (string, error)
	NextPaymentNumber(ctx context.Context) (string, error)
}
