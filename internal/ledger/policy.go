package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SaleStatus labels how much of a sale has been settled at completion time.
type SaleStatus string

const (
	SaleStatusPaid    SaleStatus = "paid"
	SaleStatusPartial SaleStatus = "partial"
	SaleStatusPending SaleStatus = "pending"
)

// Policy layers business rules over the calculator and recorder: partial
// payment validation, credit limits, and customer deletion guards.
type Policy struct {
	service *Service
}

// NewPolicy constructs the policy layer.
func NewPolicy(service *Service) *Policy {
	return &Policy{service: service}
}

// ValidatePartialPayment checks an amount tendered against a sale total.
// A nil amountPaid means full payment and is always valid. Rejections are
// expected business outcomes, so they come back as (false, message) values
// rather than errors.
func ValidatePartialPayment(amountPaid *decimal.Decimal, totalAmount decimal.Decimal, paymentMethod string) (bool, string) {
	if amountPaid == nil {
		return true, ""
	}
	if amountPaid.IsNegative() {
		return false, "amount paid cannot be negative"
	}
	if amountPaid.GreaterThan(totalAmount) {
		return false, "amount paid cannot exceed total amount"
	}
	return true, ""
}

// PartialSale is the sale slice the settlement flow needs.
type PartialSale struct {
	ID          int64
	CustomerID  int64
	Number      string
	Total       decimal.Decimal
	SoldAt      time.Time
	CompletedBy int64
}

// SettlementResult reports how a partial payment settled. OK is false for
// business rejections (bad amount), which are expected outcomes, not errors.
type SettlementResult struct {
	OK        bool
	Status    SaleStatus
	AmountDue decimal.Decimal
	Message   string
}

// SettlePartialPayment settles the tendered amount against a completed sale.
// The sale's full total has already been recorded as debt; any amount paid
// now is recorded as a payment entry. The shortfall is never persisted as a
// separate debt row: it remains visible only through the balance.
func (p *Policy) SettlePartialPayment(ctx context.Context, sale PartialSale, amountPaid *decimal.Decimal, paymentID int64, paymentMethod string) (SettlementResult, error) {
	ok, msg := ValidatePartialPayment(amountPaid, sale.Total, paymentMethod)
	if !ok {
		return SettlementResult{OK: false, Message: msg}, nil
	}
	if amountPaid == nil || amountPaid.Equal(sale.Total) {
		paid := sale.Total
		if _, err := p.service.RecordPayment(ctx, sale.CustomerID, paymentID, paid, sale.SoldAt,
			"Payment for sale "+sale.Number, sale.CompletedBy); err != nil {
			return SettlementResult{}, err
		}
		return SettlementResult{OK: true, Status: SaleStatusPaid, AmountDue: decimal.Zero, Message: "sale fully paid"}, nil
	}
	if amountPaid.IsZero() {
		return SettlementResult{
			OK:        true,
			Status:    SaleStatusPending,
			AmountDue: sale.Total,
			Message:   "no payment tendered, full amount on account",
		}, nil
	}
	if _, err := p.service.RecordPayment(ctx, sale.CustomerID, paymentID, *amountPaid, sale.SoldAt,
		"Partial payment for sale "+sale.Number, sale.CompletedBy); err != nil {
		return SettlementResult{}, err
	}
	return SettlementResult{
		OK:        true,
		Status:    SaleStatusPartial,
		AmountDue: sale.Total.Sub(*amountPaid),
		Message:   "partial payment recorded, remainder on account",
	}, nil
}

// CanDeleteCustomer reports whether the customer may be removed. Deletion is
// allowed only when the balance is exactly zero.
func (p *Policy) CanDeleteCustomer(ctx context.Context, customerID int64) (bool, string, error) {
	balance, err := p.service.GetBalance(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return false, "customer not found", err
		}
		return false, "", err
	}
	switch {
	case balance.IsPositive():
		return false, "customer owes " + balance.StringFixed(2), nil
	case balance.IsNegative():
		return false, "customer holds credit of " + balance.Abs().StringFixed(2), nil
	default:
		return true, "balance settled", nil
	}
}

// CheckCreditLimit rejects a credit sale that would push the balance past
// the account's credit limit. A zero limit means unlimited.
func (p *Policy) CheckCreditLimit(ctx context.Context, customerID int64, saleTotal decimal.Decimal) error {
	account, err := p.service.repo.GetAccount(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return err
	}
	if account.CreditLimit.IsZero() {
		return nil
	}
	if account.Balance.Add(saleTotal).GreaterThan(account.CreditLimit) {
		return fmt.Errorf("%w: balance %s + sale %s exceeds limit %s", ErrCreditLimitExceeded,
			account.Balance.StringFixed(2), saleTotal.StringFixed(2), account.CreditLimit.StringFixed(2))
	}
	return nil
}
