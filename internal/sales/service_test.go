package sales

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/techstore-pos/techstore/internal/ledger"
)

type memorySalesRepo struct {
	sales       map[int64]Sale
	payments    map[int64]Payment
	nextSale    int64
	nextPayment int64
	nextNumber  int64
}

func newMemorySalesRepo() *memorySalesRepo {
	return &memorySalesRepo{sales: make(map[int64]Sale), payments: make(map[int64]Payment)}
}

func (r *memorySalesRepo) CreateSale(ctx context.Context, sale Sale) (Sale, error) {
	r.nextSale++
	sale.ID = r.nextSale
	r.sales[sale.ID] = sale
	return sale, nil
}

func (r *memorySalesRepo) GetSale(ctx context.Context, id int64) (Sale, error) {
	sale, ok := r.sales[id]
	if !ok {
		return Sale{}, ErrSaleNotFound
	}
	return sale, nil
}

func (r *memorySalesRepo) ListSales(ctx context.Context, customerID int64, limit int) ([]Sale, error) {
	var out []Sale
	for _, s := range r.sales {
		if s.CustomerID != nil && *s.CustomerID == customerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memorySalesRepo) UpdateSaleSettlement(ctx context.Context, id int64, status SaleStatus, amountPaid decimal.Decimal) error {
	sale, ok := r.sales[id]
	if !ok {
		return ErrSaleNotFound
	}
	sale.Status = status
	sale.AmountPaid = amountPaid
	r.sales[id] = sale
	return nil
}

func (r *memorySalesRepo) MarkSaleVoided(ctx context.Context, id int64, at time.Time) error {
	sale, ok := r.sales[id]
	if !ok || sale.Voided {
		return ErrAlreadyVoided
	}
	sale.Voided = true
	sale.VoidedAt = &at
	r.sales[id] = sale
	return nil
}

func (r *memorySalesRepo) CreatePayment(ctx context.Context, payment Payment) (Payment, error) {
	r.nextPayment++
	payment.ID = r.nextPayment
	r.payments[payment.ID] = payment
	return payment, nil
}

func (r *memorySalesRepo) NextSaleNumber(ctx context.Context) (string, error) {
	r.nextNumber++
	return fmt.Sprintf("INV-%06d", r.nextNumber), nil
}

func (r *memorySalesRepo) NextPaymentNumber(ctx context.Context) (string, error) {
	r.nextNumber++
	return fmt.Sprintf("PAY-%06d", r.nextNumber), nil
}

// fakeLedger tracks recorder calls and a running balance so settlement
// outcomes behave like the real recorder.
type fakeLedger struct {
	balance     decimal.Decimal
	creditLimit decimal.Decimal
	saleCalls   int
	payCalls    int
	voidCalls   int
}

func (l *fakeLedger) RecordSale(ctx context.Context, customerID, saleID int64, total decimal.Decimal, soldAt time.Time, description string, actorID int64) (ledger.Entry, error) {
	l.saleCalls++
	l.balance = l.balance.Add(total)
	return ledger.Entry{Type: ledger.TypeSale, Amount: total}, nil
}

func (l *fakeLedger) RecordPayment(ctx context.Context, customerID, paymentID int64, amount decimal.Decimal, receivedAt time.Time, description string, actorID int64) (ledger.Entry, error) {
	l.payCalls++
	l.balance = l.balance.Sub(amount)
	return ledger.Entry{Type: ledger.TypePayment, Amount: amount}, nil
}

func (l *fakeLedger) RecordVoidSale(ctx context.Context, customerID, saleID int64, total decimal.Decimal, voidedAt time.Time, description string, actorID int64) (ledger.Entry, error) {
	l.voidCalls++
	l.balance = l.balance.Sub(total)
	return ledger.Entry{Type: ledger.TypeVoidSale, Amount: total}, nil
}

func (l *fakeLedger) SettlePartialPayment(ctx context.Context, sale ledger.PartialSale, amountPaid *decimal.Decimal, paymentID int64, paymentMethod string) (ledger.SettlementResult, error) {
	if ok, msg := ledger.ValidatePartialPayment(amountPaid, sale.Total, paymentMethod); !ok {
		return ledger.SettlementResult{OK: false, Message: msg}, nil
	}
	if amountPaid == nil || amountPaid.Equal(sale.Total) {
		if _, err := l.RecordPayment(ctx, sale.CustomerID, paymentID, sale.Total, sale.SoldAt, "", sale.CompletedBy); err != nil {
			return ledger.SettlementResult{}, err
		}
		return ledger.SettlementResult{OK: true, Status: ledger.SaleStatusPaid, AmountDue: decimal.Zero}, nil
	}
	if amountPaid.IsZero() {
		return ledger.SettlementResult{OK: true, Status: ledger.SaleStatusPending, AmountDue: sale.Total}, nil
	}
	if _, err := l.RecordPayment(ctx, sale.CustomerID, paymentID, *amountPaid, sale.SoldAt, "", sale.CompletedBy); err != nil {
		return ledger.SettlementResult{}, err
	}
	return ledger.SettlementResult{OK: true, Status: ledger.SaleStatusPartial, AmountDue: sale.Total.Sub(*amountPaid)}, nil
}

func (l *fakeLedger) CheckCreditLimit(ctx context.Context, customerID int64, saleTotal decimal.Decimal) error {
	if l.creditLimit.IsZero() {
		return nil
	}
	if l.balance.Add(saleTotal).GreaterThan(l.creditLimit) {
		return ledger.ErrCreditLimitExceeded
	}
	return nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func int64Ptr(v int64) *int64 { return &v }

func newTestSalesService() (*Service, *memorySalesRepo, *fakeLedger) {
	repo := newMemorySalesRepo()
	fl := &fakeLedger{balance: decimal.Zero}
	svc := NewService(repo, fl, fl, nil, nil, nil)
	return svc, repo, fl
}

func TestCompleteSaleFullPayment(t *testing.T) {
	ctx := context.Background()
	svc, repo, fl := newTestSalesService()

	result, err := svc.CompleteSale(ctx, CompleteSaleInput{
		CustomerID: int64Ptr(1), TotalAmount: dec("220"), ActorID: 1,
	})
	require.NoError(t, err)
	require.True(t, result.Settlement.OK)
	require.Equal(t, ledger.SaleStatusPaid, result.Settlement.Status)
	require.Equal(t, StatusPaid, result.Sale.Status)
	require.True(t, result.Sale.AmountPaid.Equal(dec("220")))
	require.True(t, fl.balance.IsZero(), "sale and payment cancel out, got %s", fl.balance)
	require.Equal(t, 1, fl.saleCalls)
	require.Equal(t, 1, fl.payCalls)
	require.Len(t, repo.payments, 1)
}

func TestCompleteSalePartialPayment(t *testing.T) {
	ctx := context.Background()
	svc, repo, fl := newTestSalesService()

	result, err := svc.CompleteSale(ctx, CompleteSaleInput{
		CustomerID: int64Ptr(1), TotalAmount: dec("220"), AmountPaid: decPtr("120"), ActorID: 1,
	})
	require.NoError(t, err)
	require.True(t, result.Settlement.OK)
	require.Equal(t, ledger.SaleStatusPartial, result.Settlement.Status)
	require.True(t, result.Settlement.AmountDue.Equal(dec("100")))
	require.True(t, fl.balance.Equal(dec("100")))

	stored, err := repo.GetSale(ctx, result.Sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPartial, stored.Status)
	require.True(t, stored.AmountPaid.Equal(dec("120")))
}

func TestCompleteSaleZeroTendered(t *testing.T) {
	ctx := context.Background()
	svc, repo, fl := newTestSalesService()

	result, err := svc.CompleteSale(ctx, CompleteSaleInput{
		CustomerID: int64Ptr(1), TotalAmount: dec("80"), AmountPaid: decPtr("0"), ActorID: 1,
	})
	require.NoError(t, err)
	require.Equal(t, ledger.SaleStatusPending, result.Settlement.Status)
	require.True(t, fl.balance.Equal(dec("80")), "full amount on account")
	require.Empty(t, repo.payments)
	require.Equal(t, 0, fl.payCalls)
}

func TestCompleteSaleRejectsOverpayment(t *testing.T) {
	ctx := context.Background()
	svc, repo, fl := newTestSalesService()

	result, err := svc.CompleteSale(ctx, CompleteSaleInput{
		CustomerID: int64Ptr(1), TotalAmount: dec("220"), AmountPaid: decPtr("300"), ActorID: 1,
	})
	require.NoError(t, err)
	require.False(t, result.Settlement.OK)
	require.Equal(t, "amount paid cannot exceed total amount", result.Settlement.Message)

	// Rejected before anything was written.
	require.Empty(t, repo.sales)
	require.Equal(t, 0, fl.saleCalls)
}

func TestCompleteSaleWalkIn(t *testing.T) {
	ctx := context.Background()
	svc, _, fl := newTestSalesService()

	result, err := svc.CompleteSale(ctx, CompleteSaleInput{TotalAmount: dec("45"), ActorID: 1})
	require.NoError(t, err)
	require.True(t, result.Settlement.OK)
	require.Equal(t, StatusPaid, result.Sale.Status)
	require.Equal(t, 0, fl.saleCalls, "walk-in sales never touch the ledger")

	// Partial payment without an account customer is rejected.
	result, err = svc.CompleteSale(ctx, CompleteSaleInput{
		TotalAmount: dec("45"), AmountPaid: decPtr("20"), ActorID: 1,
	})
	require.NoError(t, err)
	require.False(t, result.Settlement.OK)
}

func TestCompleteSaleCreditLimit(t *testing.T) {
	ctx := context.Background()
	repo := newMemorySalesRepo()
	fl := &fakeLedger{balance: dec("900"), creditLimit: dec("1000")}
	svc := NewService(repo, fl, fl, nil, nil, nil)

	_, err := svc.CompleteSale(ctx, CompleteSaleInput{
		CustomerID: int64Ptr(1), TotalAmount: dec("200"), AmountPaid: decPtr("0"), ActorID: 1,
	})
	require.ErrorIs(t, err, ledger.ErrCreditLimitExceeded)
	require.Empty(t, repo.sales)

	// Paying enough up front keeps the remainder inside the limit.
	result, err := svc.CompleteSale(ctx, CompleteSaleInput{
		CustomerID: int64Ptr(1), TotalAmount: dec("200"), AmountPaid: decPtr("150"), ActorID: 1,
	})
	require.NoError(t, err)
	require.True(t, result.Settlement.OK)
}

func TestVoidSale(t *testing.T) {
	ctx := context.Background()
	svc, _, fl := newTestSalesService()

	result, err := svc.CompleteSale(ctx, CompleteSaleInput{
		CustomerID: int64Ptr(1), TotalAmount: dec("80"), AmountPaid: decPtr("0"), ActorID: 1,
	})
	require.NoError(t, err)
	require.True(t, fl.balance.Equal(dec("80")))

	voided, err := svc.VoidSale(ctx, result.Sale.ID, 2)
	require.NoError(t, err)
	require.True(t, voided.Voided)
	require.Equal(t, 1, fl.voidCalls)
	require.True(t, fl.balance.IsZero())

	_, err = svc.VoidSale(ctx, result.Sale.ID, 2)
	require.ErrorIs(t, err, ErrAlreadyVoided)
	require.Equal(t, 1, fl.voidCalls)
}

func TestReceivePayment(t *testing.T) {
	ctx := context.Background()
	svc, repo, fl := newTestSalesService()
	fl.balance = dec("150")

	payment, err := svc.ReceivePayment(ctx, ReceivePaymentInput{
		CustomerID: 1, Amount: dec("150"), Method: "gcash", ActorID: 1,
	})
	require.NoError(t, err)
	require.True(t, fl.balance.IsZero())
	require.Equal(t, "gcash", payment.Method)
	require.Len(t, repo.payments, 1)

	_, err = svc.ReceivePayment(ctx, ReceivePaymentInput{CustomerID: 1, Amount: dec("0")})
	require.Error(t, err)
}
