package repairs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/techstore-pos/techstore/internal/ledger"
	"github.com/techstore-pos/techstore/internal/sales"
)

type memoryRepairRepo struct {
	repairs    map[int64]Repair
	nextID     int64
	nextNumber int64
}

func newMemoryRepairRepo() *memoryRepairRepo {
	return &memoryRepairRepo{repairs: make(map[int64]Repair)}
}

func (r *memoryRepairRepo) Create(ctx context.Context, repair Repair) (Repair, error) {
	r.nextID++
	repair.ID = r.nextID
	r.repairs[repair.ID] = repair
	return repair, nil
}

func (r *memoryRepairRepo) Get(ctx context.Context, id int64) (Repair, error) {
	repair, ok := r.repairs[id]
	if !ok {
		return Repair{}, ErrNotFound
	}
	return repair, nil
}

func (r *memoryRepairRepo) ListByCustomer(ctx context.Context, customerID int64, limit int) ([]Repair, error) {
	var out []Repair
	for _, rep := range r.repairs {
		if rep.CustomerID == customerID {
			out = append(out, rep)
		}
	}
	return out, nil
}

func (r *memoryRepairRepo) Update(ctx context.Context, repair Repair) error {
	if _, ok := r.repairs[repair.ID]; !ok {
		return ErrNotFound
	}
	r.repairs[repair.ID] = repair
	return nil
}

func (r *memoryRepairRepo) NextNumber(ctx context.Context) (string, error) {
	r.nextNumber++
	return fmt.Sprintf("REP-%06d", r.nextNumber), nil
}

// fakeDepositLedger tracks a balance using the canonical deposit signs:
// receiving holds credit (negative), refunding clears it.
type fakeDepositLedger struct {
	balance     decimal.Decimal
	receives    int
	refunds     int
	lastRefText string
}

func (l *fakeDepositLedger) RecordDepositReceived(ctx context.Context, customerID, depositID int64, amount decimal.Decimal, receivedAt time.Time, description string, actorID int64) (ledger.Entry, error) {
	l.receives++
	l.balance = l.balance.Sub(amount)
	l.lastRefText = description
	return ledger.Entry{Type: ledger.TypeRepairDeposit, Amount: amount}, nil
}

func (l *fakeDepositLedger) RecordDepositRefund(ctx context.Context, customerID, depositID int64, amount decimal.Decimal, refundedAt time.Time, description string, actorID int64) (ledger.Entry, error) {
	l.refunds++
	l.balance = l.balance.Add(amount)
	return ledger.Entry{Type: ledger.TypeDebitNote, Amount: amount}, nil
}

type fakeSales struct {
	completed []sales.CompleteSaleInput
	ledger    *fakeDepositLedger
	nextSale  int64
}

func (f *fakeSales) CompleteSale(ctx context.Context, input sales.CompleteSaleInput) (sales.CompleteSaleResult, error) {
	if ok, msg := ledger.ValidatePartialPayment(input.AmountPaid, input.TotalAmount, input.PaymentMethod); !ok {
		return sales.CompleteSaleResult{Settlement: ledger.SettlementResult{OK: false, Message: msg}}, nil
	}
	f.completed = append(f.completed, input)
	f.nextSale++
	f.ledger.balance = f.ledger.balance.Add(input.TotalAmount)
	tendered := input.TotalAmount
	if input.AmountPaid != nil {
		tendered = *input.AmountPaid
	}
	f.ledger.balance = f.ledger.balance.Sub(tendered)
	return sales.CompleteSaleResult{
		Sale:       sales.Sale{ID: f.nextSale, TotalAmount: input.TotalAmount},
		Settlement: ledger.SettlementResult{OK: true, Status: ledger.SaleStatusPaid, AmountDue: input.TotalAmount.Sub(tendered)},
	}, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newTestRepairsService() (*Service, *memoryRepairRepo, *fakeDepositLedger, *fakeSales) {
	repo := newMemoryRepairRepo()
	fl := &fakeDepositLedger{balance: decimal.Zero}
	fs := &fakeSales{ledger: fl}
	svc := NewService(repo, fl, fs, nil, nil)
	return svc, repo, fl, fs
}

func TestCreateRepair(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestRepairsService()

	repair, err := svc.Create(ctx, CreateRepairInput{
		CustomerID: 1, Device: "iPhone 13", Issue: "cracked screen", EstimatedCost: dec("150"), ActorID: 2,
	})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, repair.Status)
	require.Equal(t, DepositNone, repair.DepositState)
	require.Equal(t, "REP-000001", repair.Number)

	_, err = svc.Create(ctx, CreateRepairInput{Device: "x"})
	require.Error(t, err)
}

func TestTakeDepositHoldsCredit(t *testing.T) {
	ctx := context.Background()
	svc, _, fl, _ := newTestRepairsService()

	repair, err := svc.Create(ctx, CreateRepairInput{CustomerID: 1, Device: "Laptop", ActorID: 1})
	require.NoError(t, err)

	repair, err = svc.TakeDeposit(ctx, repair.ID, dec("50"), 1)
	require.NoError(t, err)
	require.Equal(t, DepositHeld, repair.DepositState)
	require.True(t, repair.DepositAmount.Equal(dec("50")))
	require.True(t, fl.balance.Equal(dec("-50")), "deposit held as credit")
	require.Contains(t, fl.lastRefText, repair.Number)

	// A second deposit on the same ticket is rejected.
	_, err = svc.TakeDeposit(ctx, repair.ID, dec("20"), 1)
	require.ErrorIs(t, err, ErrDepositTaken)
	require.Equal(t, 1, fl.receives)
}

func TestRefundDeposit(t *testing.T) {
	ctx := context.Background()
	svc, _, fl, _ := newTestRepairsService()

	repair, err := svc.Create(ctx, CreateRepairInput{CustomerID: 1, Device: "Tablet", ActorID: 1})
	require.NoError(t, err)

	_, err = svc.RefundDeposit(ctx, repair.ID, 1)
	require.ErrorIs(t, err, ErrNoDeposit)

	_, err = svc.TakeDeposit(ctx, repair.ID, dec("50"), 1)
	require.NoError(t, err)
	repair, err = svc.RefundDeposit(ctx, repair.ID, 1)
	require.NoError(t, err)
	require.Equal(t, DepositRefunded, repair.DepositState)
	require.True(t, fl.balance.IsZero())

	_, err = svc.RefundDeposit(ctx, repair.ID, 1)
	require.ErrorIs(t, err, ErrDepositConsumed)
}

func TestCompleteRepairNetsDeposit(t *testing.T) {
	ctx := context.Background()
	svc, _, fl, fs := newTestRepairsService()

	repair, err := svc.Create(ctx, CreateRepairInput{CustomerID: 1, Device: "Console", ActorID: 1})
	require.NoError(t, err)
	_, err = svc.TakeDeposit(ctx, repair.ID, dec("50"), 1)
	require.NoError(t, err)

	// Repair comes to 180, nothing more tendered at pickup: the held 50
	// nets against the sale, leaving 130 owed.
	result, err := svc.Complete(ctx, repair.ID, dec("180"), decPtr("0"), 1)
	require.NoError(t, err)
	require.True(t, result.Settlement.OK)
	require.Equal(t, StatusCompleted, result.Repair.Status)
	require.Equal(t, DepositApplied, result.Repair.DepositState)
	require.NotNil(t, result.Repair.SaleID)
	require.Len(t, fs.completed, 1)
	require.True(t, fl.balance.Equal(dec("130")), "-50 deposit + 180 sale, got %s", fl.balance)

	// Completing twice is rejected.
	_, err = svc.Complete(ctx, repair.ID, dec("180"), nil, 1)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCompleteRepairRejectedSettlement(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, fs := newTestRepairsService()

	repair, err := svc.Create(ctx, CreateRepairInput{CustomerID: 1, Device: "Phone", ActorID: 1})
	require.NoError(t, err)

	result, err := svc.Complete(ctx, repair.ID, dec("100"), decPtr("200"), 1)
	require.NoError(t, err)
	require.False(t, result.Settlement.OK)
	require.Empty(t, fs.completed)

	// Ticket stays open.
	stored, err := repo.Get(ctx, repair.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, stored.Status)
}

func TestCancelRepair(t *testing.T) {
	ctx := context.Background()
	svc, _, fl, _ := newTestRepairsService()

	repair, err := svc.Create(ctx, CreateRepairInput{CustomerID: 1, Device: "Monitor", ActorID: 1})
	require.NoError(t, err)
	_, err = svc.TakeDeposit(ctx, repair.ID, dec("30"), 1)
	require.NoError(t, err)

	repair, err = svc.Cancel(ctx, repair.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, repair.Status)
	// The deposit stays held until explicitly refunded.
	require.Equal(t, DepositHeld, repair.DepositState)
	require.True(t, fl.balance.Equal(dec("-30")))

	repair, err = svc.RefundDeposit(ctx, repair.ID, 1)
	require.NoError(t, err)
	require.Equal(t, DepositRefunded, repair.DepositState)
	require.True(t, fl.balance.IsZero())
}
