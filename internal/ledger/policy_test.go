package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestValidatePartialPayment(t *testing.T) {
	total := dec("100")

	ok, msg := ValidatePartialPayment(decPtr("150"), total, "cash")
	require.False(t, ok)
	require.Equal(t, "amount paid cannot exceed total amount", msg)

	ok, msg = ValidatePartialPayment(decPtr("-10"), total, "cash")
	require.False(t, ok)
	require.Equal(t, "amount paid cannot be negative", msg)

	ok, msg = ValidatePartialPayment(nil, total, "cash")
	require.True(t, ok)
	require.Equal(t, "", msg)

	ok, _ = ValidatePartialPayment(decPtr("100"), total, "card")
	require.True(t, ok)
	ok, _ = ValidatePartialPayment(decPtr("0"), total, "card")
	require.True(t, ok)
}

func partialTestFixture(t *testing.T) (*memoryLedgerRepo, *Service, *Policy) {
	t.Helper()
	repo := newMemoryLedgerRepo()
	repo.addCustomer(1)
	svc := newTestService(repo)
	return repo, svc, NewPolicy(svc)
}

func TestSettlePartialPayment(t *testing.T) {
	ctx := context.Background()
	repo, svc, policy := partialTestFixture(t)

	sale := PartialSale{ID: 1, CustomerID: 1, Number: "INV-1", Total: dec("220"), SoldAt: testDate, CompletedBy: 9}
	_, err := svc.RecordSale(ctx, 1, sale.ID, sale.Total, sale.SoldAt, "Sale INV-1", 9)
	require.NoError(t, err)

	res, err := policy.SettlePartialPayment(ctx, sale, decPtr("120"), 501, "cash")
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, SaleStatusPartial, res.Status)
	require.True(t, res.AmountDue.Equal(dec("100")))

	// The shortfall is implicit debt, visible only through the balance.
	balance, _ := svc.GetBalance(ctx, 1)
	require.True(t, balance.Equal(dec("100")))
	entries, _ := repo.ListEntries(ctx, 1)
	require.Len(t, entries, 2)
}

func TestSettlePartialPaymentZeroTendered(t *testing.T) {
	ctx := context.Background()
	_, svc, policy := partialTestFixture(t)

	sale := PartialSale{ID: 2, CustomerID: 1, Number: "INV-2", Total: dec("80"), SoldAt: testDate, CompletedBy: 9}
	_, err := svc.RecordSale(ctx, 1, sale.ID, sale.Total, sale.SoldAt, "", 9)
	require.NoError(t, err)

	res, err := policy.SettlePartialPayment(ctx, sale, decPtr("0"), 502, "cash")
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, SaleStatusPending, res.Status)
	require.True(t, res.AmountDue.Equal(dec("80")))

	balance, _ := svc.GetBalance(ctx, 1)
	require.True(t, balance.Equal(dec("80")))
}

func TestSettlePartialPaymentRejection(t *testing.T) {
	ctx := context.Background()
	_, svc, policy := partialTestFixture(t)

	sale := PartialSale{ID: 3, CustomerID: 1, Number: "INV-3", Total: dec("50"), SoldAt: testDate, CompletedBy: 9}
	_, err := svc.RecordSale(ctx, 1, sale.ID, sale.Total, sale.SoldAt, "", 9)
	require.NoError(t, err)

	// Rejections are business outcomes, not errors; nothing is recorded.
	res, err := policy.SettlePartialPayment(ctx, sale, decPtr("60"), 503, "cash")
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, "amount paid cannot exceed total amount", res.Message)
	balance, _ := svc.GetBalance(ctx, 1)
	require.True(t, balance.Equal(dec("50")))
}

func TestCanDeleteCustomerScenario(t *testing.T) {
	ctx := context.Background()
	_, svc, policy := partialTestFixture(t)

	// Zero-balance customer with no history is deletable.
	ok, _, err := policy.CanDeleteCustomer(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	// Sale $220: balance +220, not deletable.
	_, err = svc.RecordSale(ctx, 1, 10, dec("220"), testDate, "", 1)
	require.NoError(t, err)
	ok, reason, err := policy.CanDeleteCustomer(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, reason, "owes")

	// Payment $220: balance back to zero, deletable again.
	_, err = svc.RecordPayment(ctx, 1, 11, dec("220"), testDate.Add(time.Hour), "", 1)
	require.NoError(t, err)
	ok, _, err = policy.CanDeleteCustomer(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCanDeleteCustomerWithCredit(t *testing.T) {
	ctx := context.Background()
	_, svc, policy := partialTestFixture(t)

	_, err := svc.RecordPayment(ctx, 1, 12, dec("30"), testDate, "", 1)
	require.NoError(t, err)
	ok, reason, err := policy.CanDeleteCustomer(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, reason, "credit")
}

func TestCheckCreditLimit(t *testing.T) {
	ctx := context.Background()
	repo, svc, policy := partialTestFixture(t)

	_, err := svc.RecordSale(ctx, 1, 20, dec("400"), testDate, "", 1)
	require.NoError(t, err)
	repo.accounts[1].CreditLimit = dec("500")

	require.NoError(t, policy.CheckCreditLimit(ctx, 1, dec("100")))
	require.ErrorIs(t, policy.CheckCreditLimit(ctx, 1, dec("100.01")), ErrCreditLimitExceeded)

	// Zero limit means unlimited.
	repo.accounts[1].CreditLimit = decimal.Zero
	require.NoError(t, policy.CheckCreditLimit(ctx, 1, dec("100000")))

	// No account yet: nothing to exceed.
	require.NoError(t, policy.CheckCreditLimit(ctx, 404, dec("10")))
}
