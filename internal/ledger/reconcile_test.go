package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func reconcileFixture(t *testing.T) (*memoryLedgerRepo, *Service, *Reconciler) {
	t.Helper()
	repo := newMemoryLedgerRepo()
	svc := newTestService(repo)
	return repo, svc, NewReconciler(repo, nil)
}

func seedAccount(t *testing.T, repo *memoryLedgerRepo, svc *Service, customerID int64) {
	t.Helper()
	repo.addCustomer(customerID)
	// First recorded entry creates the aggregate lazily.
	_, err := svc.Record(context.Background(), RecordInput{
		CustomerID: customerID, Type: TypeOpeningBalance, Amount: decimal.Zero,
		Description: "Opening balance", TransactionDate: testDate.Add(-24 * time.Hour), CreatedBy: 1,
	})
	require.NoError(t, err)
}

func TestReconcileReplaysInChronologicalOrder(t *testing.T) {
	ctx := context.Background()
	repo, svc, rec := reconcileFixture(t)
	seedAccount(t, repo, svc, 1)

	// Sources written out of insertion order; replay must follow timestamps.
	repo.payments = append(repo.payments,
		memorySourceRow{id: 1, customerID: 1, amount: dec("60"), occurredAt: testDate.Add(2 * time.Hour), number: "PAY-1"})
	repo.sales = append(repo.sales,
		memorySourceRow{id: 1, customerID: 1, amount: dec("100"), occurredAt: testDate, number: "INV-1"},
		memorySourceRow{id: 2, customerID: 1, amount: dec("40"), occurredAt: testDate.Add(3 * time.Hour), number: "INV-2"})

	summary, err := rec.Run(ctx, ReconcileOptions{ActorID: 1})
	require.NoError(t, err)
	require.Equal(t, 3, summary.Migrated)
	require.Equal(t, 0, summary.Skipped)
	require.True(t, summary.TotalAmount.Equal(dec("200")))

	entries, _ := repo.ListEntries(ctx, 1)
	require.Len(t, entries, 4) // opening balance + three replays
	require.NoError(t, VerifyChain(entries, decimal.Zero))

	account, _ := repo.GetAccount(ctx, 1)
	require.True(t, account.Balance.Equal(dec("80")), "100 - 60 + 40, got %s", account.Balance)
	require.True(t, account.TotalSales.Equal(dec("140")))
	require.True(t, account.TotalPayments.Equal(dec("60")))
	require.Equal(t, int64(4), account.TransactionCount)
	require.NoError(t, svc.VerifyCustomer(ctx, 1))
}

func TestReconcileSeedsOverlayOncePerCustomer(t *testing.T) {
	ctx := context.Background()
	repo, svc, rec := reconcileFixture(t)
	seedAccount(t, repo, svc, 1)
	_, err := svc.RecordSale(ctx, 1, 99, dec("10"), testDate.Add(-time.Hour), "", 1)
	require.NoError(t, err)

	// Two missing rows for the same customer in one batch: the second must
	// build on the first's in-memory balance, not on a stale re-read.
	repo.sales = append(repo.sales,
		memorySourceRow{id: 1, customerID: 1, amount: dec("30"), occurredAt: testDate, number: "INV-1"},
		memorySourceRow{id: 2, customerID: 1, amount: dec("20"), occurredAt: testDate.Add(time.Hour), number: "INV-2"})

	_, err = rec.Run(ctx, ReconcileOptions{ActorID: 1})
	require.NoError(t, err)

	entries, _ := repo.ListEntries(ctx, 1)
	last := entries[len(entries)-1]
	require.True(t, last.BalanceBefore.Equal(dec("40")))
	require.True(t, last.BalanceAfter.Equal(dec("60")))
	account, _ := repo.GetAccount(ctx, 1)
	require.True(t, account.Balance.Equal(dec("60")))
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, svc, rec := reconcileFixture(t)
	seedAccount(t, repo, svc, 1)
	repo.sales = append(repo.sales,
		memorySourceRow{id: 1, customerID: 1, amount: dec("100"), occurredAt: testDate, number: "INV-1"})
	repo.payments = append(repo.payments,
		memorySourceRow{id: 1, customerID: 1, amount: dec("25"), occurredAt: testDate.Add(time.Hour), number: "PAY-1"})

	first, err := rec.Run(ctx, ReconcileOptions{ActorID: 1})
	require.NoError(t, err)
	require.Equal(t, 2, first.Migrated)

	second, err := rec.Run(ctx, ReconcileOptions{ActorID: 1})
	require.NoError(t, err)
	require.Equal(t, 0, second.Migrated)
	require.Equal(t, 0, second.MissingSales)
	require.Equal(t, 0, second.MissingPays)
}

func TestReconcileDryRunHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	repo, svc, rec := reconcileFixture(t)
	seedAccount(t, repo, svc, 1)
	repo.sales = append(repo.sales,
		memorySourceRow{id: 1, customerID: 1, amount: dec("100"), occurredAt: testDate, number: "INV-1"})

	summary, err := rec.Run(ctx, ReconcileOptions{DryRun: true, ActorID: 1})
	require.NoError(t, err)
	require.True(t, summary.DryRun)
	require.Equal(t, 1, summary.Migrated)
	require.True(t, summary.TotalAmount.Equal(dec("100")))

	// Nothing persisted: entries and aggregate untouched.
	entries, _ := repo.ListEntries(ctx, 1)
	require.Len(t, entries, 1)
	account, _ := repo.GetAccount(ctx, 1)
	require.True(t, account.Balance.IsZero())

	// A live run afterwards still finds and migrates the row.
	live, err := rec.Run(ctx, ReconcileOptions{ActorID: 1})
	require.NoError(t, err)
	require.Equal(t, 1, live.Migrated)
}

func TestReconcileSkipsCustomersWithoutAccount(t *testing.T) {
	ctx := context.Background()
	repo, svc, rec := reconcileFixture(t)
	seedAccount(t, repo, svc, 1)
	repo.addCustomer(2) // customer exists but has no account aggregate
	repo.sales = append(repo.sales,
		memorySourceRow{id: 1, customerID: 1, amount: dec("10"), occurredAt: testDate, number: "INV-1"},
		memorySourceRow{id: 2, customerID: 2, amount: dec("55"), occurredAt: testDate, number: "INV-2"})

	summary, err := rec.Run(ctx, ReconcileOptions{ActorID: 1})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Migrated)
	require.Equal(t, 1, summary.Skipped)

	// The skipped row is not silently given an account.
	_, err = repo.GetAccount(ctx, 2)
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestReconcileExcludesVoidedSources(t *testing.T) {
	ctx := context.Background()
	repo, svc, rec := reconcileFixture(t)
	seedAccount(t, repo, svc, 1)
	repo.sales = append(repo.sales,
		memorySourceRow{id: 1, customerID: 1, amount: dec("10"), occurredAt: testDate, number: "INV-1", voided: true})
	repo.payments = append(repo.payments,
		memorySourceRow{id: 1, customerID: 1, amount: dec("5"), occurredAt: testDate, number: "PAY-1", voided: true})

	summary, err := rec.Run(ctx, ReconcileOptions{ActorID: 1})
	require.NoError(t, err)
	require.Equal(t, 0, summary.Migrated)
	require.Equal(t, 0, summary.MissingSales)
	require.Equal(t, 0, summary.MissingPays)
}

func TestReconcileManyCustomersInParallel(t *testing.T) {
	ctx := context.Background()
	repo, svc, rec := reconcileFixture(t)

	for id := int64(1); id <= 20; id++ {
		seedAccount(t, repo, svc, id)
		repo.sales = append(repo.sales,
			memorySourceRow{id: id, customerID: id, amount: dec("10"), occurredAt: testDate, number: "INV"},
			memorySourceRow{id: 100 + id, customerID: id, amount: dec("5"), occurredAt: testDate.Add(time.Hour), number: "INV"})
	}

	summary, err := rec.Run(ctx, ReconcileOptions{ActorID: 1, Parallelism: 1})
	require.NoError(t, err)
	require.Equal(t, 40, summary.Migrated)
	require.Equal(t, 20, summary.CustomersSeen)

	for id := int64(1); id <= 20; id++ {
		require.NoError(t, svc.VerifyCustomer(ctx, id))
		account, _ := repo.GetAccount(ctx, id)
		require.True(t, account.Balance.Equal(dec("15")))
	}
}
