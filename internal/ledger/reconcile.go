package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ReconcileOptions configures a reconciliation run.
type ReconcileOptions struct {
	DryRun bool
	// BatchLimit caps how many missing rows of each kind are fetched per run.
	BatchLimit int
	// Parallelism bounds concurrent per-customer replays. Events for one
	// customer are always replayed sequentially by one goroutine.
	Parallelism int
	ActorID     int64
}

// ReconcileSummary reports the outcome of one run.
type ReconcileSummary struct {
	DryRun        bool            `json:"dry_run"`
	MissingSales  int             `json:"missing_sales"`
	MissingPays   int             `json:"missing_payments"`
	Migrated      int             `json:"migrated"`
	Skipped       int             `json:"skipped"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	CustomersSeen int             `json:"customers_seen"`
	StartedAt     time.Time       `json:"started_at"`
	Duration      time.Duration   `json:"duration"`
}

// Reconciler detects sales and payments that bypassed the recorder and
// replays them in chronological order to rebuild a consistent ledger.
type Reconciler struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewReconciler constructs the reconciler.
func NewReconciler(repo RepositoryPort, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{repo: repo, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (r *Reconciler) WithNow(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Run executes one reconciliation pass. A second consecutive live run finds
// nothing to migrate, because the entries written by the first run exclude
// their sources from the detection queries.
func (r *Reconciler) Run(ctx context.Context, opts ReconcileOptions) (ReconcileSummary, error) {
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 10000
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	started := r.now()
	summary := ReconcileSummary{DryRun: opts.DryRun, TotalAmount: decimal.Zero, StartedAt: started}

	sales, err := r.repo.ListUnrecordedSales(ctx, opts.BatchLimit)
	if err != nil {
		return summary, fmt.Errorf("ledger: detect unrecorded sales: %w", err)
	}
	payments, err := r.repo.ListUnrecordedPayments(ctx, opts.BatchLimit)
	if err != nil {
		return summary, fmt.Errorf("ledger: detect unrecorded payments: %w", err)
	}
	summary.MissingSales = len(sales)
	summary.MissingPays = len(payments)

	events := make([]MissingEvent, 0, len(sales)+len(payments))
	events = append(events, sales...)
	events = append(events, payments...)
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].SourceID < events[j].SourceID
		}
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})

	// Group per customer, preserving the chronological order within each
	// group. Customers are independent and replay in parallel; the running
	// balance overlay below is the only state a group touches.
	groups := make(map[int64][]MissingEvent)
	var order []int64
	for _, ev := range events {
		if _, seen := groups[ev.CustomerID]; !seen {
			order = append(order, ev.CustomerID)
		}
		groups[ev.CustomerID] = append(groups[ev.CustomerID], ev)
	}
	summary.CustomersSeen = len(order)

	results := make([]customerReplay, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for i, customerID := range order {
		g.Go(func() error {
			res, err := r.replayCustomer(gctx, customerID, groups[customerID], opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Per-customer batches commit atomically, so a failure leaves every
		// other customer either fully migrated or untouched.
		for _, res := range results {
			summary.Migrated += res.migrated
			summary.Skipped += res.skipped
			summary.TotalAmount = summary.TotalAmount.Add(res.amount)
		}
		summary.Duration = r.now().Sub(started)
		return summary, err
	}
	for _, res := range results {
		summary.Migrated += res.migrated
		summary.Skipped += res.skipped
		summary.TotalAmount = summary.TotalAmount.Add(res.amount)
	}
	summary.Duration = r.now().Sub(started)

	r.logger.Info("ledger reconciliation finished",
		slog.Bool("dry_run", opts.DryRun),
		slog.Int("migrated", summary.Migrated),
		slog.Int("skipped", summary.Skipped),
		slog.String("total_amount", summary.TotalAmount.StringFixed(2)),
		slog.Duration("duration", summary.Duration))
	return summary, nil
}

type customerReplay struct {
	migrated int
	skipped  int
	amount   decimal.Decimal
}

// replayCustomer advances an in-memory running balance seeded once from the
// aggregate, then persists the entries and the final balance in a single
// transaction. The overlay prevents re-reading a stale aggregate between
// rows of the same batch.
func (r *Reconciler) replayCustomer(ctx context.Context, customerID int64, events []MissingEvent, opts ReconcileOptions) (customerReplay, error) {
	res := customerReplay{amount: decimal.Zero}

	account, err := r.repo.GetAccount(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Account creation is a distinct administrative action; never
			// auto-create during reconciliation.
			r.logger.Warn("skipping rows for customer without account",
				slog.Int64("customer_id", customerID), slog.Int("rows", len(events)))
			res.skipped = len(events)
			return res, nil
		}
		return res, err
	}

	running := account.Balance
	totalSales := account.TotalSales
	totalPayments := account.TotalPayments
	lastPaymentAt := account.LastPaymentAt
	now := r.now()

	entries := make([]Entry, 0, len(events))
	for _, ev := range events {
		var entry Entry
		switch ev.Kind {
		case MissingSale:
			entry = Entry{
				Type:      TypeSale,
				Reference: Reference{Kind: RefSale, ID: ev.SourceID},
			}
			totalSales = totalSales.Add(ev.Amount)
		case MissingPayment:
			entry = Entry{
				Type:      TypePayment,
				Reference: Reference{Kind: RefPayment, ID: ev.SourceID},
			}
			totalPayments = totalPayments.Add(ev.Amount)
			paidAt := ev.OccurredAt
			if lastPaymentAt == nil || paidAt.After(*lastPaymentAt) {
				lastPaymentAt = &paidAt
			}
		default:
			return res, fmt.Errorf("ledger: unknown missing event kind %q", ev.Kind)
		}
		entry.UUID = uuid.New()
		entry.CustomerID = customerID
		entry.AccountID = account.ID
		entry.Amount = ev.Amount
		entry.BalanceBefore = running
		entry.BalanceAfter = running.Add(Delta(entry.Type, ev.Amount))
		entry.Description = "Backfill: " + ev.Description
		entry.TransactionDate = ev.OccurredAt
		entry.CreatedBy = opts.ActorID
		entry.CreatedAt = now

		running = entry.BalanceAfter
		entries = append(entries, entry)
		res.amount = res.amount.Add(ev.Amount)

		r.logger.Info("reconcile row",
			slog.Bool("dry_run", opts.DryRun),
			slog.Int64("customer_id", customerID),
			slog.String("kind", string(ev.Kind)),
			slog.Int64("source_id", ev.SourceID),
			slog.String("amount", ev.Amount.StringFixed(2)),
			slog.String("balance_after", entry.BalanceAfter.StringFixed(2)))
	}

	if opts.DryRun {
		res.migrated = len(entries)
		return res, nil
	}

	err = r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetAccountForUpdate(ctx, customerID)
		if err != nil {
			return err
		}
		if !locked.Balance.Equal(account.Balance) {
			return fmt.Errorf("ledger: account %d changed during reconciliation, rerun", customerID)
		}
		for i := range entries {
			id, err := tx.InsertEntry(ctx, entries[i])
			if err != nil {
				return err
			}
			entries[i].ID = id
		}
		locked.Balance = running
		locked.TotalSales = totalSales
		locked.TotalPayments = totalPayments
		locked.LastPaymentAt = lastPaymentAt
		locked.TransactionCount += int64(len(entries))
		locked.UpdatedAt = now
		return tx.UpdateAccount(ctx, *locked)
	})
	if err != nil {
		return res, fmt.Errorf("ledger: replay customer %d: %w", customerID, err)
	}
	res.migrated = len(entries)
	return res, nil
}
