package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/techstore-pos/techstore/internal/shared"
)

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CachePort caches balance summaries. Implementations must treat the cache
// as advisory: a miss or error falls through to the repository.
type CachePort interface {
	GetSummary(ctx context.Context, customerID int64) (*Summary, bool)
	SetSummary(ctx context.Context, summary Summary)
	Invalidate(ctx context.Context, customerID int64)
}

// Service is the only writer of ledger entries. Every append updates the
// account aggregate in the same transaction.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	cache  CachePort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort, cache CachePort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, cache: cache, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Record appends one ledger entry and updates the account aggregate
// atomically. The account row is locked for the duration of the transaction,
// serialising concurrent events for the same customer.
func (s *Service) Record(ctx context.Context, input RecordInput) (Entry, error) {
	if err := input.Validate(); err != nil {
		return Entry{}, err
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := s.lockOrCreateAccount(ctx, tx, input.CustomerID, input.CreatedBy)
		if err != nil {
			return err
		}

		now := s.now()
		delta := Delta(input.Type, input.Amount)
		entry = Entry{
			UUID:            uuid.New(),
			CustomerID:      input.CustomerID,
			AccountID:       account.ID,
			Type:            input.Type,
			Amount:          input.Amount,
			BalanceBefore:   account.Balance,
			BalanceAfter:    account.Balance.Add(delta),
			Reference:       input.Reference,
			Description:     input.Description,
			TransactionDate: input.TransactionDate,
			CreatedBy:       input.CreatedBy,
			CreatedAt:       now,
		}
		id, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id

		account.Balance = entry.BalanceAfter
		account.TransactionCount++
		account.UpdatedAt = now
		switch input.Type {
		case TypeSale:
			account.TotalSales = account.TotalSales.Add(input.Amount)
		case TypeVoidSale:
			account.TotalSales = account.TotalSales.Sub(input.Amount)
		case TypePayment, TypeRepairDeposit:
			account.TotalPayments = account.TotalPayments.Add(input.Amount)
			paidAt := input.TransactionDate
			account.LastPaymentAt = &paidAt
		}
		return tx.UpdateAccount(ctx, *account)
	})
	if err != nil {
		return Entry{}, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, input.CustomerID)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.CreatedBy,
			Action:   "ledger.record",
			Entity:   "customer_transaction",
			EntityID: entry.UUID.String(),
			Meta: map[string]any{
				"customer_id": input.CustomerID,
				"type":        string(input.Type),
				"amount":      input.Amount.StringFixed(2),
				"reference":   input.Reference.String(),
			},
			At: s.now(),
		})
	}
	return entry, nil
}

func (s *Service) lockOrCreateAccount(ctx context.Context, tx TxRepository, customerID, createdBy int64) (*Account, error) {
	account, err := tx.GetAccountForUpdate(ctx, customerID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}
	exists, err := s.repo.CustomerExists(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrCustomerNotFound
	}

	// Lazy creation with a zero opening balance. The insert races with
	// concurrent first entries for the same customer; the unique customer_id
	// constraint makes the loser retry via the caller's transaction rollback.
	now := s.now()
	account = &Account{
		CustomerID: customerID,
		Balance:    decimal.Zero,
		CreatedBy:  createdBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	id, err := tx.CreateAccount(ctx, *account)
	if err != nil {
		return nil, err
	}
	account.ID = id
	return account, nil
}

// RecordSale records a completed sale (balance increases by the total).
func (s *Service) RecordSale(ctx context.Context, customerID, saleID int64, total decimal.Decimal, soldAt time.Time, description string, actorID int64) (Entry, error) {
	return s.Record(ctx, RecordInput{
		CustomerID:      customerID,
		Type:            TypeSale,
		Amount:          total,
		Reference:       Reference{Kind: RefSale, ID: saleID},
		Description:     description,
		TransactionDate: soldAt,
		CreatedBy:       actorID,
	})
}

// RecordPayment records a received payment (balance decreases by the amount).
func (s *Service) RecordPayment(ctx context.Context, customerID, paymentID int64, amount decimal.Decimal, receivedAt time.Time, description string, actorID int64) (Entry, error) {
	return s.Record(ctx, RecordInput{
		CustomerID:      customerID,
		Type:            TypePayment,
		Amount:          amount,
		Reference:       Reference{Kind: RefPayment, ID: paymentID},
		Description:     description,
		TransactionDate: receivedAt,
		CreatedBy:       actorID,
	})
}

// RecordDepositReceived records money held against a repair (customer credit).
func (s *Service) RecordDepositReceived(ctx context.Context, customerID, depositID int64, amount decimal.Decimal, receivedAt time.Time, description string, actorID int64) (Entry, error) {
	return s.Record(ctx, RecordInput{
		CustomerID:      customerID,
		Type:            TypeRepairDeposit,
		Amount:          amount,
		Reference:       Reference{Kind: RefDeposit, ID: depositID},
		Description:     description,
		TransactionDate: receivedAt,
		CreatedBy:       actorID,
	})
}

// RecordDepositApplication consumes held credit against a sale.
func (s *Service) RecordDepositApplication(ctx context.Context, customerID, saleID int64, amount decimal.Decimal, appliedAt time.Time, description string, actorID int64) (Entry, error) {
	return s.Record(ctx, RecordInput{
		CustomerID:      customerID,
		Type:            TypeCreditApplication,
		Amount:          amount,
		Reference:       Reference{Kind: RefSale, ID: saleID},
		Description:     description,
		TransactionDate: appliedAt,
		CreatedBy:       actorID,
	})
}

// RecordDepositRefund reverses a held deposit (balance increases back).
func (s *Service) RecordDepositRefund(ctx context.Context, customerID, depositID int64, amount decimal.Decimal, refundedAt time.Time, description string, actorID int64) (Entry, error) {
	return s.Record(ctx, RecordInput{
		CustomerID:      customerID,
		Type:            TypeDebitNote,
		Amount:          amount,
		Reference:       Reference{Kind: RefDeposit, ID: depositID},
		Description:     description,
		TransactionDate: refundedAt,
		CreatedBy:       actorID,
	})
}

// RecordVoidSale appends the offsetting entry for a voided sale. The original
// sale entry is never edited.
func (s *Service) RecordVoidSale(ctx context.Context, customerID, saleID int64, total decimal.Decimal, voidedAt time.Time, description string, actorID int64) (Entry, error) {
	return s.Record(ctx, RecordInput{
		CustomerID:      customerID,
		Type:            TypeVoidSale,
		Amount:          total,
		Reference:       Reference{Kind: RefSale, ID: saleID},
		Description:     description,
		TransactionDate: voidedAt,
		CreatedBy:       actorID,
	})
}

// RecordOpeningBalance seeds a legacy customer's starting position. Amount
// may be signed: positive for inherited debt, negative for inherited credit.
func (s *Service) RecordOpeningBalance(ctx context.Context, customerID int64, amount decimal.Decimal, asOf time.Time, actorID int64) (Entry, error) {
	return s.Record(ctx, RecordInput{
		CustomerID:      customerID,
		Type:            TypeOpeningBalance,
		Amount:          amount,
		Description:     "Opening balance",
		TransactionDate: asOf,
		CreatedBy:       actorID,
	})
}

// RecordAdjustment appends a signed manual correction. Positive increases
// what the customer owes, negative decreases it.
func (s *Service) RecordAdjustment(ctx context.Context, customerID int64, amount decimal.Decimal, asOf time.Time, description string, actorID int64) (Entry, error) {
	if description == "" {
		return Entry{}, errors.New("ledger: adjustment requires a description")
	}
	return s.Record(ctx, RecordInput{
		CustomerID:      customerID,
		Type:            TypeAdjustment,
		Amount:          amount,
		Description:     description,
		TransactionDate: asOf,
		CreatedBy:       actorID,
	})
}

// GetBalance returns the cached aggregate balance. Customers without an
// account simply have no transactions yet and owe nothing.
func (s *Service) GetBalance(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	account, err := s.repo.GetAccount(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			exists, exErr := s.repo.CustomerExists(ctx, customerID)
			if exErr != nil {
				return decimal.Zero, exErr
			}
			if !exists {
				return decimal.Zero, ErrCustomerNotFound
			}
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// CalculateBalance recomputes the balance from the ledger history. It is
// idempotent and never touches the aggregate.
func (s *Service) CalculateBalance(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	exists, err := s.repo.CustomerExists(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	if !exists {
		return decimal.Zero, ErrCustomerNotFound
	}
	entries, err := s.repo.ListEntries(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	return ComputeBalance(entries, decimal.Zero), nil
}

// GetBalanceSummary returns the query-interface view, cache-aside.
func (s *Service) GetBalanceSummary(ctx context.Context, customerID int64) (Summary, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetSummary(ctx, customerID); ok {
			return *cached, nil
		}
	}
	account, err := s.repo.GetAccount(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			exists, exErr := s.repo.CustomerExists(ctx, customerID)
			if exErr != nil {
				return Summary{}, exErr
			}
			if !exists {
				return Summary{}, ErrCustomerNotFound
			}
			account = &Account{CustomerID: customerID, Balance: decimal.Zero}
		} else {
			return Summary{}, err
		}
	}
	summary := Summarize(*account)
	if s.cache != nil {
		s.cache.SetSummary(ctx, summary)
	}
	return summary, nil
}

// HistoryItem is one row of the reverse-chronological statement view.
type HistoryItem struct {
	Entry          Entry           `json:"entry"`
	RunningBalance decimal.Decimal `json:"running_balance"`
}

// GetTransactionHistory lists the most recent entries with the running
// balance recomputed top-down from the aggregate.
func (s *Service) GetTransactionHistory(ctx context.Context, customerID int64, limit int) ([]HistoryItem, error) {
	if limit <= 0 {
		limit = 50
	}
	account, err := s.repo.GetAccount(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	entries, err := s.repo.ListEntriesDesc(ctx, customerID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]HistoryItem, 0, len(entries))
	running := account.Balance
	for _, e := range entries {
		items = append(items, HistoryItem{Entry: e, RunningBalance: running})
		running = running.Sub(e.Delta())
	}
	return items, nil
}

// Drift describes one customer whose ledger and aggregate disagree.
type Drift struct {
	CustomerID int64
	Reason     string
}

// VerifyCustomer checks chain consistency and the balance identity for one
// customer. A nil error means the ledger and aggregate agree.
func (s *Service) VerifyCustomer(ctx context.Context, customerID int64) error {
	account, err := s.repo.GetAccount(ctx, customerID)
	if err != nil {
		return err
	}
	entries, err := s.repo.ListEntries(ctx, customerID)
	if err != nil {
		return err
	}
	if err := VerifyChain(entries, decimal.Zero); err != nil {
		return err
	}
	computed := ComputeBalance(entries, decimal.Zero)
	if !account.Balance.Equal(computed) {
		return fmt.Errorf("ledger: aggregate balance %s does not match computed %s for customer %d",
			account.Balance.StringFixed(2), computed.StringFixed(2), customerID)
	}
	if account.TransactionCount != int64(len(entries)) {
		return fmt.Errorf("ledger: transaction count %d does not match %d entries for customer %d",
			account.TransactionCount, len(entries), customerID)
	}
	return nil
}

// VerifyAll runs VerifyCustomer over every account, collecting drift.
func (s *Service) VerifyAll(ctx context.Context) ([]Drift, error) {
	ids, err := s.repo.ListAccountCustomerIDs(ctx)
	if err != nil {
		return nil, err
	}
	var drifts []Drift
	for _, id := range ids {
		if err := s.VerifyCustomer(ctx, id); err != nil {
			drifts = append(drifts, Drift{CustomerID: id, Reason: err.Error()})
			s.logger.Warn("ledger drift detected", slog.Int64("customer_id", id), slog.Any("error", err))
		}
	}
	return drifts, nil
}
