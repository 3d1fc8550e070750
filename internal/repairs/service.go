package repairs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techstore-pos/techstore/internal/ledger"
	"github.com/techstore-pos/techstore/internal/sales"
	"github.com/techstore-pos/techstore/internal/shared"
)

// LedgerPort is the slice of the transaction recorder the deposit flows use.
// Deposits reference the repair ticket itself.
type LedgerPort interface {
	RecordDepositReceived(ctx context.Context, customerID, depositID int64, amount decimal.Decimal, receivedAt time.Time, description string, actorID int64) (ledger.Entry, error)
	RecordDepositRefund(ctx context.Context, customerID, depositID int64, amount decimal.Decimal, refundedAt time.Time, description string, actorID int64) (ledger.Entry, error)
}

// SalesPort completes the billing sale when a repair is done.
type SalesPort interface {
	CompleteSale(ctx context.Context, input sales.CompleteSaleInput) (sales.CompleteSaleResult, error)
}

// AuditPort records repair events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CompleteResult is the outcome of billing a finished repair.
type CompleteResult struct {
	Repair     Repair                  `json:"repair"`
	Settlement ledger.SettlementResult `json:"settlement"`
}

// Service coordinates repair tickets, their deposits, and final billing.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
	sales  SalesPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the repairs service.
func NewService(repo RepositoryPort, ledgerPort LedgerPort, salesPort SalesPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledgerPort, sales: salesPort, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create opens a repair ticket.
func (s *Service) Create(ctx context.Context, input CreateRepairInput) (Repair, error) {
	if input.CustomerID == 0 {
		return Repair{}, errors.New("repairs: customer id required")
	}
	if input.Device == "" {
		return Repair{}, errors.New("repairs: device required")
	}
	number, err := s.repo.NextNumber(ctx)
	if err != nil {
		return Repair{}, fmt.Errorf("repairs: next number: %w", err)
	}
	now := s.now()
	repair, err := s.repo.Create(ctx, Repair{
		Number:        number,
		CustomerID:    input.CustomerID,
		Device:        input.Device,
		Issue:         input.Issue,
		Status:        StatusReceived,
		EstimatedCost: input.EstimatedCost,
		DepositAmount: decimal.Zero,
		DepositState:  DepositNone,
		ReceivedAt:    now,
		CreatedBy:     input.ActorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return Repair{}, err
	}
	s.recordAudit(ctx, input.ActorID, "repair.create", repair.ID)
	return repair, nil
}

// Get loads one repair.
func (s *Service) Get(ctx context.Context, id int64) (Repair, error) {
	return s.repo.Get(ctx, id)
}

// ListByCustomer returns a customer's most recent repairs.
func (s *Service) ListByCustomer(ctx context.Context, customerID int64, limit int) ([]Repair, error) {
	return s.repo.ListByCustomer(ctx, customerID, limit)
}

// TakeDeposit collects an up-front deposit and puts it on the customer's
// account as held credit. One deposit per repair.
func (s *Service) TakeDeposit(ctx context.Context, repairID int64, amount decimal.Decimal, actorID int64) (Repair, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return Repair{}, errors.New("repairs: deposit amount must be positive")
	}
	repair, err := s.repo.Get(ctx, repairID)
	if err != nil {
		return Repair{}, err
	}
	if repair.Status == StatusCompleted || repair.Status == StatusCancelled {
		return Repair{}, ErrInvalidState
	}
	if repair.DepositState != DepositNone {
		return Repair{}, ErrDepositTaken
	}

	if _, err := s.ledger.RecordDepositReceived(ctx, repair.CustomerID, repair.ID, amount, s.now(),
		"Deposit for repair "+repair.Number, actorID); err != nil {
		return Repair{}, fmt.Errorf("repairs: record deposit for %s: %w", repair.Number, err)
	}

	repair.DepositAmount = amount
	repair.DepositState = DepositHeld
	repair.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, repair); err != nil {
		return Repair{}, err
	}
	s.recordAudit(ctx, actorID, "repair.deposit", repair.ID)
	return repair, nil
}

// RefundDeposit returns a held deposit to the customer and clears the credit
// from the account. Only possible while the deposit is still held.
func (s *Service) RefundDeposit(ctx context.Context, repairID int64, actorID int64) (Repair, error) {
	repair, err := s.repo.Get(ctx, repairID)
	if err != nil {
		return Repair{}, err
	}
	switch repair.DepositState {
	case DepositNone:
		return Repair{}, ErrNoDeposit
	case DepositApplied, DepositRefunded:
		return Repair{}, ErrDepositConsumed
	}

	if _, err := s.ledger.RecordDepositRefund(ctx, repair.CustomerID, repair.ID, repair.DepositAmount, s.now(),
		"Deposit refund for repair "+repair.Number, actorID); err != nil {
		return Repair{}, fmt.Errorf("repairs: record refund for %s: %w", repair.Number, err)
	}

	repair.DepositState = DepositRefunded
	repair.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, repair); err != nil {
		return Repair{}, err
	}
	s.recordAudit(ctx, actorID, "repair.deposit_refund", repair.ID)
	return repair, nil
}

// Cancel closes a repair without billing. A held deposit stays on the
// account until it is explicitly refunded.
func (s *Service) Cancel(ctx context.Context, repairID int64, actorID int64) (Repair, error) {
	repair, err := s.repo.Get(ctx, repairID)
	if err != nil {
		return Repair{}, err
	}
	if repair.Status == StatusCompleted || repair.Status == StatusCancelled {
		return Repair{}, ErrInvalidState
	}
	repair.Status = StatusCancelled
	repair.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, repair); err != nil {
		return Repair{}, err
	}
	s.recordAudit(ctx, actorID, "repair.cancel", repair.ID)
	return repair, nil
}

// Complete bills a finished repair through the sales flow. The full total
// goes on the account; a held deposit already sits there as credit, so the
// net amount due is total minus deposit. Anything tendered now settles
// against the sale like a normal partial payment.
func (s *Service) Complete(ctx context.Context, repairID int64, total decimal.Decimal, amountPaid *decimal.Decimal, actorID int64) (CompleteResult, error) {
	if total.LessThanOrEqual(decimal.Zero) {
		return CompleteResult{}, errors.New("repairs: total must be positive")
	}
	repair, err := s.repo.Get(ctx, repairID)
	if err != nil {
		return CompleteResult{}, err
	}
	if repair.Status == StatusCompleted || repair.Status == StatusCancelled {
		return CompleteResult{}, ErrInvalidState
	}

	customerID := repair.CustomerID
	result, err := s.sales.CompleteSale(ctx, sales.CompleteSaleInput{
		CustomerID:  &customerID,
		TotalAmount: total,
		AmountPaid:  amountPaid,
		SoldAt:      s.now(),
		ActorID:     actorID,
	})
	if err != nil {
		return CompleteResult{}, fmt.Errorf("repairs: bill repair %s: %w", repair.Number, err)
	}
	if !result.Settlement.OK {
		return CompleteResult{Repair: repair, Settlement: result.Settlement}, nil
	}

	now := s.now()
	repair.Status = StatusCompleted
	repair.CompletedAt = &now
	repair.SaleID = &result.Sale.ID
	if repair.DepositState == DepositHeld {
		repair.DepositState = DepositApplied
	}
	repair.UpdatedAt = now
	if err := s.repo.Update(ctx, repair); err != nil {
		return CompleteResult{}, err
	}
	s.recordAudit(ctx, actorID, "repair.complete", repair.ID)
	return CompleteResult{Repair: repair, Settlement: result.Settlement}, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "repair",
		EntityID: strconv.FormatInt(id, 10),
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
