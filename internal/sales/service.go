package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techstore-pos/techstore/internal/ledger"
	"github.com/techstore-pos/techstore/internal/shared"
)

// LedgerPort is the slice of the transaction recorder the sales flows use.
type LedgerPort interface {
	RecordSale(ctx context.Context, customerID, saleID int64, total decimal.Decimal, soldAt time.Time, description string, actorID int64) (ledger.Entry, error)
	RecordPayment(ctx context.Context, customerID, paymentID int64, amount decimal.Decimal, receivedAt time.Time, description string, actorID int64) (ledger.Entry, error)
	RecordVoidSale(ctx context.Context, customerID, saleID int64, total decimal.Decimal, voidedAt time.Time, description string, actorID int64) (ledger.Entry, error)
}

// PolicyPort is the slice of the debt/credit policy the sales flows use.
type PolicyPort interface {
	SettlePartialPayment(ctx context.Context, sale ledger.PartialSale, amountPaid *decimal.Decimal, paymentID int64, paymentMethod string) (ledger.SettlementResult, error)
	CheckCreditLimit(ctx context.Context, customerID int64, saleTotal decimal.Decimal) error
}

// AuditPort records sales events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CompleteSaleResult is the outcome of ringing up a sale.
type CompleteSaleResult struct {
	Sale       Sale                    `json:"sale"`
	Settlement ledger.SettlementResult `json:"settlement"`
}

// Service coordinates sale and payment rows with the customer ledger.
type Service struct {
	repo        RepositoryPort
	ledger      LedgerPort
	policy      PolicyPort
	idempotency *shared.IdempotencyStore
	audit       AuditPort
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the sales service.
func NewService(repo RepositoryPort, ledgerPort LedgerPort, policy PolicyPort, idem *shared.IdempotencyStore, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		ledger:      ledgerPort,
		policy:      policy,
		idempotency: idem,
		audit:       audit,
		logger:      logger,
		now:         time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CompleteSale rings up a sale. For account customers the full total goes on
// the ledger as debt, then whatever was tendered settles against it. Walk-in
// sales (no customer) never touch the ledger and must be paid in full.
func (s *Service) CompleteSale(ctx context.Context, input CompleteSaleInput) (CompleteSaleResult, error) {
	if input.TotalAmount.LessThanOrEqual(decimal.Zero) {
		return CompleteSaleResult{}, errors.New("sales: total amount must be positive")
	}
	if input.SoldAt.IsZero() {
		input.SoldAt = s.now()
	}

	if input.CustomerID == nil {
		if input.AmountPaid != nil && !input.AmountPaid.Equal(input.TotalAmount) {
			return CompleteSaleResult{
				Settlement: ledger.SettlementResult{OK: false, Message: "partial payment requires a customer account"},
			}, nil
		}
		return s.completeWalkIn(ctx, input)
	}
	customerID := *input.CustomerID

	if ok, msg := ledger.ValidatePartialPayment(input.AmountPaid, input.TotalAmount, input.PaymentMethod); !ok {
		return CompleteSaleResult{Settlement: ledger.SettlementResult{OK: false, Message: msg}}, nil
	}

	// The unpaid remainder is the credit the customer is asking for.
	remainder := input.TotalAmount
	if input.AmountPaid == nil {
		remainder = decimal.Zero
	} else {
		remainder = input.TotalAmount.Sub(*input.AmountPaid)
	}
	if remainder.IsPositive() {
		if err := s.policy.CheckCreditLimit(ctx, customerID, remainder); err != nil {
			return CompleteSaleResult{}, err
		}
	}

	if err := s.claimKey(ctx, input.IdempotencyKey); err != nil {
		return CompleteSaleResult{}, err
	}

	sale, err := s.createSale(ctx, input)
	if err != nil {
		s.releaseKey(ctx, input.IdempotencyKey)
		return CompleteSaleResult{}, err
	}

	if _, err := s.ledger.RecordSale(ctx, customerID, sale.ID, sale.TotalAmount, sale.SoldAt,
		"Sale "+sale.Number, input.ActorID); err != nil {
		return CompleteSaleResult{}, fmt.Errorf("sales: record sale %s: %w", sale.Number, err)
	}

	var paymentID int64
	tendered := input.TotalAmount
	if input.AmountPaid != nil {
		tendered = *input.AmountPaid
	}
	if tendered.IsPositive() {
		payment, err := s.createPayment(ctx, &customerID, &sale.ID, tendered, input.PaymentMethod, sale.SoldAt, input.ActorID)
		if err != nil {
			return CompleteSaleResult{}, err
		}
		paymentID = payment.ID
	}

	settlement, err := s.policy.SettlePartialPayment(ctx, ledger.PartialSale{
		ID:          sale.ID,
		CustomerID:  customerID,
		Number:      sale.Number,
		Total:       sale.TotalAmount,
		SoldAt:      sale.SoldAt,
		CompletedBy: input.ActorID,
	}, input.AmountPaid, paymentID, input.PaymentMethod)
	if err != nil {
		return CompleteSaleResult{}, fmt.Errorf("sales: settle sale %s: %w", sale.Number, err)
	}

	sale.Status = SaleStatus(settlement.Status)
	sale.AmountPaid = tendered
	if err := s.repo.UpdateSaleSettlement(ctx, sale.ID, sale.Status, sale.AmountPaid); err != nil {
		return CompleteSaleResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "sale.complete", "sale", sale.ID)
	return CompleteSaleResult{Sale: sale, Settlement: settlement}, nil
}

func (s *Service) completeWalkIn(ctx context.Context, input CompleteSaleInput) (CompleteSaleResult, error) {
	if err := s.claimKey(ctx, input.IdempotencyKey); err != nil {
		return CompleteSaleResult{}, err
	}
	sale, err := s.createSale(ctx, input)
	if err != nil {
		s.releaseKey(ctx, input.IdempotencyKey)
		return CompleteSaleResult{}, err
	}
	sale.Status = StatusPaid
	sale.AmountPaid = sale.TotalAmount
	if err := s.repo.UpdateSaleSettlement(ctx, sale.ID, sale.Status, sale.AmountPaid); err != nil {
		return CompleteSaleResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "sale.complete", "sale", sale.ID)
	return CompleteSaleResult{
		Sale:       sale,
		Settlement: ledger.SettlementResult{OK: true, Status: ledger.SaleStatusPaid, AmountDue: decimal.Zero, Message: "walk-in sale paid in full"},
	}, nil
}

func (s *Service) createSale(ctx context.Context, input CompleteSaleInput) (Sale, error) {
	number, err := s.repo.NextSaleNumber(ctx)
	if err != nil {
		return Sale{}, fmt.Errorf("sales: next sale number: %w", err)
	}
	return s.repo.CreateSale(ctx, Sale{
		Number:      number,
		CustomerID:  input.CustomerID,
		TotalAmount: input.TotalAmount,
		AmountPaid:  decimal.Zero,
		Status:      StatusPending,
		SoldAt:      input.SoldAt,
		CreatedBy:   input.ActorID,
		CreatedAt:   s.now(),
	})
}

// VoidSale flags the sale voided and appends an offsetting ledger entry for
// account customers. Payments already taken stay on the account as credit.
func (s *Service) VoidSale(ctx context.Context, saleID int64, actorID int64) (Sale, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return Sale{}, err
	}
	if sale.Voided {
		return Sale{}, ErrAlreadyVoided
	}
	now := s.now()
	if err := s.repo.MarkSaleVoided(ctx, saleID, now); err != nil {
		return Sale{}, err
	}
	if sale.CustomerID != nil {
		if _, err := s.ledger.RecordVoidSale(ctx, *sale.CustomerID, sale.ID, sale.TotalAmount, now,
			"Void sale "+sale.Number, actorID); err != nil {
			return Sale{}, fmt.Errorf("sales: record void for %s: %w", sale.Number, err)
		}
	}
	sale.Voided = true
	sale.VoidedAt = &now
	s.recordAudit(ctx, actorID, "sale.void", "sale", sale.ID)
	return sale, nil
}

// ReceivePayment records a standalone payment against a customer's debt.
func (s *Service) ReceivePayment(ctx context.Context, input ReceivePaymentInput) (Payment, error) {
	if input.CustomerID == 0 {
		return Payment{}, ErrNoCustomer
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return Payment{}, errors.New("sales: payment amount must be positive")
	}
	if input.ReceivedAt.IsZero() {
		input.ReceivedAt = s.now()
	}
	if err := s.claimKey(ctx, input.IdempotencyKey); err != nil {
		return Payment{}, err
	}
	payment, err := s.createPayment(ctx, &input.CustomerID, nil, input.Amount, input.Method, input.ReceivedAt, input.ActorID)
	if err != nil {
		s.releaseKey(ctx, input.IdempotencyKey)
		return Payment{}, err
	}
	if _, err := s.ledger.RecordPayment(ctx, input.CustomerID, payment.ID, payment.Amount, payment.ReceivedAt,
		"Payment "+payment.Number, input.ActorID); err != nil {
		return Payment{}, fmt.Errorf("sales: record payment %s: %w", payment.Number, err)
	}
	s.recordAudit(ctx, input.ActorID, "payment.receive", "payment", payment.ID)
	return payment, nil
}

// GetSale loads one sale.
func (s *Service) GetSale(ctx context.Context, id int64) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// ListSales returns a customer's most recent sales.
func (s *Service) ListSales(ctx context.Context, customerID int64, limit int) ([]Sale, error) {
	return s.repo.ListSales(ctx, customerID, limit)
}

func (s *Service) createPayment(ctx context.Context, customerID, saleID *int64, amount decimal.Decimal, method string, receivedAt time.Time, actorID int64) (Payment, error) {
	number, err := s.repo.NextPaymentNumber(ctx)
	if err != nil {
		return Payment{}, fmt.Errorf("sales: next payment number: %w", err)
	}
	if method == "" {
		method = "cash"
	}
	return s.repo.CreatePayment(ctx, Payment{
		Number:     number,
		CustomerID: customerID,
		SaleID:     saleID,
		Amount:     amount,
		Method:     method,
		ReceivedAt: receivedAt,
		CreatedBy:  actorID,
		CreatedAt:  s.now(),
	})
}

func (s *Service) claimKey(ctx context.Context, key string) error {
	if key == "" || s.idempotency == nil {
		return nil
	}
	return s.idempotency.CheckAndInsert(ctx, key, "sales")
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if key == "" || s.idempotency == nil {
		return
	}
	if err := s.idempotency.Delete(ctx, key); err != nil {
		s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, id int64) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
