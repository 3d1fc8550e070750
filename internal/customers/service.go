package customers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/techstore-pos/techstore/internal/shared"
)

// DeleteGuard decides whether a customer may be removed. The ledger policy
// satisfies this: only settled accounts are deletable.
type DeleteGuard interface {
	CanDeleteCustomer(ctx context.Context, customerID int64) (bool, string, error)
}

// AuditPort records customer events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles customer master data business logic.
type Service struct {
	repo   RepositoryPort
	guard  DeleteGuard
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the customers service.
func NewService(repo RepositoryPort, guard DeleteGuard, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, guard: guard, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// List returns customers plus pagination metadata.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Customer, shared.Pagination, error) {
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("customers: list: %w", err)
	}
	return items, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

// Get loads one customer.
func (s *Service) Get(ctx context.Context, id int64) (Customer, error) {
	return s.repo.Get(ctx, id)
}

// Create registers a new customer.
func (s *Service) Create(ctx context.Context, customer Customer, actorID int64) (Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Phone = strings.TrimSpace(customer.Phone)
	now := s.now()
	customer.IsActive = true
	customer.CreatedBy = actorID
	customer.CreatedAt = now
	customer.UpdatedAt = now

	created, err := s.repo.Create(ctx, customer)
	if err != nil {
		return Customer{}, err
	}
	s.recordAudit(ctx, actorID, "customer.create", created.ID)
	return created, nil
}

// Update rewrites the editable fields of a customer.
func (s *Service) Update(ctx context.Context, id int64, customer Customer, actorID int64) error {
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Phone = strings.TrimSpace(customer.Phone)
	customer.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, id, customer); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "customer.update", id)
	return nil
}

// Delete soft-deletes a customer after the ledger guard confirms the account
// is settled. The refusal reason is wrapped into ErrDeleteBlocked.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if s.guard != nil {
		ok, reason, err := s.guard.CanDeleteCustomer(ctx, id)
		if err != nil {
			return fmt.Errorf("customers: delete guard: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrDeleteBlocked, reason)
		}
	}
	if err := s.repo.SoftDelete(ctx, id, s.now()); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "customer.delete", id)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "customer",
		EntityID: strconv.FormatInt(id, 10),
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
