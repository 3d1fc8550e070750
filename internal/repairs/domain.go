package repairs

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors for the repairs package.
var (
	ErrNotFound        = errors.New("repairs: repair not found")
	ErrInvalidState    = errors.New("repairs: invalid state for operation")
	ErrDepositTaken    = errors.New("repairs: deposit already taken")
	ErrNoDeposit       = errors.New("repairs: no deposit to refund")
	ErrDepositConsumed = errors.New("repairs: deposit already applied or refunded")
)

// RepairStatus is the lifecycle of a repair ticket.
type RepairStatus string

const (
	StatusReceived   RepairStatus = "received"
	StatusInProgress RepairStatus = "in_progress"
	StatusCompleted  RepairStatus = "completed"
	StatusCancelled  RepairStatus = "cancelled"
)

// DepositState tracks what happened to the deposit taken for a repair.
type DepositState string

const (
	DepositNone     DepositState = "none"
	DepositHeld     DepositState = "held"
	DepositApplied  DepositState = "applied"
	DepositRefunded DepositState = "refunded"
)

// Repair is a device repair ticket. A deposit taken up front is held as
// credit on the customer's account until the repair completes or the
// deposit is refunded.
type Repair struct {
	ID            int64           `json:"id"`
	Number        string          `json:"number"`
	CustomerID    int64           `json:"customer_id"`
	Device        string          `json:"device"`
	Issue         string          `json:"issue"`
	Status        RepairStatus    `json:"status"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
	DepositAmount decimal.Decimal `json:"deposit_amount"`
	DepositState  DepositState    `json:"deposit_state"`
	SaleID        *int64          `json:"sale_id,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CreateRepairInput describes a new repair ticket.
type CreateRepairInput struct {
	CustomerID    int64
	Device        string
	Issue         string
	EstimatedCost decimal.Decimal
	ActorID       int64
}

// RepositoryPort defines data access for repairs.
type RepositoryPort interface {
	Create(ctx context.Context, repair Repair) (Repair, error)
	Get(ctx context.Context, id int64) (Repair, error)
	ListByCustomer(ctx context.Context, customerID int64, limit int) ([]Repair, error)
	Update(ctx context.Context, repair Repair) error
	NextNumber(ctx context.Context) (string, error)
}
