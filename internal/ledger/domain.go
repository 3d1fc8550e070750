package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType enumerates balance-affecting event kinds.
type TransactionType string

const (
	TypeSale              TransactionType = "sale"
	TypePayment           TransactionType = "payment"
	TypeCreditNote        TransactionType = "credit_note"
	TypeDebitNote         TransactionType = "debit_note"
	TypeCreditApplication TransactionType = "credit_application"
	TypeOpeningBalance    TransactionType = "opening_balance"
	TypeAdjustment        TransactionType = "adjustment"
	TypeRepairDeposit     TransactionType = "repair_deposit"
	TypeVoidSale          TransactionType = "void_sale"
)

// ReferenceKind enumerates the source entities a ledger entry can point at.
type ReferenceKind string

const (
	RefNone       ReferenceKind = ""
	RefSale       ReferenceKind = "sale"
	RefPayment    ReferenceKind = "payment"
	RefDeposit    ReferenceKind = "deposit"
	RefAdjustment ReferenceKind = "adjustment"
)

// Reference is a typed pointer to the business event behind an entry.
type Reference struct {
	Kind ReferenceKind
	ID   int64
}

// IsZero reports whether the reference points nowhere.
func (r Reference) IsZero() bool {
	return r.Kind == RefNone || r.ID == 0
}

func (r Reference) String() string {
	if r.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// Entry is one immutable row of the customer ledger. Entries are never
// updated or deleted; corrections append adjustment or void entries.
type Entry struct {
	ID              int64
	UUID            uuid.UUID
	CustomerID      int64
	AccountID       int64
	Type            TransactionType
	Amount          decimal.Decimal
	BalanceBefore   decimal.Decimal
	BalanceAfter    decimal.Decimal
	Reference       Reference
	Description     string
	TransactionDate time.Time
	CreatedBy       int64
	CreatedAt       time.Time
}

// Delta returns the signed balance effect of the entry.
func (e Entry) Delta() decimal.Decimal {
	return Delta(e.Type, e.Amount)
}

// Account is the denormalized per-customer aggregate. Balance must always
// equal the BalanceAfter of the customer's most recent entry.
type Account struct {
	ID               int64
	CustomerID       int64
	Balance          decimal.Decimal
	CreditLimit      decimal.Decimal
	TotalSales       decimal.Decimal
	TotalPayments    decimal.Decimal
	LastPaymentAt    *time.Time
	TransactionCount int64
	CreatedBy        int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RecordInput groups the fields required to append a ledger entry.
type RecordInput struct {
	CustomerID      int64
	Type            TransactionType
	Amount          decimal.Decimal
	Reference       Reference
	Description     string
	TransactionDate time.Time
	CreatedBy       int64
}

var (
	// ErrCustomerNotFound indicates the referenced customer does not exist.
	ErrCustomerNotFound = errors.New("ledger: customer not found")
	// ErrAccountNotFound indicates no account aggregate exists for the customer.
	ErrAccountNotFound = errors.New("ledger: customer account not found")
	// ErrInvalidType indicates an unknown transaction type.
	ErrInvalidType = errors.New("ledger: invalid transaction type")
	// ErrNonPositiveAmount indicates a zero or negative amount for an unsigned type.
	ErrNonPositiveAmount = errors.New("ledger: amount must be positive")
	// ErrAmountPrecision indicates more than two decimal places.
	ErrAmountPrecision = errors.New("ledger: amount must have at most two decimal places")
	// ErrAlreadyRecorded indicates the source event already has a ledger entry.
	ErrAlreadyRecorded = errors.New("ledger: reference already recorded")
	// ErrCreditLimitExceeded indicates a credit sale would breach the account limit.
	ErrCreditLimitExceeded = errors.New("ledger: credit limit exceeded")
)

// signedTypes may carry a signed amount; the amount passes through as the delta.
var signedTypes = map[TransactionType]bool{
	TypeOpeningBalance: true,
	TypeAdjustment:     true,
}

// debitTypes increase the balance (customer owes more).
var debitTypes = map[TransactionType]bool{
	TypeSale:      true,
	TypeDebitNote: true,
}

// creditTypes decrease the balance (customer owes less / holds credit).
var creditTypes = map[TransactionType]bool{
	TypePayment:           true,
	TypeCreditNote:        true,
	TypeCreditApplication: true,
	TypeRepairDeposit:     true,
	TypeVoidSale:          true,
}

// KnownType reports whether t is a recognised transaction type.
func KnownType(t TransactionType) bool {
	return signedTypes[t] || debitTypes[t] || creditTypes[t]
}

// Delta converts (type, amount) into a signed balance change. The sign
// convention is positive balance = customer owes the business.
func Delta(t TransactionType, amount decimal.Decimal) decimal.Decimal {
	switch {
	case debitTypes[t]:
		return amount
	case creditTypes[t]:
		return amount.Neg()
	default:
		return amount
	}
}

// Validate checks the recording preconditions. Direction is implied by the
// transaction type, so unsigned types must carry a strictly positive amount.
func (in RecordInput) Validate() error {
	if in.CustomerID == 0 {
		return fmt.Errorf("%w: customer id required", ErrCustomerNotFound)
	}
	if !KnownType(in.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidType, in.Type)
	}
	if !signedTypes[in.Type] && in.Amount.LessThanOrEqual(decimal.Zero) {
		return ErrNonPositiveAmount
	}
	if in.Amount.Exponent() < -2 {
		return ErrAmountPrecision
	}
	if in.TransactionDate.IsZero() {
		return errors.New("ledger: transaction date required")
	}
	return nil
}
