package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ChainError reports a break in a customer's entry chain: an entry whose
// BalanceBefore does not match the previous entry's BalanceAfter. It should
// never occur in normal operation; it indicates drift introduced by writes
// that bypassed the recorder.
type ChainError struct {
	CustomerID int64
	EntryID    int64
	Expected   decimal.Decimal
	Got        decimal.Decimal
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("ledger: broken chain for customer %d at entry %d: expected balance_before %s, got %s",
		e.CustomerID, e.EntryID, e.Expected.StringFixed(2), e.Got.StringFixed(2))
}

// ComputeBalance folds the signed deltas of the entries over the opening
// balance. It is pure: no aggregate is read or written.
func ComputeBalance(entries []Entry, opening decimal.Decimal) decimal.Decimal {
	balance := opening
	for _, e := range entries {
		balance = balance.Add(e.Delta())
	}
	return balance
}

// SortChronological orders entries by transaction date ascending, breaking
// ties by insertion id so replayed batches stay deterministic.
func SortChronological(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].TransactionDate.Equal(entries[j].TransactionDate) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].TransactionDate.Before(entries[j].TransactionDate)
	})
}

// VerifyChain checks that the entries form a strictly consistent chain when
// ordered chronologically: each BalanceBefore equals the previous
// BalanceAfter (or the opening balance for the first entry), and each
// BalanceAfter equals BalanceBefore plus the signed delta.
func VerifyChain(entries []Entry, opening decimal.Decimal) error {
	ordered := make([]Entry, len(entries))
	copy(ordered, entries)
	SortChronological(ordered)

	running := opening
	for _, e := range ordered {
		if !e.BalanceBefore.Equal(running) {
			return &ChainError{CustomerID: e.CustomerID, EntryID: e.ID, Expected: running, Got: e.BalanceBefore}
		}
		expected := e.BalanceBefore.Add(e.Delta())
		if !e.BalanceAfter.Equal(expected) {
			return &ChainError{CustomerID: e.CustomerID, EntryID: e.ID, Expected: expected, Got: e.BalanceAfter}
		}
		running = e.BalanceAfter
	}
	return nil
}

// SourceSale is the slice of a sale the calculator needs.
type SourceSale struct {
	ID         int64
	CustomerID int64
	Total      decimal.Decimal
	Voided     bool
}

// SourcePayment is the slice of a payment the calculator needs.
type SourcePayment struct {
	ID         int64
	CustomerID int64
	Amount     decimal.Decimal
	Voided     bool
}

// ComputeFromSources is the legacy path: derive the balance from the raw
// sale and payment rows, excluding voided ones. Positive means debt.
func ComputeFromSources(sales []SourceSale, payments []SourcePayment) decimal.Decimal {
	balance := decimal.Zero
	for _, s := range sales {
		if s.Voided {
			continue
		}
		balance = balance.Add(s.Total)
	}
	for _, p := range payments {
		if p.Voided {
			continue
		}
		balance = balance.Sub(p.Amount)
	}
	return balance
}

// BalanceStatus labels the customer's position for UI consumption.
type BalanceStatus string

const (
	StatusDebt    BalanceStatus = "debt"
	StatusCredit  BalanceStatus = "credit"
	StatusSettled BalanceStatus = "settled"
)

// Summary is the query-interface view of an account.
type Summary struct {
	CustomerID       int64           `json:"customer_id"`
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	HasDebt          bool            `json:"has_debt"`
	HasCredit        bool            `json:"has_credit"`
	Formatted        string          `json:"formatted"`
	Status           BalanceStatus   `json:"status"`
	TransactionCount int64           `json:"transaction_count"`
}

var balancePrinter = message.NewPrinter(language.English)

// FormatBalance renders the human-readable form: debt reads "Owes $X",
// credit reads "Credit $X", zero reads "$0.00".
func FormatBalance(balance decimal.Decimal) string {
	amount, _ := balance.Abs().Float64()
	switch {
	case balance.IsPositive():
		return balancePrinter.Sprintf("Owes $%.2f", amount)
	case balance.IsNegative():
		return balancePrinter.Sprintf("Credit $%.2f", amount)
	default:
		return "$0.00"
	}
}

// Summarize builds the summary view for an account.
func Summarize(account Account) Summary {
	return Summary{
		CustomerID:       account.CustomerID,
		CurrentBalance:   account.Balance,
		HasDebt:          account.Balance.IsPositive(),
		HasCredit:        account.Balance.IsNegative(),
		Formatted:        FormatBalance(account.Balance),
		Status:           statusOf(account.Balance),
		TransactionCount: account.TransactionCount,
	}
}

func statusOf(balance decimal.Decimal) BalanceStatus {
	switch {
	case balance.IsPositive():
		return StatusDebt
	case balance.IsNegative():
		return StatusCredit
	default:
		return StatusSettled
	}
}
