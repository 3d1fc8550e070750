package cli

import (
	"context"
	"errors"

	"github.com/techstore-pos/techstore/internal/ledger"
)

// ReconcileRunner is the reconciler surface the CLI drives.
type ReconcileRunner interface {
	Run(ctx context.Context, opts ledger.ReconcileOptions) (ledger.ReconcileSummary, error)
}

// LedgerVerifier checks chain consistency across all accounts.
type LedgerVerifier interface {
	VerifyAll(ctx context.Context) ([]ledger.Drift, error)
}

// LedgerOpsCLI offers operational helpers to manage the customer ledger.
type LedgerOpsCLI struct {
	reconciler ReconcileRunner
	verifier   LedgerVerifier
}

// NewLedgerOpsCLI constructs a new helper instance.
func NewLedgerOpsCLI(reconciler ReconcileRunner, verifier LedgerVerifier) (*LedgerOpsCLI, error) {
	if reconciler == nil {
		return nil, errors.New("ledger cli: reconciler is required")
	}
	return &LedgerOpsCLI{reconciler: reconciler, verifier: verifier}, nil
}
