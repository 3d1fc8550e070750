package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/techstore-pos/techstore/internal/ledger"
)

// LedgerBackfillMode enumerates supported execution strategies.
type LedgerBackfillMode string

const (
	// LedgerBackfillModeDry previews missing entries without applying changes.
	LedgerBackfillModeDry LedgerBackfillMode = "dry"
	// LedgerBackfillModeApply migrates entries after confirmation.
	LedgerBackfillModeApply LedgerBackfillMode = "apply"
)

// LedgerBackfillOptions configures the backfill command execution.
type LedgerBackfillOptions struct {
	Mode        LedgerBackfillMode
	BatchLimit  int
	Parallelism int
	ActorID     int64
	JSONOutput  bool
	Stdout      io.Writer
	Stderr      io.Writer
	Stdin       io.Reader
	Confirm     func(io.Reader, io.Writer) (bool, error)
}

// LedgerBackfillSummary captures the structured reporting outcome.
type LedgerBackfillSummary struct {
	Mode            LedgerBackfillMode `json:"mode"`
	MissingSales    int                `json:"missing_sales"`
	MissingPayments int                `json:"missing_payments"`
	Migrated        int                `json:"migrated"`
	Skipped         int                `json:"skipped"`
	CustomersSeen   int                `json:"customers_seen"`
	TotalAmount     string             `json:"total_amount"`
	DurationMS      int64              `json:"duration_ms"`
}

// BackfillCommand executes the ledger backfill workflow. In dry mode it
// reports what a live run would migrate and exits 10 when rows are missing,
// so schedulers can alert on drift without touching data.
func (c *LedgerOpsCLI) BackfillCommand(ctx context.Context, opts LedgerBackfillOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Mode == "" {
		opts.Mode = LedgerBackfillModeDry
	}
	mode := LedgerBackfillMode(strings.ToLower(string(opts.Mode)))
	switch mode {
	case LedgerBackfillModeDry, LedgerBackfillModeApply:
	default:
		fmt.Fprintf(opts.Stderr, "ledger backfill: invalid mode %q (expected dry or apply)\n", opts.Mode)
		return 1
	}

	// A dry pass runs first in both modes so the operator confirms against
	// real numbers, not an estimate.
	preview, err := c.reconciler.Run(ctx, ledger.ReconcileOptions{
		DryRun:      true,
		BatchLimit:  opts.BatchLimit,
		Parallelism: opts.Parallelism,
		ActorID:     opts.ActorID,
	})
	if err != nil {
		fmt.Fprintf(opts.Stderr, "ledger backfill: detect: %v\n", err)
		return 1
	}

	if mode == LedgerBackfillModeDry {
		if err := writeBackfillOutput(opts, summarize(mode, preview)); err != nil {
			fmt.Fprintf(opts.Stderr, "ledger backfill: %v\n", err)
			return 1
		}
		if preview.MissingSales > 0 || preview.MissingPays > 0 {
			return 10
		}
		return 0
	}

	if preview.MissingSales == 0 && preview.MissingPays == 0 {
		if err := writeBackfillOutput(opts, summarize(mode, preview)); err != nil {
			fmt.Fprintf(opts.Stderr, "ledger backfill: %v\n", err)
			return 1
		}
		return 0
	}

	confirm := opts.Confirm
	if confirm == nil {
		confirm = defaultBackfillConfirm
	}
	fmt.Fprintf(opts.Stdout, "%d sale(s) and %d payment(s) will be migrated.\n", preview.MissingSales, preview.MissingPays)
	ok, err := confirm(opts.Stdin, opts.Stdout)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "ledger backfill: confirmation failed: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(opts.Stderr, "ledger backfill: cancelled by user")
		return 1
	}

	summary, err := c.reconciler.Run(ctx, ledger.ReconcileOptions{
		BatchLimit:  opts.BatchLimit,
		Parallelism: opts.Parallelism,
		ActorID:     opts.ActorID,
	})
	if err != nil {
		fmt.Fprintf(opts.Stderr, "ledger backfill: apply failed after %d migrated: %v\n", summary.Migrated, err)
		return 1
	}
	if err := writeBackfillOutput(opts, summarize(mode, summary)); err != nil {
		fmt.Fprintf(opts.Stderr, "ledger backfill: %v\n", err)
		return 1
	}
	return 0
}

// VerifyCommand checks every account against its entry chain. Exit code 10
// signals drift.
func (c *LedgerOpsCLI) VerifyCommand(ctx context.Context, jsonOutput bool, stdout, stderr io.Writer) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	if c.verifier == nil {
		fmt.Fprintln(stderr, "ledger verify: verifier not configured")
		return 1
	}
	drifts, err := c.verifier.VerifyAll(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "ledger verify: %v\n", err)
		return 1
	}
	if jsonOutput {
		type driftRow struct {
			CustomerID int64  `json:"customer_id"`
			Reason     string `json:"reason"`
		}
		rows := make([]driftRow, len(drifts))
		for i, d := range drifts {
			rows[i] = driftRow{CustomerID: d.CustomerID, Reason: d.Reason}
		}
		if err := json.NewEncoder(stdout).Encode(map[string]any{"ok": len(drifts) == 0, "drift": rows}); err != nil {
			fmt.Fprintf(stderr, "ledger verify: %v\n", err)
			return 1
		}
	} else if len(drifts) == 0 {
		fmt.Fprintln(stdout, "All accounts consistent.")
	} else {
		fmt.Fprintf(stdout, "%d account(s) drifted:\n", len(drifts))
		for _, d := range drifts {
			fmt.Fprintf(stdout, " - customer %d: %s\n", d.CustomerID, d.Reason)
		}
	}
	if len(drifts) > 0 {
		return 10
	}
	return 0
}

func summarize(mode LedgerBackfillMode, s ledger.ReconcileSummary) LedgerBackfillSummary {
	return LedgerBackfillSummary{
		Mode:            mode,
		MissingSales:    s.MissingSales,
		MissingPayments: s.MissingPays,
		Migrated:        s.Migrated,
		Skipped:         s.Skipped,
		CustomersSeen:   s.CustomersSeen,
		TotalAmount:     s.TotalAmount.StringFixed(2),
		DurationMS:      s.Duration.Milliseconds(),
	}
}

func writeBackfillOutput(opts LedgerBackfillOptions, summary LedgerBackfillSummary) error {
	if opts.JSONOutput {
		return json.NewEncoder(opts.Stdout).Encode(summary)
	}
	renderBackfillHuman(opts.Stdout, summary)
	return nil
}

func renderBackfillHuman(out io.Writer, summary LedgerBackfillSummary) {
	fmt.Fprintf(out, "Ledger backfill (%s)\n", summary.Mode)
	if summary.MissingSales == 0 && summary.MissingPayments == 0 {
		fmt.Fprintln(out, "No unrecorded transactions detected.")
		return
	}
	fmt.Fprintf(out, " - unrecorded sales: %d\n", summary.MissingSales)
	fmt.Fprintf(out, " - unrecorded payments: %d\n", summary.MissingPayments)
	fmt.Fprintf(out, " - migrated: %d (skipped %d) across %d customer(s)\n", summary.Migrated, summary.Skipped, summary.CustomersSeen)
	fmt.Fprintf(out, " - total amount: %s\n", summary.TotalAmount)
}

func defaultBackfillConfirm(r io.Reader, w io.Writer) (bool, error) {
	fmt.Fprint(w, "Apply ledger backfill? Type YES to confirm: ")
	reader := bufio.NewReader(r)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	response := strings.TrimSpace(line)
	return strings.EqualFold(response, "YES"), nil
}
