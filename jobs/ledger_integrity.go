package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/techstore-pos/techstore/internal/ledger"
	jobmetrics "github.com/techstore-pos/techstore/internal/jobs"
)

// TaskLedgerIntegrity verifies every customer's entry chain and aggregate.
const TaskLedgerIntegrity = "ledger:integrity"

// LedgerIntegrityPayload carries scheduling metadata.
type LedgerIntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// LedgerVerifier is the slice of the ledger service the integrity job uses.
type LedgerVerifier interface {
	VerifyAll(ctx context.Context) ([]ledger.Drift, error)
}

// NewLedgerIntegrityTask constructs the nightly integrity task.
func NewLedgerIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// NewLedgerIntegrityHandler builds the asynq handler for integrity scans.
// Drift is reported, never repaired: fixing balances is an operator decision.
func NewLedgerIntegrityHandler(verifier LedgerVerifier, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LedgerIntegrityPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track("ledger_integrity")
		drifts, err := verifier.VerifyAll(ctx)
		if err != nil {
			logger.Error("ledger integrity scan failed", slog.Any("error", err))
			return tracker.End(err)
		}
		metrics.AddDrift(len(drifts))
		if len(drifts) == 0 {
			logger.Info("ledger integrity scan clean")
			return tracker.End(nil)
		}
		for _, d := range drifts {
			logger.Warn("ledger drift detected",
				slog.Int64("customer_id", d.CustomerID),
				slog.String("reason", d.Reason))
		}
		logger.Warn("ledger integrity scan finished with drift", slog.Int("drift_count", len(drifts)))
		return tracker.End(nil)
	}
}
