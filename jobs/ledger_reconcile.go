package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/techstore-pos/techstore/internal/jobs"
	"github.com/techstore-pos/techstore/internal/ledger"
)

// TaskLedgerReconcile replays sales and payments that bypassed the recorder.
const TaskLedgerReconcile = "ledger:reconcile"

// LedgerReconcilePayload selects dry-run or live mode for a queued run.
type LedgerReconcilePayload struct {
	DryRun  bool  `json:"dry_run"`
	ActorID int64 `json:"actor_id"`
}

// ReconcileLocker serialises reconciliation runs across processes.
type ReconcileLocker interface {
	AcquireReconcileLock(ctx context.Context, lease time.Duration) (func(), error)
}

// ReconcileRunner is the slice of the reconciler the job uses.
type ReconcileRunner interface {
	Run(ctx context.Context, opts ledger.ReconcileOptions) (ledger.ReconcileSummary, error)
}

// NewLedgerReconcileTask constructs a queued reconciliation task.
func NewLedgerReconcileTask(payload LedgerReconcilePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, body, asynq.Queue(QueueDefault), asynq.MaxRetry(0)), nil
}

// ReconcileJobConfig bounds a queued run.
type ReconcileJobConfig struct {
	BatchLimit  int
	Parallelism int
	LockLease   time.Duration
}

// NewLedgerReconcileHandler builds the asynq handler for reconciliation runs.
// An overlapping run is dropped, not retried: the running instance will pick
// up whatever rows remain.
func NewLedgerReconcileHandler(runner ReconcileRunner, locker ReconcileLocker, cfg ReconcileJobConfig, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LockLease <= 0 {
		cfg.LockLease = 10 * time.Minute
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LedgerReconcilePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}

		if locker != nil && !payload.DryRun {
			release, err := locker.AcquireReconcileLock(ctx, cfg.LockLease)
			if err != nil {
				if errors.Is(err, ledger.ErrReconcileRunning) {
					logger.Warn("reconciliation already running, dropping task")
					return asynq.SkipRetry
				}
				return err
			}
			defer release()
		}

		tracker := metrics.Track("ledger_reconcile")
		summary, err := runner.Run(ctx, ledger.ReconcileOptions{
			DryRun:      payload.DryRun,
			BatchLimit:  cfg.BatchLimit,
			Parallelism: cfg.Parallelism,
			ActorID:     payload.ActorID,
		})
		if err != nil {
			logger.Error("queued reconciliation failed",
				slog.Int("migrated_before_failure", summary.Migrated),
				slog.Any("error", err))
			return tracker.End(err)
		}
		if !summary.DryRun {
			metrics.AddMigrated(summary.Migrated)
		}
		logger.Info("queued reconciliation finished",
			slog.Bool("dry_run", summary.DryRun),
			slog.Int("migrated", summary.Migrated),
			slog.Int("skipped", summary.Skipped),
			slog.String("total_amount", summary.TotalAmount.StringFixed(2)))
		return tracker.End(nil)
	}
}
