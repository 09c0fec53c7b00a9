package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/storeops/stockledger/internal/inventory"
	jobmetrics "github.com/storeops/stockledger/internal/jobs"
	"github.com/storeops/stockledger/internal/shared"
)

// LedgerService is the part of inventory.Service the ledger jobs drive.
type LedgerService interface {
	RebuildLedger(ctx context.Context, storeID, productID int64) (int, error)
	VerifyLedger(ctx context.Context, storeID int64) ([]inventory.Violation, error)
}

// LedgerJobs handles rebuild and verification tasks.
type LedgerJobs struct {
	Service LedgerService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerJobs constructs the ledger job handlers.
func NewLedgerJobs(service LedgerService, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerJobs {
	return &LedgerJobs{Service: service, Logger: logger, Metrics: metrics}
}

// HandleRebuild executes TaskLedgerRebuild.
func (j *LedgerJobs) HandleRebuild(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("ledger rebuild: service not configured")
	}
	var payload LedgerRebuildPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	tracker := j.Metrics.Track(TaskLedgerRebuild)
	defer func() { err = tracker.End(err) }()

	start := time.Now()
	rows, err := j.Service.RebuildLedger(ctx, payload.StoreID, payload.ProductID)
	if err != nil {
		return retryable(err)
	}
	j.log(TaskLedgerRebuild).Info("ledger rebuilt",
		slog.Int64("store_id", payload.StoreID),
		slog.Int64("product_id", payload.ProductID),
		slog.Int("rows", rows),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// HandleVerify executes TaskLedgerVerify. Violations are logged and counted; they do not fail the run.
func (j *LedgerJobs) HandleVerify(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("ledger verify: service not configured")
	}
	var payload LedgerVerifyPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	tracker := j.Metrics.Track(TaskLedgerVerify)
	defer func() { err = tracker.End(err) }()

	violations, err := j.Service.VerifyLedger(ctx, payload.StoreID)
	if err != nil {
		return retryable(err)
	}
	logger := j.log(TaskLedgerVerify)
	perStore := map[int64]int{}
	for _, v := range violations {
		perStore[v.Key.StoreID]++
		logger.Warn("ledger violation",
			slog.Int64("store_id", v.Key.StoreID),
			slog.Int64("product_id", v.Key.ProductID),
			slog.String("date", v.Date.Format(shared.DateLayout)),
			slog.String("reason", v.Reason))
	}
	for storeID, n := range perStore {
		j.Metrics.AddViolations(storeID, n)
	}
	logger.Info("ledger verified", slog.Int64("store_id", payload.StoreID), slog.Int("violations", len(violations)))
	return nil
}

func (j *LedgerJobs) log(job string) *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

// retryable lets asynq retry infrastructure and concurrency failures but not domain rejections.
func retryable(err error) error {
	switch shared.KindOf(err) {
	case shared.KindInternal, shared.KindConcurrencyConflict:
		return err
	}
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}
