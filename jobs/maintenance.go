package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/storeops/stockledger/internal/jobs"
)

// Default maintenance windows used when a cron payload leaves them empty.
const (
	DefaultProcessingTTL        = 30 * time.Minute
	DefaultIdempotencyRetention = 72 * time.Hour
)

// StaleReleaser is implemented by indent.Service.
type StaleReleaser interface {
	ReleaseStaleProcessing(ctx context.Context, olderThan time.Duration) (int, error)
}

// KeyCleaner prunes idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// MaintenanceJobs handles the periodic housekeeping tasks.
type MaintenanceJobs struct {
	Indents StaleReleaser
	Keys    KeyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// HandleReleaseStale executes TaskIndentReleaseStale.
func (j *MaintenanceJobs) HandleReleaseStale(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Indents == nil {
		return errors.New("release stale: indent service not configured")
	}
	var payload ReleaseStalePayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	olderThan, err := parseDuration(payload.OlderThan, DefaultProcessingTTL)
	if err != nil {
		return err
	}
	tracker := j.Metrics.Track(TaskIndentReleaseStale)
	defer func() { err = tracker.End(err) }()

	released, err := j.Indents.ReleaseStaleProcessing(ctx, olderThan)
	if err != nil {
		return retryable(err)
	}
	j.Metrics.AddReleased(released)
	if released > 0 {
		j.log().Warn("released stale processing indents", slog.Int("count", released), slog.Duration("older_than", olderThan))
	}
	return nil
}

// HandleIdempotencyCleanup executes TaskIdempotencyCleanup.
func (j *MaintenanceJobs) HandleIdempotencyCleanup(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Keys == nil {
		return errors.New("idempotency cleanup: store not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	retention, err := parseDuration(payload.Retention, DefaultIdempotencyRetention)
	if err != nil {
		return err
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	removed, err := j.Keys.Cleanup(ctx, retention)
	if err != nil {
		return err
	}
	j.log().Info("idempotency keys pruned", slog.Int64("removed", removed))
	return nil
}

func (j *MaintenanceJobs) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("component", "maintenance"))
	}
	return slog.Default()
}
