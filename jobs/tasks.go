package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskLedgerRebuild recomputes the summaries of one ledger key from its movements.
	TaskLedgerRebuild = "ledger:rebuild"
	// TaskLedgerVerify checks stored summaries against the ledger identity.
	TaskLedgerVerify = "ledger:verify"
	// TaskIndentReleaseStale returns indents stuck in processing to approved.
	TaskIndentReleaseStale = "indent:release-stale"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// LedgerRebuildPayload identifies the ledger key to rebuild.
type LedgerRebuildPayload struct {
	StoreID   int64 `json:"store_id"`
	ProductID int64 `json:"product_id"`
}

// LedgerVerifyPayload scopes a verification run. StoreID zero covers every store.
type LedgerVerifyPayload struct {
	StoreID int64 `json:"store_id,omitempty"`
}

// ReleaseStalePayload configures the stale processing sweep.
type ReleaseStalePayload struct {
	OlderThan string `json:"older_than"`
}

// IdempotencyCleanupPayload configures key retention.
type IdempotencyCleanupPayload struct {
	Retention string `json:"retention"`
}

// NewLedgerRebuildTask builds a rebuild task for one store/product pair.
func NewLedgerRebuildTask(storeID, productID int64) (*asynq.Task, error) {
	if storeID <= 0 || productID <= 0 {
		return nil, fmt.Errorf("ledger rebuild: store and product required")
	}
	return newTask(TaskLedgerRebuild, LedgerRebuildPayload{StoreID: storeID, ProductID: productID},
		asynq.MaxRetry(5), asynq.Timeout(10*time.Minute))
}

// NewLedgerVerifyTask builds a verification task.
func NewLedgerVerifyTask(storeID int64) (*asynq.Task, error) {
	return newTask(TaskLedgerVerify, LedgerVerifyPayload{StoreID: storeID}, asynq.Timeout(30*time.Minute))
}

// NewReleaseStaleTask builds the stale processing sweep.
func NewReleaseStaleTask(olderThan time.Duration) (*asynq.Task, error) {
	return newTask(TaskIndentReleaseStale, ReleaseStalePayload{OlderThan: olderThan.String()}, asynq.MaxRetry(1))
}

// NewIdempotencyCleanupTask builds the key cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{Retention: retention.String()}, asynq.MaxRetry(1))
}

func newTask(typename string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	opts = append([]asynq.Option{asynq.Queue(QueueDefault)}, opts...)
	return asynq.NewTask(typename, body, opts...), nil
}

func decode(t *asynq.Task, dst any) error {
	if err := json.Unmarshal(t.Payload(), dst); err != nil {
		return fmt.Errorf("%s: decode payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, asynq.SkipRetry)
	}
	return d, nil
}

// Cron specs of the periodic tasks.
const (
	CronLedgerVerify       = "0 3 * * *"
	CronReleaseStale       = "*/15 * * * *"
	CronIdempotencyCleanup = "0 4 * * *"
)

// Schedule returns the periodic task registrations of the worker.
func Schedule(processingTTL, retention time.Duration) ([]CronRegistration, error) {
	verify, err := NewLedgerVerifyTask(0)
	if err != nil {
		return nil, err
	}
	release, err := NewReleaseStaleTask(processingTTL)
	if err != nil {
		return nil, err
	}
	cleanup, err := NewIdempotencyCleanupTask(retention)
	if err != nil {
		return nil, err
	}
	return []CronRegistration{
		{Spec: CronLedgerVerify, Task: verify},
		{Spec: CronReleaseStale, Task: release},
		{Spec: CronIdempotencyCleanup, Task: cleanup},
	}, nil
}
