package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalAction is one step in an indent's approval trail.
type ApprovalAction string

const (
	ApprovalSubmit  ApprovalAction = "SUBMIT"
	ApprovalApprove ApprovalAction = "APPROVE"
	ApprovalReject  ApprovalAction = "REJECT"
)

// ApprovalLog is a single approval trail entry. RefID is derived from the module record id with
// ApprovalRef, so it is stable across retries.
type ApprovalLog struct {
	ID      int64          `json:"id"`
	Module  string         `json:"module"`
	RefID   uuid.UUID      `json:"ref_id"`
	ActorID int64          `json:"actor_id"`
	Action  ApprovalAction `json:"action"`
	Note    string         `json:"note,omitempty"`
	At      time.Time      `json:"at"`
}

// ApprovalRef derives the approval reference of a module record.
func ApprovalRef(module string, id int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%d", module, id)))
}

// Validate checks the mandatory fields.
func (l ApprovalLog) Validate() error {
	switch {
	case l.Module == "":
		return errors.New("approval: module required")
	case l.ActorID <= 0:
		return errors.New("approval: actor required")
	case l.RefID == uuid.Nil:
		return errors.New("approval: ref id required")
	}
	switch l.Action {
	case ApprovalSubmit, ApprovalApprove, ApprovalReject:
		return nil
	default:
		return fmt.Errorf("approval: unknown action %q", l.Action)
	}
}

// ApprovalRecorder stores the approval trail in the approvals table.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalRecorder{pool: pool, logger: logger}
}

const insertApproval = `
INSERT INTO approvals (module, ref_id, actor_id, action, note, at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`

// Record appends an entry.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	if _, err := r.pool.Exec(ctx, insertApproval, log.Module, log.RefID, log.ActorID, string(log.Action), log.Note, at); err != nil {
		r.logger.Error("record approval", slog.String("module", log.Module), slog.String("ref_id", log.RefID.String()), slog.Any("error", err))
		return fmt.Errorf("approval: insert: %w", err)
	}
	return nil
}

const selectApprovals = `
SELECT id, module, ref_id, actor_id, action, note, at
FROM approvals
WHERE module = $1 AND ref_id = $2
ORDER BY at, id`

// History returns the trail of one record, oldest first.
func (r *ApprovalRecorder) History(ctx context.Context, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	rows, err := r.pool.Query(ctx, selectApprovals, module, ref)
	if err != nil {
		return nil, fmt.Errorf("approval: history: %w", err)
	}
	defer rows.Close()
	out := []ApprovalLog{}
	for rows.Next() {
		var (
			l      ApprovalLog
			action string
		)
		if err := rows.Scan(&l.ID, &l.Module, &l.RefID, &l.ActorID, &action, &l.Note, &l.At); err != nil {
			return nil, fmt.Errorf("approval: scan: %w", err)
		}
		l.Action = ApprovalAction(action)
		out = append(out, l)
	}
	return out, rows.Err()
}
