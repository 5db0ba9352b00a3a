package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"letterdrop/internal/types"
)

// OutboxRepo provides data access for the outbox_tasks table.
//
// Key invariants:
//   - FanOut relies on the (issue_id, recipient) unique index with
//     ON CONFLICT DO NOTHING, so a repeated fan-out for the same issue
//     inserts nothing.
//   - ClaimDue uses FOR UPDATE SKIP LOCKED inside the claiming UPDATE so
//     concurrent workers partition the due set instead of blocking on or
//     double-claiming rows.
//   - All worker transitions are conditional on status = 'in_flight'. A task
//     reclaimed by the reaper mid-send cannot be moved by the stale worker.
type OutboxRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewOutboxRepo creates a new OutboxRepo backed by the given database
// connection (pool or transaction).
func NewOutboxRepo(db DBTX, logger *slog.Logger) *OutboxRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxRepo{db: db, logger: logger}
}

var _ types.OutboxRepository = (*OutboxRepo)(nil)

// taskColumns is the standard column set for task queries.
const taskColumns = `t.id, t.issue_id, t.recipient, t.status, t.attempt_count,
	t.next_attempt_at, t.claimed_at, t.last_error, t.created_at`

func scanTask(row pgx.Row) (*types.OutboxTask, error) {
	var task types.OutboxTask
	var claimedAt *time.Time
	var lastError *string

	err := row.Scan(
		&task.ID,
		&task.IssueID,
		&task.Recipient,
		&task.Status,
		&task.AttemptCount,
		&task.NextAttemptAt,
		&claimedAt,
		&lastError,
		&task.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if claimedAt != nil {
		task.ClaimedAt = *claimedAt
	}
	if lastError != nil {
		task.LastError = *lastError
	}
	return &task, nil
}

// FanOut inserts one pending task per confirmed subscriber for the issue.
// The insert-select runs entirely in the database so publish pays one round
// trip regardless of audience size. Pairs that already exist are skipped,
// which makes the operation safe to re-run after a partial failure.
func (r *OutboxRepo) FanOut(ctx context.Context, issueID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO outbox_tasks (id, issue_id, recipient, status, next_attempt_at)
		 SELECT 'task_' || gen_random_uuid(), $1, s.email, $2, NOW()
		 FROM subscribers s
		 WHERE s.status = $3
		 ON CONFLICT (issue_id, recipient) DO NOTHING`,
		issueID,
		types.TaskPending,
		types.SubscriberConfirmed,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to fan out issue", err)
	}
	return tag.RowsAffected(), nil
}

// ClaimDue atomically claims up to limit due pending tasks. The inner select
// with FOR UPDATE SKIP LOCKED locks each candidate row for exactly one
// claimer; competing workers skip locked rows and claim the next due ones.
func (r *OutboxRepo) ClaimDue(ctx context.Context, limit int) ([]*types.OutboxTask, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE outbox_tasks t
		 SET status = $1, claimed_at = NOW()
		 WHERE t.id IN (
		     SELECT id FROM outbox_tasks
		     WHERE status = $2 AND next_attempt_at <= NOW()
		     ORDER BY next_attempt_at, id
		     LIMIT $3
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+taskColumns,
		types.TaskInFlight,
		types.TaskPending,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim due tasks", err)
	}
	defer rows.Close()

	var tasks []*types.OutboxTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan claimed task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read claimed tasks", err)
	}
	return tasks, nil
}

// MarkSent transitions the task to sent. A zero rows result means the claim
// was lost to the reaper; the duplicate send has already happened, so the
// condition is logged rather than escalated.
func (r *OutboxRepo) MarkSent(ctx context.Context, taskID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE outbox_tasks
		 SET status = $1, claimed_at = NULL, last_error = NULL
		 WHERE id = $2 AND status = $3`,
		types.TaskSent,
		taskID,
		types.TaskInFlight,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark task sent", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("task claim lost before sent transition",
			slog.String("task_id", taskID),
		)
	}
	return nil
}

// MarkFailed transitions the task to failed with the permanent error
// recorded. Failed tasks are never retried.
func (r *OutboxRepo) MarkFailed(ctx context.Context, taskID string, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE outbox_tasks
		 SET status = $1, claimed_at = NULL, last_error = $2
		 WHERE id = $3 AND status = $4`,
		types.TaskFailed,
		reason,
		taskID,
		types.TaskInFlight,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark task failed", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("task claim lost before failed transition",
			slog.String("task_id", taskID),
		)
	}
	return nil
}

// Reschedule returns the task to pending with the incremented attempt count
// and its computed next attempt time.
func (r *OutboxRepo) Reschedule(ctx context.Context, taskID string, attemptCount int, nextAttemptAt time.Time, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE outbox_tasks
		 SET status = $1, claimed_at = NULL, attempt_count = $2,
		     next_attempt_at = $3, last_error = $4
		 WHERE id = $5 AND status = $6`,
		types.TaskPending,
		attemptCount,
		nextAttemptAt,
		reason,
		taskID,
		types.TaskInFlight,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reschedule task", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("task claim lost before reschedule",
			slog.String("task_id", taskID),
		)
	}
	return nil
}

// MarkDeadLettered transitions the task to dead_lettered after the retry
// budget is exhausted.
func (r *OutboxRepo) MarkDeadLettered(ctx context.Context, taskID string, attemptCount int, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE outbox_tasks
		 SET status = $1, claimed_at = NULL, attempt_count = $2, last_error = $3
		 WHERE id = $4 AND status = $5`,
		types.TaskDeadLettered,
		attemptCount,
		reason,
		taskID,
		types.TaskInFlight,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to dead-letter task", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("task claim lost before dead-letter",
			slog.String("task_id", taskID),
		)
	}
	return nil
}

// ReapExpired reclaims in_flight tasks whose claim is older than the lease.
// The claim age check runs in the database so clock skew between workers
// does not matter.
func (r *OutboxRepo) ReapExpired(ctx context.Context, lease time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE outbox_tasks
		 SET status = $1, claimed_at = NULL
		 WHERE status = $2 AND claimed_at < NOW() - make_interval(secs => $3)`,
		types.TaskPending,
		types.TaskInFlight,
		lease.Seconds(),
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to reap expired claims", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		r.logger.Warn("reclaimed expired task claims",
			slog.Int64("count", n),
			slog.Duration("lease", lease),
		)
		return n, nil
	}
	return 0, nil
}

// CountDue returns the number of pending tasks eligible for dispatch now.
func (r *OutboxRepo) CountDue(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_tasks
		 WHERE status = $1 AND next_attempt_at <= NOW()`,
		types.TaskPending,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count due tasks", err)
	}
	return count, nil
}

// ListTerminalBefore returns up to limit terminal tasks created before the
// cutoff, oldest first. Used by the retention archiver.
func (r *OutboxRepo) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.OutboxTask, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+taskColumns+`
		 FROM outbox_tasks t
		 WHERE t.status IN ($1, $2, $3) AND t.created_at < $4
		 ORDER BY t.created_at, t.id
		 LIMIT $5`,
		types.TaskSent,
		types.TaskFailed,
		types.TaskDeadLettered,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list terminal tasks", err)
	}
	defer rows.Close()

	var tasks []*types.OutboxTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan terminal task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read terminal tasks", err)
	}
	return tasks, nil
}

// DeleteByIDs hard-deletes the given tasks. Only called by the archiver
// after the rows have been durably exported.
func (r *OutboxRepo) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM outbox_tasks WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived tasks", err)
	}
	return tag.RowsAffected(), nil
}
