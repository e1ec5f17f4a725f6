package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/mtlprog/chorequorum/internal/domain"
)

var taskLogColumns = []string{
	"id", "task_id", "claimant_id", "claimed_at", "note", "is_takeover",
	"original_assignee_id", "original_deadline_at", "disposition", "verified_at",
	"credited_to", "created_at",
}

// TaskLogRepository handles database operations for claimed completions.
type TaskLogRepository struct{}

func scanTaskLog(row pgx.Row) (*domain.TaskLog, error) {
	var l domain.TaskLog
	err := row.Scan(
		&l.ID,
		&l.TaskID,
		&l.ClaimantID,
		&l.ClaimedAt,
		&l.Note,
		&l.IsTakeover,
		&l.OriginalAssigneeID,
		&l.OriginalDeadlineAt,
		&l.Disposition,
		&l.VerifiedAt,
		&l.CreditedTo,
		&l.CreatedAt,
	)
	if err != nil {
		return nil, scanError(err, domain.ErrTaskLogNotFound, "task log")
	}
	return &l, nil
}

// Create appends a claim to the log.
func (r *TaskLogRepository) Create(ctx context.Context, q Querier, l *domain.TaskLog) error {
	if l.Disposition == "" {
		l.Disposition = domain.DispositionPending
	}

	query, args, err := psql.
		Insert("task_logs").
		Columns(
			"task_id", "claimant_id", "claimed_at", "note", "is_takeover",
			"original_assignee_id", "original_deadline_at", "disposition",
		).
		Values(
			l.TaskID, l.ClaimantID, l.ClaimedAt, l.Note, l.IsTakeover,
			l.OriginalAssigneeID, l.OriginalDeadlineAt, l.Disposition,
		).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Create query for task log: %w", err)
	}

	if err := q.QueryRow(ctx, query, args...).Scan(&l.ID, &l.CreatedAt); err != nil {
		return fmt.Errorf("create task log: %w", err)
	}
	return nil
}

// Get retrieves a task log by ID.
func (r *TaskLogRepository) Get(ctx context.Context, q Querier, logID string) (*domain.TaskLog, error) {
	query, args, err := psql.
		Select(taskLogColumns...).
		From("task_logs").
		Where(sq.Eq{"id": logID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Get query for task log: %w", err)
	}

	return scanTaskLog(q.QueryRow(ctx, query, args...))
}

// ListByTask returns the claim history of a task, oldest first.
func (r *TaskLogRepository) ListByTask(ctx context.Context, q Querier, taskID string) ([]*domain.TaskLog, error) {
	query, args, err := psql.
		Select(taskLogColumns...).
		From("task_logs").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListByTask query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query task logs: %w", err)
	}
	defer rows.Close()

	var logs []*domain.TaskLog
	for rows.Next() {
		l, err := scanTaskLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return logs, nil
}

// Settle records the final disposition of a pending claim. A claim settles exactly once;
// settling it again returns ErrInvalidState.
func (r *TaskLogRepository) Settle(
	ctx context.Context,
	q Querier,
	logID string,
	disposition domain.Disposition,
	verifiedAt *time.Time,
	creditedTo *string,
) error {
	query, args, err := psql.
		Update("task_logs").
		Set("disposition", disposition).
		Set("verified_at", verifiedAt).
		Set("credited_to", creditedTo).
		Where(sq.Eq{"id": logID, "disposition": domain.DispositionPending}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Settle query for task log %s: %w", logID, err)
	}

	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("settle task log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task log %s is not pending", domain.ErrInvalidState, logID)
	}
	return nil
}

// Reinstate overturns a rejected claim after the household voted to approve it.
func (r *TaskLogRepository) Reinstate(
	ctx context.Context,
	q Querier,
	logID string,
	verifiedAt time.Time,
	creditedTo string,
) error {
	query, args, err := psql.
		Update("task_logs").
		Set("disposition", domain.DispositionApproved).
		Set("verified_at", verifiedAt).
		Set("credited_to", creditedTo).
		Where(sq.Eq{"id": logID, "disposition": domain.DispositionRejected}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Reinstate query for task log %s: %w", logID, err)
	}

	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("reinstate task log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task log %s is not rejected", domain.ErrInvalidState, logID)
	}
	return nil
}
