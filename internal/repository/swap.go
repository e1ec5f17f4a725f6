package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/mtlprog/chorequorum/internal/domain"
)

var swapColumns = []string{
	"id", "task_id", "task_log_id", "original_assignee_id", "completer_id", "completed_at",
	"was_overdue", "week_bucket", "credited_to", "confirmed", "created_at",
}

// SwapRepository handles database operations for takeover records.
type SwapRepository struct{}

func scanSwap(row pgx.Row) (*domain.SwapRecord, error) {
	var s domain.SwapRecord
	err := row.Scan(
		&s.ID,
		&s.TaskID,
		&s.TaskLogID,
		&s.OriginalAssigneeID,
		&s.CompleterID,
		&s.CompletedAt,
		&s.WasOverdue,
		&s.WeekBucket,
		&s.CreditedTo,
		&s.Confirmed,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, scanError(err, domain.ErrSwapRecordNotFound, "swap record")
	}
	return &s, nil
}

// Create stores a takeover.
func (r *SwapRepository) Create(ctx context.Context, q Querier, s *domain.SwapRecord) error {
	query, args, err := psql.
		Insert("swap_records").
		Columns(
			"task_id", "task_log_id", "original_assignee_id", "completer_id",
			"completed_at", "was_overdue", "week_bucket", "credited_to", "confirmed",
		).
		Values(
			s.TaskID, s.TaskLogID, s.OriginalAssigneeID, s.CompleterID,
			s.CompletedAt, s.WasOverdue, s.WeekBucket, s.CreditedTo, s.Confirmed,
		).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Create query for swap record: %w", err)
	}

	if err := q.QueryRow(ctx, query, args...).Scan(&s.ID, &s.CreatedAt); err != nil {
		return fmt.Errorf("create swap record: %w", err)
	}
	return nil
}

// Get retrieves a swap record by ID.
func (r *SwapRepository) Get(ctx context.Context, q Querier, swapID string) (*domain.SwapRecord, error) {
	query, args, err := psql.
		Select(swapColumns...).
		From("swap_records").
		Where(sq.Eq{"id": swapID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Get query for swap record: %w", err)
	}

	return scanSwap(q.QueryRow(ctx, query, args...))
}

// GetByTaskLog returns the swap created for a takeover claim.
func (r *SwapRepository) GetByTaskLog(ctx context.Context, q Querier, taskLogID string) (*domain.SwapRecord, error) {
	query, args, err := psql.
		Select(swapColumns...).
		From("swap_records").
		Where(sq.Eq{"task_log_id": taskLogID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByTaskLog query: %w", err)
	}

	return scanSwap(q.QueryRow(ctx, query, args...))
}

// CountInBucket counts the swaps a participant took part in during a week,
// either as the original assignee or as the completer.
func (r *SwapRepository) CountInBucket(ctx context.Context, q Querier, participantID, bucket string) (int, error) {
	query, args, err := psql.
		Select("COUNT(*)").
		From("swap_records").
		Where(sq.Eq{"week_bucket": bucket}).
		Where(sq.Or{
			sq.Eq{"original_assignee_id": participantID},
			sq.Eq{"completer_id": participantID},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build CountInBucket query: %w", err)
	}

	var n int
	if err := q.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count swaps: %w", err)
	}
	return n, nil
}

// Settle records when the takeover was verified and who earned the points.
func (r *SwapRepository) Settle(ctx context.Context, q Querier, s *domain.SwapRecord) error {
	query, args, err := psql.
		Update("swap_records").
		Set("completed_at", s.CompletedAt).
		Set("was_overdue", s.WasOverdue).
		Set("credited_to", s.CreditedTo).
		Where(sq.Eq{"id": s.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Settle query for swap %s: %w", s.ID, err)
	}

	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("settle swap record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSwapRecordNotFound
	}
	return nil
}

// Confirm marks that the original assignee acknowledged the takeover.
func (r *SwapRepository) Confirm(ctx context.Context, q Querier, swapID string) error {
	query, args, err := psql.
		Update("swap_records").
		Set("confirmed", true).
		Where(sq.Eq{"id": swapID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Confirm query: %w", err)
	}

	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("confirm swap record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSwapRecordNotFound
	}
	return nil
}
