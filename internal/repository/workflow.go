package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/mtlprog/chorequorum/internal/database"
	"github.com/mtlprog/chorequorum/internal/domain"
)

const workflowPendingTargetKey = "workflows_pending_target_key"

var workflowColumns = []string{
	"id", "type", "requester_id", "target_id", "target_label", "created_at",
	"expires_at", "status", "resolver_id", "reason", "metadata", "resolved_at",
}

// WorkflowRepository handles database operations for workflows.
type WorkflowRepository struct{}

// WorkflowFilter holds supported filters for workflow queries.
type WorkflowFilter struct {
	Types         []domain.WorkflowType
	Statuses      []domain.WorkflowStatus
	TargetID      string
	TaskID        string // matches metadata task_id
	RequesterID   string
	ExpiresBefore *time.Time
	Limit         int
}

func scanWorkflow(row pgx.Row) (*domain.Workflow, error) {
	var w domain.Workflow
	err := row.Scan(
		&w.ID,
		&w.Type,
		&w.RequesterID,
		&w.TargetID,
		&w.TargetLabel,
		&w.CreatedAt,
		&w.ExpiresAt,
		&w.Status,
		&w.ResolverID,
		&w.Reason,
		&w.Metadata,
		&w.ResolvedAt,
	)
	if err != nil {
		return nil, scanError(err, domain.ErrWorkflowNotFound, "workflow")
	}
	if w.Metadata == nil {
		w.Metadata = map[string]any{}
	}
	return &w, nil
}

// Create inserts a pending workflow. A second pending workflow for the same
// (type, target) is rejected by a partial unique index and reported as ErrDuplicateWorkflow.
func (r *WorkflowRepository) Create(ctx context.Context, q Querier, w *domain.Workflow) error {
	if w.Metadata == nil {
		w.Metadata = map[string]any{}
	}
	w.Status = domain.WorkflowStatusPending

	query, args, err := psql.
		Insert("workflows").
		Columns("type", "requester_id", "target_id", "target_label", "created_at", "expires_at", "status", "metadata").
		Values(w.Type, w.RequesterID, w.TargetID, w.TargetLabel, w.CreatedAt, w.ExpiresAt, w.Status, w.Metadata).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Create query for workflow: %w", err)
	}

	if err := q.QueryRow(ctx, query, args...).Scan(&w.ID); err != nil {
		if database.IsUniqueViolation(err, workflowPendingTargetKey) {
			return fmt.Errorf("%w: %s for %s", domain.ErrDuplicateWorkflow, w.Type, w.TargetID)
		}
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

// Get retrieves a workflow by ID.
func (r *WorkflowRepository) Get(ctx context.Context, q Querier, workflowID string) (*domain.Workflow, error) {
	query, args, err := psql.
		Select(workflowColumns...).
		From("workflows").
		Where(sq.Eq{"id": workflowID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Get query for workflow: %w", err)
	}

	return scanWorkflow(q.QueryRow(ctx, query, args...))
}

// FindPending returns the pending workflow for (type, target), or ErrWorkflowNotFound.
func (r *WorkflowRepository) FindPending(
	ctx context.Context,
	q Querier,
	workflowType domain.WorkflowType,
	targetID string,
) (*domain.Workflow, error) {
	query, args, err := psql.
		Select(workflowColumns...).
		From("workflows").
		Where(sq.Eq{
			"type":      workflowType,
			"target_id": targetID,
			"status":    domain.WorkflowStatusPending,
		}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build FindPending query: %w", err)
	}

	return scanWorkflow(q.QueryRow(ctx, query, args...))
}

// Query retrieves workflows matching the filter, oldest first.
func (r *WorkflowRepository) Query(ctx context.Context, q Querier, filter WorkflowFilter) ([]*domain.Workflow, error) {
	qb := psql.Select(workflowColumns...).From("workflows")

	if len(filter.Types) > 0 {
		qb = qb.Where(sq.Eq{"type": filter.Types})
	}
	if len(filter.Statuses) > 0 {
		qb = qb.Where(sq.Eq{"status": filter.Statuses})
	}
	if filter.TargetID != "" {
		qb = qb.Where(sq.Eq{"target_id": filter.TargetID})
	}
	if filter.TaskID != "" {
		qb = qb.Where(sq.Expr("metadata->>'task_id' = ?", filter.TaskID))
	}
	if filter.RequesterID != "" {
		qb = qb.Where(sq.Eq{"requester_id": filter.RequesterID})
	}
	if filter.ExpiresBefore != nil {
		qb = qb.Where(sq.Lt{"expires_at": *filter.ExpiresBefore})
	}
	qb = qb.OrderBy("created_at ASC", "id ASC")
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Query query for workflows: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*domain.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return workflows, nil
}

// Resolve moves a pending workflow to its terminal status. The update is guarded on
// status = pending, so a workflow resolves at most once; later attempts get ErrAlreadyResolved.
func (r *WorkflowRepository) Resolve(ctx context.Context, q Querier, w *domain.Workflow) error {
	if !w.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot resolve workflow %s to %s", domain.ErrInvalidState, w.ID, w.Status)
	}

	query, args, err := psql.
		Update("workflows").
		Set("status", w.Status).
		Set("resolver_id", w.ResolverID).
		Set("reason", w.Reason).
		Set("metadata", w.Metadata).
		Set("resolved_at", w.ResolvedAt).
		Where(sq.Eq{"id": w.ID, "status": domain.WorkflowStatusPending}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Resolve query for workflow %s: %w", w.ID, err)
	}

	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("resolve workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: workflow %s", domain.ErrAlreadyResolved, w.ID)
	}
	return nil
}
