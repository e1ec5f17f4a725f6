package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/mtlprog/chorequorum/internal/domain"
)

// TaskFilter holds all supported filters for task queries.
type TaskFilter struct {
	HouseholdID       string             // Optional: filter by household
	States            []domain.TaskState // Optional: filter by state
	AssigneeID        *string            // Optional: filter by assignee
	Unassigned        bool               // Optional: show only unassigned
	DeadlineBefore    *time.Time         // Optional: deadline strictly before this instant
	OverdueUnnotified bool               // Optional: no overdue notice sent for the current deadline
	Recurring         bool               // Optional: only tasks with a recurrence rule
	IncludeArchived   bool               // Optional: include soft-deleted tasks
	Sort              []string           // Optional: sort fields (with - prefix for DESC)
	Limit             int                // Optional: page size, 0 = unlimited
	Offset            int                // Optional: page offset
}

// sortableTaskColumns whitelists the columns a caller may sort by.
var sortableTaskColumns = map[string]bool{
	"title":       true,
	"state":       true,
	"deadline_at": true,
	"created_at":  true,
	"updated_at":  true,
	"points":      true,
}

func (f TaskFilter) apply(qb sq.SelectBuilder) sq.SelectBuilder {
	if f.HouseholdID != "" {
		qb = qb.Where(sq.Eq{"household_id": f.HouseholdID})
	}
	if len(f.States) > 0 {
		qb = qb.Where(sq.Eq{"state": f.States})
	}
	if f.Unassigned {
		qb = qb.Where(sq.Eq{"assignee_id": nil})
	} else if f.AssigneeID != nil {
		qb = qb.Where(sq.Eq{"assignee_id": *f.AssigneeID})
	}
	if f.DeadlineBefore != nil {
		qb = qb.Where(sq.Lt{"deadline_at": *f.DeadlineBefore})
	}
	if f.OverdueUnnotified {
		qb = qb.Where(sq.Or{
			sq.Eq{"overdue_notified_at": nil},
			sq.Expr("overdue_notified_at < deadline_at"),
		})
	}
	if f.Recurring {
		qb = qb.Where(sq.NotEq{"recurrence": ""})
	}
	if !f.IncludeArchived {
		qb = qb.Where(sq.Eq{"archived_at": nil})
	}
	return qb
}

// Query retrieves tasks matching the filter, with pagination.
func (r *TaskRepository) Query(ctx context.Context, q Querier, filter TaskFilter) ([]*domain.Task, error) {
	qb := filter.apply(psql.Select(taskColumns...).From("tasks"))

	if len(filter.Sort) == 0 {
		qb = qb.OrderBy("deadline_at ASC NULLS LAST", "created_at ASC")
	}
	for _, field := range filter.Sort {
		dir := "ASC"
		if name, ok := strings.CutPrefix(field, "-"); ok {
			field, dir = name, "DESC"
		}
		if sortableTaskColumns[field] {
			qb = qb.OrderBy(field + " " + dir)
		}
	}

	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit)).Offset(uint64(filter.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Query query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}

	return scanTasks(rows)
}

// Count returns the number of tasks matching the filter, ignoring pagination.
func (r *TaskRepository) Count(ctx context.Context, q Querier, filter TaskFilter) (int, error) {
	query, args, err := filter.apply(psql.Select("COUNT(*)").From("tasks")).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var total int
	if err := q.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return total, nil
}
