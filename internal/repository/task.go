package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/mtlprog/chorequorum/internal/domain"
)

// taskColumns is the shared list of columns for task queries.
var taskColumns = []string{
	"id", "household_id", "title", "description", "recurrence", "assignee_id",
	"state", "points", "deadline_at", "completed_at", "archived_at", "overdue_notified_at",
	"created_by", "created_at", "updated_at",
}

// TaskRepository handles database operations for tasks.
type TaskRepository struct{}

// scanTask scans a single row into a Task struct.
func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	err := row.Scan(
		&task.ID,
		&task.HouseholdID,
		&task.Title,
		&task.Description,
		&task.Recurrence,
		&task.AssigneeID,
		&task.State,
		&task.Points,
		&task.DeadlineAt,
		&task.CompletedAt,
		&task.ArchivedAt,
		&task.OverdueNotifiedAt,
		&task.CreatedBy,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, scanError(err, domain.ErrTaskNotFound, "task")
	}
	return &task, nil
}

// scanTasks scans multiple rows into a slice of Task structs.
func scanTasks(rows pgx.Rows) ([]*domain.Task, error) {
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return tasks, nil
}

// Get retrieves a task by ID.
func (r *TaskRepository) Get(ctx context.Context, q Querier, taskID string) (*domain.Task, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"id": taskID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Get query for task: %w", err)
	}

	return scanTask(q.QueryRow(ctx, query, args...))
}

// GetForUpdate retrieves a task by ID with a FOR UPDATE lock.
// Holding this lock is what serializes every mutation of the task and the
// workflows, logs and vote rounds attached to it.
func (r *TaskRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, taskID string) (*domain.Task, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"id": taskID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetForUpdate query for task %s: %w", taskID, err)
	}

	return scanTask(tx.QueryRow(ctx, query, args...))
}

// Update writes the mutable fields of the task, guarded by the state the caller read.
// Returns ErrInvalidTransition if the task is no longer in expectedState.
func (r *TaskRepository) Update(
	ctx context.Context,
	q Querier,
	task *domain.Task,
	expectedState domain.TaskState,
	now time.Time,
) error {
	query, args, err := psql.
		Update("tasks").
		Set("state", task.State).
		Set("assignee_id", task.AssigneeID).
		Set("deadline_at", task.DeadlineAt).
		Set("completed_at", task.CompletedAt).
		Set("archived_at", task.ArchivedAt).
		Set("overdue_notified_at", task.OverdueNotifiedAt).
		Set("updated_at", now).
		Where(sq.Eq{
			"id":    task.ID,
			"state": expectedState,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Update query for task %s: %w", task.ID, err)
	}

	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %s is no longer %s", domain.ErrInvalidTransition, task.ID, expectedState)
	}

	task.UpdatedAt = now
	return nil
}

// Create creates a new task. Returns the task with ID, CreatedAt and UpdatedAt populated.
func (r *TaskRepository) Create(ctx context.Context, q Querier, task *domain.Task) (*domain.Task, error) {
	if task.State == "" {
		task.State = domain.TaskStateTodo
	}

	query, args, err := psql.
		Insert("tasks").
		Columns(
			"household_id", "title", "description", "recurrence", "assignee_id",
			"state", "points", "deadline_at", "created_by",
		).
		Values(
			task.HouseholdID,
			task.Title,
			task.Description,
			task.Recurrence,
			task.AssigneeID,
			task.State,
			task.Points,
			task.DeadlineAt,
			task.CreatedBy,
		).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Create query for task: %w", err)
	}

	err = q.QueryRow(ctx, query, args...).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	return task, nil
}
