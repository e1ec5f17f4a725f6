package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/chorequorum/internal/domain"
	"github.com/mtlprog/chorequorum/internal/repository"
)

// NextDeadline computes the deadline that follows a completion at completedAt.
// The schedule floats on the completion, so a badly missed deadline does not compound.
// Returns nil for one-off tasks.
func NextDeadline(task *domain.Task, completedAt time.Time) (*time.Time, error) {
	rec, err := domain.ParseRecurrence(task.Recurrence)
	if err != nil {
		return nil, err
	}
	return rec.Next(completedAt), nil
}

// transition moves the task to a new state, enforcing the lifecycle rules and the
// optimistic state guard.
func transition(ctx context.Context, tasks *repository.TaskRepository, u *txScope, task *domain.Task, to domain.TaskState) error {
	from := task.State
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: task %s %s -> %s", domain.ErrInvalidTransition, task.ID, from, to)
	}
	task.State = to
	return tasks.Update(ctx, u.tx, task, from, u.now)
}

// completeTask marks the task COMPLETED at u.now and recomputes its deadline.
func completeTask(ctx context.Context, tasks *repository.TaskRepository, u *txScope, task *domain.Task) error {
	next, err := NextDeadline(task, u.now)
	if err != nil {
		return err
	}

	completedAt := u.now
	task.CompletedAt = &completedAt
	task.DeadlineAt = next
	task.OverdueNotifiedAt = nil
	return transition(ctx, tasks, u, task, domain.TaskStateCompleted)
}

// DueReport summarizes one deadline sweep.
type DueReport struct {
	Overdue    int
	NextCycles int
}

// ProcessDueTasks is the deadline sweep. It announces each TODO task whose deadline
// passed, once per deadline, and starts the next cycle of completed recurring tasks.
func (s *TaskService) ProcessDueTasks(ctx context.Context) (DueReport, error) {
	now := s.clock()

	var overdue, finished []*domain.Task
	err := s.read(ctx, func(ctx context.Context, q repository.Querier) error {
		var err error
		overdue, err = s.repos.Tasks.Query(ctx, q, repository.TaskFilter{
			States:            []domain.TaskState{domain.TaskStateTodo},
			DeadlineBefore:    &now,
			OverdueUnnotified: true,
		})
		if err != nil {
			return err
		}
		finished, err = s.repos.Tasks.Query(ctx, q, repository.TaskFilter{
			States:    []domain.TaskState{domain.TaskStateCompleted},
			Recurring: true,
		})
		return err
	})
	if err != nil {
		return DueReport{}, fmt.Errorf("find due tasks: %w", err)
	}

	var report DueReport
	var errs []error
	for _, task := range overdue {
		done, err := s.markOverdue(ctx, task.ID)
		if err != nil {
			slog.Error("failed to mark task overdue", "task_id", task.ID, "error", err)
			errs = append(errs, fmt.Errorf("task %s: %w", task.ID, err))
			continue
		}
		if done {
			report.Overdue++
		}
	}
	for _, task := range finished {
		done, err := s.startNextCycle(ctx, task.ID)
		if err != nil {
			slog.Error("failed to start next cycle", "task_id", task.ID, "error", err)
			errs = append(errs, fmt.Errorf("task %s: %w", task.ID, err))
			continue
		}
		if done {
			report.NextCycles++
		}
	}

	slog.Info("processed due tasks",
		"overdue", report.Overdue,
		"next_cycles", report.NextCycles,
		"failed", len(errs),
	)

	if len(errs) > 0 {
		return report, fmt.Errorf("%d due tasks failed: %w", len(errs), errors.Join(errs...))
	}
	return report, nil
}

func (s *TaskService) markOverdue(ctx context.Context, taskID string) (bool, error) {
	done := false
	err := s.run(ctx, func(ctx context.Context, u *txScope) error {
		done = false

		task, err := s.lockTask(ctx, u, taskID)
		if err != nil {
			return err
		}
		if task.State != domain.TaskStateTodo || task.IsArchived() || !task.IsOverdueAt(u.now) {
			return nil
		}
		if task.OverdueNotifiedAt != nil && !task.OverdueNotifiedAt.Before(*task.DeadlineAt) {
			return nil
		}

		notifiedAt := u.now
		task.OverdueNotifiedAt = &notifiedAt
		if err := s.repos.Tasks.Update(ctx, u.tx, task, task.State, u.now); err != nil {
			return err
		}

		u.emit(domain.EventTaskOverdue, task.ID, nil, map[string]any{
			"assignee_id": task.AssigneeID,
			"deadline_at": task.DeadlineAt,
		})
		done = true
		return nil
	})
	return done, err
}

func (s *TaskService) startNextCycle(ctx context.Context, taskID string) (bool, error) {
	done := false
	err := s.run(ctx, func(ctx context.Context, u *txScope) error {
		done = false

		task, err := s.lockTask(ctx, u, taskID)
		if err != nil {
			return err
		}
		if task.State != domain.TaskStateCompleted || task.IsArchived() || task.Recurrence == "" {
			return nil
		}

		if err := transition(ctx, s.repos.Tasks, u, task, domain.TaskStateTodo); err != nil {
			return err
		}

		u.emit(domain.EventNextCycleStarted, task.ID, nil, map[string]any{
			"deadline_at": task.DeadlineAt,
		})
		done = true
		return nil
	})
	return done, err
}
