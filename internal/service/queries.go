package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mtlprog/chorequorum/internal/domain"
	"github.com/mtlprog/chorequorum/internal/repository"
)

// Authenticate resolves a bearer token to an active participant.
func (s *TaskService) Authenticate(ctx context.Context, token string) (*domain.Participant, error) {
	var p *domain.Participant
	err := s.read(ctx, func(ctx context.Context, q repository.Querier) error {
		var err error
		p, err = s.repos.Participants.GetByToken(ctx, q, token)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, fmt.Errorf("%w: %s", domain.ErrParticipantInactive, p.ID)
	}
	return p, nil
}

// GetTask returns a task of the household. Tasks of other households are reported as not found.
func (s *TaskService) GetTask(ctx context.Context, householdID, taskID string) (*domain.Task, error) {
	var task *domain.Task
	err := s.read(ctx, func(ctx context.Context, q repository.Querier) error {
		var err error
		task, err = s.repos.Tasks.Get(ctx, q, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if task.HouseholdID != householdID {
		return nil, domain.ErrTaskNotFound
	}
	return task, nil
}

// ListTasks returns one page of the household's tasks and the total count.
func (s *TaskService) ListTasks(ctx context.Context, filter repository.TaskFilter) ([]*domain.Task, int, error) {
	var (
		tasks []*domain.Task
		total int
	)
	err := s.read(ctx, func(ctx context.Context, q repository.Querier) error {
		var err error
		tasks, err = s.repos.Tasks.Query(ctx, q, filter)
		if err != nil {
			return err
		}
		total, err = s.repos.Tasks.Count(ctx, q, filter)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// TaskHistory is the audit trail of a task.
type TaskHistory struct {
	Task   *domain.Task
	Logs   []*domain.TaskLog
	Events []*domain.Event
}

// GetTaskHistory returns the claims and events of a task, oldest first.
func (s *TaskService) GetTaskHistory(ctx context.Context, householdID, taskID string) (*TaskHistory, error) {
	var history TaskHistory
	err := s.read(ctx, func(ctx context.Context, q repository.Querier) error {
		task, err := s.repos.Tasks.Get(ctx, q, taskID)
		if err != nil {
			return err
		}
		if task.HouseholdID != householdID {
			return domain.ErrTaskNotFound
		}
		history.Task = task

		if history.Logs, err = s.repos.TaskLogs.ListByTask(ctx, q, taskID); err != nil {
			return err
		}
		history.Events, err = s.repos.Events.ListByTask(ctx, q, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &history, nil
}

// GetWorkflow returns a workflow of the household.
func (s *TaskService) GetWorkflow(ctx context.Context, householdID, workflowID string) (*domain.Workflow, error) {
	var wf *domain.Workflow
	err := s.read(ctx, func(ctx context.Context, q repository.Querier) error {
		var err error
		wf, err = s.repos.Workflows.Get(ctx, q, workflowID)
		if err != nil {
			return err
		}
		task, err := s.repos.Tasks.Get(ctx, q, wf.TaskID())
		if err != nil || task.HouseholdID != householdID {
			return domain.ErrWorkflowNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// ListPendingWorkflows returns the pending workflows on a task.
func (s *TaskService) ListPendingWorkflows(ctx context.Context, householdID, taskID string) ([]*domain.Workflow, error) {
	if _, err := s.GetTask(ctx, householdID, taskID); err != nil {
		return nil, err
	}

	var workflows []*domain.Workflow
	err := s.read(ctx, func(ctx context.Context, q repository.Querier) error {
		var err error
		workflows, err = s.repos.Workflows.Query(ctx, q, repository.WorkflowFilter{
			Statuses: []domain.WorkflowStatus{domain.WorkflowStatusPending},
			TaskID:   taskID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return workflows, nil
}

// GetVoteRound returns a round of the household. An open round carries only its ballot count.
func (s *TaskService) GetVoteRound(ctx context.Context, householdID, roundID string) (*domain.VoteRound, error) {
	var round *domain.VoteRound
	err := s.read(ctx, func(ctx context.Context, q repository.Querier) error {
		var err error
		round, err = s.repos.VoteRounds.Get(ctx, q, roundID)
		if err != nil {
			return err
		}
		task, err := s.repos.Tasks.Get(ctx, q, round.TaskID)
		if err != nil || task.HouseholdID != householdID {
			return domain.ErrVoteRoundNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return round, nil
}

// Leaderboard returns per-participant points for a period.
func (s *TaskService) Leaderboard(ctx context.Context, filters repository.StatsFilters) ([]repository.ParticipantStats, error) {
	var stats []repository.ParticipantStats
	err := s.read(ctx, func(ctx context.Context, q repository.Querier) error {
		var err error
		stats, err = s.repos.Points.Leaderboard(ctx, q, filters)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	return stats, nil
}
