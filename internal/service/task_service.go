package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mtlprog/chorequorum/internal/domain"
)

// DefaultPoints is what a task is worth when the creator does not say.
const DefaultPoints = 1

// CreateTaskInput describes a new task.
type CreateTaskInput struct {
	HouseholdID string
	CreatedBy   string
	Title       string
	Description string
	Recurrence  string
	AssigneeID  *string
	Points      int
	DeadlineAt  *time.Time // Optional: defaults to one recurrence interval from now
}

// CreateTask adds a task in TODO.
func (s *TaskService) CreateTask(ctx context.Context, in CreateTaskInput) (*domain.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, domain.ErrEmptyTitle
	}
	if in.Points < 0 {
		return nil, fmt.Errorf("%w: points must not be negative", domain.ErrValidation)
	}
	rec, err := domain.ParseRecurrence(in.Recurrence)
	if err != nil {
		return nil, err
	}

	var result *domain.Task
	err = s.run(ctx, func(ctx context.Context, u *txScope) error {
		task := &domain.Task{
			HouseholdID: in.HouseholdID,
			Title:       title,
			Description: in.Description,
			Recurrence:  rec.String(),
			AssigneeID:  in.AssigneeID,
			State:       domain.TaskStateTodo,
			Points:      in.Points,
			DeadlineAt:  in.DeadlineAt,
			CreatedBy:   in.CreatedBy,
		}
		if task.Points == 0 {
			task.Points = DefaultPoints
		}
		if task.DeadlineAt == nil {
			task.DeadlineAt = rec.Next(u.now)
		}

		if _, err := s.repos.Households.Get(ctx, u.tx, in.HouseholdID); err != nil {
			return err
		}
		creator, err := s.actor(ctx, u.tx, in.CreatedBy, task)
		if err != nil {
			return err
		}
		if err := s.validator.CanCreateTask(creator); err != nil {
			return err
		}
		if in.AssigneeID != nil {
			if _, err := s.actor(ctx, u.tx, *in.AssigneeID, task); err != nil {
				return fmt.Errorf("assignee: %w", err)
			}
		}

		if _, err := s.repos.Tasks.Create(ctx, u.tx, task); err != nil {
			return err
		}

		u.emit(domain.EventTaskCreated, task.ID, &in.CreatedBy, map[string]any{
			"title":       task.Title,
			"assignee_id": task.AssigneeID,
			"recurrence":  task.Recurrence,
			"deadline_at": task.DeadlineAt,
		})

		result = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("task created",
		"task_id", result.ID,
		"household_id", result.HouseholdID,
		"created_by", result.CreatedBy,
	)

	return result, nil
}

// ClaimInput asserts that a task has been done.
type ClaimInput struct {
	TaskID     string
	ClaimantID string
	Note       string
	IsTakeover bool
	VerifierID string // Optional: ask a specific participant to verify
}

// ClaimResult reports everything a claim created.
type ClaimResult struct {
	Task         *domain.Task
	Log          *domain.TaskLog
	Verification *domain.Workflow
	Swap         *domain.SwapRecord // takeovers only
	Confirmation *domain.Workflow   // takeovers only
}

// Claim records a completion claim on a TODO task and asks a peer to verify it.
// Claiming a task assigned to someone else is a takeover and goes through the swap ledger.
func (s *TaskService) Claim(ctx context.Context, in ClaimInput) (*ClaimResult, error) {
	return s.claim(ctx, in, "")
}

// TakeoverInput is a claim on somebody else's task.
type TakeoverInput struct {
	TaskID             string
	OriginalAssigneeID string // Optional: must match the current assignee when set
	CompleterID        string
	Note               string
	VerifierID         string
}

// Takeover claims a task assigned to another participant, subject to the weekly cap.
func (s *TaskService) Takeover(ctx context.Context, in TakeoverInput) (*ClaimResult, error) {
	return s.claim(ctx, ClaimInput{
		TaskID:     in.TaskID,
		ClaimantID: in.CompleterID,
		Note:       in.Note,
		IsTakeover: true,
		VerifierID: in.VerifierID,
	}, in.OriginalAssigneeID)
}

func (s *TaskService) claim(ctx context.Context, in ClaimInput, expectedAssigneeID string) (*ClaimResult, error) {
	var result *ClaimResult
	err := s.run(ctx, func(ctx context.Context, u *txScope) error {
		task, err := s.lockTask(ctx, u, in.TaskID)
		if err != nil {
			return err
		}

		claimant, err := s.actor(ctx, u.tx, in.ClaimantID, task)
		if err != nil {
			return err
		}

		takeover, err := s.validator.CanClaim(task, claimant, in.IsTakeover, u.now)
		if err != nil {
			return err
		}
		if expectedAssigneeID != "" && !task.IsAssignedTo(expectedAssigneeID) {
			return fmt.Errorf("%w: task %s is not assigned to %s", domain.ErrInvalidState, task.ID, expectedAssigneeID)
		}

		_, err = s.repos.Workflows.FindPending(ctx, u.tx, domain.WorkflowTypeDeletion, task.ID)
		if err == nil {
			return fmt.Errorf("%w: deletion of task %s is pending", domain.ErrDuplicateWorkflow, task.ID)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		active, err := s.repos.Participants.ListActive(ctx, u.tx, task.HouseholdID)
		if err != nil {
			return fmt.Errorf("list active participants: %w", err)
		}

		var originalAssigneeID *string
		if takeover {
			originalAssigneeID = task.AssigneeID
		}
		verifierID, err := pickVerifier(active, claimant.ID, originalAssigneeID, in.VerifierID)
		if err != nil {
			return err
		}

		var bucket string
		if takeover {
			bucket, err = s.swaps.reserve(ctx, u, *task.AssigneeID, claimant.ID)
			if err != nil {
				return err
			}
		}

		log := &domain.TaskLog{
			TaskID:             task.ID,
			ClaimantID:         claimant.ID,
			ClaimedAt:          u.now,
			Note:               in.Note,
			IsTakeover:         takeover,
			OriginalAssigneeID: originalAssigneeID,
			OriginalDeadlineAt: task.DeadlineAt,
		}
		if err := s.repos.TaskLogs.Create(ctx, u.tx, log); err != nil {
			return err
		}

		if err := transition(ctx, s.repos.Tasks, u, task, domain.TaskStatePendingVerification); err != nil {
			return err
		}

		u.emit(domain.EventTaskClaimed, task.ID, &claimant.ID, map[string]any{
			"task_log_id": log.ID,
			"is_takeover": takeover,
			"note":        in.Note,
		})

		res := &ClaimResult{Task: task, Log: log}
		res.Verification, err = s.verification.request(ctx, u, task, log, verifierID)
		if err != nil {
			return err
		}

		if takeover {
			res.Swap, res.Confirmation, err = s.swaps.record(ctx, u, task, log, bucket)
			if err != nil {
				return err
			}
		}

		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("task claimed",
		"task_id", result.Task.ID,
		"claimant_id", in.ClaimantID,
		"task_log_id", result.Log.ID,
		"workflow_id", result.Verification.ID,
		"is_takeover", result.Log.IsTakeover,
	)

	return result, nil
}

// ForceReopenInput is the manual override out of DEADLOCK.
type ForceReopenInput struct {
	TaskID  string
	ActorID string
	Reason  string
}

// ForceReopen moves a deadlocked task back to TODO. Any active member may do it; it is always logged.
func (s *TaskService) ForceReopen(ctx context.Context, in ForceReopenInput) (*domain.Task, error) {
	var result *domain.Task
	err := s.run(ctx, func(ctx context.Context, u *txScope) error {
		task, err := s.lockTask(ctx, u, in.TaskID)
		if err != nil {
			return err
		}

		actor, err := s.actor(ctx, u.tx, in.ActorID, task)
		if err != nil {
			return err
		}

		if err := s.validator.CanForceReopen(task); err != nil {
			return err
		}

		if err := transition(ctx, s.repos.Tasks, u, task, domain.TaskStateTodo); err != nil {
			return err
		}

		u.emit(domain.EventTaskReopened, task.ID, &actor.ID, map[string]any{
			"reason": "force_reopen",
			"note":   in.Reason,
		})

		result = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Warn("task force reopened",
		"task_id", result.ID,
		"actor_id", in.ActorID,
		"reason", in.Reason,
	)

	return result, nil
}

// DeletionInput asks the household to archive a task.
type DeletionInput struct {
	TaskID      string
	RequesterID string
	Reason      string
}

// RequestDeletion opens a deletion workflow. Another participant must approve it.
func (s *TaskService) RequestDeletion(ctx context.Context, in DeletionInput) (*domain.Workflow, error) {
	var result *domain.Workflow
	err := s.run(ctx, func(ctx context.Context, u *txScope) error {
		task, err := s.lockTask(ctx, u, in.TaskID)
		if err != nil {
			return err
		}

		requester, err := s.actor(ctx, u.tx, in.RequesterID, task)
		if err != nil {
			return err
		}

		if err := s.validator.CanRequestDeletion(task); err != nil {
			return err
		}

		wf, err := s.workflows.create(ctx, u, NewWorkflow{
			Type:        domain.WorkflowTypeDeletion,
			RequesterID: requester.ID,
			TargetID:    task.ID,
			TargetLabel: task.Label(),
			ExpiresAt:   u.now.Add(s.cfg.DeletionTTL),
			Metadata: map[string]any{
				domain.MetaTaskID: task.ID,
				"reason":          in.Reason,
			},
		})
		if err != nil {
			return err
		}

		result = wf
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("deletion requested",
		"task_id", in.TaskID,
		"requester_id", in.RequesterID,
		"workflow_id", result.ID,
	)

	return result, nil
}

// resolveDeletion archives the task when the deletion is approved. Tasks are never hard-deleted.
func (s *TaskService) resolveDeletion(
	ctx context.Context,
	u *txScope,
	task *domain.Task,
	wf *domain.Workflow,
	resolver *domain.Participant,
	decision domain.Decision,
) error {
	if decision != domain.DecisionApprove {
		return nil
	}
	if err := s.validator.CanRequestDeletion(task); err != nil {
		return err
	}

	archivedAt := u.now
	task.ArchivedAt = &archivedAt
	if err := s.repos.Tasks.Update(ctx, u.tx, task, task.State, u.now); err != nil {
		return err
	}

	u.emit(domain.EventTaskArchived, task.ID, &resolver.ID, map[string]any{
		"workflow_id":  wf.ID,
		"requester_id": wf.RequesterID,
	})
	return nil
}
