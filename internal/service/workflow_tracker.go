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

// WorkflowTracker owns the generic "someone else must approve this before a deadline"
// records. Every other component holds a workflow id, never a copy of its state.
type WorkflowTracker struct {
	repo      *repository.WorkflowRepository
	validator *Validator
}

// NewWorkflow describes a workflow to open.
type NewWorkflow struct {
	Type        domain.WorkflowType
	RequesterID string
	TargetID    string
	TargetLabel string
	ExpiresAt   time.Time
	Metadata    map[string]any
}

// create opens a pending workflow. At most one may be pending per (type, target).
func (t *WorkflowTracker) create(ctx context.Context, u *txScope, req NewWorkflow) (*domain.Workflow, error) {
	if !req.Type.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidWorkflowType, req.Type)
	}
	if !req.ExpiresAt.After(u.now) {
		return nil, fmt.Errorf("%w: workflow must expire in the future", domain.ErrValidation)
	}
	if _, ok := req.Metadata[domain.MetaTaskID].(string); !ok {
		return nil, fmt.Errorf("%w: workflow metadata must name its task", domain.ErrValidation)
	}

	_, err := t.repo.FindPending(ctx, u.tx, req.Type, req.TargetID)
	if err == nil {
		return nil, fmt.Errorf("%w: %s for %s", domain.ErrDuplicateWorkflow, req.Type, req.TargetID)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	wf := &domain.Workflow{
		Type:        req.Type,
		RequesterID: req.RequesterID,
		TargetID:    req.TargetID,
		TargetLabel: req.TargetLabel,
		CreatedAt:   u.now,
		ExpiresAt:   req.ExpiresAt,
		Metadata:    req.Metadata,
	}
	if err := t.repo.Create(ctx, u.tx, wf); err != nil {
		return nil, err
	}

	u.emit(domain.EventWorkflowCreated, wf.TaskID(), &wf.RequesterID, map[string]any{
		"workflow_id":  wf.ID,
		"type":         wf.Type,
		"target_label": wf.TargetLabel,
		"expires_at":   wf.ExpiresAt,
	})
	return wf, nil
}

// authorize checks that resolver may decide the workflow.
// The requester never resolves their own verification or deletion request.
func (t *WorkflowTracker) authorize(wf *domain.Workflow, resolver *domain.Participant, decision domain.Decision) error {
	if !decision.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidDecision, decision)
	}
	return t.validator.CanResolve(wf, resolver)
}

// resolve records an authorized decision on a pending workflow.
func (t *WorkflowTracker) resolve(
	ctx context.Context,
	u *txScope,
	wf *domain.Workflow,
	resolver *domain.Participant,
	decision domain.Decision,
	reason string,
) error {
	if err := t.finish(ctx, u, wf, decision.Status(), &resolver.ID, reason); err != nil {
		return err
	}

	u.emit(domain.EventWorkflowResolved, wf.TaskID(), &resolver.ID, map[string]any{
		"workflow_id": wf.ID,
		"type":        wf.Type,
		"status":      wf.Status,
		"reason":      reason,
	})
	return nil
}

// finish moves a pending workflow to a terminal status.
func (t *WorkflowTracker) finish(
	ctx context.Context,
	u *txScope,
	wf *domain.Workflow,
	status domain.WorkflowStatus,
	resolverID *string,
	reason string,
) error {
	if wf.Status.IsTerminal() {
		return fmt.Errorf("%w: workflow %s is %s", domain.ErrAlreadyResolved, wf.ID, wf.Status)
	}

	wf.Status = status
	wf.ResolverID = resolverID
	wf.Reason = reason
	resolvedAt := u.now
	wf.ResolvedAt = &resolvedAt
	return t.repo.Resolve(ctx, u.tx, wf)
}

// ResolveInput is a participant's decision on a workflow.
type ResolveInput struct {
	WorkflowID string
	ResolverID string
	Decision   domain.Decision
	Reason     string
}

// ResolveResult reports the state after a resolution.
type ResolveResult struct {
	Workflow  *domain.Workflow
	Task      *domain.Task
	VoteRound *domain.VoteRound // set when a rejection opened a ballot
}

// ResolveWorkflow applies a decision to any workflow type and runs its side effects.
func (s *TaskService) ResolveWorkflow(ctx context.Context, in ResolveInput) (*ResolveResult, error) {
	if !in.Decision.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidDecision, in.Decision)
	}

	var result *ResolveResult
	err := s.run(ctx, func(ctx context.Context, u *txScope) error {
		wf, task, err := s.lockWorkflow(ctx, u, in.WorkflowID)
		if err != nil {
			return err
		}

		resolver, err := s.actor(ctx, u.tx, in.ResolverID, task)
		if err != nil {
			return err
		}

		if err := s.workflows.authorize(wf, resolver, in.Decision); err != nil {
			return err
		}

		res := &ResolveResult{Workflow: wf, Task: task}
		switch wf.Type {
		case domain.WorkflowTypeVerification:
			res.VoteRound, err = s.verification.resolve(ctx, u, task, wf, resolver, in.Decision)
		case domain.WorkflowTypeDeletion:
			err = s.resolveDeletion(ctx, u, task, wf, resolver, in.Decision)
		case domain.WorkflowTypeTakeoverConfirmation:
			err = s.swaps.resolveConfirmation(ctx, u, wf, resolver, in.Decision)
		default:
			err = fmt.Errorf("%w: %q", domain.ErrInvalidWorkflowType, wf.Type)
		}
		if err != nil {
			return err
		}

		if err := s.workflows.resolve(ctx, u, wf, resolver, in.Decision, in.Reason); err != nil {
			return err
		}

		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("workflow resolved",
		"workflow_id", result.Workflow.ID,
		"type", result.Workflow.Type,
		"status", result.Workflow.Status,
		"resolver_id", in.ResolverID,
		"task_id", result.Task.ID,
		"task_state", result.Task.State,
	)

	return result, nil
}

// BatchItem is the outcome of one workflow in a batch.
type BatchItem struct {
	WorkflowID string
	Result     *ResolveResult
	Err        error
}

// BatchResolveInput applies one decision to many workflows.
type BatchResolveInput struct {
	WorkflowIDs []string
	ResolverID  string
	Decision    domain.Decision
	Reason      string
}

// BatchResolve resolves each workflow independently. The returned slice has one item
// per distinct id in request order; when any item failed the error is a *domain.BatchError
// naming every failure.
func (s *TaskService) BatchResolve(ctx context.Context, in BatchResolveInput) ([]BatchItem, error) {
	if len(in.WorkflowIDs) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	if !in.Decision.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidDecision, in.Decision)
	}

	seen := make(map[string]bool, len(in.WorkflowIDs))
	items := make([]BatchItem, 0, len(in.WorkflowIDs))
	batchErr := &domain.BatchError{Failures: map[string]error{}}

	for _, id := range in.WorkflowIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		res, err := s.ResolveWorkflow(ctx, ResolveInput{
			WorkflowID: id,
			ResolverID: in.ResolverID,
			Decision:   in.Decision,
			Reason:     in.Reason,
		})
		items = append(items, BatchItem{WorkflowID: id, Result: res, Err: err})
		if err != nil {
			batchErr.Failures[id] = err
		}
	}
	batchErr.Total = len(items)

	if len(batchErr.Failures) > 0 {
		slog.Warn("batch resolve partially failed",
			"total", batchErr.Total,
			"failed", len(batchErr.Failures),
			"resolver_id", in.ResolverID,
		)
		return items, batchErr
	}
	return items, nil
}

// CancelInput withdraws a pending workflow.
type CancelInput struct {
	WorkflowID  string
	RequesterID string
	Reason      string
}

// CancelWorkflow lets the requester withdraw their own pending workflow.
// Withdrawing a verification withdraws the claim: the task returns to TODO.
func (s *TaskService) CancelWorkflow(ctx context.Context, in CancelInput) (*domain.Workflow, error) {
	var result *domain.Workflow
	err := s.run(ctx, func(ctx context.Context, u *txScope) error {
		wf, task, err := s.lockWorkflow(ctx, u, in.WorkflowID)
		if err != nil {
			return err
		}

		requester, err := s.actor(ctx, u.tx, in.RequesterID, task)
		if err != nil {
			return err
		}

		if err := s.validator.CanCancel(wf, requester); err != nil {
			return err
		}

		if wf.Type == domain.WorkflowTypeVerification {
			if err := s.verification.withdraw(ctx, u, task, wf, &requester.ID); err != nil {
				return err
			}
		}

		if err := s.workflows.finish(ctx, u, wf, domain.WorkflowStatusCancelled, &requester.ID, in.Reason); err != nil {
			return err
		}
		u.emit(domain.EventWorkflowCancelled, task.ID, &requester.ID, map[string]any{
			"workflow_id": wf.ID,
			"type":        wf.Type,
			"reason":      in.Reason,
		})

		result = wf
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("workflow cancelled",
		"workflow_id", result.ID,
		"type", result.Type,
		"requester_id", in.RequesterID,
	)

	return result, nil
}

// ExpireStale expires every pending workflow past its expiry. Each workflow is handled
// in its own transaction under its task's lock; running the sweep twice has no
// additional effect. Returns the number of workflows expired.
func (s *TaskService) ExpireStale(ctx context.Context) (int, error) {
	now := s.clock()

	var stale []*domain.Workflow
	err := s.read(ctx, func(ctx context.Context, q repository.Querier) error {
		var err error
		stale, err = s.repos.Workflows.Query(ctx, q, repository.WorkflowFilter{
			Statuses:      []domain.WorkflowStatus{domain.WorkflowStatusPending},
			ExpiresBefore: &now,
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("find stale workflows: %w", err)
	}

	if len(stale) == 0 {
		slog.Info("no stale workflows found")
		return 0, nil
	}

	count := 0
	var errs []error
	for _, wf := range stale {
		expired, err := s.expireWorkflow(ctx, wf.ID)
		if err != nil {
			slog.Error("failed to expire workflow",
				"workflow_id", wf.ID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("workflow %s: %w", wf.ID, err))
			continue
		}
		if expired {
			count++
		}
	}

	slog.Info("expired stale workflows",
		"total", len(stale),
		"expired", count,
		"failed", len(errs),
	)

	if len(errs) > 0 {
		return count, fmt.Errorf("expired %d/%d workflows: %w", count, len(stale), errors.Join(errs...))
	}
	return count, nil
}

// expireWorkflow expires a single workflow if it is still pending and past expiry.
func (s *TaskService) expireWorkflow(ctx context.Context, workflowID string) (bool, error) {
	expired := false
	err := s.run(ctx, func(ctx context.Context, u *txScope) error {
		expired = false

		wf, task, err := s.lockWorkflow(ctx, u, workflowID)
		if err != nil {
			return err
		}
		if wf.Status.IsTerminal() || !wf.ExpiresAt.Before(u.now) {
			return nil
		}

		if wf.Type == domain.WorkflowTypeVerification {
			if err := s.verification.withdraw(ctx, u, task, wf, nil); err != nil {
				return err
			}
		}

		if err := s.workflows.finish(ctx, u, wf, domain.WorkflowStatusExpired, nil, "expired"); err != nil {
			return err
		}
		u.emit(domain.EventWorkflowExpired, task.ID, nil, map[string]any{
			"workflow_id":  wf.ID,
			"type":         wf.Type,
			"requester_id": wf.RequesterID,
			"expired_at":   wf.ExpiresAt,
		})

		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if expired {
		slog.Info("workflow expired", "workflow_id", workflowID)
	}
	return expired, nil
}
