package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mtlprog/chorequorum/internal/config"
	"github.com/mtlprog/chorequorum/internal/domain"
	"github.com/mtlprog/chorequorum/internal/repository"
)

// VerificationEngine drives a claim from claimed-done to confirmed-done or disputed.
// It talks to the resolver only through a verification workflow.
type VerificationEngine struct {
	tasks     *repository.TaskRepository
	logs      *repository.TaskLogRepository
	points    *repository.PointRepository
	swaps     *SwapLedger
	workflows *WorkflowTracker
	conflicts *ConflictResolver
	cfg       config.Engine
}

// pickVerifier chooses who is asked to verify a claim. An explicit request wins when the
// participant is eligible. Otherwise the first active member by name who is neither the
// claimant nor the original assignee, falling back to the original assignee.
func pickVerifier(active []*domain.Participant, claimantID string, originalAssigneeID *string, requested string) (string, error) {
	if requested != "" {
		if requested == claimantID {
			return "", fmt.Errorf("%w: claimant %s cannot be the verifier", domain.ErrSelfVerification, claimantID)
		}
		for _, p := range active {
			if p.ID == requested {
				return requested, nil
			}
		}
		return "", fmt.Errorf("%w: verifier %s is not an active member of the household", domain.ErrPermissionDenied, requested)
	}

	fallback := ""
	for _, p := range active {
		if p.ID == claimantID {
			continue
		}
		if originalAssigneeID != nil && p.ID == *originalAssigneeID {
			fallback = p.ID
			continue
		}
		return p.ID, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", domain.ErrNoEligibleVerifier
}

// request opens the verification workflow for a fresh claim.
func (e *VerificationEngine) request(
	ctx context.Context,
	u *txScope,
	task *domain.Task,
	log *domain.TaskLog,
	verifierID string,
) (*domain.Workflow, error) {
	wf, err := e.workflows.create(ctx, u, NewWorkflow{
		Type:        domain.WorkflowTypeVerification,
		RequesterID: log.ClaimantID,
		TargetID:    task.ID,
		TargetLabel: task.Label(),
		ExpiresAt:   u.now.Add(e.cfg.VerificationTTL),
		Metadata: map[string]any{
			domain.MetaTaskID:     task.ID,
			domain.MetaTaskLogID:  log.ID,
			domain.MetaVerifierID: verifierID,
			domain.MetaIsTakeover: log.IsTakeover,
		},
	})
	if err != nil {
		return nil, err
	}

	u.emit(domain.EventVerificationRequested, task.ID, &log.ClaimantID, map[string]any{
		"workflow_id": wf.ID,
		"task_log_id": log.ID,
		"verifier_id": verifierID,
		"expires_at":  wf.ExpiresAt,
	})
	return wf, nil
}

// resolve applies the verifier's decision. A rejection returns the vote round it opened,
// or nil when the electorate was even and the task went straight to DEADLOCK.
func (e *VerificationEngine) resolve(
	ctx context.Context,
	u *txScope,
	task *domain.Task,
	wf *domain.Workflow,
	resolver *domain.Participant,
	decision domain.Decision,
) (*domain.VoteRound, error) {
	log, err := e.logs.Get(ctx, u.tx, wf.MetaString(domain.MetaTaskLogID))
	if err != nil {
		return nil, err
	}

	if log.ClaimantID == resolver.ID {
		return nil, fmt.Errorf("%w: participant %s claimed task %s", domain.ErrSelfVerification, resolver.ID, task.ID)
	}
	if !log.IsPending() {
		return nil, fmt.Errorf("%w: claim %s is already %s", domain.ErrInvalidState, log.ID, log.Disposition)
	}
	if task.State != domain.TaskStatePendingVerification {
		return nil, fmt.Errorf("%w: task %s is in %s state, expected PENDING_VERIFICATION", domain.ErrInvalidTransition, task.ID, task.State)
	}

	if decision == domain.DecisionApprove {
		return nil, e.approve(ctx, u, task, wf, log, resolver)
	}
	return e.reject(ctx, u, task, wf, log, resolver)
}

func (e *VerificationEngine) approve(
	ctx context.Context,
	u *txScope,
	task *domain.Task,
	wf *domain.Workflow,
	log *domain.TaskLog,
	resolver *domain.Participant,
) error {
	creditedTo, err := e.credit(ctx, u, task, log, false)
	if err != nil {
		return err
	}

	if err := completeTask(ctx, e.tasks, u, task); err != nil {
		return err
	}

	u.emit(domain.EventClaimApproved, task.ID, &resolver.ID, map[string]any{
		"workflow_id": wf.ID,
		"task_log_id": log.ID,
		"credited_to": creditedTo,
	})
	u.emit(domain.EventTaskCompleted, task.ID, &log.ClaimantID, map[string]any{
		"task_log_id":   log.ID,
		"completed_at":  task.CompletedAt,
		"next_deadline": task.DeadlineAt,
	})
	return nil
}

func (e *VerificationEngine) reject(
	ctx context.Context,
	u *txScope,
	task *domain.Task,
	wf *domain.Workflow,
	log *domain.TaskLog,
	resolver *domain.Participant,
) (*domain.VoteRound, error) {
	verifiedAt := u.now
	if err := e.logs.Settle(ctx, u.tx, log.ID, domain.DispositionRejected, &verifiedAt, nil); err != nil {
		return nil, err
	}

	if err := transition(ctx, e.tasks, u, task, domain.TaskStateConflict); err != nil {
		return nil, err
	}

	u.emit(domain.EventClaimRejected, task.ID, &resolver.ID, map[string]any{
		"workflow_id": wf.ID,
		"task_log_id": log.ID,
	})

	round, err := e.conflicts.open(ctx, u, task, log, resolver.ID)
	if err != nil {
		return nil, err
	}
	if round != nil {
		wf.Metadata[domain.MetaVoteRoundID] = round.ID
	}
	return round, nil
}

// credit settles a claim as approved at u.now: it decides who earns the points, writes
// the ledger entry and settles the swap record of a takeover. overturned marks a claim
// that the verifier rejected and the household then approved by vote.
func (e *VerificationEngine) credit(
	ctx context.Context,
	u *txScope,
	task *domain.Task,
	log *domain.TaskLog,
	overturned bool,
) (string, error) {
	creditedTo := log.ClaimantID
	if log.IsTakeover {
		var err error
		creditedTo, err = e.swaps.settle(ctx, u, log)
		if err != nil {
			return "", err
		}
	}

	var err error
	if overturned {
		err = e.logs.Reinstate(ctx, u.tx, log.ID, u.now, creditedTo)
	} else {
		verifiedAt := u.now
		err = e.logs.Settle(ctx, u.tx, log.ID, domain.DispositionApproved, &verifiedAt, &creditedTo)
	}
	if err != nil {
		return "", err
	}

	if task.Points > 0 {
		award := &domain.PointAward{
			ParticipantID: creditedTo,
			TaskID:        task.ID,
			TaskLogID:     log.ID,
			Points:        task.Points,
			AwardedAt:     u.now,
		}
		if err := e.points.Award(ctx, u.tx, award); err != nil {
			return "", err
		}
		u.emit(domain.EventPointsAwarded, task.ID, nil, map[string]any{
			"participant_id": creditedTo,
			"points":         task.Points,
			"task_log_id":    log.ID,
		})
	}

	return creditedTo, nil
}

// withdraw discards the claim behind a verification that was cancelled or expired.
// The task goes back to TODO and nobody is credited.
func (e *VerificationEngine) withdraw(
	ctx context.Context,
	u *txScope,
	task *domain.Task,
	wf *domain.Workflow,
	actorID *string,
) error {
	log, err := e.logs.Get(ctx, u.tx, wf.MetaString(domain.MetaTaskLogID))
	if err != nil {
		return err
	}

	if log.IsPending() {
		if err := e.logs.Settle(ctx, u.tx, log.ID, domain.DispositionRejected, nil, nil); err != nil {
			return err
		}
	}

	if task.State != domain.TaskStatePendingVerification {
		slog.Warn("verification withdrawn for task not pending verification",
			"task_id", task.ID,
			"workflow_id", wf.ID,
			"state", task.State,
		)
		return nil
	}

	if err := transition(ctx, e.tasks, u, task, domain.TaskStateTodo); err != nil {
		return err
	}
	u.emit(domain.EventTaskReopened, task.ID, actorID, map[string]any{
		"workflow_id": wf.ID,
		"task_log_id": log.ID,
		"reason":      "verification_withdrawn",
	})
	return nil
}
