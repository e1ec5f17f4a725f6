package service

import (
	"context"
	"fmt"

	"github.com/mtlprog/chorequorum/internal/config"
	"github.com/mtlprog/chorequorum/internal/domain"
	"github.com/mtlprog/chorequorum/internal/repository"
)

// SwapLedger implements the takeover protocol: the weekly cap, the swap records and
// the deadline-based point attribution.
type SwapLedger struct {
	repo         *repository.SwapRepository
	participants *repository.ParticipantRepository
	workflows    *WorkflowTracker
	cfg          config.Engine
}

// reserve checks the weekly cap for both parties of a takeover and returns the week
// bucket the swap falls into. Both participants stay row-locked until the transaction
// ends, so concurrent takeovers on different tasks cannot overrun the cap.
func (l *SwapLedger) reserve(ctx context.Context, u *txScope, originalAssigneeID, completerID string) (string, error) {
	if err := l.participants.LockForUpdate(ctx, u.tx, originalAssigneeID, completerID); err != nil {
		return "", err
	}

	bucket := domain.WeekBucket(u.now, l.cfg.Location)
	for _, id := range []string{completerID, originalAssigneeID} {
		n, err := l.repo.CountInBucket(ctx, u.tx, id, bucket)
		if err != nil {
			return "", err
		}
		if n >= l.cfg.SwapWeeklyLimit {
			return "", fmt.Errorf("%w: participant %s already has %d swaps in %s", domain.ErrRateLimitExceeded, id, n, bucket)
		}
	}
	return bucket, nil
}

// record writes the swap for a takeover claim and asks the original assignee to
// acknowledge it. The record counts toward the cap even if the claim is later rejected.
func (l *SwapLedger) record(
	ctx context.Context,
	u *txScope,
	task *domain.Task,
	log *domain.TaskLog,
	bucket string,
) (*domain.SwapRecord, *domain.Workflow, error) {
	if log.OriginalAssigneeID == nil {
		return nil, nil, fmt.Errorf("%w: takeover claim %s has no original assignee", domain.ErrInvalidState, log.ID)
	}

	swap := &domain.SwapRecord{
		TaskID:             task.ID,
		TaskLogID:          log.ID,
		OriginalAssigneeID: *log.OriginalAssigneeID,
		CompleterID:        log.ClaimantID,
		CompletedAt:        log.ClaimedAt,
		WasOverdue:         task.IsOverdueAt(log.ClaimedAt),
		WeekBucket:         bucket,
	}
	if err := l.repo.Create(ctx, u.tx, swap); err != nil {
		return nil, nil, err
	}

	u.emit(domain.EventSwapRecorded, task.ID, &log.ClaimantID, map[string]any{
		"swap_record_id":       swap.ID,
		"original_assignee_id": swap.OriginalAssigneeID,
		"completer_id":         swap.CompleterID,
		"week_bucket":          swap.WeekBucket,
		"was_overdue":          swap.WasOverdue,
	})

	wf, err := l.workflows.create(ctx, u, NewWorkflow{
		Type:        domain.WorkflowTypeTakeoverConfirmation,
		RequesterID: swap.CompleterID,
		TargetID:    swap.ID,
		TargetLabel: task.Label(),
		ExpiresAt:   u.now.Add(l.cfg.TakeoverConfirmationTTL),
		Metadata: map[string]any{
			domain.MetaTaskID:       task.ID,
			domain.MetaTaskLogID:    log.ID,
			domain.MetaSwapRecordID: swap.ID,
		},
	})
	if err != nil {
		return nil, nil, err
	}

	return swap, wf, nil
}

// settle runs when a takeover claim is approved and returns who earns the points.
// Completion at or before the original deadline credits the original assignee.
func (l *SwapLedger) settle(ctx context.Context, u *txScope, log *domain.TaskLog) (string, error) {
	swap, err := l.repo.GetByTaskLog(ctx, u.tx, log.ID)
	if err != nil {
		return "", err
	}

	creditedTo := domain.CreditFor(swap.OriginalAssigneeID, swap.CompleterID, log.OriginalDeadlineAt, u.now)
	swap.CompletedAt = u.now
	swap.WasOverdue = log.OriginalDeadlineAt != nil && u.now.After(*log.OriginalDeadlineAt)
	swap.CreditedTo = &creditedTo
	if err := l.repo.Settle(ctx, u.tx, swap); err != nil {
		return "", err
	}
	return creditedTo, nil
}

// resolveConfirmation applies the original assignee's acknowledgement of a takeover.
// The acknowledgement has no effect on the task or on the points.
func (l *SwapLedger) resolveConfirmation(
	ctx context.Context,
	u *txScope,
	wf *domain.Workflow,
	resolver *domain.Participant,
	decision domain.Decision,
) error {
	swap, err := l.repo.Get(ctx, u.tx, wf.MetaString(domain.MetaSwapRecordID))
	if err != nil {
		return err
	}

	if resolver.ID != swap.OriginalAssigneeID && resolver.ID != wf.RequesterID {
		return fmt.Errorf("%w: only the original assignee confirms takeover %s", domain.ErrPermissionDenied, swap.ID)
	}

	if decision == domain.DecisionApprove {
		if err := l.repo.Confirm(ctx, u.tx, swap.ID); err != nil {
			return err
		}
	}
	return nil
}
