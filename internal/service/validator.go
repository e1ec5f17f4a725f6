package service

import (
	"fmt"
	"time"

	"github.com/mtlprog/chorequorum/internal/config"
	"github.com/mtlprog/chorequorum/internal/domain"
)

// Validator handles permission and state validation for task operations.
type Validator struct {
	cfg config.Engine
}

// NewValidator creates a new Validator.
func NewValidator(cfg config.Engine) *Validator {
	return &Validator{cfg: cfg}
}

// CanAct validates that a participant may touch the task at all.
func (v *Validator) CanAct(task *domain.Task, p *domain.Participant) error {
	if !p.IsActive {
		return fmt.Errorf("%w: %s", domain.ErrParticipantInactive, p.ID)
	}

	if task.HouseholdID != p.HouseholdID {
		return fmt.Errorf("%w: task %s in household %s, participant %s in household %s", domain.ErrWrongHousehold, task.ID, task.HouseholdID, p.ID, p.HouseholdID)
	}

	return nil
}

// CanCreateTask validates that the participant administers the household's task list.
func (v *Validator) CanCreateTask(creator *domain.Participant) error {
	if !creator.IsAdmin {
		return fmt.Errorf("%w: participant %s is not a household administrator", domain.ErrPermissionDenied, creator.ID)
	}
	return nil
}

// CanClaim validates a claim and reports whether it is a takeover.
// A claim on a task assigned to someone else is always a takeover, and a takeover
// must arrive before the deadline unless overdue takeovers are enabled.
func (v *Validator) CanClaim(task *domain.Task, claimant *domain.Participant, isTakeover bool, now time.Time) (bool, error) {
	if task.IsArchived() {
		return false, fmt.Errorf("%w: %s", domain.ErrTaskArchived, task.ID)
	}

	// Must be in TODO status
	if task.State != domain.TaskStateTodo {
		return false, fmt.Errorf("%w: task %s is in %s state, expected TODO", domain.ErrInvalidTransition, task.ID, task.State)
	}

	takeover := task.AssigneeID != nil && !task.IsAssignedTo(claimant.ID)
	if isTakeover && !takeover {
		if task.AssigneeID == nil {
			return false, fmt.Errorf("%w: task %s is unassigned, nothing to take over", domain.ErrInvalidState, task.ID)
		}
		return false, fmt.Errorf("%w: participant %s cannot take over own task %s", domain.ErrInvalidState, claimant.ID, task.ID)
	}

	if takeover && !v.cfg.AllowOverdueTakeover && task.IsOverdueAt(now) {
		return false, fmt.Errorf("%w: task %s is past its deadline, only the assignee can claim it", domain.ErrInvalidState, task.ID)
	}

	return takeover, nil
}

// CanRequestDeletion validates a deletion request.
// Tasks with a claim in flight cannot be deleted until the claim settles.
func (v *Validator) CanRequestDeletion(task *domain.Task) error {
	if task.IsArchived() {
		return fmt.Errorf("%w: %s", domain.ErrTaskArchived, task.ID)
	}

	switch task.State {
	case domain.TaskStateTodo, domain.TaskStateCompleted, domain.TaskStateDeadlock:
		return nil
	default:
		return fmt.Errorf("%w: task %s is in %s state", domain.ErrInvalidState, task.ID, task.State)
	}
}

// CanForceReopen validates the manual override out of DEADLOCK.
func (v *Validator) CanForceReopen(task *domain.Task) error {
	if task.State != domain.TaskStateDeadlock {
		return fmt.Errorf("%w: task %s is in %s state, expected DEADLOCK", domain.ErrInvalidTransition, task.ID, task.State)
	}
	return nil
}

// CanResolve validates that resolver may decide the workflow.
// The self-approval check comes first so a claimant is always told they cannot verify
// their own claim, whatever state the workflow is in.
func (v *Validator) CanResolve(wf *domain.Workflow, resolver *domain.Participant) error {
	if resolver.ID == wf.RequesterID {
		switch {
		case wf.Type == domain.WorkflowTypeVerification:
			return fmt.Errorf("%w: participant %s claimed task %s", domain.ErrSelfVerification, resolver.ID, wf.TargetID)
		case !wf.Type.AllowsSelfResolution(v.cfg.AllowSelfTakeoverConfirmation):
			return fmt.Errorf("%w: participant %s requested %s %s", domain.ErrSelfResolution, resolver.ID, wf.Type, wf.ID)
		}
	}

	if wf.Status.IsTerminal() {
		return fmt.Errorf("%w: workflow %s is %s", domain.ErrAlreadyResolved, wf.ID, wf.Status)
	}

	return nil
}

// CanCancel validates that only the requester withdraws a pending workflow.
func (v *Validator) CanCancel(wf *domain.Workflow, requester *domain.Participant) error {
	if wf.Status.IsTerminal() {
		return fmt.Errorf("%w: workflow %s is %s", domain.ErrAlreadyResolved, wf.ID, wf.Status)
	}

	if wf.RequesterID != requester.ID {
		return fmt.Errorf("%w: only the requester can cancel workflow %s", domain.ErrPermissionDenied, wf.ID)
	}

	return nil
}

// CanVote validates a ballot against the round.
// A voter who already has a ballot in the round is told so even after the round closed.
func (v *Validator) CanVote(round *domain.VoteRound, voter *domain.Participant, choice domain.VoteChoice, alreadyVoted bool) error {
	if !choice.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidDecision, choice)
	}

	if alreadyVoted {
		return fmt.Errorf("%w: %s in round %s", domain.ErrDuplicateVote, voter.ID, round.ID)
	}

	if round.Status != domain.RoundStatusOpen {
		return fmt.Errorf("%w: vote round %s is closed", domain.ErrInvalidState, round.ID)
	}

	if !round.IsEligible(voter.ID) {
		return fmt.Errorf("%w: %s in round %s", domain.ErrNotEligibleVoter, voter.ID, round.ID)
	}

	return nil
}
