package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the service layer wraps exactly one of these,
// so transports can branch with errors.Is on the kind.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrSelfVerification   = errors.New("claimant cannot verify own claim")
	ErrSelfResolution     = errors.New("requester cannot resolve own request")
	ErrAlreadyResolved    = errors.New("workflow already resolved")
	ErrDuplicateWorkflow  = errors.New("workflow already pending for target")
	ErrRateLimitExceeded  = errors.New("weekly swap limit exceeded")
	ErrDuplicateVote      = errors.New("vote already cast")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrValidation         = errors.New("validation failed")
)

// Not found errors per collection.
var (
	ErrTaskNotFound        = fmt.Errorf("task %w", ErrNotFound)
	ErrTaskLogNotFound     = fmt.Errorf("task log %w", ErrNotFound)
	ErrWorkflowNotFound    = fmt.Errorf("workflow %w", ErrNotFound)
	ErrVoteRoundNotFound   = fmt.Errorf("vote round %w", ErrNotFound)
	ErrSwapRecordNotFound  = fmt.Errorf("swap record %w", ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("participant %w", ErrNotFound)
	ErrHouseholdNotFound   = fmt.Errorf("household %w", ErrNotFound)
)

// Specific invalid-state and validation errors.
var (
	ErrInvalidTransition   = fmt.Errorf("%w: transition not allowed", ErrInvalidState)
	ErrTaskArchived        = fmt.Errorf("%w: task is archived", ErrInvalidState)
	ErrNoEligibleVerifier  = fmt.Errorf("%w: no eligible verifier", ErrInvalidState)
	ErrNotEligibleVoter    = fmt.Errorf("%w: participant is not an eligible voter", ErrPermissionDenied)
	ErrParticipantInactive = fmt.Errorf("%w: participant is inactive", ErrPermissionDenied)
	ErrInvalidToken        = fmt.Errorf("%w: invalid authentication token", ErrPermissionDenied)
	ErrWrongHousehold      = fmt.Errorf("%w: participant belongs to another household", ErrPermissionDenied)
	ErrInvalidDecision     = fmt.Errorf("%w: decision must be approve or reject", ErrValidation)
	ErrInvalidRecurrence   = fmt.Errorf("%w: invalid recurrence rule", ErrValidation)
	ErrEmptyTitle          = fmt.Errorf("%w: title is required", ErrValidation)
	ErrInvalidWorkflowType = fmt.Errorf("%w: unknown workflow type", ErrValidation)
	ErrEmptyBatch          = fmt.Errorf("%w: no workflow ids given", ErrValidation)
	ErrUnknownCommand      = fmt.Errorf("%w: unknown command", ErrValidation)
)

// BatchError reports which items of a batch operation failed and why.
type BatchError struct {
	Total    int
	Failures map[string]error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d of %d items failed", len(e.Failures), e.Total)
}

// Unwrap exposes the individual failures to errors.Is / errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}
