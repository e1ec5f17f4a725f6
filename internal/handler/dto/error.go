package dto

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mtlprog/chorequorum/internal/domain"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorResponse creates a new error response.
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}

// MapDomainError maps domain errors to HTTP status codes and error codes.
// More specific errors are matched before the kinds they wrap.
func MapDomainError(err error) (status int, code string, message string) {
	message = err.Error()

	var batchErr *domain.BatchError
	switch {
	// Batch results carry their own per-item errors
	case errors.As(err, &batchErr):
		return http.StatusMultiStatus, "PARTIAL_FAILURE", message

	// Not found
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound, "TASK_NOT_FOUND", message
	case errors.Is(err, domain.ErrWorkflowNotFound):
		return http.StatusNotFound, "WORKFLOW_NOT_FOUND", message
	case errors.Is(err, domain.ErrVoteRoundNotFound):
		return http.StatusNotFound, "VOTE_ROUND_NOT_FOUND", message
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", message

	// Authentication
	case errors.Is(err, domain.ErrInvalidToken):
		return http.StatusUnauthorized, "INVALID_TOKEN", message
	case errors.Is(err, domain.ErrParticipantInactive):
		return http.StatusUnauthorized, "PARTICIPANT_INACTIVE", message

	// Self-approval and permissions
	case errors.Is(err, domain.ErrSelfVerification):
		return http.StatusForbidden, "SELF_VERIFICATION", message
	case errors.Is(err, domain.ErrSelfResolution):
		return http.StatusForbidden, "SELF_RESOLUTION", message
	case errors.Is(err, domain.ErrNotEligibleVoter):
		return http.StatusForbidden, "NOT_ELIGIBLE_VOTER", message
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden, "INSUFFICIENT_ACCESS", message

	// Conflicts with current state
	case errors.Is(err, domain.ErrAlreadyResolved):
		return http.StatusConflict, "ALREADY_RESOLVED", message
	case errors.Is(err, domain.ErrDuplicateWorkflow):
		return http.StatusConflict, "DUPLICATE_WORKFLOW", message
	case errors.Is(err, domain.ErrDuplicateVote):
		return http.StatusConflict, "DUPLICATE_VOTE", message
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION", message
	case errors.Is(err, domain.ErrTaskArchived):
		return http.StatusConflict, "TASK_ARCHIVED", message
	case errors.Is(err, domain.ErrNoEligibleVerifier):
		return http.StatusConflict, "NO_ELIGIBLE_VERIFIER", message
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE", message

	// Rate limiting
	case errors.Is(err, domain.ErrRateLimitExceeded):
		return http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", message

	// Validation errors
	case errors.Is(err, domain.ErrUnknownCommand):
		return http.StatusBadRequest, "UNKNOWN_COMMAND", message
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", message

	// Storage
	case errors.Is(err, domain.ErrStorageUnavailable):
		slog.Error("storage unavailable", "error", err)
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Storage temporarily unavailable"

	// Default: internal server error
	default:
		slog.Error("unmapped domain error returned to client",
			"error", err,
			"error_type", fmt.Sprintf("%T", err),
		)
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
	}
}
