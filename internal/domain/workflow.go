package domain

import "time"

// WorkflowType identifies what a pending-approval record is about.
type WorkflowType string

const (
	WorkflowTypeVerification         WorkflowType = "verification"
	WorkflowTypeDeletion             WorkflowType = "deletion"
	WorkflowTypeTakeoverConfirmation WorkflowType = "takeover_confirmation"
)

// IsValid checks if the type is one of the allowed values.
func (t WorkflowType) IsValid() bool {
	switch t {
	case WorkflowTypeVerification, WorkflowTypeDeletion, WorkflowTypeTakeoverConfirmation:
		return true
	default:
		return false
	}
}

// WorkflowStatus is the status of a workflow. Only pending is non-terminal.
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusApproved  WorkflowStatus = "approved"
	WorkflowStatusRejected  WorkflowStatus = "rejected"
	WorkflowStatusExpired   WorkflowStatus = "expired"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

// IsTerminal returns true once the workflow can no longer change.
func (s WorkflowStatus) IsTerminal() bool {
	return s != WorkflowStatusPending
}

// Decision is a resolver's verdict on a workflow.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// IsValid checks if the decision is approve or reject.
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Status returns the terminal workflow status a decision leads to.
func (d Decision) Status() WorkflowStatus {
	if d == DecisionApprove {
		return WorkflowStatusApproved
	}
	return WorkflowStatusRejected
}

// Well-known metadata keys.
const (
	MetaTaskID       = "task_id"
	MetaTaskLogID    = "task_log_id"
	MetaVerifierID   = "verifier_id"
	MetaVoteRoundID  = "vote_round_id"
	MetaSwapRecordID = "swap_record_id"
	MetaIsTakeover   = "is_takeover"
)

// Workflow is a generic "someone else must approve this before a deadline" record.
type Workflow struct {
	ID          string
	Type        WorkflowType
	RequesterID string
	TargetID    string
	TargetLabel string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Status      WorkflowStatus
	ResolverID  *string
	Reason      string
	Metadata    map[string]any
	ResolvedAt  *time.Time
}

// TaskID returns the task the workflow is scoped to.
func (w *Workflow) TaskID() string {
	return w.MetaString(MetaTaskID)
}

// MetaString reads a string metadata value, returning "" when absent.
func (w *Workflow) MetaString(key string) string {
	if w.Metadata == nil {
		return ""
	}
	v, _ := w.Metadata[key].(string)
	return v
}

// AllowsSelfResolution reports whether the requester may resolve this workflow type.
// Verification and deletion never allow it; takeover confirmation depends on policy.
func (t WorkflowType) AllowsSelfResolution(allowSelfTakeoverConfirmation bool) bool {
	return t == WorkflowTypeTakeoverConfirmation && allowSelfTakeoverConfirmation
}
