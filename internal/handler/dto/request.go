package dto

import (
	"encoding/json"
	"time"
)

// CreateTaskRequest represents the request body for POST /tasks.
type CreateTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Recurrence  string     `json:"recurrence,omitempty"`
	AssigneeID  *string    `json:"assignee_id,omitempty"`
	Points      int        `json:"points,omitempty"`
	DeadlineAt  *time.Time `json:"deadline_at,omitempty"`
}

// ClaimTaskRequest represents the request body for POST /tasks/:id/claim.
type ClaimTaskRequest struct {
	Note       string `json:"note"`
	IsTakeover bool   `json:"is_takeover,omitempty"`
	VerifierID string `json:"verifier_id,omitempty"`
}

// TakeoverTaskRequest represents the request body for POST /tasks/:id/takeover.
type TakeoverTaskRequest struct {
	Note               string `json:"note"`
	OriginalAssigneeID string `json:"original_assignee_id,omitempty"`
	VerifierID         string `json:"verifier_id,omitempty"`
}

// ReasonRequest is the body of force-reopen, deletion and cancel requests.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// ResolveWorkflowRequest represents the request body for POST /workflows/:id/resolve.
type ResolveWorkflowRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// BatchResolveRequest represents the request body for POST /workflows/batch-resolve.
type BatchResolveRequest struct {
	WorkflowIDs []string `json:"workflow_ids"`
	Decision    string   `json:"decision"`
	Reason      string   `json:"reason,omitempty"`
}

// VoteRequest represents the request body for POST /rounds/:id/votes.
type VoteRequest struct {
	Choice string `json:"choice"`
}

// CommandRequest is the envelope for POST /commands.
type CommandRequest struct {
	Kind string          `json:"kind"`
	Args json.RawMessage `json:"args"`
}
