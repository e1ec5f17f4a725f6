// Package command is the closed set of structured commands the engine accepts and the
// dispatcher that routes each one to its operation.
package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mtlprog/chorequorum/internal/domain"
)

// Kind names a command on the wire.
type Kind string

const (
	KindCreateTask       Kind = "create_task"
	KindClaim            Kind = "claim"
	KindTakeover         Kind = "takeover"
	KindResolve          Kind = "resolve"
	KindBatchResolve     Kind = "batch_resolve"
	KindVote             Kind = "vote"
	KindForceReopen      Kind = "force_reopen"
	KindRequestDeletion  Kind = "request_deletion"
	KindCancelWorkflow   Kind = "cancel_workflow"
	KindExpireStale      Kind = "expire_stale"
	KindCloseStaleRounds Kind = "close_stale_rounds"
	KindProcessDueTasks  Kind = "process_due_tasks"
)

// Command is implemented only by the types in this package.
type Command interface {
	Kind() Kind
	sealed()
}

// CreateTask adds a task to the actor's household.
type CreateTask struct {
	HouseholdID string     `json:"-"`
	ActorID     string     `json:"-"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Recurrence  string     `json:"recurrence"`
	AssigneeID  *string    `json:"assignee_id"`
	Points      int        `json:"points"`
	DeadlineAt  *time.Time `json:"deadline_at"`
}

// Claim asserts the actor completed a task.
type Claim struct {
	ActorID    string `json:"-"`
	TaskID     string `json:"task_id"`
	Note       string `json:"note"`
	IsTakeover bool   `json:"is_takeover"`
	VerifierID string `json:"verifier_id"`
}

// Takeover claims a task assigned to someone else.
type Takeover struct {
	ActorID            string `json:"-"`
	TaskID             string `json:"task_id"`
	OriginalAssigneeID string `json:"original_assignee_id"`
	Note               string `json:"note"`
	VerifierID         string `json:"verifier_id"`
}

// Resolve decides a workflow.
type Resolve struct {
	ActorID    string          `json:"-"`
	WorkflowID string          `json:"workflow_id"`
	Decision   domain.Decision `json:"decision"`
	Reason     string          `json:"reason"`
}

// BatchResolve applies one decision to several workflows.
type BatchResolve struct {
	ActorID     string          `json:"-"`
	WorkflowIDs []string        `json:"workflow_ids"`
	Decision    domain.Decision `json:"decision"`
	Reason      string          `json:"reason"`
}

// Vote casts an anonymous ballot.
type Vote struct {
	ActorID string            `json:"-"`
	RoundID string            `json:"round_id"`
	Choice  domain.VoteChoice `json:"choice"`
}

// ForceReopen takes a task out of DEADLOCK.
type ForceReopen struct {
	ActorID string `json:"-"`
	TaskID  string `json:"task_id"`
	Reason  string `json:"reason"`
}

// RequestDeletion asks the household to archive a task.
type RequestDeletion struct {
	ActorID string `json:"-"`
	TaskID  string `json:"task_id"`
	Reason  string `json:"reason"`
}

// CancelWorkflow withdraws the actor's own pending workflow.
type CancelWorkflow struct {
	ActorID    string `json:"-"`
	WorkflowID string `json:"workflow_id"`
	Reason     string `json:"reason"`
}

// ExpireStale runs the workflow expiry sweep.
type ExpireStale struct{}

// CloseStaleRounds runs the vote timeout sweep.
type CloseStaleRounds struct{}

// ProcessDueTasks runs the deadline sweep.
type ProcessDueTasks struct{}

func (CreateTask) Kind() Kind       { return KindCreateTask }
func (Claim) Kind() Kind            { return KindClaim }
func (Takeover) Kind() Kind         { return KindTakeover }
func (Resolve) Kind() Kind          { return KindResolve }
func (BatchResolve) Kind() Kind     { return KindBatchResolve }
func (Vote) Kind() Kind             { return KindVote }
func (ForceReopen) Kind() Kind      { return KindForceReopen }
func (RequestDeletion) Kind() Kind  { return KindRequestDeletion }
func (CancelWorkflow) Kind() Kind   { return KindCancelWorkflow }
func (ExpireStale) Kind() Kind      { return KindExpireStale }
func (CloseStaleRounds) Kind() Kind { return KindCloseStaleRounds }
func (ProcessDueTasks) Kind() Kind  { return KindProcessDueTasks }

func (CreateTask) sealed()       {}
func (Claim) sealed()            {}
func (Takeover) sealed()         {}
func (Resolve) sealed()          {}
func (BatchResolve) sealed()     {}
func (Vote) sealed()             {}
func (ForceReopen) sealed()      {}
func (RequestDeletion) sealed()  {}
func (CancelWorkflow) sealed()   {}
func (ExpireStale) sealed()      {}
func (CloseStaleRounds) sealed() {}
func (ProcessDueTasks) sealed()  {}

// Participant commands. Sweeps are scheduler-only and cannot be decoded from a request.
var decoders = map[Kind]func(data []byte, householdID, actorID string) (Command, error){
	KindCreateTask: func(data []byte, householdID, actorID string) (Command, error) {
		var c CreateTask
		err := unmarshal(data, &c)
		c.HouseholdID, c.ActorID = householdID, actorID
		return c, err
	},
	KindClaim: func(data []byte, _, actorID string) (Command, error) {
		var c Claim
		err := unmarshal(data, &c)
		c.ActorID = actorID
		return c, err
	},
	KindTakeover: func(data []byte, _, actorID string) (Command, error) {
		var c Takeover
		err := unmarshal(data, &c)
		c.ActorID = actorID
		return c, err
	},
	KindResolve: func(data []byte, _, actorID string) (Command, error) {
		var c Resolve
		err := unmarshal(data, &c)
		c.ActorID = actorID
		return c, err
	},
	KindBatchResolve: func(data []byte, _, actorID string) (Command, error) {
		var c BatchResolve
		err := unmarshal(data, &c)
		c.ActorID = actorID
		return c, err
	},
	KindVote: func(data []byte, _, actorID string) (Command, error) {
		var c Vote
		err := unmarshal(data, &c)
		c.ActorID = actorID
		return c, err
	},
	KindForceReopen: func(data []byte, _, actorID string) (Command, error) {
		var c ForceReopen
		err := unmarshal(data, &c)
		c.ActorID = actorID
		return c, err
	},
	KindRequestDeletion: func(data []byte, _, actorID string) (Command, error) {
		var c RequestDeletion
		err := unmarshal(data, &c)
		c.ActorID = actorID
		return c, err
	},
	KindCancelWorkflow: func(data []byte, _, actorID string) (Command, error) {
		var c CancelWorkflow
		err := unmarshal(data, &c)
		c.ActorID = actorID
		return c, err
	},
}

func unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

// Decode builds a participant command from its wire kind and JSON arguments.
// The acting identity always comes from authentication, never from the payload.
func Decode(kind Kind, args []byte, householdID, actorID string) (Command, error) {
	decode, ok := decoders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCommand, kind)
	}
	return decode(args, householdID, actorID)
}
