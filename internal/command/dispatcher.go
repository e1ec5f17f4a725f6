package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mtlprog/chorequorum/internal/domain"
	"github.com/mtlprog/chorequorum/internal/service"
)

// Engine is the set of operations commands are routed to. *service.TaskService implements it.
type Engine interface {
	CreateTask(ctx context.Context, in service.CreateTaskInput) (*domain.Task, error)
	Claim(ctx context.Context, in service.ClaimInput) (*service.ClaimResult, error)
	Takeover(ctx context.Context, in service.TakeoverInput) (*service.ClaimResult, error)
	ResolveWorkflow(ctx context.Context, in service.ResolveInput) (*service.ResolveResult, error)
	BatchResolve(ctx context.Context, in service.BatchResolveInput) ([]service.BatchItem, error)
	CastVote(ctx context.Context, in service.VoteInput) (*service.VoteResult, error)
	ForceReopen(ctx context.Context, in service.ForceReopenInput) (*domain.Task, error)
	RequestDeletion(ctx context.Context, in service.DeletionInput) (*domain.Workflow, error)
	CancelWorkflow(ctx context.Context, in service.CancelInput) (*domain.Workflow, error)
	ExpireStale(ctx context.Context) (int, error)
	CloseStaleRounds(ctx context.Context) (int, error)
	ProcessDueTasks(ctx context.Context) (service.DueReport, error)
}

// Result carries whatever the dispatched operation returned. Exactly the fields that
// belong to Kind are set.
type Result struct {
	Kind     Kind
	Task     *domain.Task
	Claim    *service.ClaimResult
	Resolve  *service.ResolveResult
	Batch    []service.BatchItem
	Vote     *service.VoteResult
	Workflow *domain.Workflow
	Count    int
	Due      *service.DueReport
}

// Dispatcher routes commands to the engine.
type Dispatcher struct {
	engine Engine
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(engine Engine) *Dispatcher {
	return &Dispatcher{engine: engine}
}

// Dispatch executes one command. A batch that partially failed returns both its
// per-item result and the *domain.BatchError.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (*Result, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: nil command", domain.ErrUnknownCommand)
	}

	res := &Result{Kind: cmd.Kind()}
	var err error

	switch c := cmd.(type) {
	case CreateTask:
		res.Task, err = d.engine.CreateTask(ctx, service.CreateTaskInput{
			HouseholdID: c.HouseholdID,
			CreatedBy:   c.ActorID,
			Title:       c.Title,
			Description: c.Description,
			Recurrence:  c.Recurrence,
			AssigneeID:  c.AssigneeID,
			Points:      c.Points,
			DeadlineAt:  c.DeadlineAt,
		})
	case Claim:
		res.Claim, err = d.engine.Claim(ctx, service.ClaimInput{
			TaskID:     c.TaskID,
			ClaimantID: c.ActorID,
			Note:       c.Note,
			IsTakeover: c.IsTakeover,
			VerifierID: c.VerifierID,
		})
	case Takeover:
		res.Claim, err = d.engine.Takeover(ctx, service.TakeoverInput{
			TaskID:             c.TaskID,
			OriginalAssigneeID: c.OriginalAssigneeID,
			CompleterID:        c.ActorID,
			Note:               c.Note,
			VerifierID:         c.VerifierID,
		})
	case Resolve:
		res.Resolve, err = d.engine.ResolveWorkflow(ctx, service.ResolveInput{
			WorkflowID: c.WorkflowID,
			ResolverID: c.ActorID,
			Decision:   c.Decision,
			Reason:     c.Reason,
		})
	case BatchResolve:
		res.Batch, err = d.engine.BatchResolve(ctx, service.BatchResolveInput{
			WorkflowIDs: c.WorkflowIDs,
			ResolverID:  c.ActorID,
			Decision:    c.Decision,
			Reason:      c.Reason,
		})
		if res.Batch != nil {
			return res, err
		}
	case Vote:
		res.Vote, err = d.engine.CastVote(ctx, service.VoteInput{
			RoundID: c.RoundID,
			VoterID: c.ActorID,
			Choice:  c.Choice,
		})
	case ForceReopen:
		res.Task, err = d.engine.ForceReopen(ctx, service.ForceReopenInput{
			TaskID:  c.TaskID,
			ActorID: c.ActorID,
			Reason:  c.Reason,
		})
	case RequestDeletion:
		res.Workflow, err = d.engine.RequestDeletion(ctx, service.DeletionInput{
			TaskID:      c.TaskID,
			RequesterID: c.ActorID,
			Reason:      c.Reason,
		})
	case CancelWorkflow:
		res.Workflow, err = d.engine.CancelWorkflow(ctx, service.CancelInput{
			WorkflowID:  c.WorkflowID,
			RequesterID: c.ActorID,
			Reason:      c.Reason,
		})
	case ExpireStale:
		res.Count, err = d.engine.ExpireStale(ctx)
	case CloseStaleRounds:
		res.Count, err = d.engine.CloseStaleRounds(ctx)
	case ProcessDueTasks:
		var due service.DueReport
		due, err = d.engine.ProcessDueTasks(ctx)
		res.Due = &due
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnknownCommand, cmd)
	}

	if err != nil {
		slog.Debug("command failed", "kind", res.Kind, "error", err)
		return nil, err
	}
	return res, nil
}
