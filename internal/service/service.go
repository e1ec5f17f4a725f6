package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mtlprog/chorequorum/internal/config"
	"github.com/mtlprog/chorequorum/internal/database"
	"github.com/mtlprog/chorequorum/internal/domain"
	"github.com/mtlprog/chorequorum/internal/notify"
	"github.com/mtlprog/chorequorum/internal/repository"
)

// Store runs units of work against the entity store. *database.DB implements it.
type Store interface {
	RunInTx(ctx context.Context, fn database.TxFunc) error
}

// txScope is one attempt of a unit of work: the open transaction, the instant the
// work is stamped with, and the events it produced. A retried attempt starts from
// a fresh scope, so nothing leaks from a rolled-back attempt.
type txScope struct {
	tx     pgx.Tx
	now    time.Time
	events []*domain.Event
}

func (u *txScope) emit(eventType domain.EventType, taskID string, actorID *string, payload map[string]any) {
	event := &domain.Event{
		Type:      eventType,
		ActorID:   actorID,
		Payload:   payload,
		CreatedAt: u.now,
	}
	if taskID != "" {
		event.TaskID = &taskID
	}
	u.events = append(u.events, event)
}

// Option configures a TaskService.
type Option func(*TaskService)

// WithClock replaces the wall clock. Tests use it to move time across deadlines.
func WithClock(now func() time.Time) Option {
	return func(s *TaskService) { s.now = now }
}

// WithSink sets where committed events are delivered.
func WithSink(sink notify.Sink) Option {
	return func(s *TaskService) { s.sink = sink }
}

// TaskService is the task lifecycle controller. It owns every state transition of a
// task and delegates the multi-step ones to the workflow tracker, the verification
// engine, the conflict resolver and the swap ledger. Each public operation runs in one
// transaction that starts by locking the task row.
type TaskService struct {
	store     Store
	repos     *repository.Repositories
	cfg       config.Engine
	sink      notify.Sink
	now       func() time.Time
	validator *Validator

	workflows    *WorkflowTracker
	verification *VerificationEngine
	conflicts    *ConflictResolver
	swaps        *SwapLedger
}

// NewTaskService creates a new TaskService.
func NewTaskService(store Store, repos *repository.Repositories, cfg config.Engine, opts ...Option) *TaskService {
	s := &TaskService{
		store:     store,
		repos:     repos,
		cfg:       cfg,
		sink:      notify.Discard{},
		now:       time.Now,
		validator: NewValidator(cfg),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.workflows = &WorkflowTracker{repo: repos.Workflows, validator: s.validator}
	s.swaps = &SwapLedger{
		repo:         repos.Swaps,
		participants: repos.Participants,
		workflows:    s.workflows,
		cfg:          cfg,
	}
	s.conflicts = &ConflictResolver{
		rounds:       repos.VoteRounds,
		tasks:        repos.Tasks,
		logs:         repos.TaskLogs,
		participants: repos.Participants,
		cfg:          cfg,
	}
	s.verification = &VerificationEngine{
		tasks:     repos.Tasks,
		logs:      repos.TaskLogs,
		points:    repos.Points,
		swaps:     s.swaps,
		workflows: s.workflows,
		conflicts: s.conflicts,
		cfg:       cfg,
	}
	s.conflicts.credit = s.verification.credit

	return s
}

// clock returns the current instant at the storage precision so that values read
// back from Postgres compare equal to the ones written.
func (s *TaskService) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// run executes fn in a retried transaction, persists the events it emitted in the same
// transaction and hands them to the sink once the commit succeeded.
func (s *TaskService) run(ctx context.Context, fn func(ctx context.Context, u *txScope) error) error {
	var committed []*domain.Event
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		u := &txScope{tx: tx, now: s.clock()}
		if err := fn(ctx, u); err != nil {
			return err
		}
		for _, event := range u.events {
			if err := s.repos.Events.Create(ctx, tx, event); err != nil {
				return fmt.Errorf("persist %s event: %w", event.Type, err)
			}
		}
		committed = u.events
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, committed)
	return nil
}

// read runs a read-only query inside the retry wrapper.
func (s *TaskService) read(ctx context.Context, fn func(ctx context.Context, q repository.Querier) error) error {
	return s.store.RunInTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, tx)
	})
}

func (s *TaskService) publish(ctx context.Context, events []*domain.Event) {
	for _, event := range events {
		if err := s.sink.Notify(ctx, event); err != nil {
			slog.Error("failed to deliver event",
				"event_id", event.ID,
				"type", event.Type,
				"error", err,
			)
		}
	}
}

// lockTask locks the task row for the rest of the transaction.
func (s *TaskService) lockTask(ctx context.Context, u *txScope, taskID string) (*domain.Task, error) {
	return s.repos.Tasks.GetForUpdate(ctx, u.tx, taskID)
}

// actor loads a participant and checks they may act on the task.
func (s *TaskService) actor(ctx context.Context, q repository.Querier, participantID string, task *domain.Task) (*domain.Participant, error) {
	p, err := s.repos.Participants.Get(ctx, q, participantID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.CanAct(task, p); err != nil {
		return nil, err
	}
	return p, nil
}

// lockWorkflow reads a workflow, locks the task it belongs to and reads the workflow
// again under the lock, so the returned copy cannot be changed by a concurrent caller.
func (s *TaskService) lockWorkflow(ctx context.Context, u *txScope, workflowID string) (*domain.Workflow, *domain.Task, error) {
	wf, err := s.repos.Workflows.Get(ctx, u.tx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	taskID := wf.TaskID()
	if taskID == "" {
		return nil, nil, fmt.Errorf("%w: workflow %s is not bound to a task", domain.ErrInvalidState, workflowID)
	}

	task, err := s.lockTask(ctx, u, taskID)
	if err != nil {
		return nil, nil, err
	}

	wf, err = s.repos.Workflows.Get(ctx, u.tx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	return wf, task, nil
}

func ptr[T any](v T) *T {
	return &v
}
