package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mtlprog/chorequorum/internal/config"
	"github.com/mtlprog/chorequorum/internal/domain"
	"github.com/mtlprog/chorequorum/internal/repository"
)

type creditFunc func(ctx context.Context, u *txScope, task *domain.Task, log *domain.TaskLog, overturned bool) (string, error)

// ConflictResolver runs the anonymous ballot that follows a rejected verification.
// Ballots are stored per voter for duplicate checks only; everything it reports is a tally.
type ConflictResolver struct {
	rounds       *repository.VoteRoundRepository
	tasks        *repository.TaskRepository
	logs         *repository.TaskLogRepository
	participants *repository.ParticipantRepository
	cfg          config.Engine
	credit       creditFunc
}

// open starts conflict resolution for a rejected claim. An even electorate, including
// an empty one, sends the task to DEADLOCK at once and no round is opened.
func (c *ConflictResolver) open(
	ctx context.Context,
	u *txScope,
	task *domain.Task,
	log *domain.TaskLog,
	rejecterID string,
) (*domain.VoteRound, error) {
	active, err := c.participants.ListActive(ctx, u.tx, task.HouseholdID)
	if err != nil {
		return nil, fmt.Errorf("list active participants: %w", err)
	}
	ids := make([]string, 0, len(active))
	for _, p := range active {
		ids = append(ids, p.ID)
	}
	voters := domain.EligibleVoters(ids, log.ClaimantID, rejecterID)

	u.emit(domain.EventConflictOpened, task.ID, nil, map[string]any{
		"task_log_id":     log.ID,
		"eligible_voters": len(voters),
	})

	if len(voters)%2 == 0 {
		if err := transition(ctx, c.tasks, u, task, domain.TaskStateDeadlock); err != nil {
			return nil, err
		}
		u.emit(domain.EventDeadlockReached, task.ID, nil, map[string]any{
			"task_log_id":     log.ID,
			"eligible_voters": len(voters),
			"reason":          "even_electorate",
		})
		return nil, nil
	}

	round := &domain.VoteRound{
		TaskID:         task.ID,
		TaskLogID:      log.ID,
		ClaimantID:     log.ClaimantID,
		RejecterID:     rejecterID,
		EligibleVoters: voters,
		OpenedAt:       u.now,
	}
	if c.cfg.VoteTimeout > 0 {
		round.ClosesAt = ptr(u.now.Add(c.cfg.VoteTimeout))
	}
	if err := c.rounds.Create(ctx, u.tx, round); err != nil {
		return nil, err
	}
	return round, nil
}

// cast stores a ballot and closes the round once every eligible voter has voted.
func (c *ConflictResolver) cast(
	ctx context.Context,
	u *txScope,
	task *domain.Task,
	round *domain.VoteRound,
	voterID string,
	choice domain.VoteChoice,
) error {
	vote := &domain.Vote{RoundID: round.ID, VoterID: voterID, Choice: choice, CastAt: u.now}
	if err := c.rounds.InsertVote(ctx, u.tx, vote); err != nil {
		return err
	}

	tally, err := c.rounds.CountVotes(ctx, u.tx, round)
	if err != nil {
		return err
	}

	// Voter identity stays out of the event.
	u.emit(domain.EventVoteCast, task.ID, nil, map[string]any{
		"round_id": round.ID,
		"cast":     tally.Cast(),
		"eligible": len(round.EligibleVoters),
	})

	// Only the number of ballots is recorded until the round closes.
	if tally.Cast() < len(round.EligibleVoters) {
		round.CastCount = tally.Cast()
		return c.rounds.UpdateCastCount(ctx, u.tx, round.ID, round.CastCount)
	}
	return c.close(ctx, u, task, round, tally)
}

// close decides the round by strict majority of cast ballots. A tie only happens when
// a timeout closed the round early, and it deadlocks the task.
func (c *ConflictResolver) close(
	ctx context.Context,
	u *txScope,
	task *domain.Task,
	round *domain.VoteRound,
	tally domain.Tally,
) error {
	outcome := tally.Outcome()
	if err := c.rounds.Close(ctx, u.tx, round, outcome, tally, u.now); err != nil {
		return err
	}

	u.emit(domain.EventConflictResolved, task.ID, nil, map[string]any{
		"round_id": round.ID,
		"outcome":  outcome,
		"approve":  tally.Approve,
		"reject":   tally.Reject,
		"abstain":  tally.Abstain,
	})

	switch outcome {
	case domain.OutcomeApprove:
		log, err := c.logs.Get(ctx, u.tx, round.TaskLogID)
		if err != nil {
			return err
		}
		if _, err := c.credit(ctx, u, task, log, true); err != nil {
			return err
		}
		if err := completeTask(ctx, c.tasks, u, task); err != nil {
			return err
		}
		u.emit(domain.EventTaskCompleted, task.ID, nil, map[string]any{
			"task_log_id":   log.ID,
			"completed_at":  task.CompletedAt,
			"next_deadline": task.DeadlineAt,
		})
	case domain.OutcomeReject:
		if err := transition(ctx, c.tasks, u, task, domain.TaskStateTodo); err != nil {
			return err
		}
		u.emit(domain.EventTaskReopened, task.ID, nil, map[string]any{
			"round_id": round.ID,
			"reason":   "claim_voted_down",
		})
	default:
		if err := transition(ctx, c.tasks, u, task, domain.TaskStateDeadlock); err != nil {
			return err
		}
		u.emit(domain.EventDeadlockReached, task.ID, nil, map[string]any{
			"round_id": round.ID,
			"reason":   "tied_vote",
		})
	}
	return nil
}

// VoteInput is one ballot.
type VoteInput struct {
	RoundID string
	VoterID string
	Choice  domain.VoteChoice
}

// VoteResult reports the round after a ballot. Round.Tally stays empty while the round is open.
type VoteResult struct {
	Round *domain.VoteRound
	Task  *domain.Task
}

// CastVote records a ballot in an open round.
func (s *TaskService) CastVote(ctx context.Context, in VoteInput) (*VoteResult, error) {
	if !in.Choice.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidDecision, in.Choice)
	}

	var result *VoteResult
	err := s.run(ctx, func(ctx context.Context, u *txScope) error {
		round, task, err := s.lockRound(ctx, u, in.RoundID)
		if err != nil {
			return err
		}

		voter, err := s.actor(ctx, u.tx, in.VoterID, task)
		if err != nil {
			return err
		}

		voted, err := s.repos.VoteRounds.HasVoted(ctx, u.tx, round.ID, voter.ID)
		if err != nil {
			return err
		}
		if err := s.validator.CanVote(round, voter, in.Choice, voted); err != nil {
			return err
		}

		if err := s.conflicts.cast(ctx, u, task, round, voter.ID, in.Choice); err != nil {
			return err
		}

		result = &VoteResult{Round: round, Task: task}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("vote cast",
		"round_id", result.Round.ID,
		"task_id", result.Task.ID,
		"round_status", result.Round.Status,
		"task_state", result.Task.State,
	)

	return result, nil
}

// lockRound reads a round, locks its task and re-reads the round under the lock.
func (s *TaskService) lockRound(ctx context.Context, u *txScope, roundID string) (*domain.VoteRound, *domain.Task, error) {
	round, err := s.repos.VoteRounds.Get(ctx, u.tx, roundID)
	if err != nil {
		return nil, nil, err
	}

	task, err := s.lockTask(ctx, u, round.TaskID)
	if err != nil {
		return nil, nil, err
	}

	round, err = s.repos.VoteRounds.Get(ctx, u.tx, roundID)
	if err != nil {
		return nil, nil, err
	}
	return round, task, nil
}

// CloseStaleRounds closes every open round whose voting window has elapsed. Silent
// voters count as abstentions. Returns the number of rounds closed.
func (s *TaskService) CloseStaleRounds(ctx context.Context) (int, error) {
	now := s.clock()

	var stale []*domain.VoteRound
	err := s.read(ctx, func(ctx context.Context, q repository.Querier) error {
		var err error
		stale, err = s.repos.VoteRounds.QueryStale(ctx, q, now, 0)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("find stale vote rounds: %w", err)
	}

	if len(stale) == 0 {
		slog.Info("no stale vote rounds found")
		return 0, nil
	}

	count := 0
	var errs []error
	for _, round := range stale {
		closed, err := s.closeStaleRound(ctx, round.ID)
		if err != nil {
			slog.Error("failed to close vote round",
				"round_id", round.ID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("round %s: %w", round.ID, err))
			continue
		}
		if closed {
			count++
		}
	}

	slog.Info("closed stale vote rounds",
		"total", len(stale),
		"closed", count,
		"failed", len(errs),
	)

	if len(errs) > 0 {
		return count, fmt.Errorf("closed %d/%d rounds: %w", count, len(stale), errors.Join(errs...))
	}
	return count, nil
}

func (s *TaskService) closeStaleRound(ctx context.Context, roundID string) (bool, error) {
	closed := false
	err := s.run(ctx, func(ctx context.Context, u *txScope) error {
		closed = false

		round, task, err := s.lockRound(ctx, u, roundID)
		if err != nil {
			return err
		}
		if round.Status != domain.RoundStatusOpen || round.ClosesAt == nil || round.ClosesAt.After(u.now) {
			return nil
		}

		tally, err := s.repos.VoteRounds.CountVotes(ctx, u.tx, round)
		if err != nil {
			return err
		}
		if err := s.conflicts.close(ctx, u, task, round, tally); err != nil {
			return err
		}

		closed = true
		return nil
	})
	return closed, err
}
