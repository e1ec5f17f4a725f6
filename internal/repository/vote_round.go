package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/mtlprog/chorequorum/internal/database"
	"github.com/mtlprog/chorequorum/internal/domain"
)

const (
	voteRoundOneOpenKey = "vote_rounds_one_open_key"
	votesPrimaryKey     = "votes_pkey"
)

var voteRoundColumns = []string{
	"id", "task_id", "task_log_id", "claimant_id", "rejecter_id", "eligible_voters",
	"status", "outcome", "cast_count", "approve_count", "reject_count", "abstain_count",
	"opened_at", "closes_at", "closed_at",
}

// VoteRoundRepository handles database operations for conflict rounds and their ballots.
type VoteRoundRepository struct{}

func scanVoteRound(row pgx.Row) (*domain.VoteRound, error) {
	var r domain.VoteRound
	err := row.Scan(
		&r.ID,
		&r.TaskID,
		&r.TaskLogID,
		&r.ClaimantID,
		&r.RejecterID,
		&r.EligibleVoters,
		&r.Status,
		&r.Outcome,
		&r.CastCount,
		&r.Tally.Approve,
		&r.Tally.Reject,
		&r.Tally.Abstain,
		&r.OpenedAt,
		&r.ClosesAt,
		&r.ClosedAt,
	)
	if err != nil {
		return nil, scanError(err, domain.ErrVoteRoundNotFound, "vote round")
	}
	return &r, nil
}

func scanVoteRounds(rows pgx.Rows) ([]*domain.VoteRound, error) {
	defer rows.Close()

	var rounds []*domain.VoteRound
	for rows.Next() {
		r, err := scanVoteRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return rounds, nil
}

// Create opens a round. Only one round per task may be open at a time.
func (r *VoteRoundRepository) Create(ctx context.Context, q Querier, round *domain.VoteRound) error {
	round.Status = domain.RoundStatusOpen

	query, args, err := psql.
		Insert("vote_rounds").
		Columns("task_id", "task_log_id", "claimant_id", "rejecter_id", "eligible_voters", "status", "opened_at", "closes_at").
		Values(round.TaskID, round.TaskLogID, round.ClaimantID, round.RejecterID, round.EligibleVoters, round.Status, round.OpenedAt, round.ClosesAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Create query for vote round: %w", err)
	}

	if err := q.QueryRow(ctx, query, args...).Scan(&round.ID); err != nil {
		if database.IsUniqueViolation(err, voteRoundOneOpenKey) {
			return fmt.Errorf("%w: task %s already has an open round", domain.ErrInvalidState, round.TaskID)
		}
		return fmt.Errorf("create vote round: %w", err)
	}
	return nil
}

// Get retrieves a round by ID.
func (r *VoteRoundRepository) Get(ctx context.Context, q Querier, roundID string) (*domain.VoteRound, error) {
	query, args, err := psql.
		Select(voteRoundColumns...).
		From("vote_rounds").
		Where(sq.Eq{"id": roundID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Get query for vote round: %w", err)
	}

	return scanVoteRound(q.QueryRow(ctx, query, args...))
}

// GetOpenByTask returns the open round of a task, or ErrVoteRoundNotFound.
func (r *VoteRoundRepository) GetOpenByTask(ctx context.Context, q Querier, taskID string) (*domain.VoteRound, error) {
	query, args, err := psql.
		Select(voteRoundColumns...).
		From("vote_rounds").
		Where(sq.Eq{"task_id": taskID, "status": domain.RoundStatusOpen}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetOpenByTask query: %w", err)
	}

	return scanVoteRound(q.QueryRow(ctx, query, args...))
}

// QueryStale returns open rounds whose voting window closed before now.
func (r *VoteRoundRepository) QueryStale(ctx context.Context, q Querier, now time.Time, limit int) ([]*domain.VoteRound, error) {
	qb := psql.
		Select(voteRoundColumns...).
		From("vote_rounds").
		Where(sq.Eq{"status": domain.RoundStatusOpen}).
		Where(sq.NotEq{"closes_at": nil}).
		Where(sq.LtOrEq{"closes_at": now}).
		OrderBy("closes_at ASC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build QueryStale query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stale rounds: %w", err)
	}
	return scanVoteRounds(rows)
}

// InsertVote stores a ballot. A second ballot by the same voter is ErrDuplicateVote.
func (r *VoteRoundRepository) InsertVote(ctx context.Context, q Querier, vote *domain.Vote) error {
	query, args, err := psql.
		Insert("votes").
		Columns("round_id", "voter_id", "choice", "cast_at").
		Values(vote.RoundID, vote.VoterID, vote.Choice, vote.CastAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build InsertVote query: %w", err)
	}

	if _, err := q.Exec(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err, votesPrimaryKey) {
			return fmt.Errorf("%w: round %s", domain.ErrDuplicateVote, vote.RoundID)
		}
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

// CountVotes tallies the ballots of a round. Abstentions are the eligible voters who stayed silent.
func (r *VoteRoundRepository) CountVotes(ctx context.Context, q Querier, round *domain.VoteRound) (domain.Tally, error) {
	query, args, err := psql.
		Select(
			"COUNT(*) FILTER (WHERE choice = 'approve')",
			"COUNT(*) FILTER (WHERE choice = 'reject')",
		).
		From("votes").
		Where(sq.Eq{"round_id": round.ID}).
		ToSql()
	if err != nil {
		return domain.Tally{}, fmt.Errorf("build CountVotes query: %w", err)
	}

	var tally domain.Tally
	if err := q.QueryRow(ctx, query, args...).Scan(&tally.Approve, &tally.Reject); err != nil {
		return domain.Tally{}, fmt.Errorf("count votes: %w", err)
	}
	tally.Abstain = max(len(round.EligibleVoters)-tally.Cast(), 0)
	return tally, nil
}

// HasVoted reports whether the voter already has a ballot in the round.
func (r *VoteRoundRepository) HasVoted(ctx context.Context, q Querier, roundID, voterID string) (bool, error) {
	query, args, err := psql.
		Select("1").
		Prefix("SELECT EXISTS (").
		From("votes").
		Where(sq.Eq{"round_id": roundID, "voter_id": voterID}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build HasVoted query: %w", err)
	}

	var voted bool
	if err := q.QueryRow(ctx, query, args...).Scan(&voted); err != nil {
		return false, fmt.Errorf("check vote: %w", err)
	}
	return voted, nil
}

// UpdateCastCount stores how many ballots an open round has received. The split
// between approve and reject is only written by Close.
func (r *VoteRoundRepository) UpdateCastCount(ctx context.Context, q Querier, roundID string, cast int) error {
	query, args, err := psql.
		Update("vote_rounds").
		Set("cast_count", cast).
		Where(sq.Eq{"id": roundID, "status": domain.RoundStatusOpen}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build UpdateCastCount query: %w", err)
	}

	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update cast count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: round %s is closed", domain.ErrInvalidState, roundID)
	}
	return nil
}

// Close records the outcome of an open round. A round closes exactly once.
func (r *VoteRoundRepository) Close(
	ctx context.Context,
	q Querier,
	round *domain.VoteRound,
	outcome domain.RoundOutcome,
	tally domain.Tally,
	closedAt time.Time,
) error {
	query, args, err := psql.
		Update("vote_rounds").
		Set("status", domain.RoundStatusClosed).
		Set("outcome", outcome).
		Set("cast_count", tally.Cast()).
		Set("approve_count", tally.Approve).
		Set("reject_count", tally.Reject).
		Set("abstain_count", tally.Abstain).
		Set("closed_at", closedAt).
		Where(sq.Eq{"id": round.ID, "status": domain.RoundStatusOpen}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Close query for round %s: %w", round.ID, err)
	}

	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("close vote round: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: round %s already closed", domain.ErrInvalidState, round.ID)
	}

	round.Status = domain.RoundStatusClosed
	round.Outcome = &outcome
	round.CastCount = tally.Cast()
	round.Tally = tally
	round.ClosedAt = &closedAt
	return nil
}
