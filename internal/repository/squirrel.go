package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// psql is the shared Squirrel statement builder configured for PostgreSQL dollar placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every repository method
// can run inside the caller's transaction or directly against the pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repositories bundles the entity store collections.
type Repositories struct {
	Households   *HouseholdRepository
	Participants *ParticipantRepository
	Tasks        *TaskRepository
	TaskLogs     *TaskLogRepository
	Workflows    *WorkflowRepository
	VoteRounds   *VoteRoundRepository
	Swaps        *SwapRepository
	Points       *PointRepository
	Events       *EventRepository
}

// New creates all repositories.
func New() *Repositories {
	return &Repositories{
		Households:   &HouseholdRepository{},
		Participants: &ParticipantRepository{},
		Tasks:        &TaskRepository{},
		TaskLogs:     &TaskLogRepository{},
		Workflows:    &WorkflowRepository{},
		VoteRounds:   &VoteRoundRepository{},
		Swaps:        &SwapRepository{},
		Points:       &PointRepository{},
		Events:       &EventRepository{},
	}
}

// scanError maps "no rows" and malformed identifiers to the collection's not-found error
// and wraps everything else.
func scanError(err error, notFoundErr error, entity string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFoundErr
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
		return notFoundErr
	}
	return fmt.Errorf("scan %s: %w", entity, err)
}
