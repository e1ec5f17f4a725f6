package repository

import (
	"context"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/mtlprog/chorequorum/internal/domain"
)

var participantColumns = []string{"id", "household_id", "name", "token", "is_active", "is_admin", "created_at"}

// ParticipantRepository handles database operations for participants.
type ParticipantRepository struct{}

func scanParticipant(row pgx.Row) (*domain.Participant, error) {
	var p domain.Participant
	err := row.Scan(&p.ID, &p.HouseholdID, &p.Name, &p.Token, &p.IsActive, &p.IsAdmin, &p.CreatedAt)
	if err != nil {
		return nil, scanError(err, domain.ErrParticipantNotFound, "participant")
	}
	return &p, nil
}

// GetByToken finds a participant by authentication token.
func (r *ParticipantRepository) GetByToken(ctx context.Context, q Querier, token string) (*domain.Participant, error) {
	query, args, err := psql.
		Select(participantColumns...).
		From("participants").
		Where(sq.Eq{"token": token}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	return scanParticipant(q.QueryRow(ctx, query, args...))
}

// Get retrieves a participant by ID.
func (r *ParticipantRepository) Get(ctx context.Context, q Querier, participantID string) (*domain.Participant, error) {
	query, args, err := psql.
		Select(participantColumns...).
		From("participants").
		Where(sq.Eq{"id": participantID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	return scanParticipant(q.QueryRow(ctx, query, args...))
}

// ListActive returns the active participants of a household ordered by name.
func (r *ParticipantRepository) ListActive(ctx context.Context, q Querier, householdID string) ([]*domain.Participant, error) {
	query, args, err := psql.
		Select(participantColumns...).
		From("participants").
		Where(sq.Eq{"household_id": householdID, "is_active": true}).
		OrderBy("name ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListActive query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var participants []*domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return participants, nil
}

// LockForUpdate row-locks the given participants in id order so that two
// transactions locking overlapping sets cannot deadlock.
func (r *ParticipantRepository) LockForUpdate(ctx context.Context, q Querier, participantIDs ...string) error {
	ids := append([]string(nil), participantIDs...)
	sort.Strings(ids)

	query, args, err := psql.
		Select("id").
		From("participants").
		Where(sq.Eq{"id": ids}).
		OrderBy("id").
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return fmt.Errorf("build LockForUpdate query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("lock participants: %w", err)
	}
	rows.Close()
	return rows.Err()
}

// Create inserts a participant and fills in ID and CreatedAt.
func (r *ParticipantRepository) Create(ctx context.Context, q Querier, p *domain.Participant) error {
	query, args, err := psql.
		Insert("participants").
		Columns("household_id", "name", "token", "is_active", "is_admin").
		Values(p.HouseholdID, p.Name, p.Token, p.IsActive, p.IsAdmin).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Create query for participant: %w", err)
	}

	if err := q.QueryRow(ctx, query, args...).Scan(&p.ID, &p.CreatedAt); err != nil {
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}
