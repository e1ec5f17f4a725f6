package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mtlprog/chorequorum/internal/database"
	"github.com/mtlprog/chorequorum/internal/domain"
)

// PointRepository handles the points ledger.
type PointRepository struct{}

// StatsFilters holds filters for leaderboard queries.
type StatsFilters struct {
	HouseholdID   string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	ParticipantID *string // Optional: filter by specific participant
}

// ParticipantStats holds statistics for a single participant.
type ParticipantStats struct {
	ParticipantID   string
	ParticipantName string
	Points          int
	TasksCredited   int
	TakeoversDone   int
}

// Award appends a ledger entry. Each claim is credited at most once; a second award
// for the same task log is reported as ErrInvalidState.
func (r *PointRepository) Award(ctx context.Context, q Querier, a *domain.PointAward) error {
	query, args, err := psql.
		Insert("point_awards").
		Columns("participant_id", "task_id", "task_log_id", "points", "awarded_at").
		Values(a.ParticipantID, a.TaskID, a.TaskLogID, a.Points, a.AwardedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Award query: %w", err)
	}

	if err := q.QueryRow(ctx, query, args...).Scan(&a.ID); err != nil {
		if database.IsUniqueViolation(err, "") {
			return fmt.Errorf("%w: task log %s already credited", domain.ErrInvalidState, a.TaskLogID)
		}
		return fmt.Errorf("award points: %w", err)
	}
	return nil
}

// Leaderboard returns per-participant totals for the period, highest first.
func (r *PointRepository) Leaderboard(ctx context.Context, q Querier, filters StatsFilters) ([]ParticipantStats, error) {
	query := `
		SELECT
			p.id,
			p.name,
			COALESCE(SUM(pa.points), 0) AS points,
			COUNT(pa.id) AS tasks_credited,
			(
				SELECT COUNT(*)
				FROM swap_records s
				WHERE s.completer_id = p.id
				  AND s.credited_to IS NOT NULL
				  AND s.completed_at >= $2 AND s.completed_at < $3
			) AS takeovers_done
		FROM participants p
		LEFT JOIN point_awards pa
			ON pa.participant_id = p.id AND pa.awarded_at >= $2 AND pa.awarded_at < $3
		WHERE p.household_id = $1 AND p.is_active = true
	`

	args := []any{filters.HouseholdID, filters.PeriodStart, filters.PeriodEnd}

	if filters.ParticipantID != nil {
		query += " AND p.id = $4"
		args = append(args, *filters.ParticipantID)
	}

	query += " GROUP BY p.id, p.name ORDER BY points DESC, p.name"

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var results []ParticipantStats
	for rows.Next() {
		var s ParticipantStats
		if err := rows.Scan(&s.ParticipantID, &s.ParticipantName, &s.Points, &s.TasksCredited, &s.TakeoversDone); err != nil {
			return nil, fmt.Errorf("scan participant stats: %w", err)
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard rows: %w", err)
	}
	return results, nil
}

// TotalFor returns the participant's lifetime points.
func (r *PointRepository) TotalFor(ctx context.Context, q Querier, participantID string) (int, error) {
	var total int
	err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM point_awards WHERE participant_id = $1`,
		participantID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum points: %w", err)
	}
	return total, nil
}
