package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/mtlprog/chorequorum/internal/domain"
)

// EventRepository handles database operations for the event log.
type EventRepository struct{}

// Create appends an event. It must run in the transaction that produced the event.
func (r *EventRepository) Create(ctx context.Context, q Querier, event *domain.Event) error {
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}

	query, args, err := psql.
		Insert("events").
		Columns("type", "task_id", "actor_id", "payload", "created_at").
		Values(event.Type, event.TaskID, event.ActorID, event.Payload, event.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if err := q.QueryRow(ctx, query, args...).Scan(&event.ID); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// ListByTask retrieves all events for a task, oldest first.
func (r *EventRepository) ListByTask(ctx context.Context, q Querier, taskID string) ([]*domain.Event, error) {
	query, args, err := psql.
		Select("id", "type", "task_id", "actor_id", "payload", "created_at").
		From("events").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		var event domain.Event
		err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.TaskID,
			&event.ActorID,
			&event.Payload,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return events, nil
}
