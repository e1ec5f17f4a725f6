package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/mtlprog/chorequorum/internal/domain"
)

// HouseholdRepository handles database operations for households.
type HouseholdRepository struct{}

// Get retrieves a household by ID.
func (r *HouseholdRepository) Get(ctx context.Context, q Querier, householdID string) (*domain.Household, error) {
	query, args, err := psql.
		Select("id", "name", "slug", "timezone", "created_at").
		From("households").
		Where(sq.Eq{"id": householdID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Get query for household %s: %w", householdID, err)
	}

	var h domain.Household
	err = q.QueryRow(ctx, query, args...).Scan(&h.ID, &h.Name, &h.Slug, &h.Timezone, &h.CreatedAt)
	if err != nil {
		return nil, scanError(err, domain.ErrHouseholdNotFound, "household")
	}

	return &h, nil
}

// Create inserts a household and fills in ID and CreatedAt.
func (r *HouseholdRepository) Create(ctx context.Context, q Querier, h *domain.Household) error {
	if h.Timezone == "" {
		h.Timezone = "UTC"
	}

	query, args, err := psql.
		Insert("households").
		Columns("name", "slug", "timezone").
		Values(h.Name, h.Slug, h.Timezone).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Create query for household: %w", err)
	}

	if err := q.QueryRow(ctx, query, args...).Scan(&h.ID, &h.CreatedAt); err != nil {
		return fmt.Errorf("create household: %w", err)
	}
	return nil
}
