package domain_test

import (
	"testing"
	"time"

	"github.com/mtlprog/chorequorum/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecurrence(t *testing.T) {
	completed := time.Date(2026, 3, 10, 18, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		rule string
		want *time.Time
	}{
		{name: "one-off", rule: "", want: nil},
		{name: "days", rule: "2d", want: ptr(completed.Add(48 * time.Hour))},
		{name: "duration", rule: "36h", want: ptr(completed.Add(36 * time.Hour))},
		{name: "cron", rule: "cron: 0 9 * * *", want: ptr(time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := domain.ParseRecurrence(tt.rule)
			require.NoError(t, err)
			assert.Equal(t, tt.want != nil, r.IsRecurring())
			assert.Equal(t, tt.want, r.Next(completed))
		})
	}
}

func TestParseRecurrence_Invalid(t *testing.T) {
	for _, rule := range []string{"often", "0d", "-3h", "xd", "cron: 61 * * * *"} {
		_, err := domain.ParseRecurrence(rule)
		assert.ErrorIs(t, err, domain.ErrInvalidRecurrence, rule)
		assert.ErrorIs(t, err, domain.ErrValidation, rule)
	}
}

func TestRecurrence_FloatingSchedule(t *testing.T) {
	r, err := domain.ParseRecurrence("2d")
	require.NoError(t, err)

	deadline := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	early := deadline.Add(-20 * time.Hour)
	late := deadline.Add(5 * 24 * time.Hour)

	// Anchored on completion regardless of how far it was from the previous deadline.
	assert.Equal(t, early.Add(48*time.Hour), *r.Next(early))
	assert.Equal(t, late.Add(48*time.Hour), *r.Next(late))
}

func ptr(t time.Time) *time.Time { return &t }
