package domain

import (
	"fmt"
	"time"
)

// SwapRecord tracks one takeover for the weekly cap and point attribution.
type SwapRecord struct {
	ID                 string
	TaskID             string
	TaskLogID          string
	OriginalAssigneeID string
	CompleterID        string
	CompletedAt        time.Time
	WasOverdue         bool
	WeekBucket         string
	CreditedTo         *string
	Confirmed          bool
	CreatedAt          time.Time
}

// WeekBucket returns the ISO week key ("2026-W42") of t in loc.
// Weeks start on Monday at local midnight.
func WeekBucket(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	year, week := t.In(loc).ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// CreditFor decides who earns the points for a takeover.
// Completion at or before the original deadline credits the original assignee;
// anything later credits the completer. No deadline counts as on time.
func CreditFor(originalAssigneeID, completerID string, originalDeadline *time.Time, completedAt time.Time) string {
	if originalDeadline == nil || !completedAt.After(*originalDeadline) {
		return originalAssigneeID
	}
	return completerID
}

// PointAward is an entry in the points ledger.
type PointAward struct {
	ID            string
	ParticipantID string
	TaskID        string
	TaskLogID     string
	Points        int
	AwardedAt     time.Time
}
