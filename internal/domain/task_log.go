package domain

import "time"

// Disposition is the final outcome of a claimed completion.
type Disposition string

const (
	DispositionPending  Disposition = "pending"
	DispositionApproved Disposition = "approved"
	DispositionRejected Disposition = "rejected"
)

// TaskLog is an append-only record of a claimed completion.
// Only Disposition, VerifiedAt and CreditedTo change after creation, exactly once.
type TaskLog struct {
	ID                 string
	TaskID             string
	ClaimantID         string
	ClaimedAt          time.Time
	Note               string
	IsTakeover         bool
	OriginalAssigneeID *string
	OriginalDeadlineAt *time.Time
	Disposition        Disposition
	VerifiedAt         *time.Time
	CreditedTo         *string
	CreatedAt          time.Time
}

// IsPending reports whether the claim still awaits a decision.
func (l *TaskLog) IsPending() bool {
	return l.Disposition == DispositionPending
}
