package domain

import "time"

// EventType names a notification-worthy occurrence.
type EventType string

const (
	EventTaskCreated           EventType = "task_created"
	EventTaskClaimed           EventType = "task_claimed"
	EventVerificationRequested EventType = "verification_requested"
	EventClaimApproved         EventType = "claim_approved"
	EventClaimRejected         EventType = "claim_rejected"
	EventTaskCompleted         EventType = "task_completed"
	EventConflictOpened        EventType = "conflict_opened"
	EventVoteCast              EventType = "vote_cast"
	EventConflictResolved      EventType = "conflict_resolved"
	EventDeadlockReached       EventType = "deadlock_reached"
	EventTaskReopened          EventType = "task_reopened"
	EventSwapRecorded          EventType = "swap_recorded"
	EventPointsAwarded         EventType = "points_awarded"
	EventWorkflowCreated       EventType = "workflow_created"
	EventWorkflowResolved      EventType = "workflow_resolved"
	EventWorkflowExpired       EventType = "workflow_expired"
	EventWorkflowCancelled     EventType = "workflow_cancelled"
	EventTaskArchived          EventType = "task_archived"
	EventTaskOverdue           EventType = "task_overdue"
	EventNextCycleStarted      EventType = "next_cycle_started"
)

// Event is an audit log entry and the payload handed to the notification sink.
type Event struct {
	ID        string
	Type      EventType
	TaskID    *string
	ActorID   *string // nil for system events
	Payload   map[string]any
	CreatedAt time.Time
}

// IsSystemEvent returns true if the event was created by the system.
func (e *Event) IsSystemEvent() bool {
	return e.ActorID == nil
}
