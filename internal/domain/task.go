package domain

import "time"

// TaskState represents the state of a task in the lifecycle state machine.
type TaskState string

const (
	TaskStateTodo                TaskState = "TODO"
	TaskStatePendingVerification TaskState = "PENDING_VERIFICATION"
	TaskStateCompleted           TaskState = "COMPLETED"
	TaskStateConflict            TaskState = "CONFLICT"
	TaskStateDeadlock            TaskState = "DEADLOCK"
)

// IsValid checks if the state is one of the allowed values.
func (s TaskState) IsValid() bool {
	switch s {
	case TaskStateTodo, TaskStatePendingVerification, TaskStateCompleted,
		TaskStateConflict, TaskStateDeadlock:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the lifecycle allows from -> to.
// There is no TODO -> COMPLETED edge. Every completion goes through verification.
func CanTransition(from, to TaskState) bool {
	switch from {
	case TaskStateTodo:
		return to == TaskStatePendingVerification
	case TaskStatePendingVerification:
		// Back to TODO when the verification is cancelled or expires.
		return to == TaskStateCompleted || to == TaskStateConflict || to == TaskStateTodo
	case TaskStateConflict:
		return to == TaskStateCompleted || to == TaskStateTodo || to == TaskStateDeadlock
	case TaskStateDeadlock:
		return to == TaskStateTodo
	case TaskStateCompleted:
		// Next cycle of a recurring task.
		return to == TaskStateTodo
	default:
		return false
	}
}

// Task represents a unit of recurring or one-off shared work.
type Task struct {
	ID                string
	HouseholdID       string
	Title             string
	Description       string
	Recurrence        string
	AssigneeID        *string
	State             TaskState
	Points            int
	DeadlineAt        *time.Time
	CompletedAt       *time.Time
	ArchivedAt        *time.Time
	OverdueNotifiedAt *time.Time
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsAssignedTo checks if the task is assigned to the given participant.
func (t *Task) IsAssignedTo(participantID string) bool {
	return t.AssigneeID != nil && *t.AssigneeID == participantID
}

// IsArchived reports whether the task was soft-deleted.
func (t *Task) IsArchived() bool {
	return t.ArchivedAt != nil
}

// IsOverdueAt reports whether the deadline has passed at the given instant.
func (t *Task) IsOverdueAt(at time.Time) bool {
	return t.DeadlineAt != nil && at.After(*t.DeadlineAt)
}

// Label is the human-readable workflow target label.
func (t *Task) Label() string {
	return t.Title
}
