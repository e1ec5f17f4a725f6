package domain

import "time"

// Participant is a member of a household who claims, verifies and votes on chores.
type Participant struct {
	ID          string
	HouseholdID string
	Name        string
	Token       string
	IsActive    bool
	IsAdmin     bool // may create tasks
	CreatedAt   time.Time
}

// Household groups participants and the tasks they share.
type Household struct {
	ID        string
	Name      string
	Slug      string
	Timezone  string
	CreatedAt time.Time
}
