package domain

import "time"

// VoteChoice is a single ballot's choice.
type VoteChoice string

const (
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
)

// IsValid checks if the choice is approve or reject.
func (c VoteChoice) IsValid() bool {
	return c == VoteApprove || c == VoteReject
}

// RoundStatus is the status of a conflict-resolution round.
type RoundStatus string

const (
	RoundStatusOpen   RoundStatus = "open"
	RoundStatusClosed RoundStatus = "closed"
)

// RoundOutcome is the result of a closed round.
type RoundOutcome string

const (
	OutcomeApprove RoundOutcome = "approve"
	OutcomeReject  RoundOutcome = "reject"
	OutcomeTie     RoundOutcome = "tie"
)

// VoteRound is an anonymous ballot opened when a verification is rejected.
// Voter identities live only in the votes table. While the round is open only
// CastCount moves; Tally is filled in when the round closes.
type VoteRound struct {
	ID             string
	TaskID         string
	TaskLogID      string
	ClaimantID     string
	RejecterID     string
	EligibleVoters []string
	Status         RoundStatus
	Outcome        *RoundOutcome
	CastCount      int
	Tally          Tally
	OpenedAt       time.Time
	ClosesAt       *time.Time
	ClosedAt       *time.Time
}

// IsEligible reports whether the participant may vote in the round.
func (r *VoteRound) IsEligible(participantID string) bool {
	for _, id := range r.EligibleVoters {
		if id == participantID {
			return true
		}
	}
	return false
}

// Vote is one participant's ballot. VoterID is used for duplicate checks only.
type Vote struct {
	RoundID string
	VoterID string
	Choice  VoteChoice
	CastAt  time.Time
}

// Tally is the only externally visible result of a closed round.
type Tally struct {
	Approve int `json:"approve"`
	Reject  int `json:"reject"`
	Abstain int `json:"abstain"`
}

// Cast returns the number of ballots actually cast.
func (t Tally) Cast() int {
	return t.Approve + t.Reject
}

// Outcome returns the strict-majority result of the cast ballots.
// Equal counts, including no ballots at all, yield OutcomeTie.
func (t Tally) Outcome() RoundOutcome {
	switch {
	case t.Approve > t.Reject:
		return OutcomeApprove
	case t.Reject > t.Approve:
		return OutcomeReject
	default:
		return OutcomeTie
	}
}

// EligibleVoters returns the active participants minus the claimant and the rejecter,
// preserving input order.
func EligibleVoters(active []string, claimantID, rejecterID string) []string {
	voters := make([]string, 0, len(active))
	for _, id := range active {
		if id == claimantID || id == rejecterID {
			continue
		}
		voters = append(voters, id)
	}
	return voters
}
