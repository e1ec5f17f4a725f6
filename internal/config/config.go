package config

import (
	"fmt"
	"time"
)

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = "8080"

	// DefaultDatabaseURL is empty; must be provided via flag or environment.
	DefaultDatabaseURL = ""

	// DefaultVerificationTTL is how long a verifier has to answer a claim.
	DefaultVerificationTTL = 48 * time.Hour

	// DefaultDeletionTTL is how long a deletion request stays open.
	DefaultDeletionTTL = 72 * time.Hour

	// DefaultTakeoverConfirmationTTL is how long the original assignee has to acknowledge a takeover.
	DefaultTakeoverConfirmationTTL = 72 * time.Hour

	// DefaultVoteTimeout is how long a conflict round stays open before silent voters abstain.
	DefaultVoteTimeout = 48 * time.Hour

	// DefaultSwapWeeklyLimit caps takeovers per participant per week.
	DefaultSwapWeeklyLimit = 3

	// DefaultTimezone is used for week buckets when none is configured.
	DefaultTimezone = "UTC"

	// DefaultStoreRetries bounds retries of transient storage failures.
	DefaultStoreRetries = 4

	// DefaultRedisChannel is the pub/sub channel events are published to.
	DefaultRedisChannel = "chorequorum.events"
)

// Engine holds the policy knobs of the chore engine.
type Engine struct {
	VerificationTTL               time.Duration
	DeletionTTL                   time.Duration
	TakeoverConfirmationTTL       time.Duration
	VoteTimeout                   time.Duration
	SwapWeeklyLimit               int
	Location                      *time.Location
	AllowSelfTakeoverConfirmation bool
	// AllowOverdueTakeover lets non-assignees take over a task after its deadline.
	// Off by default: once a deadline passes only the assignee may claim.
	AllowOverdueTakeover bool
}

// DefaultEngine returns the engine policy with all defaults applied.
func DefaultEngine() Engine {
	return Engine{
		VerificationTTL:         DefaultVerificationTTL,
		DeletionTTL:             DefaultDeletionTTL,
		TakeoverConfirmationTTL: DefaultTakeoverConfirmationTTL,
		VoteTimeout:             DefaultVoteTimeout,
		SwapWeeklyLimit:         DefaultSwapWeeklyLimit,
		Location:                time.UTC,
	}
}

// LoadLocation resolves the configured timezone name.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// Validate checks the policy for values the engine cannot work with.
func (e Engine) Validate() error {
	if e.VerificationTTL <= 0 || e.DeletionTTL <= 0 || e.TakeoverConfirmationTTL <= 0 {
		return fmt.Errorf("workflow ttl must be positive")
	}
	if e.VoteTimeout < 0 {
		return fmt.Errorf("vote timeout must not be negative")
	}
	if e.SwapWeeklyLimit < 1 {
		return fmt.Errorf("swap weekly limit must be at least 1")
	}
	if e.Location == nil {
		return fmt.Errorf("timezone is required")
	}
	return nil
}
