package service_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/chorequorum/internal/config"
	"github.com/mtlprog/chorequorum/internal/database"
	"github.com/mtlprog/chorequorum/internal/domain"
	"github.com/mtlprog/chorequorum/internal/notify"
	"github.com/mtlprog/chorequorum/internal/repository"
	"github.com/mtlprog/chorequorum/internal/service"
	"github.com/stretchr/testify/suite"
)

// testClock is a settable clock shared by the service under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TaskServiceTestSuite is the test suite for TaskService.
type TaskServiceTestSuite struct {
	suite.Suite
	db       *database.DB
	pool     *pgxpool.Pool
	repos    *repository.Repositories
	cfg      config.Engine
	clock    *testClock
	recorder *notify.Recorder
	svc      *service.TaskService

	// Test fixtures
	householdID string
	alice       string
	bob         string
	carol       string
	dave        string
	eve         string
	frank       string
}

// start is a Wednesday, well inside one ISO week.
var start = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

// SetupSuite runs once before all tests.
func (s *TaskServiceTestSuite) SetupSuite() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		s.T().Skip("DATABASE_URL is not set")
	}

	ctx := context.Background()

	db, err := database.New(ctx, databaseURL, 2)
	s.Require().NoError(err, "failed to connect to database")
	s.db = db
	s.pool = db.Pool()

	s.Require().NoError(db.RunMigrations(ctx), "failed to run migrations")

	s.repos = repository.New()
	s.cfg = config.DefaultEngine()
	s.clock = &testClock{}
	s.recorder = &notify.Recorder{}
	s.svc = service.NewTaskService(db, s.repos, s.cfg,
		service.WithClock(s.clock.Now),
		service.WithSink(s.recorder),
	)
}

// SetupTest runs before each test.
func (s *TaskServiceTestSuite) SetupTest() {
	ctx := context.Background()

	_, err := s.pool.Exec(ctx, `
		TRUNCATE households, participants, tasks, task_logs, workflows,
			vote_rounds, votes, swap_records, point_awards, events CASCADE
	`)
	s.Require().NoError(err, "failed to truncate tables")

	s.clock.Set(start)
	s.recorder.Reset()

	h := &domain.Household{Name: "Flat 4", Slug: "flat-4"}
	s.Require().NoError(s.repos.Households.Create(ctx, s.pool, h))
	s.householdID = h.ID

	s.alice = s.createParticipant(ctx, "alice")
	s.bob = s.createParticipant(ctx, "bob")
	s.carol = s.createParticipant(ctx, "carol")
	s.dave = s.createParticipant(ctx, "dave")
	s.eve = s.createParticipant(ctx, "eve")
	s.frank = s.createParticipant(ctx, "frank")
}

// TearDownSuite runs once after all tests.
func (s *TaskServiceTestSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
}

// TestTakeover_ApprovedBeforeDeadline_CreditsOriginalAssignee covers the basic takeover path.
func (s *TaskServiceTestSuite) TestTakeover_ApprovedBeforeDeadline_CreditsOriginalAssignee() {
	ctx := context.Background()
	taskID := s.createTask(ctx, "Dishes", "2d", &s.alice, start.Add(48*time.Hour))

	claim, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.bob, IsTakeover: true})
	s.Require().NoError(err)
	s.Equal(domain.TaskStatePendingVerification, claim.Task.State)
	s.True(claim.Log.IsTakeover)
	s.Require().NotNil(claim.Swap)
	s.Require().NotNil(claim.Confirmation)
	s.Equal(s.carol, claim.Verification.MetaString(domain.MetaVerifierID))

	s.clock.Advance(time.Hour)
	approvedAt := s.clock.Now()

	res, err := s.svc.ResolveWorkflow(ctx, service.ResolveInput{
		WorkflowID: claim.Verification.ID,
		ResolverID: s.carol,
		Decision:   domain.DecisionApprove,
	})
	s.Require().NoError(err)
	s.Equal(domain.WorkflowStatusApproved, res.Workflow.Status)

	task := s.getTask(ctx, taskID)
	s.Equal(domain.TaskStateCompleted, task.State)
	s.Require().NotNil(task.DeadlineAt)
	s.True(approvedAt.Add(48*time.Hour).Equal(*task.DeadlineAt))

	s.Equal(1, s.points(ctx, s.alice))
	s.Equal(0, s.points(ctx, s.bob))

	swap, err := s.repos.Swaps.Get(ctx, s.pool, claim.Swap.ID)
	s.Require().NoError(err)
	s.Require().NotNil(swap.CreditedTo)
	s.Equal(s.alice, *swap.CreditedTo)
	s.False(swap.WasOverdue)
}

// TestTakeover_ApprovedAfterDeadline_CreditsCompleter checks late completion credits the completer.
func (s *TaskServiceTestSuite) TestTakeover_ApprovedAfterDeadline_CreditsCompleter() {
	ctx := context.Background()
	deadline := start.Add(2 * time.Hour)
	taskID := s.createTask(ctx, "Dishes", "2d", &s.alice, deadline)

	claim, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.bob, IsTakeover: true})
	s.Require().NoError(err)

	s.clock.Set(deadline.Add(time.Hour))
	_, err = s.svc.ResolveWorkflow(ctx, service.ResolveInput{
		WorkflowID: claim.Verification.ID,
		ResolverID: s.carol,
		Decision:   domain.DecisionApprove,
	})
	s.Require().NoError(err)

	s.Equal(0, s.points(ctx, s.alice))
	s.Equal(1, s.points(ctx, s.bob))
}

// TestTakeover_AttributionBoundary checks the exact deadline and one second past it.
func (s *TaskServiceTestSuite) TestTakeover_AttributionBoundary() {
	ctx := context.Background()

	cases := []struct {
		name     string
		offset   time.Duration
		expected func() string
	}{
		{"at deadline", 0, func() string { return s.alice }},
		{"one second late", time.Second, func() string { return s.bob }},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.clock.Set(start)
			deadline := start.Add(3 * time.Hour)
			taskID := s.createTask(ctx, "Bins "+tc.name, "", &s.alice, deadline)

			claim, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.bob, IsTakeover: true})
			s.Require().NoError(err)

			s.clock.Set(deadline.Add(tc.offset))
			_, err = s.svc.ResolveWorkflow(ctx, service.ResolveInput{
				WorkflowID: claim.Verification.ID,
				ResolverID: s.carol,
				Decision:   domain.DecisionApprove,
			})
			s.Require().NoError(err)

			log, err := s.repos.TaskLogs.Get(ctx, s.pool, claim.Log.ID)
			s.Require().NoError(err)
			s.Require().NotNil(log.CreditedTo)
			s.Equal(tc.expected(), *log.CreditedTo)
		})
	}
}

// TestTakeover_AfterDeadline checks overdue tasks stay with the assignee unless configured otherwise.
func (s *TaskServiceTestSuite) TestTakeover_AfterDeadline() {
	ctx := context.Background()
	deadline := start.Add(2 * time.Hour)
	taskID := s.createTask(ctx, "Laundry", "", &s.alice, deadline)
	s.clock.Set(deadline.Add(time.Minute))

	_, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.bob, IsTakeover: true})
	s.ErrorIs(err, domain.ErrInvalidState)
	_, err = s.svc.Takeover(ctx, service.TakeoverInput{TaskID: taskID, CompleterID: s.bob})
	s.ErrorIs(err, domain.ErrInvalidState)
	s.Equal(domain.TaskStateTodo, s.getTask(ctx, taskID).State)

	cfg := s.cfg
	cfg.AllowOverdueTakeover = true
	lenient := service.NewTaskService(s.db, s.repos, cfg,
		service.WithClock(s.clock.Now),
		service.WithSink(s.recorder),
	)

	claim, err := lenient.Takeover(ctx, service.TakeoverInput{TaskID: taskID, CompleterID: s.bob})
	s.Require().NoError(err)
	s.Require().NotNil(claim.Swap)

	_, err = lenient.ResolveWorkflow(ctx, service.ResolveInput{
		WorkflowID: claim.Verification.ID,
		ResolverID: s.carol,
		Decision:   domain.DecisionApprove,
	})
	s.Require().NoError(err)
	s.Equal(0, s.points(ctx, s.alice))
	s.Equal(1, s.points(ctx, s.bob))
}

// TestClaim_AssigneeAfterDeadline checks the assignee may still claim an overdue task.
func (s *TaskServiceTestSuite) TestClaim_AssigneeAfterDeadline() {
	ctx := context.Background()
	deadline := start.Add(2 * time.Hour)
	taskID := s.createTask(ctx, "Laundry", "", &s.alice, deadline)
	s.clock.Set(deadline.Add(24 * time.Hour))

	claim, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.alice})
	s.Require().NoError(err)
	s.False(claim.Log.IsTakeover)
	s.Equal(domain.TaskStatePendingVerification, claim.Task.State)
}

// TestFloatingSchedule checks the next deadline ignores how late the completion was.
func (s *TaskServiceTestSuite) TestFloatingSchedule() {
	ctx := context.Background()
	deadline := start.Add(time.Hour)
	taskID := s.createTask(ctx, "Laundry", "2d", &s.bob, deadline)

	claim, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.bob})
	s.Require().NoError(err)
	s.False(claim.Log.IsTakeover)

	s.clock.Set(deadline.Add(5 * 24 * time.Hour))
	completedAt := s.clock.Now()
	_, err = s.svc.ResolveWorkflow(ctx, service.ResolveInput{
		WorkflowID: claim.Verification.ID,
		ResolverID: s.alice,
		Decision:   domain.DecisionApprove,
	})
	s.Require().NoError(err)

	task := s.getTask(ctx, taskID)
	s.Require().NotNil(task.DeadlineAt)
	s.True(completedAt.Add(48 * time.Hour).Equal(*task.DeadlineAt))
	s.Equal(1, s.points(ctx, s.bob))
}

// TestReject_EvenElectorate_Deadlocks checks no round is opened for an even electorate.
func (s *TaskServiceTestSuite) TestReject_EvenElectorate_Deadlocks() {
	ctx := context.Background()
	s.deactivate(ctx, s.alice, s.frank)
	taskID := s.createTask(ctx, "Vacuum", "", &s.bob, start.Add(24*time.Hour))

	claim, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.bob})
	s.Require().NoError(err)

	res, err := s.svc.ResolveWorkflow(ctx, service.ResolveInput{
		WorkflowID: claim.Verification.ID,
		ResolverID: s.carol,
		Decision:   domain.DecisionReject,
	})
	s.Require().NoError(err)
	s.Nil(res.VoteRound)
	s.Equal(domain.TaskStateDeadlock, res.Task.State)

	_, err = s.repos.VoteRounds.GetOpenByTask(ctx, s.pool, taskID)
	s.ErrorIs(err, domain.ErrNotFound)

	s.Contains(s.recorder.Types(), domain.EventDeadlockReached)
	s.NotContains(s.recorder.Types(), domain.EventVoteCast)
}

// TestReject_OddElectorate_VotedDown checks a 2-to-1 reject returns the task to TODO.
func (s *TaskServiceTestSuite) TestReject_OddElectorate_VotedDown() {
	ctx := context.Background()
	s.deactivate(ctx, s.alice)
	taskID := s.createTask(ctx, "Vacuum", "", &s.bob, start.Add(24*time.Hour))

	claim, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.bob})
	s.Require().NoError(err)

	res, err := s.svc.ResolveWorkflow(ctx, service.ResolveInput{
		WorkflowID: claim.Verification.ID,
		ResolverID: s.carol,
		Decision:   domain.DecisionReject,
	})
	s.Require().NoError(err)
	s.Require().NotNil(res.VoteRound)
	s.Equal(domain.TaskStateConflict, res.Task.State)
	s.ElementsMatch([]string{s.dave, s.eve, s.frank}, res.VoteRound.EligibleVoters)

	roundID := res.VoteRound.ID
	s.castVote(ctx, roundID, s.dave, domain.VoteReject)
	s.castVote(ctx, roundID, s.eve, domain.VoteReject)
	final := s.castVote(ctx, roundID, s.frank, domain.VoteApprove)

	s.Equal(domain.RoundStatusClosed, final.Round.Status)
	s.Require().NotNil(final.Round.Outcome)
	s.Equal(domain.OutcomeReject, *final.Round.Outcome)
	s.Equal(domain.Tally{Approve: 1, Reject: 2}, final.Round.Tally)
	s.Equal(domain.TaskStateTodo, s.getTask(ctx, taskID).State)
	s.Equal(0, s.points(ctx, s.bob))
}

// TestReject_OddElectorate_VotedUp checks a majority approve overturns the rejection.
func (s *TaskServiceTestSuite) TestReject_OddElectorate_VotedUp() {
	ctx := context.Background()
	s.deactivate(ctx, s.alice)
	taskID := s.createTask(ctx, "Vacuum", "", &s.bob, start.Add(24*time.Hour))

	roundID := s.rejectIntoRound(ctx, taskID, s.bob, s.carol)

	s.castVote(ctx, roundID, s.dave, domain.VoteApprove)
	s.castVote(ctx, roundID, s.eve, domain.VoteReject)
	final := s.castVote(ctx, roundID, s.frank, domain.VoteApprove)

	s.Require().NotNil(final.Round.Outcome)
	s.Equal(domain.OutcomeApprove, *final.Round.Outcome)
	s.Equal(domain.TaskStateCompleted, final.Task.State)
	s.Equal(1, s.points(ctx, s.bob))

	history, err := s.svc.GetTaskHistory(ctx, s.householdID, taskID)
	s.Require().NoError(err)
	s.Require().Len(history.Logs, 1)
	s.Equal(domain.DispositionApproved, history.Logs[0].Disposition)
}

// TestCastVote_Guards checks duplicate, ineligible and anonymous ballots.
func (s *TaskServiceTestSuite) TestCastVote_Guards() {
	ctx := context.Background()
	s.deactivate(ctx, s.alice)
	taskID := s.createTask(ctx, "Vacuum", "", &s.bob, start.Add(24*time.Hour))
	roundID := s.rejectIntoRound(ctx, taskID, s.bob, s.carol)

	first := s.castVote(ctx, roundID, s.dave, domain.VoteApprove)
	s.Equal(domain.RoundStatusOpen, first.Round.Status)
	s.Equal(1, first.Round.CastCount)
	s.Equal(domain.Tally{}, first.Round.Tally)

	// An open round never stores the split between approve and reject.
	open, err := s.svc.GetVoteRound(ctx, s.householdID, roundID)
	s.Require().NoError(err)
	s.Equal(1, open.CastCount)
	s.Equal(domain.Tally{}, open.Tally)

	_, err = s.svc.CastVote(ctx, service.VoteInput{RoundID: roundID, VoterID: s.dave, Choice: domain.VoteReject})
	s.ErrorIs(err, domain.ErrDuplicateVote)

	_, err = s.svc.CastVote(ctx, service.VoteInput{RoundID: roundID, VoterID: s.bob, Choice: domain.VoteApprove})
	s.ErrorIs(err, domain.ErrPermissionDenied)

	_, err = s.svc.CastVote(ctx, service.VoteInput{RoundID: roundID, VoterID: s.carol, Choice: domain.VoteReject})
	s.ErrorIs(err, domain.ErrPermissionDenied)

	s.castVote(ctx, roundID, s.eve, domain.VoteReject)
	final := s.castVote(ctx, roundID, s.frank, domain.VoteApprove)
	s.Equal(domain.RoundStatusClosed, final.Round.Status)
	s.Equal(domain.Tally{Approve: 2, Reject: 1}, final.Round.Tally)

	// A repeat ballot after the round closed is still a duplicate.
	_, err = s.svc.CastVote(ctx, service.VoteInput{RoundID: roundID, VoterID: s.eve, Choice: domain.VoteApprove})
	s.ErrorIs(err, domain.ErrDuplicateVote)

	for _, event := range s.recorder.Events() {
		if event.Type == domain.EventVoteCast {
			s.Nil(event.ActorID)
		}
	}
}

// TestResolve_SelfVerification checks a claimant cannot approve their own claim.
func (s *TaskServiceTestSuite) TestResolve_SelfVerification() {
	ctx := context.Background()
	taskID := s.createTask(ctx, "Dishes", "2d", &s.alice, start.Add(48*time.Hour))

	claim, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.alice})
	s.Require().NoError(err)

	for _, decision := range []domain.Decision{domain.DecisionApprove, domain.DecisionReject} {
		_, err = s.svc.ResolveWorkflow(ctx, service.ResolveInput{
			WorkflowID: claim.Verification.ID,
			ResolverID: s.alice,
			Decision:   decision,
		})
		s.ErrorIs(err, domain.ErrSelfVerification, "decision %s", decision)
		s.Equal(domain.TaskStatePendingVerification, s.getTask(ctx, taskID).State)
	}

	wf, err := s.svc.GetWorkflow(ctx, s.householdID, claim.Verification.ID)
	s.Require().NoError(err)
	s.Equal(domain.WorkflowStatusPending, wf.Status)
}

// TestClaim_ExplicitVerifier checks verifier selection rules.
func (s *TaskServiceTestSuite) TestClaim_ExplicitVerifier() {
	ctx := context.Background()
	taskID := s.createTask(ctx, "Dishes", "", &s.alice, start.Add(48*time.Hour))

	_, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.alice, VerifierID: s.alice})
	s.ErrorIs(err, domain.ErrSelfVerification)

	claim, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.alice, VerifierID: s.eve})
	s.Require().NoError(err)
	s.Equal(s.eve, claim.Verification.MetaString(domain.MetaVerifierID))
}

// TestClaim_NoShortcutToCompleted checks a claim never completes a task by itself.
func (s *TaskServiceTestSuite) TestClaim_NoShortcutToCompleted() {
	ctx := context.Background()
	taskID := s.createTask(ctx, "Dishes", "", &s.alice, start.Add(48*time.Hour))

	claim, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.alice})
	s.Require().NoError(err)
	s.Equal(domain.TaskStatePendingVerification, claim.Task.State)
	s.Nil(claim.Task.CompletedAt)
	s.Equal(0, s.points(ctx, s.alice))

	_, err = s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.bob, IsTakeover: true})
	s.ErrorIs(err, domain.ErrInvalidTransition)
}

// TestResolve_Concurrent checks exactly one of two racing resolutions wins.
func (s *TaskServiceTestSuite) TestResolve_Concurrent() {
	ctx := context.Background()
	taskID := s.createTask(ctx, "Dishes", "", &s.alice, start.Add(48*time.Hour))

	claim, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.alice})
	s.Require().NoError(err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, resolver := range []string{s.bob, s.carol} {
		wg.Add(1)
		go func(rid string) {
			defer wg.Done()
			_, err := s.svc.ResolveWorkflow(ctx, service.ResolveInput{
				WorkflowID: claim.Verification.ID,
				ResolverID: rid,
				Decision:   domain.DecisionApprove,
			})
			results <- err
		}(resolver)
	}

	wg.Wait()
	close(results)

	successCount, alreadyResolved := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case s.ErrorIs(err, domain.ErrAlreadyResolved):
			alreadyResolved++
		}
	}

	s.Equal(1, successCount, "exactly one resolution should succeed")
	s.Equal(1, alreadyResolved)
	s.Equal(1, s.points(ctx, s.alice))
}

// TestTakeover_WeeklyCap checks the fourth takeover in a week is refused.
func (s *TaskServiceTestSuite) TestTakeover_WeeklyCap() {
	ctx := context.Background()

	for _, owner := range []string{s.alice, s.carol, s.dave} {
		taskID := s.createTask(ctx, "Chore", "", &owner, start.Add(48*time.Hour))
		_, err := s.svc.Takeover(ctx, service.TakeoverInput{TaskID: taskID, OriginalAssigneeID: owner, CompleterID: s.bob})
		s.Require().NoError(err)
		s.clock.Advance(time.Hour)
	}

	taskID := s.createTask(ctx, "Chore", "", &s.eve, start.Add(9*24*time.Hour))
	_, err := s.svc.Takeover(ctx, service.TakeoverInput{TaskID: taskID, OriginalAssigneeID: s.eve, CompleterID: s.bob})
	s.ErrorIs(err, domain.ErrRateLimitExceeded)
	s.Equal(domain.TaskStateTodo, s.getTask(ctx, taskID).State)

	// Next ISO week resets the bucket.
	s.clock.Set(start.Add(7 * 24 * time.Hour))
	_, err = s.svc.Takeover(ctx, service.TakeoverInput{TaskID: taskID, OriginalAssigneeID: s.eve, CompleterID: s.bob})
	s.NoError(err)
}

// TestTakeoverConfirmation checks only the original assignee acknowledges a takeover.
func (s *TaskServiceTestSuite) TestTakeoverConfirmation() {
	ctx := context.Background()
	taskID := s.createTask(ctx, "Dishes", "", &s.alice, start.Add(48*time.Hour))

	claim, err := s.svc.Takeover(ctx, service.TakeoverInput{TaskID: taskID, CompleterID: s.bob})
	s.Require().NoError(err)
	s.Require().NotNil(claim.Confirmation)

	_, err = s.svc.ResolveWorkflow(ctx, service.ResolveInput{
		WorkflowID: claim.Confirmation.ID,
		ResolverID: s.bob,
		Decision:   domain.DecisionApprove,
	})
	s.ErrorIs(err, domain.ErrSelfResolution)

	_, err = s.svc.ResolveWorkflow(ctx, service.ResolveInput{
		WorkflowID: claim.Confirmation.ID,
		ResolverID: s.carol,
		Decision:   domain.DecisionApprove,
	})
	s.ErrorIs(err, domain.ErrPermissionDenied)

	_, err = s.svc.ResolveWorkflow(ctx, service.ResolveInput{
		WorkflowID: claim.Confirmation.ID,
		ResolverID: s.alice,
		Decision:   domain.DecisionApprove,
	})
	s.Require().NoError(err)

	swap, err := s.repos.Swaps.Get(ctx, s.pool, claim.Swap.ID)
	s.Require().NoError(err)
	s.True(swap.Confirmed)
	s.Equal(domain.TaskStatePendingVerification, s.getTask(ctx, taskID).State)
}

// TestCancelWorkflow checks the requester withdraws a claim.
func (s *TaskServiceTestSuite) TestCancelWorkflow() {
	ctx := context.Background()
	taskID := s.createTask(ctx, "Dishes", "", &s.alice, start.Add(48*time.Hour))

	claim, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.alice})
	s.Require().NoError(err)

	_, err = s.svc.CancelWorkflow(ctx, service.CancelInput{WorkflowID: claim.Verification.ID, RequesterID: s.bob})
	s.ErrorIs(err, domain.ErrPermissionDenied)

	wf, err := s.svc.CancelWorkflow(ctx, service.CancelInput{WorkflowID: claim.Verification.ID, RequesterID: s.alice})
	s.Require().NoError(err)
	s.Equal(domain.WorkflowStatusCancelled, wf.Status)
	s.Equal(domain.TaskStateTodo, s.getTask(ctx, taskID).State)

	log, err := s.repos.TaskLogs.Get(ctx, s.pool, claim.Log.ID)
	s.Require().NoError(err)
	s.Equal(domain.DispositionRejected, log.Disposition)
	s.Nil(log.CreditedTo)

	_, err = s.svc.CancelWorkflow(ctx, service.CancelInput{WorkflowID: claim.Verification.ID, RequesterID: s.alice})
	s.ErrorIs(err, domain.ErrAlreadyResolved)
}

// TestExpireStale checks expiry reopens the task and a second sweep does nothing.
func (s *TaskServiceTestSuite) TestExpireStale() {
	ctx := context.Background()
	taskID := s.createTask(ctx, "Dishes", "", &s.alice, start.Add(96*time.Hour))

	claim, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.alice})
	s.Require().NoError(err)

	count, err := s.svc.ExpireStale(ctx)
	s.Require().NoError(err)
	s.Equal(0, count)

	s.clock.Advance(s.cfg.VerificationTTL + time.Minute)

	count, err = s.svc.ExpireStale(ctx)
	s.Require().NoError(err)
	s.Equal(1, count)

	wf, err := s.svc.GetWorkflow(ctx, s.householdID, claim.Verification.ID)
	s.Require().NoError(err)
	s.Equal(domain.WorkflowStatusExpired, wf.Status)
	s.Nil(wf.ResolverID)
	s.Equal(domain.TaskStateTodo, s.getTask(ctx, taskID).State)

	count, err = s.svc.ExpireStale(ctx)
	s.Require().NoError(err)
	s.Equal(0, count)

	_, err = s.svc.ResolveWorkflow(ctx, service.ResolveInput{
		WorkflowID: claim.Verification.ID,
		ResolverID: s.bob,
		Decision:   domain.DecisionApprove,
	})
	s.ErrorIs(err, domain.ErrAlreadyResolved)
}

// TestBatchResolve_PartialFailure checks one bad item does not block the others.
func (s *TaskServiceTestSuite) TestBatchResolve_PartialFailure() {
	ctx := context.Background()
	first := s.createTask(ctx, "Dishes", "", &s.alice, start.Add(48*time.Hour))
	second := s.createTask(ctx, "Bins", "", &s.alice, start.Add(48*time.Hour))

	c1, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: first, ClaimantID: s.alice})
	s.Require().NoError(err)
	c2, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: second, ClaimantID: s.alice})
	s.Require().NoError(err)

	missing := "00000000-0000-0000-0000-0000000000ff"
	items, err := s.svc.BatchResolve(ctx, service.BatchResolveInput{
		WorkflowIDs: []string{c1.Verification.ID, missing, c2.Verification.ID, c1.Verification.ID},
		ResolverID:  s.bob,
		Decision:    domain.DecisionApprove,
	})
	s.Require().Error(err)
	s.Len(items, 3)

	var batchErr *domain.BatchError
	s.Require().ErrorAs(err, &batchErr)
	s.Equal(3, batchErr.Total)
	s.Len(batchErr.Failures, 1)
	s.ErrorIs(batchErr.Failures[missing], domain.ErrNotFound)

	s.Equal(domain.TaskStateCompleted, s.getTask(ctx, first).State)
	s.Equal(domain.TaskStateCompleted, s.getTask(ctx, second).State)
	s.Equal(2, s.points(ctx, s.alice))

	_, err = s.svc.BatchResolve(ctx, service.BatchResolveInput{ResolverID: s.bob, Decision: domain.DecisionApprove})
	s.ErrorIs(err, domain.ErrEmptyBatch)
}

// TestDeletion checks the deletion request, approval and the archived guard.
func (s *TaskServiceTestSuite) TestDeletion() {
	ctx := context.Background()
	taskID := s.createTask(ctx, "Old chore", "", &s.alice, start.Add(48*time.Hour))

	wf, err := s.svc.RequestDeletion(ctx, service.DeletionInput{TaskID: taskID, RequesterID: s.alice, Reason: "moved out"})
	s.Require().NoError(err)

	_, err = s.svc.RequestDeletion(ctx, service.DeletionInput{TaskID: taskID, RequesterID: s.bob})
	s.ErrorIs(err, domain.ErrDuplicateWorkflow)

	_, err = s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.alice})
	s.ErrorIs(err, domain.ErrDuplicateWorkflow)

	_, err = s.svc.ResolveWorkflow(ctx, service.ResolveInput{WorkflowID: wf.ID, ResolverID: s.alice, Decision: domain.DecisionApprove})
	s.ErrorIs(err, domain.ErrSelfResolution)

	_, err = s.svc.ResolveWorkflow(ctx, service.ResolveInput{WorkflowID: wf.ID, ResolverID: s.bob, Decision: domain.DecisionApprove})
	s.Require().NoError(err)

	task := s.getTask(ctx, taskID)
	s.True(task.IsArchived())
	s.Contains(s.recorder.Types(), domain.EventTaskArchived)

	_, err = s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: s.alice})
	s.ErrorIs(err, domain.ErrTaskArchived)
}

// TestCloseStaleRounds checks silent voters abstain when the window elapses.
func (s *TaskServiceTestSuite) TestCloseStaleRounds() {
	ctx := context.Background()
	s.deactivate(ctx, s.alice)

	approvedTask := s.createTask(ctx, "Vacuum", "", &s.bob, start.Add(24*time.Hour))
	approvedRound := s.rejectIntoRound(ctx, approvedTask, s.bob, s.carol)
	s.castVote(ctx, approvedRound, s.dave, domain.VoteApprove)

	tiedTask := s.createTask(ctx, "Mop", "", &s.bob, start.Add(24*time.Hour))
	tiedRound := s.rejectIntoRound(ctx, tiedTask, s.bob, s.carol)

	count, err := s.svc.CloseStaleRounds(ctx)
	s.Require().NoError(err)
	s.Equal(0, count)

	s.clock.Advance(s.cfg.VoteTimeout + time.Minute)

	count, err = s.svc.CloseStaleRounds(ctx)
	s.Require().NoError(err)
	s.Equal(2, count)

	round, err := s.svc.GetVoteRound(ctx, s.householdID, approvedRound)
	s.Require().NoError(err)
	s.Equal(domain.Tally{Approve: 1, Abstain: 2}, round.Tally)
	s.Equal(domain.TaskStateCompleted, s.getTask(ctx, approvedTask).State)

	round, err = s.svc.GetVoteRound(ctx, s.householdID, tiedRound)
	s.Require().NoError(err)
	s.Require().NotNil(round.Outcome)
	s.Equal(domain.OutcomeTie, *round.Outcome)
	s.Equal(domain.TaskStateDeadlock, s.getTask(ctx, tiedTask).State)

	count, err = s.svc.CloseStaleRounds(ctx)
	s.Require().NoError(err)
	s.Equal(0, count)

	reopened, err := s.svc.ForceReopen(ctx, service.ForceReopenInput{TaskID: tiedTask, ActorID: s.eve, Reason: "talked it out"})
	s.Require().NoError(err)
	s.Equal(domain.TaskStateTodo, reopened.State)
}

// TestForceReopen_OnlyFromDeadlock checks the override is refused elsewhere.
func (s *TaskServiceTestSuite) TestForceReopen_OnlyFromDeadlock() {
	ctx := context.Background()
	taskID := s.createTask(ctx, "Dishes", "", &s.alice, start.Add(48*time.Hour))

	_, err := s.svc.ForceReopen(ctx, service.ForceReopenInput{TaskID: taskID, ActorID: s.bob})
	s.ErrorIs(err, domain.ErrInvalidTransition)
}

// TestProcessDueTasks checks overdue notices fire once and recurring tasks come back.
func (s *TaskServiceTestSuite) TestProcessDueTasks() {
	ctx := context.Background()
	overdueID := s.createTask(ctx, "Plants", "", &s.alice, start.Add(-time.Hour))
	recurringID := s.createTask(ctx, "Dishes", "1d", &s.bob, start.Add(time.Hour))

	claim, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: recurringID, ClaimantID: s.bob})
	s.Require().NoError(err)
	_, err = s.svc.ResolveWorkflow(ctx, service.ResolveInput{WorkflowID: claim.Verification.ID, ResolverID: s.alice, Decision: domain.DecisionApprove})
	s.Require().NoError(err)

	report, err := s.svc.ProcessDueTasks(ctx)
	s.Require().NoError(err)
	s.Equal(service.DueReport{Overdue: 1, NextCycles: 1}, report)

	s.NotNil(s.getTask(ctx, overdueID).OverdueNotifiedAt)
	recurring := s.getTask(ctx, recurringID)
	s.Equal(domain.TaskStateTodo, recurring.State)
	s.Require().NotNil(recurring.DeadlineAt)
	s.True(start.Add(24 * time.Hour).Equal(*recurring.DeadlineAt))

	report, err = s.svc.ProcessDueTasks(ctx)
	s.Require().NoError(err)
	s.Equal(service.DueReport{}, report)
}

// TestCreateTask_Validation checks malformed tasks are refused.
func (s *TaskServiceTestSuite) TestCreateTask_Validation() {
	ctx := context.Background()

	_, err := s.svc.CreateTask(ctx, service.CreateTaskInput{HouseholdID: s.householdID, CreatedBy: s.alice, Title: "  "})
	s.ErrorIs(err, domain.ErrEmptyTitle)

	_, err = s.svc.CreateTask(ctx, service.CreateTaskInput{HouseholdID: s.householdID, CreatedBy: s.alice, Title: "x", Recurrence: "sometimes"})
	s.ErrorIs(err, domain.ErrInvalidRecurrence)

	task, err := s.svc.CreateTask(ctx, service.CreateTaskInput{HouseholdID: s.householdID, CreatedBy: s.alice, Title: "Dishes", Recurrence: "2d"})
	s.Require().NoError(err)
	s.Equal(service.DefaultPoints, task.Points)
	s.Require().NotNil(task.DeadlineAt)
	s.True(start.Add(48 * time.Hour).Equal(*task.DeadlineAt))
}

// TestCreateTask_RequiresAdmin checks only household administrators create tasks.
func (s *TaskServiceTestSuite) TestCreateTask_RequiresAdmin() {
	ctx := context.Background()
	_, err := s.pool.Exec(ctx, `UPDATE participants SET is_admin = FALSE WHERE id = $1`, s.bob)
	s.Require().NoError(err)

	_, err = s.svc.CreateTask(ctx, service.CreateTaskInput{HouseholdID: s.householdID, CreatedBy: s.bob, Title: "Dishes"})
	s.ErrorIs(err, domain.ErrPermissionDenied)

	task, err := s.svc.CreateTask(ctx, service.CreateTaskInput{HouseholdID: s.householdID, CreatedBy: s.alice, Title: "Dishes", AssigneeID: &s.bob})
	s.Require().NoError(err)
	s.Equal(s.bob, *task.AssigneeID)
}

// TestAuthenticate checks token lookup.
func (s *TaskServiceTestSuite) TestAuthenticate() {
	ctx := context.Background()

	p, err := s.svc.Authenticate(ctx, "token-alice")
	s.Require().NoError(err)
	s.Equal(s.alice, p.ID)

	_, err = s.svc.Authenticate(ctx, "nope")
	s.ErrorIs(err, domain.ErrInvalidToken)

	s.deactivate(ctx, s.alice)
	_, err = s.svc.Authenticate(ctx, "token-alice")
	s.ErrorIs(err, domain.ErrParticipantInactive)
}

// Helper: createParticipant creates an active participant with token "token-<name>".
func (s *TaskServiceTestSuite) createParticipant(ctx context.Context, name string) string {
	p := &domain.Participant{
		HouseholdID: s.householdID,
		Name:        name,
		Token:       "token-" + name,
		IsActive:    true,
		IsAdmin:     true,
	}
	s.Require().NoError(s.repos.Participants.Create(ctx, s.pool, p), "failed to create participant")
	return p.ID
}

// Helper: deactivate marks participants inactive.
func (s *TaskServiceTestSuite) deactivate(ctx context.Context, ids ...string) {
	_, err := s.pool.Exec(ctx, `UPDATE participants SET is_active = FALSE WHERE id = ANY($1)`, ids)
	s.Require().NoError(err, "failed to deactivate participants")
}

// Helper: createTask creates a TODO task through the service.
func (s *TaskServiceTestSuite) createTask(ctx context.Context, title, recurrence string, assigneeID *string, deadline time.Time) string {
	creator := s.frank
	if assigneeID != nil {
		creator = *assigneeID
	}
	task, err := s.svc.CreateTask(ctx, service.CreateTaskInput{
		HouseholdID: s.householdID,
		CreatedBy:   creator,
		Title:       title,
		Recurrence:  recurrence,
		AssigneeID:  assigneeID,
		DeadlineAt:  &deadline,
	})
	s.Require().NoError(err, "failed to create task")
	return task.ID
}

// Helper: rejectIntoRound claims a task and rejects the claim, returning the round it opened.
func (s *TaskServiceTestSuite) rejectIntoRound(ctx context.Context, taskID, claimantID, rejecterID string) string {
	claim, err := s.svc.Claim(ctx, service.ClaimInput{TaskID: taskID, ClaimantID: claimantID})
	s.Require().NoError(err)

	res, err := s.svc.ResolveWorkflow(ctx, service.ResolveInput{
		WorkflowID: claim.Verification.ID,
		ResolverID: rejecterID,
		Decision:   domain.DecisionReject,
	})
	s.Require().NoError(err)
	s.Require().NotNil(res.VoteRound, "expected a vote round")
	return res.VoteRound.ID
}

func (s *TaskServiceTestSuite) castVote(ctx context.Context, roundID, voterID string, choice domain.VoteChoice) *service.VoteResult {
	res, err := s.svc.CastVote(ctx, service.VoteInput{RoundID: roundID, VoterID: voterID, Choice: choice})
	s.Require().NoError(err, "failed to cast vote")
	return res
}

func (s *TaskServiceTestSuite) getTask(ctx context.Context, taskID string) *domain.Task {
	task, err := s.svc.GetTask(ctx, s.householdID, taskID)
	s.Require().NoError(err)
	return task
}

func (s *TaskServiceTestSuite) points(ctx context.Context, participantID string) int {
	total, err := s.repos.Points.TotalFor(ctx, s.pool, participantID)
	s.Require().NoError(err)
	return total
}

// TestTaskServiceTestSuite runs the test suite.
func TestTaskServiceTestSuite(t *testing.T) {
	suite.Run(t, new(TaskServiceTestSuite))
}
