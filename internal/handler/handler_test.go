package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/chorequorum/internal/config"
	"github.com/mtlprog/chorequorum/internal/database"
	"github.com/mtlprog/chorequorum/internal/domain"
	"github.com/mtlprog/chorequorum/internal/handler"
	"github.com/mtlprog/chorequorum/internal/handler/dto"
	"github.com/mtlprog/chorequorum/internal/repository"
	"github.com/mtlprog/chorequorum/internal/service"
)

type HandlerTestSuite struct {
	suite.Suite
	db    *database.DB
	repos *repository.Repositories
	mux   *http.ServeMux

	// Test fixtures
	householdID string
	aliceID     string
	bobID       string
	carolID     string
}

func (s *HandlerTestSuite) SetupSuite() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		s.T().Skip("DATABASE_URL is not set")
	}

	ctx := context.Background()
	db, err := database.New(ctx, databaseURL, 2)
	s.Require().NoError(err)
	s.db = db

	s.Require().NoError(db.RunMigrations(ctx))

	s.repos = repository.New()
	svc := service.NewTaskService(db, s.repos, config.DefaultEngine())

	s.mux = http.NewServeMux()
	handler.New(db, svc).RegisterRoutes(s.mux)
}

func (s *HandlerTestSuite) SetupTest() {
	ctx := context.Background()
	pool := s.db.Pool()

	_, err := pool.Exec(ctx, `
		TRUNCATE households, participants, tasks, task_logs, workflows,
			vote_rounds, votes, swap_records, point_awards, events CASCADE
	`)
	s.Require().NoError(err)

	h := &domain.Household{Name: "Test Household", Slug: "test"}
	s.Require().NoError(s.repos.Households.Create(ctx, pool, h))
	s.householdID = h.ID

	for _, p := range []struct {
		name  string
		id    *string
		admin bool
	}{
		{"alice", &s.aliceID, true},
		{"bob", &s.bobID, true},
		{"carol", &s.carolID, false},
	} {
		participant := &domain.Participant{HouseholdID: h.ID, Name: p.name, Token: "token-" + p.name, IsActive: true, IsAdmin: p.admin}
		s.Require().NoError(s.repos.Participants.Create(ctx, pool, participant))
		*p.id = participant.ID
	}
}

func (s *HandlerTestSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

// Helper to make authenticated request
func (s *HandlerTestSuite) makeRequest(method, path, token string, body any) *httptest.ResponseRecorder {
	var bodyReader *bytes.Reader
	if body != nil {
		bodyBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(bodyBytes)
	} else {
		bodyReader = bytes.NewReader([]byte{})
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func (s *HandlerTestSuite) decode(w *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.NewDecoder(w.Body).Decode(v))
}

func (s *HandlerTestSuite) createTask(token string, assigneeID *string) dto.TaskResponse {
	deadline := time.Now().Add(48 * time.Hour).UTC()
	w := s.makeRequest("POST", "/api/v1/tasks", token, dto.CreateTaskRequest{
		Title:      "Dishes",
		Recurrence: "2d",
		AssigneeID: assigneeID,
		DeadlineAt: &deadline,
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var task dto.TaskResponse
	s.decode(w, &task)
	return task
}

func (s *HandlerTestSuite) TestHealthz() {
	w := s.makeRequest("GET", "/healthz", "", nil)
	s.Equal(http.StatusOK, w.Code)
}

func (s *HandlerTestSuite) TestCreateTask_Unauthorized() {
	w := s.makeRequest("POST", "/api/v1/tasks", "", dto.CreateTaskRequest{Title: "Dishes"})
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.makeRequest("POST", "/api/v1/tasks", "wrong-token", dto.CreateTaskRequest{Title: "Dishes"})
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *HandlerTestSuite) TestCreateTask_Forbidden() {
	w := s.makeRequest("POST", "/api/v1/tasks", "token-carol", dto.CreateTaskRequest{Title: "Dishes"})
	s.Equal(http.StatusForbidden, w.Code)

	var errResp dto.ErrorResponse
	s.decode(w, &errResp)
	s.Equal("INSUFFICIENT_ACCESS", errResp.Error.Code)
}

func (s *HandlerTestSuite) TestCreateTask_ValidationError() {
	w := s.makeRequest("POST", "/api/v1/tasks", "token-alice", dto.CreateTaskRequest{Title: "  "})
	s.Equal(http.StatusUnprocessableEntity, w.Code)

	var errResp dto.ErrorResponse
	s.decode(w, &errResp)
	s.Equal("VALIDATION_ERROR", errResp.Error.Code)

	w = s.makeRequest("POST", "/api/v1/tasks", "token-alice", dto.CreateTaskRequest{Title: "Dishes", Recurrence: "whenever"})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
}

func (s *HandlerTestSuite) TestGetTask_InvalidID() {
	w := s.makeRequest("GET", "/api/v1/tasks/not-a-uuid", "token-alice", nil)
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.makeRequest("GET", "/api/v1/tasks/00000000-0000-0000-0000-0000000000ff", "token-alice", nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *HandlerTestSuite) TestClaimAndVerify() {
	task := s.createTask("token-alice", &s.aliceID)

	w := s.makeRequest("POST", "/api/v1/tasks/"+task.ID+"/claim", "token-alice", dto.ClaimTaskRequest{Note: "done"})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var claim dto.ClaimResponse
	s.decode(w, &claim)
	s.Equal(string(domain.TaskStatePendingVerification), claim.Task.State)
	s.Equal("pending", claim.Log.Disposition)

	// Claimant cannot verify
	w = s.makeRequest("POST", "/api/v1/workflows/"+claim.Verification.ID+"/resolve", "token-alice",
		dto.ResolveWorkflowRequest{Decision: "approve"})
	s.Equal(http.StatusForbidden, w.Code)
	var errResp dto.ErrorResponse
	s.decode(w, &errResp)
	s.Equal("SELF_VERIFICATION", errResp.Error.Code)

	w = s.makeRequest("POST", "/api/v1/workflows/"+claim.Verification.ID+"/resolve", "token-bob",
		dto.ResolveWorkflowRequest{Decision: "approve"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var res dto.ResolveResponse
	s.decode(w, &res)
	s.Equal("approved", res.Workflow.Status)
	s.Equal(string(domain.TaskStateCompleted), res.Task.State)

	// Second resolution conflicts
	w = s.makeRequest("POST", "/api/v1/workflows/"+claim.Verification.ID+"/resolve", "token-carol",
		dto.ResolveWorkflowRequest{Decision: "approve"})
	s.Equal(http.StatusConflict, w.Code)

	w = s.makeRequest("GET", "/api/v1/stats?period=all", "token-bob", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var stats dto.StatsResponse
	s.decode(w, &stats)
	s.Require().Len(stats.Participants, 3)
	s.Equal(s.aliceID, stats.Participants[0].ParticipantID)
	s.Equal(1, stats.Participants[0].Points)
}

func (s *HandlerTestSuite) TestClaim_Concurrent() {
	task := s.createTask("token-alice", nil)

	var wg sync.WaitGroup
	results := make(chan int, 2)

	for _, token := range []string{"token-alice", "token-bob"} {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			w := s.makeRequest("POST", "/api/v1/tasks/"+task.ID+"/claim", tok, dto.ClaimTaskRequest{Note: "mine"})
			results <- w.Code
		}(token)
	}

	wg.Wait()
	close(results)

	codes := []int{}
	for code := range results {
		codes = append(codes, code)
	}

	s.ElementsMatch([]int{http.StatusCreated, http.StatusConflict}, codes)
}

func (s *HandlerTestSuite) TestBatchResolve_MultiStatus() {
	task := s.createTask("token-alice", &s.aliceID)

	w := s.makeRequest("POST", "/api/v1/tasks/"+task.ID+"/claim", "token-alice", dto.ClaimTaskRequest{})
	s.Require().Equal(http.StatusCreated, w.Code)
	var claim dto.ClaimResponse
	s.decode(w, &claim)

	w = s.makeRequest("POST", "/api/v1/workflows/batch-resolve", "token-bob", dto.BatchResolveRequest{
		WorkflowIDs: []string{claim.Verification.ID, "00000000-0000-0000-0000-0000000000ff"},
		Decision:    "approve",
	})
	s.Require().Equal(http.StatusMultiStatus, w.Code, w.Body.String())

	var batch dto.BatchResolveResponse
	s.decode(w, &batch)
	s.Equal(2, batch.Total)
	s.Equal(1, batch.Failed)
	s.NotNil(batch.Items[0].Result)
	s.Require().NotNil(batch.Items[1].Error)
	s.Equal("WORKFLOW_NOT_FOUND", batch.Items[1].Error.Code)
}

func (s *HandlerTestSuite) TestCommandEnvelope() {
	task := s.createTask("token-alice", &s.aliceID)

	args, _ := json.Marshal(map[string]any{"task_id": task.ID, "note": "via command"})
	w := s.makeRequest("POST", "/api/v1/commands", "token-alice", dto.CommandRequest{Kind: "claim", Args: args})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Kind   string            `json:"kind"`
		Result dto.ClaimResponse `json:"result"`
	}
	s.decode(w, &resp)
	s.Equal("claim", resp.Kind)
	s.Equal("via command", resp.Result.Log.Note)
	s.Equal(s.aliceID, resp.Result.Log.ClaimantID)

	w = s.makeRequest("POST", "/api/v1/commands", "token-alice", dto.CommandRequest{Kind: "expire_stale"})
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *HandlerTestSuite) TestListTasks_SQLInjectionBlocked() {
	s.createTask("token-alice", nil)

	w := s.makeRequest("GET", "/api/v1/tasks?sort=created_at;DROP+TABLE+tasks;--", "token-alice", nil)
	s.Equal(http.StatusOK, w.Code)

	var list dto.TasksListResponse
	s.decode(w, &list)
	s.Equal(1, list.Total)

	w = s.makeRequest("GET", "/api/v1/tasks?state=bogus", "token-alice", nil)
	s.Equal(http.StatusUnprocessableEntity, w.Code)
}
