package dto

import (
	"time"

	"github.com/mtlprog/chorequorum/internal/domain"
	"github.com/mtlprog/chorequorum/internal/repository"
	"github.com/mtlprog/chorequorum/internal/service"
)

// TaskResponse represents a task.
type TaskResponse struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Recurrence  string     `json:"recurrence"`
	AssigneeID  *string    `json:"assignee_id"`
	State       string     `json:"state"`
	Points      int        `json:"points"`
	DeadlineAt  *time.Time `json:"deadline_at"`
	IsOverdue   bool       `json:"is_overdue"`
	CompletedAt *time.Time `json:"completed_at"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TasksListResponse represents the response for GET /tasks.
type TasksListResponse struct {
	Tasks  []TaskResponse `json:"tasks"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// TaskLogResponse represents a claimed completion.
type TaskLogResponse struct {
	ID                 string     `json:"id"`
	ClaimantID         string     `json:"claimant_id"`
	ClaimedAt          time.Time  `json:"claimed_at"`
	Note               string     `json:"note"`
	IsTakeover         bool       `json:"is_takeover"`
	OriginalAssigneeID *string    `json:"original_assignee_id,omitempty"`
	OriginalDeadlineAt *time.Time `json:"original_deadline_at,omitempty"`
	Disposition        string     `json:"disposition"`
	VerifiedAt         *time.Time `json:"verified_at"`
	CreditedTo         *string    `json:"credited_to"`
}

// EventResponse represents an audit event.
type EventResponse struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	ActorID   *string        `json:"actor_id"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// TaskHistoryResponse represents the response for GET /tasks/:id/history.
type TaskHistoryResponse struct {
	Task   TaskResponse      `json:"task"`
	Logs   []TaskLogResponse `json:"logs"`
	Events []EventResponse   `json:"events"`
}

// WorkflowResponse represents a workflow.
type WorkflowResponse struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	RequesterID string         `json:"requester_id"`
	TargetID    string         `json:"target_id"`
	TargetLabel string         `json:"target_label"`
	Status      string         `json:"status"`
	ResolverID  *string        `json:"resolver_id"`
	Reason      string         `json:"reason"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	ResolvedAt  *time.Time     `json:"resolved_at"`
}

// VoteRoundResponse exposes a round without any voter identity. An open round
// reports how many ballots were cast; the tally appears once it closes.
type VoteRoundResponse struct {
	ID            string        `json:"id"`
	TaskID        string        `json:"task_id"`
	Status        string        `json:"status"`
	Outcome       *string       `json:"outcome"`
	EligibleCount int           `json:"eligible_count"`
	CastCount     int           `json:"cast_count"`
	Tally         *domain.Tally `json:"tally,omitempty"`
	OpenedAt      time.Time     `json:"opened_at"`
	ClosesAt      *time.Time    `json:"closes_at"`
	ClosedAt      *time.Time    `json:"closed_at"`
}

// SwapResponse represents a takeover record.
type SwapResponse struct {
	ID                 string    `json:"id"`
	OriginalAssigneeID string    `json:"original_assignee_id"`
	CompleterID        string    `json:"completer_id"`
	WeekBucket         string    `json:"week_bucket"`
	WasOverdue         bool      `json:"was_overdue"`
	CreditedTo         *string   `json:"credited_to"`
	Confirmed          bool      `json:"confirmed"`
	CompletedAt        time.Time `json:"completed_at"`
}

// ClaimResponse represents the response for claim and takeover.
type ClaimResponse struct {
	Task         TaskResponse      `json:"task"`
	Log          TaskLogResponse   `json:"log"`
	Verification WorkflowResponse  `json:"verification"`
	Swap         *SwapResponse     `json:"swap,omitempty"`
	Confirmation *WorkflowResponse `json:"confirmation,omitempty"`
}

// ResolveResponse represents the response for a workflow resolution.
type ResolveResponse struct {
	Workflow  WorkflowResponse   `json:"workflow"`
	Task      TaskResponse       `json:"task"`
	VoteRound *VoteRoundResponse `json:"vote_round,omitempty"`
}

// BatchItemResponse is one entry of a batch resolution.
type BatchItemResponse struct {
	WorkflowID string           `json:"workflow_id"`
	Result     *ResolveResponse `json:"result,omitempty"`
	Error      *ErrorDetail     `json:"error,omitempty"`
}

// BatchResolveResponse represents the response for POST /workflows/batch-resolve.
type BatchResolveResponse struct {
	Items  []BatchItemResponse `json:"items"`
	Total  int                 `json:"total"`
	Failed int                 `json:"failed"`
}

// VoteResponse represents the response for POST /rounds/:id/votes.
type VoteResponse struct {
	Round VoteRoundResponse `json:"round"`
	Task  TaskResponse      `json:"task"`
}

// SweepResponse reports the effect of a maintenance command.
type SweepResponse struct {
	Count      int `json:"count"`
	Overdue    int `json:"overdue,omitempty"`
	NextCycles int `json:"next_cycles,omitempty"`
}

// CommandResponse wraps the result of POST /commands.
type CommandResponse struct {
	Kind   string `json:"kind"`
	Result any    `json:"result"`
}

// StatsResponse represents the household leaderboard.
type StatsResponse struct {
	Period       string             `json:"period"`
	PeriodStart  time.Time          `json:"period_start"`
	PeriodEnd    time.Time          `json:"period_end"`
	Participants []ParticipantStats `json:"participants"`
}

// ParticipantStats represents statistics for a single participant.
type ParticipantStats struct {
	ParticipantID   string `json:"participant_id"`
	ParticipantName string `json:"participant_name"`
	Points          int    `json:"points"`
	TasksCredited   int    `json:"tasks_credited"`
	TakeoversDone   int    `json:"takeovers_done"`
}

// ToTaskResponse converts domain.Task to TaskResponse.
func ToTaskResponse(task *domain.Task, now time.Time) TaskResponse {
	return TaskResponse{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		Recurrence:  task.Recurrence,
		AssigneeID:  task.AssigneeID,
		State:       string(task.State),
		Points:      task.Points,
		DeadlineAt:  task.DeadlineAt,
		IsOverdue:   task.State == domain.TaskStateTodo && task.IsOverdueAt(now),
		CompletedAt: task.CompletedAt,
		ArchivedAt:  task.ArchivedAt,
		CreatedBy:   task.CreatedBy,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
	}
}

// ToTaskLogResponse converts domain.TaskLog to TaskLogResponse.
func ToTaskLogResponse(log *domain.TaskLog) TaskLogResponse {
	return TaskLogResponse{
		ID:                 log.ID,
		ClaimantID:         log.ClaimantID,
		ClaimedAt:          log.ClaimedAt,
		Note:               log.Note,
		IsTakeover:         log.IsTakeover,
		OriginalAssigneeID: log.OriginalAssigneeID,
		OriginalDeadlineAt: log.OriginalDeadlineAt,
		Disposition:        string(log.Disposition),
		VerifiedAt:         log.VerifiedAt,
		CreditedTo:         log.CreditedTo,
	}
}

// ToEventResponse converts domain.Event to EventResponse.
func ToEventResponse(event *domain.Event) EventResponse {
	return EventResponse{
		ID:        event.ID,
		Type:      string(event.Type),
		ActorID:   event.ActorID,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
	}
}

// ToTaskHistoryResponse converts service.TaskHistory to TaskHistoryResponse.
func ToTaskHistoryResponse(h *service.TaskHistory, now time.Time) TaskHistoryResponse {
	resp := TaskHistoryResponse{
		Task:   ToTaskResponse(h.Task, now),
		Logs:   make([]TaskLogResponse, len(h.Logs)),
		Events: make([]EventResponse, len(h.Events)),
	}
	for i, log := range h.Logs {
		resp.Logs[i] = ToTaskLogResponse(log)
	}
	for i, event := range h.Events {
		resp.Events[i] = ToEventResponse(event)
	}
	return resp
}

// ToWorkflowResponse converts domain.Workflow to WorkflowResponse.
func ToWorkflowResponse(wf *domain.Workflow) WorkflowResponse {
	return WorkflowResponse{
		ID:          wf.ID,
		Type:        string(wf.Type),
		RequesterID: wf.RequesterID,
		TargetID:    wf.TargetID,
		TargetLabel: wf.TargetLabel,
		Status:      string(wf.Status),
		ResolverID:  wf.ResolverID,
		Reason:      wf.Reason,
		Metadata:    wf.Metadata,
		CreatedAt:   wf.CreatedAt,
		ExpiresAt:   wf.ExpiresAt,
		ResolvedAt:  wf.ResolvedAt,
	}
}

// ToWorkflowsResponse converts a slice of workflows.
func ToWorkflowsResponse(workflows []*domain.Workflow) []WorkflowResponse {
	resp := make([]WorkflowResponse, len(workflows))
	for i, wf := range workflows {
		resp[i] = ToWorkflowResponse(wf)
	}
	return resp
}

// ToVoteRoundResponse converts domain.VoteRound to VoteRoundResponse.
func ToVoteRoundResponse(round *domain.VoteRound) VoteRoundResponse {
	var outcome *string
	if round.Outcome != nil {
		o := string(*round.Outcome)
		outcome = &o
	}

	resp := VoteRoundResponse{
		ID:            round.ID,
		TaskID:        round.TaskID,
		Status:        string(round.Status),
		Outcome:       outcome,
		EligibleCount: len(round.EligibleVoters),
		CastCount:     round.CastCount,
		OpenedAt:      round.OpenedAt,
		ClosesAt:      round.ClosesAt,
		ClosedAt:      round.ClosedAt,
	}
	if round.Status == domain.RoundStatusClosed {
		tally := round.Tally
		resp.Tally = &tally
	}
	return resp
}

// ToSwapResponse converts domain.SwapRecord to SwapResponse.
func ToSwapResponse(swap *domain.SwapRecord) SwapResponse {
	return SwapResponse{
		ID:                 swap.ID,
		OriginalAssigneeID: swap.OriginalAssigneeID,
		CompleterID:        swap.CompleterID,
		WeekBucket:         swap.WeekBucket,
		WasOverdue:         swap.WasOverdue,
		CreditedTo:         swap.CreditedTo,
		Confirmed:          swap.Confirmed,
		CompletedAt:        swap.CompletedAt,
	}
}

// ToClaimResponse converts service.ClaimResult to ClaimResponse.
func ToClaimResponse(res *service.ClaimResult, now time.Time) ClaimResponse {
	resp := ClaimResponse{
		Task:         ToTaskResponse(res.Task, now),
		Log:          ToTaskLogResponse(res.Log),
		Verification: ToWorkflowResponse(res.Verification),
	}
	if res.Swap != nil {
		swap := ToSwapResponse(res.Swap)
		resp.Swap = &swap
	}
	if res.Confirmation != nil {
		wf := ToWorkflowResponse(res.Confirmation)
		resp.Confirmation = &wf
	}
	return resp
}

// ToResolveResponse converts service.ResolveResult to ResolveResponse.
func ToResolveResponse(res *service.ResolveResult, now time.Time) ResolveResponse {
	resp := ResolveResponse{
		Workflow: ToWorkflowResponse(res.Workflow),
		Task:     ToTaskResponse(res.Task, now),
	}
	if res.VoteRound != nil {
		round := ToVoteRoundResponse(res.VoteRound)
		resp.VoteRound = &round
	}
	return resp
}

// ToBatchResolveResponse converts batch items, mapping each failure like a single request would be.
func ToBatchResolveResponse(items []service.BatchItem, now time.Time) BatchResolveResponse {
	resp := BatchResolveResponse{
		Items: make([]BatchItemResponse, len(items)),
		Total: len(items),
	}
	for i, item := range items {
		entry := BatchItemResponse{WorkflowID: item.WorkflowID}
		if item.Err != nil {
			_, code, message := MapDomainError(item.Err)
			entry.Error = &ErrorDetail{Code: code, Message: message}
			resp.Failed++
		} else if item.Result != nil {
			r := ToResolveResponse(item.Result, now)
			entry.Result = &r
		}
		resp.Items[i] = entry
	}
	return resp
}

// ToVoteResponse converts service.VoteResult to VoteResponse.
func ToVoteResponse(res *service.VoteResult, now time.Time) VoteResponse {
	return VoteResponse{
		Round: ToVoteRoundResponse(res.Round),
		Task:  ToTaskResponse(res.Task, now),
	}
}

// ToParticipantStats converts leaderboard rows.
func ToParticipantStats(stats []repository.ParticipantStats) []ParticipantStats {
	resp := make([]ParticipantStats, len(stats))
	for i, stat := range stats {
		resp[i] = ParticipantStats{
			ParticipantID:   stat.ParticipantID,
			ParticipantName: stat.ParticipantName,
			Points:          stat.Points,
			TasksCredited:   stat.TasksCredited,
			TakeoversDone:   stat.TakeoversDone,
		}
	}
	return resp
}
