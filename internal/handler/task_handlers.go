package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/mtlprog/chorequorum/internal/domain"
	"github.com/mtlprog/chorequorum/internal/handler/dto"
	"github.com/mtlprog/chorequorum/internal/repository"
	"github.com/mtlprog/chorequorum/internal/service"
)

// handleCreateTask creates a new task in TODO.
func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	participant, ok := currentParticipant(w, r)
	if !ok {
		return
	}

	var req dto.CreateTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" || len(title) > 200 {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title must be between 1 and 200 characters")
		return
	}

	task, err := h.taskService.CreateTask(ctx, service.CreateTaskInput{
		HouseholdID: participant.HouseholdID,
		CreatedBy:   participant.ID,
		Title:       title,
		Description: req.Description,
		Recurrence:  req.Recurrence,
		AssigneeID:  req.AssigneeID,
		Points:      req.Points,
		DeadlineAt:  req.DeadlineAt,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToTaskResponse(task, h.now()))
}

// handleGetTask returns one task.
func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	participant, ok := currentParticipant(w, r)
	if !ok {
		return
	}
	taskID, ok := extractID(w, r, "task")
	if !ok {
		return
	}

	task, err := h.taskService.GetTask(r.Context(), participant.HouseholdID, taskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskResponse(task, h.now()))
}

// handleTaskHistory returns the claims and audit events of a task.
func (h *Handler) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	participant, ok := currentParticipant(w, r)
	if !ok {
		return
	}
	taskID, ok := extractID(w, r, "task")
	if !ok {
		return
	}

	history, err := h.taskService.GetTaskHistory(r.Context(), participant.HouseholdID, taskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskHistoryResponse(history, h.now()))
}

// handleTaskWorkflows returns the pending workflows of a task.
func (h *Handler) handleTaskWorkflows(w http.ResponseWriter, r *http.Request) {
	participant, ok := currentParticipant(w, r)
	if !ok {
		return
	}
	taskID, ok := extractID(w, r, "task")
	if !ok {
		return
	}

	workflows, err := h.taskService.ListPendingWorkflows(r.Context(), participant.HouseholdID, taskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToWorkflowsResponse(workflows))
}

// handleClaimTask asserts that a TODO task has been done.
func (h *Handler) handleClaimTask(w http.ResponseWriter, r *http.Request) {
	participant, ok := currentParticipant(w, r)
	if !ok {
		return
	}
	taskID, ok := extractID(w, r, "task")
	if !ok {
		return
	}

	var req dto.ClaimTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.taskService.Claim(r.Context(), service.ClaimInput{
		TaskID:     taskID,
		ClaimantID: participant.ID,
		Note:       req.Note,
		IsTakeover: req.IsTakeover,
		VerifierID: req.VerifierID,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToClaimResponse(res, h.now()))
}

// handleTakeoverTask claims a task assigned to somebody else.
func (h *Handler) handleTakeoverTask(w http.ResponseWriter, r *http.Request) {
	participant, ok := currentParticipant(w, r)
	if !ok {
		return
	}
	taskID, ok := extractID(w, r, "task")
	if !ok {
		return
	}

	var req dto.TakeoverTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.taskService.Takeover(r.Context(), service.TakeoverInput{
		TaskID:             taskID,
		OriginalAssigneeID: req.OriginalAssigneeID,
		CompleterID:        participant.ID,
		Note:               req.Note,
		VerifierID:         req.VerifierID,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToClaimResponse(res, h.now()))
}

// handleForceReopen moves a deadlocked task back to TODO.
func (h *Handler) handleForceReopen(w http.ResponseWriter, r *http.Request) {
	participant, ok := currentParticipant(w, r)
	if !ok {
		return
	}
	taskID, ok := extractID(w, r, "task")
	if !ok {
		return
	}

	var req dto.ReasonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "reason is required")
		return
	}

	task, err := h.taskService.ForceReopen(r.Context(), service.ForceReopenInput{
		TaskID:  taskID,
		ActorID: participant.ID,
		Reason:  req.Reason,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskResponse(task, h.now()))
}

// handleRequestDeletion opens a deletion workflow for a task.
func (h *Handler) handleRequestDeletion(w http.ResponseWriter, r *http.Request) {
	participant, ok := currentParticipant(w, r)
	if !ok {
		return
	}
	taskID, ok := extractID(w, r, "task")
	if !ok {
		return
	}

	var req dto.ReasonRequest
	if !decodeBody(w, r, &req) {
		return
	}

	wf, err := h.taskService.RequestDeletion(r.Context(), service.DeletionInput{
		TaskID:      taskID,
		RequesterID: participant.ID,
		Reason:      req.Reason,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToWorkflowResponse(wf))
}

// handleListTasks returns a list of tasks with filters.
//
// Query parameters: state (comma-separated), assignee ("me" or a participant id),
// unassigned, overdue, archived, sort (e.g. "-deadline_at,title"), limit (1-200) and offset.
func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	participant, ok := currentParticipant(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	now := h.now()

	filter := repository.TaskFilter{
		HouseholdID:     participant.HouseholdID,
		Unassigned:      query.Get("unassigned") == "true",
		IncludeArchived: query.Get("archived") == "true",
		Limit:           50,
	}

	if stateParam := query.Get("state"); stateParam != "" {
		for _, s := range splitAndTrim(stateParam, ",") {
			state := domain.TaskState(strings.ToUpper(s))
			if !state.IsValid() {
				respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid state: "+s)
				return
			}
			filter.States = append(filter.States, state)
		}
	}

	if assigneeParam := query.Get("assignee"); assigneeParam != "" {
		if assigneeParam == "me" {
			filter.AssigneeID = &participant.ID
		} else {
			filter.AssigneeID = &assigneeParam
		}
	}

	if query.Get("overdue") == "true" {
		filter.States = []domain.TaskState{domain.TaskStateTodo}
		filter.DeadlineBefore = &now
	}

	if sortParam := query.Get("sort"); sortParam != "" {
		filter.Sort = splitAndTrim(sortParam, ",")
	}

	if limitParam := query.Get("limit"); limitParam != "" {
		if n, err := strconv.Atoi(limitParam); err == nil && n > 0 && n <= 200 {
			filter.Limit = n
		}
	}
	if offsetParam := query.Get("offset"); offsetParam != "" {
		if n, err := strconv.Atoi(offsetParam); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	results, total, err := h.taskService.ListTasks(r.Context(), filter)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	tasks := make([]dto.TaskResponse, len(results))
	for i, task := range results {
		tasks[i] = dto.ToTaskResponse(task, now)
	}

	respondJSON(w, http.StatusOK, dto.TasksListResponse{
		Tasks:  tasks,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// splitAndTrim splits a string by separator and trims whitespace from each part.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
