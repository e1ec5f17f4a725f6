package handler

import (
	"errors"
	"net/http"

	"github.com/mtlprog/chorequorum/internal/domain"
	"github.com/mtlprog/chorequorum/internal/handler/dto"
	"github.com/mtlprog/chorequorum/internal/service"
)

// handleGetWorkflow returns one workflow.
func (h *Handler) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	participant, ok := currentParticipant(w, r)
	if !ok {
		return
	}
	workflowID, ok := extractID(w, r, "workflow")
	if !ok {
		return
	}

	wf, err := h.taskService.GetWorkflow(r.Context(), participant.HouseholdID, workflowID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToWorkflowResponse(wf))
}

// handleResolveWorkflow approves or rejects a workflow.
func (h *Handler) handleResolveWorkflow(w http.ResponseWriter, r *http.Request) {
	participant, ok := currentParticipant(w, r)
	if !ok {
		return
	}
	workflowID, ok := extractID(w, r, "workflow")
	if !ok {
		return
	}

	var req dto.ResolveWorkflowRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.taskService.ResolveWorkflow(r.Context(), service.ResolveInput{
		WorkflowID: workflowID,
		ResolverID: participant.ID,
		Decision:   domain.Decision(req.Decision),
		Reason:     req.Reason,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToResolveResponse(res, h.now()))
}

// handleBatchResolve applies one decision to many workflows. Partial failures are
// reported per item with 207 Multi-Status.
func (h *Handler) handleBatchResolve(w http.ResponseWriter, r *http.Request) {
	participant, ok := currentParticipant(w, r)
	if !ok {
		return
	}

	var req dto.BatchResolveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	items, err := h.taskService.BatchResolve(r.Context(), service.BatchResolveInput{
		WorkflowIDs: req.WorkflowIDs,
		ResolverID:  participant.ID,
		Decision:    domain.Decision(req.Decision),
		Reason:      req.Reason,
	})

	var batchErr *domain.BatchError
	if err != nil && !errors.As(err, &batchErr) {
		respondDomainError(w, err)
		return
	}

	status := http.StatusOK
	if batchErr != nil {
		status = http.StatusMultiStatus
	}
	respondJSON(w, status, dto.ToBatchResolveResponse(items, h.now()))
}

// handleCancelWorkflow lets the requester withdraw a pending workflow.
func (h *Handler) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	participant, ok := currentParticipant(w, r)
	if !ok {
		return
	}
	workflowID, ok := extractID(w, r, "workflow")
	if !ok {
		return
	}

	var req dto.ReasonRequest
	if !decodeBody(w, r, &req) {
		return
	}

	wf, err := h.taskService.CancelWorkflow(r.Context(), service.CancelInput{
		WorkflowID:  workflowID,
		RequesterID: participant.ID,
		Reason:      req.Reason,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToWorkflowResponse(wf))
}

// handleGetRound returns a vote round. Only the tally describes the ballots.
func (h *Handler) handleGetRound(w http.ResponseWriter, r *http.Request) {
	participant, ok := currentParticipant(w, r)
	if !ok {
		return
	}
	roundID, ok := extractID(w, r, "round")
	if !ok {
		return
	}

	round, err := h.taskService.GetVoteRound(r.Context(), participant.HouseholdID, roundID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToVoteRoundResponse(round))
}

// handleCastVote records a ballot.
func (h *Handler) handleCastVote(w http.ResponseWriter, r *http.Request) {
	participant, ok := currentParticipant(w, r)
	if !ok {
		return
	}
	roundID, ok := extractID(w, r, "round")
	if !ok {
		return
	}

	var req dto.VoteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.taskService.CastVote(r.Context(), service.VoteInput{
		RoundID: roundID,
		VoterID: participant.ID,
		Choice:  domain.VoteChoice(req.Choice),
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToVoteResponse(res, h.now()))
}
