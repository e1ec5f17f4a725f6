package handler

import (
	"errors"
	"net/http"

	"github.com/mtlprog/chorequorum/internal/command"
	"github.com/mtlprog/chorequorum/internal/domain"
	"github.com/mtlprog/chorequorum/internal/handler/dto"
)

// handleCommand accepts any participant command as {"kind": ..., "args": {...}}.
// The actor is always the authenticated participant; maintenance sweeps are not
// reachable from here.
func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	participant, ok := currentParticipant(w, r)
	if !ok {
		return
	}

	var req dto.CommandRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cmd, err := command.Decode(command.Kind(req.Kind), req.Args, participant.HouseholdID, participant.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	res, err := h.dispatcher.Dispatch(r.Context(), cmd)
	var batchErr *domain.BatchError
	if err != nil && !errors.As(err, &batchErr) {
		respondDomainError(w, err)
		return
	}

	status := http.StatusOK
	if batchErr != nil {
		status = http.StatusMultiStatus
	}
	respondJSON(w, status, dto.CommandResponse{
		Kind:   string(res.Kind),
		Result: h.commandResult(res),
	})
}

// commandResult picks the response body matching the command kind.
func (h *Handler) commandResult(res *command.Result) any {
	now := h.now()
	switch {
	case res.Claim != nil:
		return dto.ToClaimResponse(res.Claim, now)
	case res.Resolve != nil:
		return dto.ToResolveResponse(res.Resolve, now)
	case res.Batch != nil:
		return dto.ToBatchResolveResponse(res.Batch, now)
	case res.Vote != nil:
		return dto.ToVoteResponse(res.Vote, now)
	case res.Workflow != nil:
		return dto.ToWorkflowResponse(res.Workflow)
	case res.Task != nil:
		return dto.ToTaskResponse(res.Task, now)
	case res.Due != nil:
		return dto.SweepResponse{
			Count:      res.Due.Overdue + res.Due.NextCycles,
			Overdue:    res.Due.Overdue,
			NextCycles: res.Due.NextCycles,
		}
	default:
		return dto.SweepResponse{Count: res.Count}
	}
}
