package handler

import (
	"net/http"
	"time"

	"github.com/mtlprog/chorequorum/internal/handler/dto"
	"github.com/mtlprog/chorequorum/internal/repository"
)

// handleGetStats returns the household leaderboard.
//
// Query parameters: period (day, week (default), month, all) and participant_id.
func (h *Handler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	participant, ok := currentParticipant(w, r)
	if !ok {
		return
	}

	// Parse period parameter
	query := r.URL.Query()
	period := query.Get("period")
	if period == "" {
		period = "week"
	}

	// Calculate period boundaries
	now := h.now()
	var periodStart time.Time
	switch period {
	case "day":
		periodStart = now.AddDate(0, 0, -1)
	case "week":
		periodStart = now.AddDate(0, 0, -7)
	case "month":
		periodStart = now.AddDate(0, -1, 0)
	case "all":
		periodStart = time.Time{} // Beginning of time
	default:
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid period, must be: day, week, month, all")
		return
	}

	var participantFilter *string
	if id := query.Get("participant_id"); id != "" {
		participantFilter = &id
	}

	stats, err := h.taskService.Leaderboard(r.Context(), repository.StatsFilters{
		HouseholdID:   participant.HouseholdID,
		PeriodStart:   periodStart,
		PeriodEnd:     now,
		ParticipantID: participantFilter,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.StatsResponse{
		Period:       period,
		PeriodStart:  periodStart,
		PeriodEnd:    now,
		Participants: dto.ToParticipantStats(stats),
	})
}
