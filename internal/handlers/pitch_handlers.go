package handlers

import (
	"net/http"

	"github.com/leadsradar/server/internal/services"
)

type PitchHandler struct {
	gateway *services.PitchGateway
}

func NewPitchHandler(gateway *services.PitchGateway) *PitchHandler {
	return &PitchHandler{gateway: gateway}
}

// GeneratePitch drafts an outreach message for a lead
// POST /api/v1/leads/{id}/pitch
func (h *PitchHandler) GeneratePitch(w http.ResponseWriter, r *http.Request) {
	leadID, userID, ok := leadParams(w, r)
	if !ok {
		return
	}

	var input struct {
		Tone string `json:"tone"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &input) {
		return
	}

	res, err := h.gateway.Generate(r.Context(), leadID, userID, input.Tone)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"pitch":     res.Pitch,
		"remaining": res.RemainingDaily,
	})
}
