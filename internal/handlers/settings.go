package handlers

import (
	"net/http"

	"github.com/leadsradar/server/internal/services"
)

type SettingsHandler struct {
	profiles *services.ProfileService
}

func NewSettingsHandler(profiles *services.ProfileService) *SettingsHandler {
	return &SettingsHandler{profiles: profiles}
}

// GetProfile returns the caller's settings
// GET /api/v1/profile
func (h *SettingsHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	profile, err := h.profiles.Get(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UpdateProfile changes the bio used for pitches and the alert webhook
// PUT /api/v1/profile
func (h *SettingsHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var input services.ProfileUpdate
	if !decodeJSON(w, r, &input) {
		return
	}

	profile, err := h.profiles.Update(r.Context(), userID, input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
