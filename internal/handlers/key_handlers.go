package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/leadsradar/server/internal/services"
)

type KeyHandler struct {
	keys *services.KeyStore
}

func NewKeyHandler(keys *services.KeyStore) *KeyHandler {
	return &KeyHandler{keys: keys}
}

// CreateKey issues a new webhook API key. The full key is only returned here.
// POST /api/v1/keys
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var input struct {
		Name          string `json:"name"`
		ExpiresInDays *int   `json:"expires_in_days"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	issued, err := h.keys.Issue(r.Context(), userID, input.Name, input.ExpiresInDays)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":    true,
		"key":        issued.FullKey,
		"prefix":     issued.Prefix,
		"id":         issued.ID,
		"expires_at": issued.ExpiresAt,
	})
}

// ListKeys returns the caller's keys without secrets
// GET /api/v1/keys
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	keys, err := h.keys.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, keys)
}

// RevokeKey revokes one of the caller's keys
// DELETE /api/v1/keys/{id}
func (h *KeyHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	keyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid key ID")
		return
	}

	if err := h.keys.Revoke(r.Context(), userID, keyID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
