package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/services"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 50 * time.Second
)

type LeadHandler struct {
	leads    *services.LeadStore
	feed     *services.LeadFeed
	upgrader websocket.Upgrader
}

func NewLeadHandler(leads *services.LeadStore, feed *services.LeadFeed, origins []string) *LeadHandler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &LeadHandler{
		leads: leads,
		feed:  feed,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin] || allowed["*"]
			},
		},
	}
}

func leadParams(w http.ResponseWriter, r *http.Request) (leadID, userID uuid.UUID, ok bool) {
	userID, ok = GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, uuid.Nil, false
	}
	leadID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid lead ID")
		return uuid.Nil, uuid.Nil, false
	}
	return leadID, userID, true
}

// UpdateStatus moves a lead to another board column
// PATCH /api/v1/leads/{id}/status
func (h *LeadHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	leadID, userID, ok := leadParams(w, r)
	if !ok {
		return
	}

	var input struct {
		Status  models.LeadStatus `json:"status"`
		Version int64             `json:"version"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	version, err := h.leads.UpdateStatus(r.Context(), leadID, userID, input.Status, input.Version)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"version": version,
	})
}

// DeleteLead soft-deletes a lead
// DELETE /api/v1/leads/{id}
func (h *LeadHandler) DeleteLead(w http.ResponseWriter, r *http.Request) {
	leadID, userID, ok := leadParams(w, r)
	if !ok {
		return
	}

	var input struct {
		Version int64 `json:"version"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	version, err := h.leads.Delete(r.Context(), leadID, userID, input.Version)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"version": version,
	})
}

// Stream pushes the caller's lead events over a WebSocket
// GET /api/v1/leads/stream
func (h *LeadHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		log.Warn().Err(err).Msg("Lead stream upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.feed.Subscribe(userID)
	defer h.feed.Unsubscribe(sub)

	log.Info().Str("user_id", userID.String()).Msg("Lead stream opened")

	// Configure KeepAlive
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})

	// The client never sends anything useful; reading only detects close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(streamPingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			log.Info().Str("user_id", userID.String()).Msg("Lead stream closed")
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				log.Warn().Err(err).Msg("Lead stream write failed")
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
