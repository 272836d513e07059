package handlers

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/services"
)

const APIKeyHeader = "X-API-Key"

type WebhookHandler struct {
	keys     *services.KeyStore
	limiter  *services.RateLimiter
	ingestor *services.Ingestor
}

func NewWebhookHandler(keys *services.KeyStore, limiter *services.RateLimiter, ingestor *services.Ingestor) *WebhookHandler {
	return &WebhookHandler{
		keys:     keys,
		limiter:  limiter,
		ingestor: ingestor,
	}
}

// HandleTwitter ingests one lead delivered by an automation tool
// POST /api/webhooks/twitter
func (h *WebhookHandler) HandleTwitter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	presented := r.Header.Get(APIKeyHeader)
	if presented == "" {
		writeError(w, r, http.StatusUnauthorized, "Missing API key")
		return
	}

	verification, err := h.keys.Verify(ctx, presented)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !verification.Valid {
		writeError(w, r, http.StatusUnauthorized, "Invalid API key")
		return
	}

	decision, err := h.limiter.CheckAndIncrement(ctx, verification.UserID, models.ResourceWebhookIngestion)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("X-RateLimit-Remaining-Hourly", strconv.Itoa(decision.RemainingHourly))
	w.Header().Set("X-RateLimit-Remaining-Daily", strconv.Itoa(decision.RemainingDaily))
	if !decision.Allowed {
		writeError(w, r, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	// A body that cannot be read is still recorded as a rejected delivery
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	bodyError := ""
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			bodyError = fmt.Sprintf("too large, limit is %d bytes", tooLarge.Limit)
		} else {
			bodyError = "could not be read"
		}
	}

	res, err := h.ingestor.Ingest(ctx, services.IngestRequest{
		UserID:     verification.UserID,
		APIKeyID:   verification.KeyID,
		RequestID:  requestID(r),
		RawPayload: body,
		IPAddress:  clientIP(r),
		BodyError:  bodyError,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"lead_id":    res.LeadID,
		"created":    res.Created,
		"request_id": requestID(r),
	})
}

// clientIP strips the port from RemoteAddr, which RealIP has already
// rewritten from proxy headers.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
