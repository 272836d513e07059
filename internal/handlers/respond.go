package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/leadsradar/server/internal/services"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func requestID(r *http.Request) string {
	return services.RequestIDFromContext(r.Context())
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error":      msg,
		"request_id": requestID(r),
	})
}

// statusFor maps a service error kind to its HTTP status
func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	case services.KindInvalidInput:
		return http.StatusBadRequest
	case services.KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case services.KindVersionConflict:
		return http.StatusConflict
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders err. Internal details are logged, never sent.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := services.KindOf(err)
	status := statusFor(kind)

	if kind == services.KindInternal {
		log.Error().Err(err).Str("request_id", requestID(r)).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, r, status, "Internal Server Error")
		return
	}

	msg := http.StatusText(status)
	var se *services.Error
	if errors.As(err, &se) && se.Message != "" {
		msg = se.Message
	}

	body := map[string]interface{}{
		"error":      msg,
		"request_id": requestID(r),
	}
	if fields := services.FieldsOf(err); len(fields) > 0 {
		body["details"] = fields
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a bounded JSON body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}
