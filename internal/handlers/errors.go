package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"redmansion/internal/apperr"
	"redmansion/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func respondWithError(w http.ResponseWriter, log *logger.Logger, status int, userMsg, code string, err error) {
	if err != nil && log != nil {
		if status >= http.StatusInternalServerError {
			log.Error(userMsg, "status", status, "error", err)
		} else {
			log.Debug(userMsg, "status", status, "error", err)
		}
	}
	respondJSON(w, status, errorResponse{Error: userMsg, Code: code})
}

// respondWithAppError maps an apperr kind to its HTTP status. Internal
// failures never leak their cause to the client.
func respondWithAppError(w http.ResponseWriter, log *logger.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)

	msg := ErrInternalServerError
	if status < http.StatusInternalServerError {
		msg = clientMessage(err)
	}
	respondWithError(w, log, status, msg, kind.String(), err)
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.InvalidArgument:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.AlreadyCompleted, apperr.DuplicateContent:
		return http.StatusConflict
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.UpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage drops the operation prefix from an apperr message
func clientMessage(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}
