package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"screen-recorder/internal/encoders"
	"screen-recorder/internal/media"
	"screen-recorder/internal/monitor"
	"screen-recorder/internal/session"
	"screen-recorder/pkg/models"
)

func writeError(w http.ResponseWriter, status int, code string, message string, details any) {
	if code == "" {
		code = http.StatusText(status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.ErrorResponse{Error: models.ErrorDetail{Code: code, Message: message, Details: details}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeSessionError maps session errors to status codes. Expected conditions
// answer 409 so callers can act on the code.
func writeSessionError(w http.ResponseWriter, err error) {
	var setupErr *session.SetupError
	var exhausted *encoders.EncoderExhaustedError
	switch {
	case errors.Is(err, session.ErrNeedCaptureGrant):
		writeError(w, http.StatusConflict, "need_capture_grant", err.Error(), nil)
	case errors.Is(err, session.ErrNeedRecorderSetup):
		writeError(w, http.StatusConflict, "need_recorder_setup", err.Error(), nil)
	case errors.Is(err, session.ErrGrantDenied):
		writeError(w, http.StatusForbidden, "grant_denied", err.Error(), nil)
	case errors.Is(err, monitor.ErrInsufficientSpace):
		writeError(w, http.StatusInsufficientStorage, "insufficient_space", err.Error(), nil)
	case errors.As(err, &setupErr):
		var details map[string]any
		if errors.As(err, &exhausted) {
			details = map[string]any{"mime_type": exhausted.MimeType, "available": exhausted.Available}
		}
		writeError(w, http.StatusUnprocessableEntity, "setup_failed", err.Error(), details)
	case errors.Is(err, media.ErrUnknownCodec):
		writeError(w, http.StatusBadRequest, "unknown_codec", err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
	}
}
