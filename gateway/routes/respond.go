package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"saferecovery/safe/delay"
	"saferecovery/safe/reconcile"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	payload, err := json.Marshal(body)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	payload, _ := json.Marshal(map[string]string{"error": message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// writeRecoveryError maps engine errors onto HTTP statuses.
func writeRecoveryError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusForError(err), err)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, reconcile.ErrInvalidTarget), errors.Is(err, reconcile.ErrInvalidCurrent):
		return http.StatusBadRequest
	case errors.Is(err, delay.ErrIndexerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, delay.ErrChainRead), errors.Is(err, delay.ErrInvalidModuleState):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
