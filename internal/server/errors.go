package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/groblegark/coop/internal/session"
	"github.com/groblegark/coop/internal/wire"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: msg}})
}

// writeSessionError maps loop sentinels onto the error envelope.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrExited):
		writeError(w, http.StatusConflict, wire.CodeExited, "agent has exited")
	case errors.Is(err, session.ErrSwitchInProgress):
		writeError(w, http.StatusConflict, wire.CodeSwitchInProgress, "a credential switch is already pending")
	case errors.Is(err, session.ErrAgentBusy):
		writeError(w, http.StatusConflict, wire.CodeAgentBusy, "agent is busy")
	case errors.Is(err, session.ErrNoPrompt):
		writeError(w, http.StatusConflict, wire.CodeNoPrompt, "no active prompt")
	case errors.Is(err, session.ErrBadRespond):
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, err.Error())
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusConflict, wire.CodeExited, "agent has exited")
	default:
		writeError(w, http.StatusInternalServerError, wire.CodeInternal, err.Error())
	}
}
