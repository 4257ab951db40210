package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/anoncred-broker/internal/serviceerr"
)

// errorBody is the JSON rendering of a failed request.
type errorBody struct {
	Error       serviceerr.Code `json:"error"`
	Status      int             `json:"status"`
	Description string          `json:"description"`
}

// WriteError renders err as JSON. Errors that are not service errors are
// logged and reported as an opaque exception.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var se *serviceerr.Error
	if !errors.As(err, &se) {
		slogctx.Error(r.Context(), "Request failed", slog.String("error", err.Error()))
		se = serviceerr.ErrUnknown
	}

	status := se.HTTPStatus()
	if status >= http.StatusInternalServerError {
		slogctx.Warn(r.Context(), "Request failed", slog.String("code", string(se.Err)), slog.String("error", se.Error()))
	} else {
		slogctx.Debug(r.Context(), "Request rejected", slog.String("code", string(se.Err)), slog.String("error", se.Error()))
	}

	writeJSON(w, r, status, errorBody{
		Error:       se.Err,
		Status:      status,
		Description: se.Description,
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slogctx.Warn(r.Context(), "Writing response failed", slog.String("error", err.Error()))
	}
}

func writeText(w http.ResponseWriter, r *http.Request, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte(body)); err != nil {
		slogctx.Warn(r.Context(), "Writing response failed", slog.String("error", err.Error()))
	}
}
