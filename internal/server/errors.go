package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/54b3r/ragctx-go/internal/contexts"
	"github.com/54b3r/ragctx-go/internal/errkind"
	"github.com/54b3r/ragctx-go/internal/logging"
)

// maxJSONBody bounds JSON request bodies. Uploads use Config.MaxUploadBytes.
const maxJSONBody = 8 << 20

// statusOf maps an error to the HTTP status reported to the client.
func statusOf(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, contexts.ErrProtected):
		return http.StatusForbidden
	}
	switch errkind.Of(err) {
	case errkind.Input:
		return http.StatusBadRequest
	case errkind.NotFound:
		return http.StatusNotFound
	case errkind.Conflict, errkind.NotInitialized:
		return http.StatusConflict
	case errkind.DimensionMismatch:
		return http.StatusUnprocessableEntity
	case errkind.Provider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an errorResponse.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

// writeErr logs err and writes it with the status its kind maps to. Server
// faults are logged at ERROR, client faults at WARN.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	kind := errkind.Of(err)
	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.String("kind", string(kind)), slog.Any("error", err))
	} else {
		log.Warn("request rejected", slog.String("kind", string(kind)), slog.Any("error", err))
	}
	writeError(w, status, string(kind), err.Error())
}

// decodeJSON decodes a bounded JSON body into v. Failures carry the input kind.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", errkind.ErrInput)
		}
		return fmt.Errorf("%w: invalid request body: %v", errkind.ErrInput, err)
	}
	return nil
}
