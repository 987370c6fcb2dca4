package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/AJM432/racing/pkg/apperr"
)

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
}

const (
	kindBadRequest  = "BadRequest"
	kindRateLimited = "RateLimited"
	kindInternal    = "Internal"
)

// statusOf maps an error kind to its HTTP status
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidName, apperr.KindInvalidStartPos, apperr.KindInvalidTime, apperr.KindDecodeFailure:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		body := errorBody{Error: appErr.Message, Kind: appErr.Kind.String(), Field: appErr.Field}
		if appErr.Kind == apperr.KindStorage {
			body.Error = "storage unavailable"
		}
		h.writeJSON(w, statusOf(appErr.Kind), body)
		return
	}

	if errors.Is(err, context.Canceled) {
		// client went away
		return
	}
	h.logger.Error("unhandled error", err)
	h.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Kind: kindInternal})
}

func (h *Handler) badRequest(w http.ResponseWriter, message string) {
	h.writeJSON(w, http.StatusBadRequest, errorBody{Error: message, Kind: kindBadRequest})
}
