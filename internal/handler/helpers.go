package handler

import (
	"errors"
	"net/http"

	"chatcompose/internal/domain"
	"chatcompose/internal/httputil"
)

// sentinel errors without a typed HTTPError, checked in order
var errorStatuses = []struct {
	err    error
	status int
}{
	{domain.ErrConflict, http.StatusConflict},
	{domain.ErrValidation, http.StatusBadRequest},
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrUnauthorized, http.StatusUnauthorized},
	{domain.ErrForbidden, http.StatusForbidden},
}

// handleError writes the problem response for a service error. Errors the
// domain does not know about are logged and hidden behind a generic 500.
func (h *ChatHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var conflictErr *domain.ConflictError
	if errors.As(err, &conflictErr) {
		httputil.RespondErrorWithExtras(w, http.StatusConflict, conflictErr.Error(), map[string]interface{}{
			"resource_type": conflictErr.ResourceType,
			"resource_id":   conflictErr.ResourceID,
		})
		return
	}

	var httpErr domain.HTTPError
	if errors.As(err, &httpErr) {
		httputil.RespondError(w, httpErr.StatusCode(), err.Error())
		return
	}
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			httputil.RespondError(w, e.status, err.Error())
			return
		}
	}

	h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
}
