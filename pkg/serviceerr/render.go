package serviceerr

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

// Write renders err as a JSON error body. Errors that are not *Error are
// reported as InternalError without exposing their text.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = Wrap(InternalError, "internal error", err)
	}

	requestID := e.RequestID
	if requestID == "" {
		requestID = middleware.GetReqID(r.Context())
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	w.Header().Set("X-Request-Id", requestID)
	render.Status(r, e.HTTPStatus())
	render.JSON(w, r, wireError{
		Type:      e.wireCode(),
		Message:   e.Message,
		RequestID: requestID,
	})
}
