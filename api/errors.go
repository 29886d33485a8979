package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskpulse/domain"
)

var errDuplicateRequest = errors.New("duplicate idempotency key")

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func authError(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrAuthorization, err)
}

// statusForError maps an error to its HTTP status and wire kind.
func statusForError(err error) (int, string) {
	if errors.Is(err, errDuplicateRequest) {
		return http.StatusConflict, "duplicate"
	}
	switch kind := domain.Kind(err); kind {
	case "validation":
		return http.StatusBadRequest, kind
	case "not_found":
		return http.StatusNotFound, kind
	case "authorization":
		return http.StatusUnauthorized, kind
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(c echo.Context, err error) (int, error) {
	status, kind := statusForError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.Path()).Error("request failed")
		msg = "internal error"
	}
	return status, c.JSON(status, errorResponse{Error: kind, Message: msg})
}
