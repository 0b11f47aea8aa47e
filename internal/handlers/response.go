package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harvestlink/harvestlink-backend/internal/domain/contracts"
	"github.com/harvestlink/harvestlink-backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondServiceError maps domain sentinels onto HTTP statuses. Busy maps to
// 409 so clients retry; an invalid transition is also 409 because the
// contract moved under the caller.
func RespondServiceError(c *gin.Context, err error) {
	if ae := apierr.From(err); ae != nil {
		RespondError(c, ae.Status, ae.Code, err)
		return
	}
	switch {
	case errors.Is(err, contracts.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, contracts.ErrForbidden):
		RespondError(c, http.StatusForbidden, "forbidden", err)
	case errors.Is(err, contracts.ErrValidation):
		RespondError(c, http.StatusBadRequest, "validation", err)
	case errors.Is(err, contracts.ErrBusy):
		RespondError(c, http.StatusConflict, "busy", err)
	case errors.Is(err, contracts.ErrInvalidStateTransition):
		RespondError(c, http.StatusConflict, "invalid_state", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
