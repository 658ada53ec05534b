package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"attendflow/internal/apiclient"
	"attendflow/internal/attendance"
	"attendflow/internal/report"
)

// APIError is the body of every failed response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error APIError `json:"error"`
}

func fail(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorBody{Error: APIError{Code: code, Message: msg}})
}

// respondError maps domain and upstream errors to HTTP responses. Messages the
// backend sent are passed through verbatim.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var apiErr *apiclient.Error
	switch {
	case errors.Is(err, attendance.ErrNotLoaded):
		fail(c, http.StatusServiceUnavailable, "not_loaded", "records have not been loaded yet")
	case errors.Is(err, attendance.ErrNotFound):
		fail(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, attendance.ErrInvalidStatus),
		errors.Is(err, attendance.ErrInvalidPatch),
		errors.Is(err, attendance.ErrInvalidRecord),
		errors.Is(err, report.ErrUnknownFormat),
		errors.Is(err, report.ErrUnknownKind):
		fail(c, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, attendance.ErrSuperseded):
		fail(c, http.StatusConflict, "superseded", err.Error())
	case errors.Is(err, attendance.ErrNoNotificationTarget):
		fail(c, http.StatusUnprocessableEntity, "no_target", err.Error())
	case errors.Is(err, attendance.ErrNoRecipients):
		fail(c, http.StatusUnprocessableEntity, "no_recipients", err.Error())
	case errors.As(err, &apiErr):
		switch apiErr.Kind {
		case apiclient.KindTransport:
			fail(c, http.StatusBadGateway, "upstream_unreachable", apiErr.Message)
		case apiclient.KindMalformed:
			fail(c, http.StatusBadGateway, "upstream_malformed", "unexpected response from attendance server")
		default:
			status := apiErr.StatusCode
			if status < 400 || status >= 500 {
				status = http.StatusBadGateway
			}
			fail(c, status, "upstream_rejected", apiErr.Message)
		}
	default:
		fail(c, http.StatusInternalServerError, "internal", "internal server error")
	}
}
