package echo

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	app "github.com/mohammadpnp/roster-import/internal/application/user"
	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	"github.com/mohammadpnp/roster-import/internal/infrastructure/file"
	"github.com/sirupsen/logrus"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type apiResponse struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{app.ErrInvalidImportSource, http.StatusBadRequest, "invalid_source"},
	{app.ErrInvalidGroup, http.StatusBadRequest, "invalid_group"},
	{file.ErrContentMismatch, http.StatusBadRequest, "content_mismatch"},
	{app.ErrReadImportSource, http.StatusUnprocessableEntity, "unreadable_source"},
	{domain.ErrEmptySource, http.StatusUnprocessableEntity, "empty_source"},
	{domain.ErrLimitExceeded, http.StatusRequestEntityTooLarge, "limit_exceeded"},
	{app.ErrInvalidUserID, http.StatusBadRequest, "invalid_user_id"},
	{app.ErrUserNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrBatchNotFound, http.StatusNotFound, "batch_not_found"},
	{domain.ErrRowNotFound, http.StatusNotFound, "row_not_found"},
	{domain.ErrJobNotFound, http.StatusNotFound, "job_not_found"},
	{domain.ErrUnknownGroup, http.StatusNotFound, "unknown_group"},
	{domain.ErrBatchLocked, http.StatusConflict, "batch_locked"},
	{domain.ErrNothingSelected, http.StatusConflict, "nothing_selected"},
	{domain.ErrJobNotRunning, http.StatusConflict, "job_not_running"},
	{domain.ErrJobNotCompleted, http.StatusConflict, "job_not_completed"},
	{domain.ErrNothingCommitted, http.StatusConflict, "nothing_committed"},
	{domain.ErrRollbackNotAllowed, http.StatusConflict, "rollback_not_allowed"},
	{domain.ErrRollbackWindowExpired, http.StatusConflict, "rollback_window_expired"},
	{domain.ErrAssignmentsApplied, http.StatusConflict, "assignments_applied"},
	{domain.ErrRollbackFailure, http.StatusInternalServerError, "rollback_incomplete"},
	{domain.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
}

func writeError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, apiResponse{Error: &errorBody{Code: code, Message: message}})
}

// respondError maps application errors to a status code and error envelope.
// Unknown errors are logged and answered with fallback.
func respondError(c echo.Context, err error, fallback string) error {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return writeError(c, httpErr.Code, "bad_request", "invalid request")
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "invalid_request",
			Message: "request failed validation",
			Details: fieldErrors(verrs),
		}})
	}

	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		body := &errorBody{Code: m.code, Message: err.Error()}

		var limitErr *domain.LimitError
		var rbErr *domain.RollbackError
		switch {
		case errors.As(err, &limitErr):
			body.Details = map[string]any{
				"limit":  limitErr.Limit,
				"max":    limitErr.Max,
				"actual": limitErr.Actual,
			}
		case errors.As(err, &rbErr):
			body.Details = rbErr.Failures
		}
		return c.JSON(m.status, apiResponse{Error: body})
	}

	logrus.WithFields(logrus.Fields{
		"component":  "http",
		"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
		"path":       c.Path(),
	}).WithError(err).Error(fallback)
	return writeError(c, http.StatusInternalServerError, "internal_error", fallback)
}
