package httpapi

import (
	"errors"
	"net/http"

	apperrors "gitlab.com/polisuite/api/agency-crm-service/internal/apperrors"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Retry   bool   `json:"retry,omitempty"`
}

type apiResponse struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

// mapError translates domain errors into an HTTP status and response body.
// Contended seat locks come back 409 with a retry hint; seat limit violations
// are a plain 400 since retrying cannot help.
func mapError(err error) (int, errorBody) {
	switch {
	case errors.Is(err, apperrors.ErrLockUnavailable):
		return http.StatusConflict, errorBody{
			Code:    "lock_unavailable",
			Message: "another invitation request is in progress for this agency, retry shortly",
			Retry:   true,
		}
	case errors.Is(err, apperrors.ErrSeatLimitExceeded):
		return http.StatusBadRequest, errorBody{Code: "seat_limit_exceeded", Message: err.Error()}
	case errors.Is(err, apperrors.ErrInvalidEmail):
		return http.StatusBadRequest, errorBody{Code: "invalid_email", Message: err.Error()}
	case errors.Is(err, apperrors.ErrEmptyInput):
		return http.StatusBadRequest, errorBody{Code: "empty_input", Message: err.Error()}
	case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrBadRequest):
		return http.StatusBadRequest, errorBody{Code: "bad_request", Message: err.Error()}
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized, errorBody{Code: "unauthorized", Message: "authentication required"}
	case errors.Is(err, apperrors.ErrPermissionDenied):
		return http.StatusForbidden, errorBody{Code: "permission_denied", Message: err.Error()}
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, errorBody{Code: "not_found", Message: err.Error()}
	case errors.Is(err, apperrors.ErrDuplicate), errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, errorBody{Code: "conflict", Message: err.Error()}
	case errors.Is(err, apperrors.ErrTimeout):
		return http.StatusGatewayTimeout, errorBody{Code: "timeout", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Code: "internal_error", Message: "internal server error"}
	}
}
