package helpers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"eventregistration/internal/domain"
	"eventregistration/internal/requestid"
)

// Error codes for API error responses. Use these with WriteJSONError.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeForbidden          = "forbidden"
	ErrCodeNotFound           = "not_found"
	ErrCodeConflict           = "conflict"
	ErrCodeNoSlots            = "no_available_slots"
	ErrCodeInvalidCode        = "invalid_code"
	ErrCodeExpiredCode        = "expired_code"
	ErrCodeRaceLost           = "concurrent_update"
	ErrCodeTooManyRequests    = "too_many_requests"
	ErrCodeInternalError      = "internal_error"
	ErrCodeServiceUnavailable = "service_unavailable"
)

// APIError is the error object in the standardized API response envelope.
// swagger:model APIError
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// APIResponse is the standardized envelope for all API responses.
// On success: Data is set, Error is nil. On error: Data is nil, Error is set.
// swagger:model APIResponse
type APIResponse struct {
	Data  any       `json:"data"`
	Error *APIError `json:"error"`
}

// WriteJSONSuccess sets Content-Type to application/json, writes statusCode, and
// encodes an APIResponse with the given data and error set to nil.
func WriteJSONSuccess(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(APIResponse{Data: data, Error: nil})
}

// WriteJSONError sets Content-Type to application/json, writes statusCode, and
// encodes an APIResponse with data nil and the given error code and message.
func WriteJSONError(w http.ResponseWriter, statusCode int, code, message string) {
	writeError(w, statusCode, &APIError{Code: code, Message: message})
}

func writeError(w http.ResponseWriter, statusCode int, apiErr *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(APIResponse{Data: nil, Error: apiErr})
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: CapacityReductionError unwraps to ErrValidation, and the more
// specific sentinels are checked before it.
var errorMappings = []errorMapping{
	{domain.ErrCapacityExhausted, http.StatusBadRequest, ErrCodeNoSlots},
	{domain.ErrInvalidCode, http.StatusBadRequest, ErrCodeInvalidCode},
	{domain.ErrExpiredCode, http.StatusBadRequest, ErrCodeExpiredCode},
	{domain.ErrConflict, http.StatusBadRequest, ErrCodeConflict},
	{domain.ErrRaceLost, http.StatusBadRequest, ErrCodeRaceLost},
	{domain.ErrValidation, http.StatusBadRequest, ErrCodeBadRequest},
	{domain.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
	{domain.ErrForbidden, http.StatusForbidden, ErrCodeForbidden},
	{domain.ErrTooManyAttempts, http.StatusTooManyRequests, ErrCodeTooManyRequests},
}

// WriteServiceError maps a service error onto the envelope. Known domain errors
// keep their message; anything else is logged and answered with a generic 500
// carrying the request id.
func WriteServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			WriteJSONError(w, m.status, m.code, PublicMessage(err, m.target))
			return
		}
	}
	ctx := r.Context()
	if errors.Is(err, context.DeadlineExceeded) {
		logger.WarnContext(ctx, "request timed out", "path", r.URL.Path, "method", r.Method, "err", err)
		writeError(w, http.StatusServiceUnavailable, &APIError{
			Code:      ErrCodeServiceUnavailable,
			Message:   "request timed out, please retry",
			RequestID: requestid.FromContext(ctx),
		})
		return
	}
	logger.ErrorContext(ctx, "request failed", "path", r.URL.Path, "method", r.Method, "err", err)
	writeError(w, http.StatusInternalServerError, &APIError{
		Code:      ErrCodeInternalError,
		Message:   "internal server error",
		RequestID: requestid.FromContext(ctx),
	})
}

// PublicMessage strips the sentinel prefix a service added with
// fmt.Errorf("%w: detail"), leaving the human readable detail.
func PublicMessage(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return msg
}
