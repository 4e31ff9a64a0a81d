package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"async-inference-ledger/internal/domain"
	"async-inference-ledger/internal/infra/logging"
)

// Stable error codes returned in the "code" field.
const (
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeNotFound            = "NOT_FOUND"
	CodeDuplicate           = "DUPLICATE_SUBMISSION"
	CodeRateLimited         = "RATE_LIMITED"
	CodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	CodeDispatchFailed      = "DISPATCH_FAILED"
	CodePostDispatch        = "POST_DISPATCH_FAILURE"
	CodePollingTimedOut     = "POLLING_TIMED_OUT"
	CodeInternal            = "INTERNAL"
)

type errorBody struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: apiError{Code: code, Message: msg}})
}

// errorStatus maps domain sentinels onto an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrModelNotFound),
		errors.Is(err, domain.ErrUnknownProvider):
		return http.StatusBadRequest, CodeInvalidArgument
	case errors.Is(err, domain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, CodeInsufficientCredits
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, domain.ErrDuplicateSubmission):
		return http.StatusConflict, CodeDuplicate
	case errors.Is(err, domain.ErrDispatchFailed):
		return http.StatusBadGateway, CodeDispatchFailed
	case errors.Is(err, domain.ErrPostDispatch):
		return http.StatusInternalServerError, CodePostDispatch
	case errors.Is(err, domain.ErrPollingTimedOut):
		return http.StatusGatewayTimeout, CodePollingTimedOut
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeDomainError hides internal error text behind a generic message.
func writeDomainError(ctx context.Context, logger *zerolog.Logger, w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status >= 500 {
		logging.With(ctx, logger).Error().Err(err).Str("code", code).Msg("request failed")
		if code == CodeInternal {
			msg = "internal error"
		}
	}
	writeError(w, status, code, msg)
}
