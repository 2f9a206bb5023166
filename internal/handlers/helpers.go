package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"trendaware-backend/internal/apperrors"
	"trendaware-backend/internal/middleware"
	"trendaware-backend/internal/models"
)

// StatusClientClosedRequest is the non-standard status used when the caller
// went away before the run finished.
const StatusClientClosedRequest = 499

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: middleware.GetRequestID(r.Context()),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	resp := errorResp(code, message, r)
	resp.Error.Fields = fields
	return resp
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = &apperrors.Error{Kind: apperrors.KindOf(err)}
	}

	switch appErr.Kind {
	case apperrors.KindValidation:
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", appErr.Fields, r))
	case apperrors.KindProviderUnavailable:
		resp := errorResp("PROVIDER_UNAVAILABLE", "This feature is not available right now", r)
		resp.Error.Details = appErr.Message
		writeJSON(w, http.StatusServiceUnavailable, resp)
	case apperrors.KindTimeout:
		writeJSON(w, http.StatusGatewayTimeout, errorResp("TIMEOUT", apperrors.UserMessage(err), r))
	case apperrors.KindRateLimited:
		if d := apperrors.RetryAfterOf(err); d > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int((d+time.Second-1)/time.Second)))
		}
		writeJSON(w, http.StatusTooManyRequests, errorResp("RATE_LIMITED", apperrors.UserMessage(err), r))
	case apperrors.KindStreamProtocol:
		writeJSON(w, http.StatusBadGateway, errorResp("STREAM_ERROR", apperrors.UserMessage(err), r))
	case apperrors.KindPersistence:
		writeJSON(w, http.StatusInternalServerError, errorResp("PERSISTENCE_ERROR", apperrors.UserMessage(err), r))
	case apperrors.KindCancelled:
		writeJSON(w, StatusClientClosedRequest, errorResp("CANCELLED", apperrors.UserMessage(err), r))
	default:
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}

// queryInt parses an integer query parameter, returning def when it is
// missing or malformed.
func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return n
}
