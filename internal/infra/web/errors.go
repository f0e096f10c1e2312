package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"codepolish/internal/domain"
)

type rpcError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter *int   `json:"retryAfter,omitempty"`
}

// errorStatus maps a domain error to its HTTP status and wire code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		return http.StatusNotFound, "SUBSCRIPTION_NOT_FOUND"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, "INSUFFICIENT_CREDITS"
	case errors.Is(err, domain.ErrTooManyRequests):
		return http.StatusTooManyRequests, "TOO_MANY_REQUESTS"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrBillingDisabled):
		return http.StatusPreconditionFailed, "PRECONDITION_FAILED"
	default:
		return http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	body := rpcError{Code: code, Message: err.Error()}

	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		secs := rl.RetryAfterSeconds()
		body.RetryAfter = &secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if status == http.StatusInternalServerError {
		s.logger(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		body.Message = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
