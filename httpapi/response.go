package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	goOTP "github.com/MrEthical07/goOTP"
)

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
	Meta    meta      `json:"meta"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code goOTP.Code, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Error: &apiError{
			Code:    string(code),
			Message: localize(r, code),
			Details: details,
		},
		Meta: buildMeta(r),
	})
}

// writeEngineError maps an engine error to its status and attaches the
// detail a client can act on.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code := goOTP.ErrorCode(err)

	var details map[string]any
	if retry, ok := goOTP.RetryAfter(err); ok {
		secs := int(retry.Round(time.Second) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		details = map[string]any{"retryAfterSeconds": secs}
	}
	if remaining, ok := goOTP.RemainingAttempts(err); ok {
		details = map[string]any{"remainingAttempts": remaining}
	}
	if reason := goOTP.SendFailureReason(err); reason != "" {
		details = map[string]any{"reason": reason}
		var sendErr *goOTP.SendError
		if errors.As(err, &sendErr) && sendErr.ChallengeID != "" {
			details["otpId"] = sendErr.ChallengeID
		}
	}

	if details == nil {
		writeError(w, r, statusFor(code, err), code, nil)
		return
	}
	writeError(w, r, statusFor(code, err), code, details)
}

func statusFor(code goOTP.Code, err error) int {
	switch code {
	case goOTP.CodeValidation, goOTP.CodeContactMismatch:
		return http.StatusBadRequest
	case goOTP.CodeInvalidCode, goOTP.CodeUnauthorized:
		return http.StatusUnauthorized
	case goOTP.CodeForbidden, goOTP.CodeMaxAttemptsExceeded:
		return http.StatusForbidden
	case goOTP.CodeNotFound:
		return http.StatusNotFound
	case goOTP.CodeAlreadyUsed:
		return http.StatusConflict
	case goOTP.CodeExpired:
		return http.StatusGone
	case goOTP.CodeRateLimited:
		return http.StatusTooManyRequests
	case goOTP.CodeSendFailed:
		return http.StatusBadGateway
	}
	if errors.Is(err, goOTP.ErrUnavailable) || errors.Is(err, goOTP.ErrEngineNotReady) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}
