package goOTP

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation is returned for missing or malformed contacts and fields.
	ErrValidation = errors.New("validation failed")
	// ErrRateLimited is the sentinel behind every [RateLimitError].
	ErrRateLimited = errors.New("otp rate limited")
	// ErrSendFailed is the sentinel behind every [SendError].
	ErrSendFailed = errors.New("otp delivery failed")
	// ErrSendTimeout means the primary channel missed its deadline and no
	// secondary contact was available.
	ErrSendTimeout = fmt.Errorf("%w: timeout", ErrSendFailed)
	// ErrNoSecondaryChannel means the primary channel failed (or was not
	// usable) and no secondary contact was available.
	ErrNoSecondaryChannel = fmt.Errorf("%w: no secondary channel", ErrSendFailed)
	// ErrSecondaryFailed means the fallback send failed too.
	ErrSecondaryFailed = fmt.Errorf("%w: secondary channel failed", ErrSendFailed)

	ErrChallengeNotFound   = errors.New("otp challenge not found")
	ErrContactMismatch     = errors.New("otp contact mismatch")
	ErrChallengeExpired    = errors.New("otp challenge expired")
	ErrAlreadyUsed         = errors.New("otp challenge already used")
	ErrMaxAttemptsExceeded = errors.New("otp max attempts exceeded")
	// ErrInvalidCode is the sentinel behind every [VerifyError].
	ErrInvalidCode = errors.New("invalid otp code")

	// ErrNoRelatedRecords is returned by tracking requests for a phone with
	// no records in the host system.
	ErrNoRelatedRecords = errors.New("no related records for contact")

	// ErrTokenInvalid covers bad signatures, expiry and malformed tokens.
	ErrTokenInvalid = errors.New("invalid session token")
	// ErrPurposeMismatch is returned when a well-formed token was issued for
	// another purpose.
	ErrPurposeMismatch = errors.New("session token purpose mismatch")

	// ErrUnavailable hides infrastructure failures from callers.
	ErrUnavailable = errors.New("otp backend unavailable")
	// ErrEngineNotReady is an exported constant or variable used by the otp engine.
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrIdentityNotFound must be returned by [IdentityRepository] lookups
	// that find nothing.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrIdentityConflict must be returned by [IdentityRepository.CreateGuest]
	// when the phone or email is already taken.
	ErrIdentityConflict = errors.New("identity already exists")
)

// RateLimitError carries how long the caller should wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// VerifyError is returned for a wrong code and reports how many attempts
// the challenge has left.
type VerifyError struct {
	Remaining int
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("%v: %d attempts remaining", ErrInvalidCode, e.Remaining)
}

func (e *VerifyError) Unwrap() error { return ErrInvalidCode }

// SendError is returned when no channel delivered the code. The challenge
// was stored anyway; ChallengeID names it so a caller can resend.
type SendError struct {
	ChallengeID string
	Err         error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%v (challenge %s)", e.Err, e.ChallengeID)
}

func (e *SendError) Unwrap() error { return e.Err }

// Reason returns the machine-readable delivery failure reason.
func (e *SendError) Reason() string {
	return SendFailureReason(e)
}

// Code is the machine-readable error category exposed to clients.
type Code string

const (
	CodeValidation          Code = "VALIDATION"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeSendFailed          Code = "SEND_FAILED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeContactMismatch     Code = "CONTACT_MISMATCH"
	CodeExpired             Code = "EXPIRED"
	CodeAlreadyUsed         Code = "ALREADY_USED"
	CodeMaxAttemptsExceeded Code = "MAX_ATTEMPTS_EXCEEDED"
	CodeInvalidCode         Code = "INVALID_CODE"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeInternal            Code = "INTERNAL"
)

// ErrorCode maps err to its client-facing category. Unknown errors map to
// CodeInternal.
func ErrorCode(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrSendFailed):
		return CodeSendFailed
	case errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrNoRelatedRecords):
		return CodeNotFound
	case errors.Is(err, ErrContactMismatch):
		return CodeContactMismatch
	case errors.Is(err, ErrChallengeExpired):
		return CodeExpired
	case errors.Is(err, ErrAlreadyUsed):
		return CodeAlreadyUsed
	case errors.Is(err, ErrMaxAttemptsExceeded):
		return CodeMaxAttemptsExceeded
	case errors.Is(err, ErrInvalidCode):
		return CodeInvalidCode
	case errors.Is(err, ErrTokenInvalid):
		return CodeUnauthorized
	case errors.Is(err, ErrPurposeMismatch):
		return CodeForbidden
	default:
		return CodeInternal
	}
}

// SendFailureReason returns "timeout", "no_secondary_channel" or
// "secondary_failed" for delivery errors and "" for anything else.
func SendFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrSendTimeout):
		return "timeout"
	case errors.Is(err, ErrNoSecondaryChannel):
		return "no_secondary_channel"
	case errors.Is(err, ErrSecondaryFailed):
		return "secondary_failed"
	default:
		return ""
	}
}

// RetryAfter extracts the wait duration from a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// RemainingAttempts extracts the attempts left from an invalid code error.
func RemainingAttempts(err error) (int, bool) {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Remaining, true
	}
	return 0, false
}
