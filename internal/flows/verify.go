package flows

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/goOTP/internal/stores"
)

// VerifyRequest is a normalized verification attempt. Purpose scopes the
// lookup: a challenge issued for another purpose is treated as unknown.
type VerifyRequest struct {
	Purpose     string
	ChallengeID string
	Code        string
	Phone       string
	Email       string
}

// VerifiedChallenge is a challenge that this call, and only this call,
// flipped to verified.
type VerifiedChallenge struct {
	Record *stores.ChallengeRecord
}

type VerifyMetrics struct {
	OTPVerifySuccess    int
	OTPVerifyFailure    int
	OTPInvalidCode      int
	OTPAttemptsExceeded int
	OTPAlreadyUsed      int
	OTPExpired          int
}

type VerifyEvents struct {
	Verify string
}

type VerifyErrors struct {
	EngineNotReady   error
	Validation       error
	Expired          error
	AlreadyUsed      error
	AttemptsExceeded error
	Unavailable      error
}

type VerifyDeps struct {
	Now func() time.Time

	BeginAttempt func(context.Context, string, string, string, string, time.Time) (*stores.ChallengeRecord, error)
	CompareCode  func(string, string) (bool, error)
	MarkVerified func(context.Context, *stores.ChallengeRecord, time.Time) error

	MapStoreError func(error) error
	InvalidCode   func(int) error

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, string, error, func() map[string]string)

	Metrics VerifyMetrics
	Events  VerifyEvents
	Errors  VerifyErrors
}

// RunVerifyChallenge runs the ordered gates, consumes an attempt, compares
// the code and performs the single-use transition.
func RunVerifyChallenge(ctx context.Context, req VerifyRequest, deps VerifyDeps) (*VerifiedChallenge, error) {
	normalizeVerifyDeps(&deps)

	if deps.BeginAttempt == nil || deps.CompareCode == nil || deps.MarkVerified == nil || deps.InvalidCode == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if req.ChallengeID == "" || req.Code == "" || (req.Phone == "" && req.Email == "") {
		deps.MetricInc(deps.Metrics.OTPVerifyFailure)
		deps.EmitAudit(ctx, deps.Events.Verify, false, "", req.ChallengeID, deps.Errors.Validation, func() map[string]string {
			return map[string]string{
				"purpose": req.Purpose,
				"reason":  "missing_fields",
			}
		})
		return nil, deps.Errors.Validation
	}

	now := deps.Now()
	record, err := deps.BeginAttempt(ctx, req.ChallengeID, req.Purpose, req.Phone, req.Email, now)
	if err != nil {
		mapped := deps.MapStoreError(err)
		deps.MetricInc(deps.Metrics.OTPVerifyFailure)
		switch {
		case errors.Is(mapped, deps.Errors.AttemptsExceeded):
			deps.MetricInc(deps.Metrics.OTPAttemptsExceeded)
		case errors.Is(mapped, deps.Errors.AlreadyUsed):
			deps.MetricInc(deps.Metrics.OTPAlreadyUsed)
		case errors.Is(mapped, deps.Errors.Expired):
			deps.MetricInc(deps.Metrics.OTPExpired)
		}
		deps.EmitAudit(ctx, deps.Events.Verify, false, "", req.ChallengeID, mapped, func() map[string]string {
			return map[string]string{
				"purpose": req.Purpose,
			}
		})
		return nil, mapped
	}

	// The attempt is already counted at this point, so a comparison that
	// errors still costs the caller an attempt.
	match, err := deps.CompareCode(req.Code, record.CodeHash)
	if err != nil {
		deps.MetricInc(deps.Metrics.OTPVerifyFailure)
		deps.EmitAudit(ctx, deps.Events.Verify, false, "", record.ID, deps.Errors.Unavailable, func() map[string]string {
			return map[string]string{
				"purpose": record.Purpose,
				"reason":  "hash_compare_failed",
			}
		})
		return nil, deps.Errors.Unavailable
	}
	if !match {
		remaining := record.MaxAttempts - record.Attempts
		if remaining < 0 {
			remaining = 0
		}
		invalid := deps.InvalidCode(remaining)
		deps.MetricInc(deps.Metrics.OTPVerifyFailure)
		deps.MetricInc(deps.Metrics.OTPInvalidCode)
		deps.EmitAudit(ctx, deps.Events.Verify, false, "", record.ID, invalid, func() map[string]string {
			return map[string]string{
				"purpose":   record.Purpose,
				"attempts":  strconv.Itoa(record.Attempts),
				"remaining": strconv.Itoa(remaining),
			}
		})
		return nil, invalid
	}

	if err := deps.MarkVerified(ctx, record, now); err != nil {
		mapped := deps.MapStoreError(err)
		deps.MetricInc(deps.Metrics.OTPVerifyFailure)
		switch {
		case errors.Is(mapped, deps.Errors.AlreadyUsed):
			deps.MetricInc(deps.Metrics.OTPAlreadyUsed)
		case errors.Is(mapped, deps.Errors.Expired):
			deps.MetricInc(deps.Metrics.OTPExpired)
		}
		deps.EmitAudit(ctx, deps.Events.Verify, false, "", record.ID, mapped, func() map[string]string {
			return map[string]string{
				"purpose": record.Purpose,
				"reason":  "single_use_gate",
			}
		})
		return nil, mapped
	}

	record.Verified = true
	record.VerifiedAt = now
	deps.MetricInc(deps.Metrics.OTPVerifySuccess)
	deps.EmitAudit(ctx, deps.Events.Verify, true, record.RelatedIdentityID, record.ID, nil, func() map[string]string {
		return map[string]string{
			"purpose":  record.Purpose,
			"attempts": strconv.Itoa(record.Attempts),
		}
	})
	return &VerifiedChallenge{Record: record}, nil
}

func normalizeVerifyDeps(deps *VerifyDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if deps.MapStoreError == nil {
		deps.MapStoreError = func(error) error { return deps.Errors.Unavailable }
	}
}
