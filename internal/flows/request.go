package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goOTP/internal/delivery"
	"github.com/MrEthical07/goOTP/internal/stores"
)

// ChallengeRequest is a normalized request to issue (or re-issue) a code.
type ChallengeRequest struct {
	Purpose string
	Phone   string
	Email   string
	// Target is stores.TargetPhone or stores.TargetEmail.
	Target string
	// SecondaryOnly skips the primary channel even when a phone is present.
	SecondaryOnly bool
	// NoFallback keeps Email on the challenge but never sends the code there.
	NoFallback bool
	Resend     bool

	// RequireRelatedRecords refuses to issue a challenge for a phone that
	// has no records in the host system.
	RequireRelatedRecords bool
	OrderNumber           string
}

// ChallengeIssued is what the request path learns about a new challenge.
type ChallengeIssued struct {
	ID                 string
	Purpose            string
	Target             string
	Channel            string
	CreatedAt          time.Time
	ExpiresAt          time.Time
	SupersededID       string
	RelatedRecordCount int
	RelatedIdentityID  string
	PrimaryTimedOut    bool
}

type RequestMetrics struct {
	OTPRequest        int
	OTPResend         int
	OTPRequestFailure int
	OTPSuperseded     int
	DeliveryPrimary   int
	DeliverySecondary int
	DeliveryFallback  int
	DeliveryFailure   int
}

type RequestEvents struct {
	Request  string
	Resend   string
	Delivery string
}

type RequestErrors struct {
	EngineNotReady   error
	Validation       error
	RateLimited      error
	NoRelatedRecords error
	Unavailable      error
}

type RequestDeps struct {
	CodeDigits      int
	MaxAttempts     int
	RecordRetention time.Duration

	ChallengeTTL        func(string) time.Duration
	Now                 func() time.Time
	ClientIPFromContext func(context.Context) string

	CheckLimiter        func(context.Context, string, string, string, bool) (time.Duration, error)
	CountRelatedRecords func(context.Context, string, string) (int, error)
	FindIdentityID      func(context.Context, string, string) (string, error)
	ContactDigest       func(string) string

	GenerateCode    func(int) (string, error)
	NewChallengeID  func() (string, error)
	HashCode        func(string) (string, error)
	CreateChallenge func(context.Context, *stores.ChallengeRecord, time.Duration) (string, error)
	Deliver         func(context.Context, delivery.Target, string) (delivery.Outcome, error)

	MapLimiterError func(error, time.Duration) error
	MapStoreError   func(error) error
	SendFailed      func(string, error) error

	MetricInc     func(int)
	EmitAudit     func(context.Context, string, bool, string, string, error, func() map[string]string)
	EmitRateLimit func(context.Context, string, func() map[string]string)

	Metrics RequestMetrics
	Events  RequestEvents
	Errors  RequestErrors
}

// RunRequestChallenge throttles, creates and delivers a challenge. A challenge
// whose delivery fails stays stored; the error from SendFailed carries its id.
func RunRequestChallenge(ctx context.Context, req ChallengeRequest, deps RequestDeps) (*ChallengeIssued, error) {
	normalizeRequestDeps(&deps)

	event := deps.Events.Request
	scope := "otp_request"
	if req.Resend {
		event = deps.Events.Resend
		scope = "otp_resend"
	}

	if deps.CreateChallenge == nil || deps.Deliver == nil || deps.HashCode == nil || deps.CheckLimiter == nil {
		return nil, deps.Errors.EngineNotReady
	}

	contact := req.Phone
	if req.Target == stores.TargetEmail {
		contact = req.Email
	}
	if reason := validateChallengeRequest(req, contact); reason != "" {
		deps.MetricInc(deps.Metrics.OTPRequestFailure)
		deps.EmitAudit(ctx, event, false, "", "", deps.Errors.Validation, func() map[string]string {
			return map[string]string{
				"purpose": req.Purpose,
				"reason":  reason,
			}
		})
		return nil, deps.Errors.Validation
	}
	if req.RequireRelatedRecords && deps.CountRelatedRecords == nil {
		return nil, deps.Errors.EngineNotReady
	}

	retryAfter, err := deps.CheckLimiter(ctx, req.Purpose, contact, deps.ClientIPFromContext(ctx), req.Resend)
	if err != nil {
		mapped := deps.MapLimiterError(err, retryAfter)
		deps.MetricInc(deps.Metrics.OTPRequestFailure)
		deps.EmitAudit(ctx, event, false, "", "", mapped, func() map[string]string {
			return map[string]string{
				"purpose": req.Purpose,
				"target":  req.Target,
			}
		})
		if errors.Is(mapped, deps.Errors.RateLimited) {
			deps.EmitRateLimit(ctx, scope, func() map[string]string {
				return map[string]string{
					"purpose":     req.Purpose,
					"contact":     deps.ContactDigest(contact),
					"retry_after": retryAfter.String(),
				}
			})
		}
		return nil, mapped
	}

	related := 0
	if req.RequireRelatedRecords {
		n, err := deps.CountRelatedRecords(ctx, req.Phone, req.OrderNumber)
		if err != nil {
			if isContextError(err) {
				return nil, err
			}
			deps.MetricInc(deps.Metrics.OTPRequestFailure)
			deps.EmitAudit(ctx, event, false, "", "", deps.Errors.Unavailable, func() map[string]string {
				return map[string]string{
					"purpose": req.Purpose,
					"reason":  "record_lookup_failed",
				}
			})
			return nil, deps.Errors.Unavailable
		}
		if n <= 0 {
			deps.MetricInc(deps.Metrics.OTPRequestFailure)
			deps.EmitAudit(ctx, event, false, "", "", deps.Errors.NoRelatedRecords, func() map[string]string {
				return map[string]string{
					"purpose":      req.Purpose,
					"order_filter": boolString(req.OrderNumber != ""),
				}
			})
			return nil, deps.Errors.NoRelatedRecords
		}
		related = n
	}

	// The related identity is informational; a lookup failure does not block
	// issuing the challenge.
	relatedIdentity := ""
	if deps.FindIdentityID != nil {
		if id, err := deps.FindIdentityID(ctx, req.Target, contact); err == nil {
			relatedIdentity = id
		}
	}

	code, err := deps.GenerateCode(deps.CodeDigits)
	if err != nil {
		return nil, deps.Errors.Unavailable
	}
	challengeID, err := deps.NewChallengeID()
	if err != nil {
		return nil, deps.Errors.Unavailable
	}
	codeHash, err := deps.HashCode(code)
	if err != nil {
		return nil, deps.Errors.Unavailable
	}

	now := deps.Now()
	record := &stores.ChallengeRecord{
		ID:                challengeID,
		Purpose:           req.Purpose,
		Target:            req.Target,
		Phone:             req.Phone,
		Email:             req.Email,
		CodeHash:          codeHash,
		MaxAttempts:       deps.MaxAttempts,
		CreatedAt:         now,
		ExpiresAt:         now.Add(deps.ChallengeTTL(req.Purpose)),
		DeliveryChannel:   stores.ChannelNone,
		RelatedIdentityID: relatedIdentity,
	}

	superseded, err := deps.CreateChallenge(ctx, record, deps.RecordRetention)
	if err != nil {
		mapped := deps.MapStoreError(err)
		deps.MetricInc(deps.Metrics.OTPRequestFailure)
		deps.EmitAudit(ctx, event, false, relatedIdentity, challengeID, mapped, func() map[string]string {
			return map[string]string{
				"purpose": req.Purpose,
				"reason":  "challenge_store_failed",
			}
		})
		return nil, mapped
	}
	if superseded != "" {
		deps.MetricInc(deps.Metrics.OTPSuperseded)
	}

	secondary := req.Email
	if req.NoFallback && req.Target == stores.TargetPhone {
		secondary = ""
	}
	outcome, err := deps.Deliver(ctx, delivery.Target{
		ChallengeID: challengeID,
		Primary:     req.Phone,
		Secondary:   secondary,
		SkipPrimary: req.SecondaryOnly || req.Target == stores.TargetEmail,
	}, code)
	if err != nil {
		sendErr := deps.SendFailed(challengeID, err)
		deps.MetricInc(deps.Metrics.DeliveryFailure)
		deps.MetricInc(deps.Metrics.OTPRequestFailure)
		deps.EmitAudit(ctx, deps.Events.Delivery, false, relatedIdentity, challengeID, sendErr, func() map[string]string {
			return map[string]string{
				"purpose":           req.Purpose,
				"primary_timed_out": boolString(outcome.PrimaryTimedOut),
			}
		})
		return nil, sendErr
	}

	switch outcome.Channel {
	case delivery.ChannelPrimary:
		deps.MetricInc(deps.Metrics.DeliveryPrimary)
	case delivery.ChannelSecondary:
		deps.MetricInc(deps.Metrics.DeliverySecondary)
		if outcome.PrimaryErr != nil {
			deps.MetricInc(deps.Metrics.DeliveryFallback)
		}
	}
	deps.EmitAudit(ctx, deps.Events.Delivery, true, relatedIdentity, challengeID, nil, func() map[string]string {
		return map[string]string{
			"purpose":           req.Purpose,
			"channel":           outcome.Channel,
			"primary_timed_out": boolString(outcome.PrimaryTimedOut),
		}
	})

	if req.Resend {
		deps.MetricInc(deps.Metrics.OTPResend)
	} else {
		deps.MetricInc(deps.Metrics.OTPRequest)
	}
	deps.EmitAudit(ctx, event, true, relatedIdentity, challengeID, nil, func() map[string]string {
		m := map[string]string{
			"purpose": req.Purpose,
			"target":  req.Target,
		}
		if superseded != "" {
			m["superseded"] = superseded
		}
		return m
	})

	return &ChallengeIssued{
		ID:                 challengeID,
		Purpose:            req.Purpose,
		Target:             req.Target,
		Channel:            outcome.Channel,
		CreatedAt:          record.CreatedAt,
		ExpiresAt:          record.ExpiresAt,
		SupersededID:       superseded,
		RelatedRecordCount: related,
		RelatedIdentityID:  relatedIdentity,
		PrimaryTimedOut:    outcome.PrimaryTimedOut,
	}, nil
}

func validateChallengeRequest(req ChallengeRequest, contact string) string {
	switch {
	case req.Purpose == "":
		return "missing_purpose"
	case req.Target != stores.TargetPhone && req.Target != stores.TargetEmail:
		return "invalid_target"
	case contact == "":
		return "missing_contact"
	case req.SecondaryOnly && req.Email == "":
		return "missing_secondary_contact"
	case req.RequireRelatedRecords && req.Phone == "":
		return "missing_phone"
	}
	return ""
}

func normalizeRequestDeps(deps *RequestDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.ChallengeTTL == nil {
		deps.ChallengeTTL = func(string) time.Duration { return 5 * time.Minute }
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 3
	}
	if deps.CodeDigits <= 0 {
		deps.CodeDigits = 6
	}
	if deps.ContactDigest == nil {
		deps.ContactDigest = func(string) string { return "" }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if deps.EmitRateLimit == nil {
		deps.EmitRateLimit = func(context.Context, string, func() map[string]string) {}
	}
	if deps.MapLimiterError == nil {
		deps.MapLimiterError = func(error, time.Duration) error { return deps.Errors.Unavailable }
	}
	if deps.MapStoreError == nil {
		deps.MapStoreError = func(error) error { return deps.Errors.Unavailable }
	}
	if deps.SendFailed == nil {
		deps.SendFailed = func(_ string, err error) error { return err }
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
