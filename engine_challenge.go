package goOTP

import (
	"context"
	"strings"
	"time"

	"github.com/MrEthical07/goOTP/internal"
	internalflows "github.com/MrEthical07/goOTP/internal/flows"
	"github.com/MrEthical07/goOTP/internal/stores"
)

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

func (e *Engine) requestChallenge(ctx context.Context, req internalflows.ChallengeRequest) (*ChallengeIssued, error) {
	issued, err := e.flows.RequestChallenge(ctx, req)
	if err != nil {
		return nil, err
	}

	masked := internal.MaskPhone(req.Phone)
	if issued.Channel == stores.ChannelSecondary {
		masked = internal.MaskEmail(req.Email)
	}

	return &ChallengeIssued{
		OTPID:              issued.ID,
		Purpose:            Purpose(issued.Purpose),
		SentVia:            DeliveryChannel(issued.Channel),
		ExpiresAt:          issued.ExpiresAt,
		ExpiresIn:          issued.ExpiresAt.Sub(issued.CreatedAt),
		MaskedContact:      masked,
		RelatedRecordCount: issued.RelatedRecordCount,
	}, nil
}

func (e *Engine) verifyAndIssue(ctx context.Context, req internalflows.VerifyRequest) (*SessionGrant, error) {
	if req.ChallengeID != "" && !internal.ValidChallengeID(req.ChallengeID) {
		e.metricInc(MetricOTPVerifyFailure)
		e.emitAudit(ctx, auditEventOTPVerify, false, "", "", ErrChallengeNotFound, func() map[string]string {
			return map[string]string{
				"purpose": req.Purpose,
				"reason":  "malformed_id",
			}
		})
		return nil, ErrChallengeNotFound
	}

	start := time.Now()
	issued, err := e.flows.VerifyAndIssue(ctx, req)
	e.metrics.Observe(MetricVerifyLatency, time.Since(start))
	if err != nil {
		return nil, err
	}

	now := e.now()
	return &SessionGrant{
		AccessToken:   issued.Token,
		SubjectID:     issued.SubjectID,
		IsNewIdentity: issued.IsNewIdentity,
		Purpose:       Purpose(issued.Purpose),
		ExpiresAt:     issued.ExpiresAt,
		ExpiresIn:     issued.ExpiresAt.Sub(now).Truncate(time.Second),
	}, nil
}

// rejectRequest records a request that failed contact normalization before
// reaching the flow.
func (e *Engine) rejectRequest(ctx context.Context, event string, purpose Purpose, reason string) error {
	e.metricInc(MetricOTPRequestFailure)
	e.emitAudit(ctx, event, false, "", "", ErrValidation, func() map[string]string {
		return map[string]string{
			"purpose": string(purpose),
			"reason":  reason,
		}
	})
	return ErrValidation
}

// normalizeContacts returns the canonical phone and email. Empty inputs stay
// empty; the reason names the first malformed field.
func normalizeContacts(phone, email string) (string, string, string) {
	var err error
	phone, email = strings.TrimSpace(phone), strings.TrimSpace(email)
	if phone != "" {
		if phone, err = internal.NormalizePhone(phone); err != nil {
			return "", "", "invalid_phone"
		}
	}
	if email != "" {
		if email, err = internal.NormalizeEmail(email); err != nil {
			return "", "", "invalid_email"
		}
	}
	return phone, email, ""
}
