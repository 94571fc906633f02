package goOTP

import (
	"context"
	"errors"
)

const (
	auditEventOTPRequest         = "otp_request"
	auditEventOTPResend          = "otp_resend"
	auditEventOTPDelivery        = "otp_delivery"
	auditEventOTPVerify          = "otp_verify"
	auditEventSessionIssued      = "session_issued"
	auditEventSessionRejected    = "session_rejected"
	auditEventIdentityCreated    = "identity_created"
	auditEventRateLimitTriggered = "rate_limit_triggered"
)

// AuditErrorCode is the error label attached to failed audit events.
type AuditErrorCode string

const (
	auditErrValidation       AuditErrorCode = "validation"
	auditErrRateLimited      AuditErrorCode = "rate_limited"
	auditErrSendTimeout      AuditErrorCode = "send_timeout"
	auditErrNoSecondary      AuditErrorCode = "no_secondary_channel"
	auditErrSecondaryFailed  AuditErrorCode = "secondary_failed"
	auditErrNotFound         AuditErrorCode = "not_found"
	auditErrNoRelatedRecords AuditErrorCode = "no_related_records"
	auditErrContactMismatch  AuditErrorCode = "contact_mismatch"
	auditErrExpired          AuditErrorCode = "expired"
	auditErrAlreadyUsed      AuditErrorCode = "already_used"
	auditErrAttemptsExceeded AuditErrorCode = "attempts_exceeded"
	auditErrInvalidCode      AuditErrorCode = "invalid_code"
	auditErrInvalidToken     AuditErrorCode = "invalid_token"
	auditErrPurposeMismatch  AuditErrorCode = "purpose_mismatch"
	auditErrUnavailable      AuditErrorCode = "backend_unavailable"
	auditErrCanceled         AuditErrorCode = "canceled"
	auditErrInternal         AuditErrorCode = "internal_error"
)

// emitAudit pulls "purpose" out of the metadata into the event itself.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subjectID string,
	challengeID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	purpose := metadata["purpose"]
	delete(metadata, "purpose")
	if len(metadata) == 0 {
		metadata = nil
	}

	event := AuditEvent{
		Timestamp:   e.now().UTC(),
		EventType:   eventType,
		Purpose:     purpose,
		ChallengeID: challengeID,
		SubjectID:   subjectID,
		IP:          ClientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(
	ctx context.Context,
	scope string,
	metadataBuilder func() map[string]string,
) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrSendTimeout):
		return auditErrSendTimeout
	case errors.Is(err, ErrNoSecondaryChannel):
		return auditErrNoSecondary
	case errors.Is(err, ErrSecondaryFailed):
		return auditErrSecondaryFailed
	case errors.Is(err, ErrChallengeNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrNoRelatedRecords):
		return auditErrNoRelatedRecords
	case errors.Is(err, ErrContactMismatch):
		return auditErrContactMismatch
	case errors.Is(err, ErrChallengeExpired):
		return auditErrExpired
	case errors.Is(err, ErrAlreadyUsed):
		return auditErrAlreadyUsed
	case errors.Is(err, ErrMaxAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrPurposeMismatch):
		return auditErrPurposeMismatch
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return auditErrCanceled
	default:
		return auditErrInternal
	}
}
