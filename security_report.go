package goOTP

import "github.com/MrEthical07/goOTP/internal/security"

// SecurityReport is the effective security posture of an engine.
type SecurityReport = security.Report

// CodeHashReport holds the Argon2id parameters in effect.
type CodeHashReport = security.CodeHashReport

// SecurityReport describes the securityreport operation and its observable behavior.
//
// SecurityReport lists accepted risks in Warnings, such as a phone code
// falling back or being resent to an unverified email.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return security.BuildReport(security.ReportInput{
		SigningAlgorithm:     e.config.Session.SigningMethod,
		CheckoutSessionTTL:   e.config.Session.CheckoutTTL,
		TrackingSessionTTL:   e.config.Session.TrackingTTL,
		CodeDigits:           e.config.Challenge.CodeDigits,
		MaxAttempts:          e.config.Challenge.MaxAttempts,
		CheckoutChallengeTTL: e.config.Challenge.CheckoutTTL,
		TrackingChallengeTTL: e.config.Challenge.TrackingTTL,
		CodeHash: security.CodeHashReport{
			Memory:      e.config.CodeHash.Memory,
			Time:        e.config.CodeHash.Time,
			Parallelism: e.config.CodeHash.Parallelism,
			SaltLength:  e.config.CodeHash.SaltLength,
			KeyLength:   e.config.CodeHash.KeyLength,
			Peppered:    len(e.config.CodeHash.Pepper) > 0,
		},
		Window:                         e.config.RateLimit.Window,
		MaxRequests:                    e.config.RateLimit.MaxRequests,
		EnableIPThrottle:               e.config.RateLimit.EnableIPThrottle,
		MaxPerIP:                       e.config.RateLimit.MaxPerIP,
		SecondaryChannelConfigured:     e.hasSecondary,
		RequireEmailOwnershipForResend: e.config.Delivery.RequireEmailOwnershipForResend,
		RequireRelatedRecords:          e.config.Challenge.RequireRelatedRecords,
		AuditEnabled:                   e.config.Audit.Enabled,
	})
}
