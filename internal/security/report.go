package security

import "time"

type CodeHashReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	Peppered    bool
}

type Report struct {
	SigningAlgorithm           string
	CheckoutSessionTTL         time.Duration
	TrackingSessionTTL         time.Duration
	CodeDigits                 int
	MaxAttempts                int
	CheckoutChallengeTTL       time.Duration
	TrackingChallengeTTL       time.Duration
	CodeHash                   CodeHashReport
	RateLimitingActive         bool
	IPThrottleActive           bool
	SecondaryChannelConfigured bool
	EmailOwnershipForResend    bool
	RelatedRecordsRequired     bool
	AuditEnabled               bool
	// Warnings lists accepted risks in the effective configuration.
	Warnings []string
}

type ReportInput struct {
	SigningAlgorithm               string
	CheckoutSessionTTL             time.Duration
	TrackingSessionTTL             time.Duration
	CodeDigits                     int
	MaxAttempts                    int
	CheckoutChallengeTTL           time.Duration
	TrackingChallengeTTL           time.Duration
	CodeHash                       CodeHashReport
	Window                         time.Duration
	MaxRequests                    int
	EnableIPThrottle               bool
	MaxPerIP                       int
	SecondaryChannelConfigured     bool
	RequireEmailOwnershipForResend bool
	RequireRelatedRecords          bool
	AuditEnabled                   bool
}

const (
	WarnSharedSecret          = "session_tokens_use_shared_secret"
	WarnUnownedEmail          = "code_may_reach_unverified_email"
	WarnNoSecondaryChannel    = "no_secondary_channel"
	WarnCodeHashNotPeppered   = "code_hash_not_peppered"
	WarnIPThrottleDisabled    = "ip_throttle_disabled"
	WarnTrackingWithoutRecord = "tracking_without_record_check"
)

func BuildReport(input ReportInput) Report {
	r := Report{
		SigningAlgorithm:           input.SigningAlgorithm,
		CheckoutSessionTTL:         input.CheckoutSessionTTL,
		TrackingSessionTTL:         input.TrackingSessionTTL,
		CodeDigits:                 input.CodeDigits,
		MaxAttempts:                input.MaxAttempts,
		CheckoutChallengeTTL:       input.CheckoutChallengeTTL,
		TrackingChallengeTTL:       input.TrackingChallengeTTL,
		CodeHash:                   input.CodeHash,
		RateLimitingActive:         input.Window > 0 && input.MaxRequests > 0,
		IPThrottleActive:           input.EnableIPThrottle && input.MaxPerIP > 0,
		SecondaryChannelConfigured: input.SecondaryChannelConfigured,
		EmailOwnershipForResend:    input.RequireEmailOwnershipForResend,
		RelatedRecordsRequired:     input.RequireRelatedRecords,
		AuditEnabled:               input.AuditEnabled,
	}

	if input.SigningAlgorithm == "hs256" {
		r.Warnings = append(r.Warnings, WarnSharedSecret)
	}
	if !input.RequireEmailOwnershipForResend {
		r.Warnings = append(r.Warnings, WarnUnownedEmail)
	}
	if !input.SecondaryChannelConfigured {
		r.Warnings = append(r.Warnings, WarnNoSecondaryChannel)
	}
	if !input.CodeHash.Peppered {
		r.Warnings = append(r.Warnings, WarnCodeHashNotPeppered)
	}
	if !r.IPThrottleActive {
		r.Warnings = append(r.Warnings, WarnIPThrottleDisabled)
	}
	if !input.RequireRelatedRecords {
		r.Warnings = append(r.Warnings, WarnTrackingWithoutRecord)
	}
	return r
}
