package goOTP

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/goOTP/internal/audit"
	internalmetrics "github.com/MrEthical07/goOTP/internal/metrics"
)

// Purpose scopes a challenge and the session it produces. A token issued
// for one purpose is never accepted for another.
type Purpose string

const (
	PurposeCheckout      Purpose = "CHECKOUT"
	PurposeOrderTracking Purpose = "ORDER_TRACKING"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeCheckout || p == PurposeOrderTracking
}

// DeliveryChannel records which channel delivered a code.
type DeliveryChannel string

const (
	ChannelNone      DeliveryChannel = "NONE"
	ChannelPrimary   DeliveryChannel = "PRIMARY"
	ChannelSecondary DeliveryChannel = "SECONDARY"
)

// ContactKind selects which contact a challenge verifies.
type ContactKind string

const (
	ContactPhone ContactKind = "phone"
	ContactEmail ContactKind = "email"
)

// ChallengeState is derived from a stored challenge; it is never persisted.
type ChallengeState string

const (
	StateCreated             ChallengeState = "CREATED"
	StatePendingVerification ChallengeState = "PENDING_VERIFICATION"
	StateVerified            ChallengeState = "VERIFIED"
	StateExpired             ChallengeState = "EXPIRED"
	StateExhausted           ChallengeState = "EXHAUSTED"
	StateSuperseded          ChallengeState = "SUPERSEDED"
)

// Terminal reports whether no transition can leave s.
func (s ChallengeState) Terminal() bool {
	switch s {
	case StateVerified, StateExpired, StateExhausted, StateSuperseded:
		return true
	}
	return false
}

// Challenge is a read-only view of a stored challenge. The code hash is
// never exposed.
type Challenge struct {
	ID                string
	Purpose           Purpose
	Target            ContactKind
	Phone             string
	Email             string
	Attempts          int
	MaxAttempts       int
	CreatedAt         time.Time
	ExpiresAt         time.Time
	Verified          bool
	VerifiedAt        time.Time
	DeliveryChannel   DeliveryChannel
	RelatedIdentityID string
	Superseded        bool
}

// State derives the lifecycle state at now. Verification wins over every
// other terminal state, and an exhausted challenge stays exhausted after
// its expiry.
func (c *Challenge) State(now time.Time) ChallengeState {
	switch {
	case c == nil:
		return ""
	case c.Verified:
		return StateVerified
	case c.Superseded:
		return StateSuperseded
	case c.MaxAttempts > 0 && c.Attempts >= c.MaxAttempts:
		return StateExhausted
	case !now.Before(c.ExpiresAt):
		return StateExpired
	case c.DeliveryChannel == ChannelNone || c.DeliveryChannel == "":
		return StateCreated
	default:
		return StatePendingVerification
	}
}

// IdentityKind distinguishes lazily created guests from accounts promoted
// by the host application.
type IdentityKind string

const (
	IdentityGuest      IdentityKind = "GUEST"
	IdentityRegistered IdentityKind = "REGISTERED"
)

// GuestIdentity is the minimal subject behind a verified contact. An empty
// Phone or Email means the contact is unknown.
type GuestIdentity struct {
	ID            string
	Phone         string
	Email         string
	PhoneVerified bool
	EmailVerified bool
	Kind          IdentityKind
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Channel delivers a code to one contact. Implementations must honor ctx;
// the engine bounds every call with a deadline.
type Channel interface {
	SendCode(ctx context.Context, contact, code string) error
}

// ChannelFunc adapts a function to [Channel].
type ChannelFunc func(ctx context.Context, contact, code string) error

func (f ChannelFunc) SendCode(ctx context.Context, contact, code string) error {
	return f(ctx, contact, code)
}

// IdentityRepository is owned by the host's user domain. Lookups return
// [ErrIdentityNotFound] when nothing matches and CreateGuest returns
// [ErrIdentityConflict] when the contact is already taken.
type IdentityRepository interface {
	FindByPhone(ctx context.Context, phone string) (*GuestIdentity, error)
	FindByEmail(ctx context.Context, email string) (*GuestIdentity, error)
	CreateGuest(ctx context.Context, identity GuestIdentity) (*GuestIdentity, error)
	SetVerified(ctx context.Context, identityID string, kind ContactKind) error
}

// RecordRepository is a read-only view of host records (orders) used to
// confirm a tracking request refers to something. An empty orderNumber
// counts every record for the phone.
type RecordRepository interface {
	CountRecordsByPhone(ctx context.Context, phone, orderNumber string) (int, error)
}

type CheckoutOTPRequest struct {
	Phone       string
	Email       string
	PreferEmail bool
}

type ResendCheckoutOTPRequest struct {
	Phone string
	Email string
	// PreferredChannel SECONDARY sends straight to Email.
	PreferredChannel DeliveryChannel
}

type TrackingOTPRequest struct {
	Phone       string
	OrderNumber string
}

type VerifyCheckoutOTPRequest struct {
	OTPID string
	Code  string
	Phone string
	Email string
}

type VerifyTrackingOTPRequest struct {
	OTPID string
	Code  string
	Phone string
}

// ChallengeIssued is returned by every request and resend operation.
type ChallengeIssued struct {
	OTPID              string
	Purpose            Purpose
	SentVia            DeliveryChannel
	ExpiresAt          time.Time
	ExpiresIn          time.Duration
	MaskedContact      string
	RelatedRecordCount int
}

// SessionGrant is returned by successful verifications.
type SessionGrant struct {
	AccessToken   string
	SubjectID     string
	IsNewIdentity bool
	Purpose       Purpose
	ExpiresAt     time.Time
	ExpiresIn     time.Duration
}

// SessionClaims is the validated content of a session token.
type SessionClaims struct {
	SubjectID string
	Purpose   Purpose
	Contact   string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies a specific counter or histogram in the in-process
// metrics system.
type MetricID = internalmetrics.MetricID

const (
	MetricOTPRequest             = MetricID(internalmetrics.OTPRequest)
	MetricOTPResend              = MetricID(internalmetrics.OTPResend)
	MetricOTPRequestFailure      = MetricID(internalmetrics.OTPRequestFailure)
	MetricOTPSuperseded          = MetricID(internalmetrics.OTPSuperseded)
	MetricDeliveryPrimary        = MetricID(internalmetrics.DeliveryPrimary)
	MetricDeliverySecondary      = MetricID(internalmetrics.DeliverySecondary)
	MetricDeliveryFallback       = MetricID(internalmetrics.DeliveryFallback)
	MetricDeliveryFailure        = MetricID(internalmetrics.DeliveryFailure)
	MetricDeliveryPrimaryTimeout = MetricID(internalmetrics.DeliveryPrimaryTimeout)
	MetricDeliveryPrimaryLate    = MetricID(internalmetrics.DeliveryPrimaryLate)
	MetricOTPVerifySuccess       = MetricID(internalmetrics.OTPVerifySuccess)
	MetricOTPVerifyFailure       = MetricID(internalmetrics.OTPVerifyFailure)
	MetricOTPInvalidCode         = MetricID(internalmetrics.OTPInvalidCode)
	MetricOTPAttemptsExceeded    = MetricID(internalmetrics.OTPAttemptsExceeded)
	MetricOTPAlreadyUsed         = MetricID(internalmetrics.OTPAlreadyUsed)
	MetricOTPExpired             = MetricID(internalmetrics.OTPExpired)
	MetricIdentityCreated        = MetricID(internalmetrics.IdentityCreated)
	MetricIdentityReused         = MetricID(internalmetrics.IdentityReused)
	MetricSessionIssued          = MetricID(internalmetrics.SessionIssued)
	MetricSessionIssueFailure    = MetricID(internalmetrics.SessionIssueFailure)
	MetricSessionValidated       = MetricID(internalmetrics.SessionValidated)
	MetricSessionRejected        = MetricID(internalmetrics.SessionRejected)
	MetricSessionPurposeMismatch = MetricID(internalmetrics.SessionPurposeMismatch)
	MetricRateLimitHit           = MetricID(internalmetrics.RateLimitHit)

	MetricPrimaryDeliveryLatency   = MetricID(internalmetrics.PrimaryDeliveryLatency)
	MetricSecondaryDeliveryLatency = MetricID(internalmetrics.SecondaryDeliveryLatency)
	MetricVerifyLatency            = MetricID(internalmetrics.VerifyLatency)
)

// Metrics holds atomic counters and optional latency histograms.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a new [Metrics] instance configured by the given
// [MetricsConfig]. When Enabled is false, all operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
