package goOTP

import (
	"errors"
	"strings"
	"time"
)

// Config defines a public type used by goOTP APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Challenge ChallengeConfig
	RateLimit RateLimitConfig
	Delivery  DeliveryConfig
	Session   SessionConfig
	CodeHash  CodeHashConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Redis     RedisConfig
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig controls code shape and challenge lifetime.
type ChallengeConfig struct {
	CodeDigits  int
	MaxAttempts int
	CheckoutTTL time.Duration
	TrackingTTL time.Duration
	// RecordRetention keeps a challenge readable after it expires so late
	// verifications report EXPIRED instead of NOT_FOUND.
	RecordRetention time.Duration
	// RequireRelatedRecords refuses tracking codes for phones with no
	// records in the host system.
	RequireRelatedRecords bool
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig bounds how often a contact may request codes. Requests and
// resends share one sliding window per (purpose, contact).
type RateLimitConfig struct {
	Window           time.Duration
	MaxRequests      int
	MaxResends       int
	EnableIPThrottle bool
	MaxPerIP         int
}

/*
====================================
DELIVERY CONFIG
====================================
*/

// DeliveryConfig bounds every channel call.
type DeliveryConfig struct {
	PrimaryDeadline   time.Duration
	SecondaryDeadline time.Duration
	// BackgroundTimeout bounds a primary send that outlived PrimaryDeadline.
	BackgroundTimeout time.Duration
	PersistTimeout    time.Duration
	// RequireEmailOwnershipForResend only lets a checkout code for a phone
	// reach an email already verified for the phone's identity. It gates the
	// first-request fallback as well as a resend.
	RequireEmailOwnershipForResend bool
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the purpose-scoped tokens issued after verification.
type SessionConfig struct {
	CheckoutTTL   time.Duration
	TrackingTTL   time.Duration
	SigningMethod string
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
CODE HASH CONFIG
====================================
*/

// CodeHashConfig holds the Argon2id cost parameters for stored codes.
type CodeHashConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	Pepper      []byte
}

// AuditConfig defines a public type used by goOTP APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by goOTP APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// RedisConfig names the key namespace. Record and index keys share it.
type RedisConfig struct {
	Prefix string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. Session keys are empty and
// must be supplied before Build.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Challenge: ChallengeConfig{
			CodeDigits:            6,
			MaxAttempts:           3,
			CheckoutTTL:           5 * time.Minute,
			TrackingTTL:           5 * time.Minute,
			RecordRetention:       time.Hour,
			RequireRelatedRecords: true,
		},
		RateLimit: RateLimitConfig{
			Window:           15 * time.Minute,
			MaxRequests:      3,
			MaxResends:       5,
			EnableIPThrottle: false,
			MaxPerIP:         30,
		},
		Delivery: DeliveryConfig{
			PrimaryDeadline:   15 * time.Second,
			SecondaryDeadline: 10 * time.Second,
			BackgroundTimeout: 60 * time.Second,
			PersistTimeout:    5 * time.Second,
		},
		Session: SessionConfig{
			CheckoutTTL:   24 * time.Hour,
			TrackingTTL:   30 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "goOTP",
		},
		CodeHash: CodeHashConfig{
			Memory:      19 * 1024,
			Time:        2,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Redis: RedisConfig{
			Prefix: "otp",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.PrivateKey = cloneBytes(cfg.Session.PrivateKey)
	out.Session.PublicKey = cloneBytes(cfg.Session.PublicKey)
	out.CodeHash.Pepper = cloneBytes(cfg.CodeHash.Pepper)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

const maxChallengeTTL = 15 * time.Minute

// Validate describes the validate operation and its observable behavior.
//
// Validate returns the first configuration problem found, or nil.
func (c *Config) Validate() error {
	// Challenge
	if c.Challenge.CodeDigits < 4 || c.Challenge.CodeDigits > 10 {
		return errors.New("Challenge CodeDigits must be between 4 and 10")
	}
	if c.Challenge.MaxAttempts <= 0 {
		return errors.New("Challenge MaxAttempts must be > 0")
	}
	if c.Challenge.CheckoutTTL <= 0 || c.Challenge.CheckoutTTL > maxChallengeTTL {
		return errors.New("Challenge CheckoutTTL must be > 0 and <= 15m")
	}
	if c.Challenge.TrackingTTL <= 0 || c.Challenge.TrackingTTL > maxChallengeTTL {
		return errors.New("Challenge TrackingTTL must be > 0 and <= 15m")
	}
	if c.Challenge.RecordRetention < 0 {
		return errors.New("Challenge RecordRetention must be >= 0")
	}

	// Rate limit
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit Window must be > 0")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return errors.New("RateLimit MaxRequests must be > 0")
	}
	if c.RateLimit.MaxResends < c.RateLimit.MaxRequests {
		return errors.New("RateLimit MaxResends must be >= MaxRequests")
	}
	if c.RateLimit.EnableIPThrottle && c.RateLimit.MaxPerIP <= 0 {
		return errors.New("RateLimit MaxPerIP must be > 0 when EnableIPThrottle is set")
	}

	// Delivery
	if c.Delivery.PrimaryDeadline <= 0 {
		return errors.New("Delivery PrimaryDeadline must be > 0")
	}
	if c.Delivery.SecondaryDeadline <= 0 {
		return errors.New("Delivery SecondaryDeadline must be > 0")
	}
	if c.Delivery.BackgroundTimeout < c.Delivery.PrimaryDeadline {
		return errors.New("Delivery BackgroundTimeout must be >= PrimaryDeadline")
	}
	if c.Delivery.PersistTimeout <= 0 {
		return errors.New("Delivery PersistTimeout must be > 0")
	}

	// Session
	if c.Session.CheckoutTTL <= 0 || c.Session.TrackingTTL <= 0 {
		return errors.New("Session TTLs must be > 0")
	}
	if c.Session.Leeway < 0 || c.Session.Leeway > 2*time.Minute {
		return errors.New("Session Leeway must be between 0 and 2m")
	}
	switch c.Session.SigningMethod {
	case "ed25519":
		if len(c.Session.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	case "hs256":
		if len(c.Session.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported Session signing method")
	}
	if c.Session.Audience != "" && strings.TrimSpace(c.Session.Audience) == "" {
		return errors.New("Session Audience must not be blank")
	}

	// Code hash
	if c.CodeHash.Memory < 8*1024 {
		return errors.New("CodeHash Memory must be >= 8192 KB")
	}
	if c.CodeHash.Time < 1 || c.CodeHash.Parallelism < 1 {
		return errors.New("CodeHash Time and Parallelism must be >= 1")
	}
	if c.CodeHash.SaltLength < 16 || c.CodeHash.KeyLength < 16 {
		return errors.New("CodeHash SaltLength and KeyLength must be >= 16")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	if strings.TrimSpace(c.Redis.Prefix) == "" || strings.Contains(c.Redis.Prefix, " ") {
		return errors.New("Redis Prefix must be a non-empty token")
	}

	return nil
}

func (c *Config) challengeTTL(purpose string) time.Duration {
	if purpose == string(PurposeOrderTracking) {
		return c.Challenge.TrackingTTL
	}
	return c.Challenge.CheckoutTTL
}

func (c *Config) sessionTTL(purpose string) time.Duration {
	if purpose == string(PurposeOrderTracking) {
		return c.Session.TrackingTTL
	}
	return c.Session.CheckoutTTL
}
