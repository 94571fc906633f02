package goOTP

import (
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Builder defines a public type used by goOTP APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	primary    Channel
	secondary  Channel
	identities IdentityRepository
	records    RecordRepository

	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The builder keeps its own copy.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing challenges and rate limits. A cluster
// client works as long as the key prefix maps records and indexes to one slot.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPrimaryChannel sets the phone channel (SMS or messenger).
func (b *Builder) WithPrimaryChannel(ch Channel) *Builder {
	b.primary = ch
	return b
}

// WithSecondaryChannel sets the email fallback channel. Without it every
// primary failure is final.
func (b *Builder) WithSecondaryChannel(ch Channel) *Builder {
	b.secondary = ch
	return b
}

func (b *Builder) WithIdentityRepository(repo IdentityRepository) *Builder {
	b.identities = repo
	return b
}

func (b *Builder) WithRecordRepository(repo RecordRepository) *Builder {
	b.records = repo
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink only takes effect when Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger used for background delivery outcomes.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the clock for challenge timestamps, rate windows and
// token timestamps. Tests use it to simulate time.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// A builder can be used once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.primary == nil {
		return nil, errors.New("primary channel required")
	}
	if b.identities == nil {
		return nil, errors.New("identity repository required")
	}
	if cfg.Challenge.RequireRelatedRecords && b.records == nil {
		return nil, errors.New("Challenge RequireRelatedRecords requires a record repository")
	}

	engine, err := newEngine(cfg, engineDeps{
		redis:      b.redis,
		primary:    b.primary,
		secondary:  b.secondary,
		identities: b.identities,
		records:    b.records,
		auditSink:  b.auditSink,
		logger:     b.logger,
		now:        b.now,
	})
	if err != nil {
		return nil, err
	}

	b.built = true

	return engine, nil
}
