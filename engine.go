package goOTP

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/goOTP/codehash"
	"github.com/MrEthical07/goOTP/internal"
	internalaudit "github.com/MrEthical07/goOTP/internal/audit"
	"github.com/MrEthical07/goOTP/internal/delivery"
	internalflows "github.com/MrEthical07/goOTP/internal/flows"
	"github.com/MrEthical07/goOTP/internal/limiters"
	"github.com/MrEthical07/goOTP/internal/rate"
	"github.com/MrEthical07/goOTP/internal/stores"
	"github.com/MrEthical07/goOTP/jwt"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Engine defines a public type used by goOTP APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config       Config
	challenges   *stores.ChallengeStore
	limiter      *limiters.OTPRequestLimiter
	orchestrator *delivery.Orchestrator
	hasher       *codehash.Hasher
	jwtManager   *jwt.Manager
	identities   IdentityRepository
	records      RecordRepository
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	logger       *slog.Logger
	now          func() time.Time
	flows        internalflows.Service
	hasSecondary bool
}

type engineDeps struct {
	redis      redis.UniversalClient
	primary    Channel
	secondary  Channel
	identities IdentityRepository
	records    RecordRepository
	auditSink  AuditSink
	logger     *slog.Logger
	now        func() time.Time
}

func newEngine(cfg Config, deps engineDeps) (*Engine, error) {
	now := deps.now
	if now == nil {
		now = time.Now
	}
	logger := deps.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	hasher, err := codehash.New(codehash.Config{
		Memory:      cfg.CodeHash.Memory,
		Time:        cfg.CodeHash.Time,
		Parallelism: cfg.CodeHash.Parallelism,
		SaltLength:  cfg.CodeHash.SaltLength,
		KeyLength:   cfg.CodeHash.KeyLength,
		Pepper:      cloneBytes(cfg.CodeHash.Pepper),
	})
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.Session.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Session.PrivateKey),
		PublicKey:     cloneBytes(cfg.Session.PublicKey),
		Issuer:        cfg.Session.Issuer,
		Audience:      cfg.Session.Audience,
		Leeway:        cfg.Session.Leeway,
		KeyID:         cfg.Session.KeyID,
		MaxTTL:        maxDuration(cfg.Session.CheckoutTTL, cfg.Session.TrackingTTL),
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:     cloneConfig(cfg),
		challenges: stores.NewChallengeStore(deps.redis, cfg.Redis.Prefix),
		limiter: limiters.NewOTPRequestLimiter(rate.New(deps.redis, now), limiters.OTPRequestConfig{
			Window:           cfg.RateLimit.Window,
			MaxRequests:      cfg.RateLimit.MaxRequests,
			MaxResends:       cfg.RateLimit.MaxResends,
			EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
			MaxPerIP:         cfg.RateLimit.MaxPerIP,
		}),
		hasher:     hasher,
		jwtManager: jm,
		identities: deps.identities,
		records:    deps.records,
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, deps.auditSink),
		metrics: NewMetrics(cfg.Metrics),
		logger:  logger,
		now:     now,
	}

	var secondary delivery.Sender
	if deps.secondary != nil {
		secondary = deps.secondary
		e.hasSecondary = true
	}
	e.orchestrator = delivery.New(deps.primary, secondary, delivery.Config{
		PrimaryDeadline:   cfg.Delivery.PrimaryDeadline,
		SecondaryDeadline: cfg.Delivery.SecondaryDeadline,
		BackgroundTimeout: cfg.Delivery.BackgroundTimeout,
		PersistTimeout:    cfg.Delivery.PersistTimeout,
	}, delivery.Hooks{
		Persist: func(ctx context.Context, challengeID, channel string, onlyIfNone bool) error {
			_, err := e.challenges.SetDeliveryChannel(ctx, challengeID, channel, onlyIfNone)
			return err
		},
		Observe: e.observeDelivery,
	}, logger)

	e.flows = internalflows.New(e.flowDeps())
	return e, nil
}

// Close drains background deliveries and then the audit dispatcher. Late
// primary results still arriving after ctx ends are dropped from the wait.
// Requests racing Close are refused with ErrSendFailed instead of sending.
func (e *Engine) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	var err error
	if e.orchestrator != nil {
		err = e.orchestrator.Wait(ctx)
	}
	if e.audit != nil {
		if auditErr := e.audit.Close(ctx); err == nil {
			err = auditErr
		}
	}
	return err
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped reports how many events were discarded because the audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeDelivery(a delivery.Attempt) {
	switch a.Channel {
	case delivery.ChannelPrimary:
		e.metrics.Observe(MetricPrimaryDeliveryLatency, a.Latency)
		if a.Late {
			e.metricInc(MetricDeliveryPrimaryLate)
		}
	case delivery.ChannelSecondary:
		e.metrics.Observe(MetricSecondaryDeliveryLatency, a.Latency)
	}
	if a.Err != nil {
		e.logger.Debug("otp delivery attempt failed",
			slog.String("challenge_id", a.ChallengeID),
			slog.String("channel", a.Channel),
			slog.Bool("late", a.Late),
			slog.Any("error", a.Err),
		)
	}
}

func (e *Engine) flowDeps() internalflows.Deps {
	emitAudit := func(ctx context.Context, event string, success bool, subjectID, challengeID string, err error, meta func() map[string]string) {
		e.emitAudit(ctx, event, success, subjectID, challengeID, err, meta)
	}
	metricInc := func(id int) {
		e.metricInc(MetricID(id))
	}

	return internalflows.Deps{
		Request: internalflows.RequestDeps{
			CodeDigits:          e.config.Challenge.CodeDigits,
			MaxAttempts:         e.config.Challenge.MaxAttempts,
			RecordRetention:     e.config.Challenge.RecordRetention,
			ChallengeTTL:        e.config.challengeTTL,
			Now:                 e.now,
			ClientIPFromContext: ClientIPFromContext,
			CheckLimiter: func(ctx context.Context, purpose, contact, ip string, resend bool) (time.Duration, error) {
				if resend {
					return e.limiter.CheckResend(ctx, purpose, contact, ip)
				}
				return e.limiter.CheckRequest(ctx, purpose, contact, ip)
			},
			CountRelatedRecords: e.countRelatedRecords,
			FindIdentityID: func(ctx context.Context, target, contact string) (string, error) {
				ident, err := e.findIdentity(ctx, target, contact)
				if err != nil {
					return "", err
				}
				return ident.ID, nil
			},
			ContactDigest:   internal.HashContact,
			GenerateCode:    internal.NewOTP,
			NewChallengeID:  internal.NewChallengeID,
			HashCode:        e.hasher.Hash,
			CreateChallenge: e.challenges.Create,
			Deliver: func(ctx context.Context, target delivery.Target, code string) (delivery.Outcome, error) {
				out, err := e.orchestrator.Deliver(ctx, target, code)
				if out.PrimaryTimedOut {
					e.metricInc(MetricDeliveryPrimaryTimeout)
				}
				return out, err
			},
			MapLimiterError: mapLimiterError,
			MapStoreError:   mapStoreError,
			SendFailed: func(challengeID string, err error) error {
				return &SendError{ChallengeID: challengeID, Err: mapDeliveryError(err)}
			},
			MetricInc:     metricInc,
			EmitAudit:     emitAudit,
			EmitRateLimit: e.emitRateLimit,
			Metrics: internalflows.RequestMetrics{
				OTPRequest:        int(MetricOTPRequest),
				OTPResend:         int(MetricOTPResend),
				OTPRequestFailure: int(MetricOTPRequestFailure),
				OTPSuperseded:     int(MetricOTPSuperseded),
				DeliveryPrimary:   int(MetricDeliveryPrimary),
				DeliverySecondary: int(MetricDeliverySecondary),
				DeliveryFallback:  int(MetricDeliveryFallback),
				DeliveryFailure:   int(MetricDeliveryFailure),
			},
			Events: internalflows.RequestEvents{
				Request:  auditEventOTPRequest,
				Resend:   auditEventOTPResend,
				Delivery: auditEventOTPDelivery,
			},
			Errors: internalflows.RequestErrors{
				EngineNotReady:   ErrEngineNotReady,
				Validation:       ErrValidation,
				RateLimited:      ErrRateLimited,
				NoRelatedRecords: ErrNoRelatedRecords,
				Unavailable:      ErrUnavailable,
			},
		},
		Verify: internalflows.VerifyDeps{
			Now:           e.now,
			BeginAttempt:  e.challenges.BeginAttempt,
			CompareCode:   e.hasher.Verify,
			MarkVerified:  e.challenges.MarkVerified,
			MapStoreError: mapStoreError,
			InvalidCode: func(remaining int) error {
				return &VerifyError{Remaining: remaining}
			},
			MetricInc: metricInc,
			EmitAudit: emitAudit,
			Metrics: internalflows.VerifyMetrics{
				OTPVerifySuccess:    int(MetricOTPVerifySuccess),
				OTPVerifyFailure:    int(MetricOTPVerifyFailure),
				OTPInvalidCode:      int(MetricOTPInvalidCode),
				OTPAttemptsExceeded: int(MetricOTPAttemptsExceeded),
				OTPAlreadyUsed:      int(MetricOTPAlreadyUsed),
				OTPExpired:          int(MetricOTPExpired),
			},
			Events: internalflows.VerifyEvents{
				Verify: auditEventOTPVerify,
			},
			Errors: internalflows.VerifyErrors{
				EngineNotReady:   ErrEngineNotReady,
				Validation:       ErrValidation,
				Expired:          ErrChallengeExpired,
				AlreadyUsed:      ErrAlreadyUsed,
				AttemptsExceeded: ErrMaxAttemptsExceeded,
				Unavailable:      ErrUnavailable,
			},
		},
		Identity: internalflows.IdentityDeps{
			GuestKind: string(IdentityGuest),
			Now:       e.now,
			NewIdentityID: func() (string, error) {
				id, err := uuid.NewRandom()
				if err != nil {
					return "", err
				}
				return id.String(), nil
			},
			Find: func(ctx context.Context, target, contact string) (internalflows.IdentityRecord, bool, error) {
				ident, err := e.findIdentity(ctx, target, contact)
				if errors.Is(err, ErrIdentityNotFound) {
					return internalflows.IdentityRecord{}, false, nil
				}
				if err != nil {
					return internalflows.IdentityRecord{}, false, err
				}
				return toIdentityRecord(ident), true, nil
			},
			Create: func(ctx context.Context, rec internalflows.IdentityRecord) (internalflows.IdentityRecord, error) {
				created, err := e.identities.CreateGuest(ctx, fromIdentityRecord(rec))
				if err != nil {
					return internalflows.IdentityRecord{}, err
				}
				if created == nil {
					return rec, nil
				}
				return toIdentityRecord(created), nil
			},
			SetVerified: func(ctx context.Context, id, target string) error {
				return e.identities.SetVerified(ctx, id, ContactKind(target))
			},
			IsConflict: func(err error) bool {
				return errors.Is(err, ErrIdentityConflict)
			},
			MetricInc: metricInc,
			EmitAudit: emitAudit,
			Metrics: internalflows.IdentityMetrics{
				IdentityCreated: int(MetricIdentityCreated),
				IdentityReused:  int(MetricIdentityReused),
			},
			Events: internalflows.IdentityEvents{
				Created: auditEventIdentityCreated,
			},
			Errors: internalflows.IdentityErrors{
				EngineNotReady: ErrEngineNotReady,
				Validation:     ErrValidation,
				Unavailable:    ErrUnavailable,
			},
		},
		Issue: internalflows.IssueDeps{
			SessionTTL:    e.config.sessionTTL,
			CreateSession: e.jwtManager.CreateSession,
			MetricInc:     metricInc,
			EmitAudit:     emitAudit,
			Metrics: internalflows.IssueMetrics{
				SessionIssued:  int(MetricSessionIssued),
				SessionFailure: int(MetricSessionIssueFailure),
			},
			Events: internalflows.IssueEvents{
				Issued: auditEventSessionIssued,
			},
			Errors: internalflows.IssueErrors{
				EngineNotReady: ErrEngineNotReady,
				Unavailable:    ErrUnavailable,
			},
		},
	}
}

func (e *Engine) countRelatedRecords(ctx context.Context, phone, orderNumber string) (int, error) {
	if e.records == nil {
		return 0, ErrEngineNotReady
	}
	return e.records.CountRecordsByPhone(ctx, phone, orderNumber)
}

func (e *Engine) findIdentity(ctx context.Context, target, contact string) (*GuestIdentity, error) {
	var (
		ident *GuestIdentity
		err   error
	)
	if target == stores.TargetEmail {
		ident, err = e.identities.FindByEmail(ctx, contact)
	} else {
		ident, err = e.identities.FindByPhone(ctx, contact)
	}
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, ErrIdentityNotFound
	}
	return ident, nil
}

func toIdentityRecord(g *GuestIdentity) internalflows.IdentityRecord {
	return internalflows.IdentityRecord{
		ID:            g.ID,
		Phone:         g.Phone,
		Email:         g.Email,
		PhoneVerified: g.PhoneVerified,
		EmailVerified: g.EmailVerified,
		Kind:          string(g.Kind),
		CreatedAt:     g.CreatedAt,
	}
}

func fromIdentityRecord(r internalflows.IdentityRecord) GuestIdentity {
	return GuestIdentity{
		ID:            r.ID,
		Phone:         r.Phone,
		Email:         r.Email,
		PhoneVerified: r.PhoneVerified,
		EmailVerified: r.EmailVerified,
		Kind:          IdentityKind(r.Kind),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.CreatedAt,
	}
}

func mapLimiterError(err error, retryAfter time.Duration) error {
	switch {
	case errors.Is(err, limiters.ErrOTPRateLimited):
		return &RateLimitError{RetryAfter: retryAfter}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return ErrUnavailable
	}
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, stores.ErrChallengeNotFound):
		return ErrChallengeNotFound
	case errors.Is(err, stores.ErrChallengeContactMismatch):
		return ErrContactMismatch
	case errors.Is(err, stores.ErrChallengeExpired):
		return ErrChallengeExpired
	case errors.Is(err, stores.ErrChallengeAlreadyUsed):
		return ErrAlreadyUsed
	case errors.Is(err, stores.ErrChallengeAttemptsExceeded):
		return ErrMaxAttemptsExceeded
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return ErrUnavailable
	}
}

func mapDeliveryError(err error) error {
	switch {
	case errors.Is(err, delivery.ErrPrimaryTimeout):
		return ErrSendTimeout
	case errors.Is(err, delivery.ErrSecondaryFailed):
		return ErrSecondaryFailed
	case errors.Is(err, delivery.ErrClosed):
		return ErrSendFailed
	default:
		return ErrNoSecondaryChannel
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
