package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	ChannelNone      = "NONE"
	ChannelPrimary   = "PRIMARY"
	ChannelSecondary = "SECONDARY"
)

var (
	// ErrPrimaryTimeout means the primary send did not finish before the
	// deadline and no secondary contact was available.
	ErrPrimaryTimeout = errors.New("primary channel deadline exceeded")
	// ErrNoSecondary means the primary send failed and no secondary contact
	// was available.
	ErrNoSecondary = errors.New("no secondary channel")
	// ErrSecondaryFailed means the fallback send failed too.
	ErrSecondaryFailed = errors.New("secondary channel failed")
	// ErrNoRoute means neither channel could be attempted at all.
	ErrNoRoute = errors.New("no delivery route")
	// ErrClosed means Wait has started and no new send is accepted.
	ErrClosed = errors.New("delivery orchestrator closed")
)

// Sender delivers a code to a contact.
type Sender interface {
	SendCode(ctx context.Context, contact, code string) error
}

type Config struct {
	PrimaryDeadline   time.Duration
	SecondaryDeadline time.Duration
	// BackgroundTimeout bounds a primary call that outlived its deadline.
	BackgroundTimeout time.Duration
	// PersistTimeout bounds channel writes made from background goroutines.
	PersistTimeout time.Duration
}

// Target names the contacts for one delivery. SkipPrimary routes straight
// to the secondary contact.
type Target struct {
	ChallengeID string
	Primary     string
	Secondary   string
	SkipPrimary bool
}

// Attempt describes one finished send.
type Attempt struct {
	ChallengeID string
	Channel     string
	Err         error
	Latency     time.Duration
	// Late is set for a primary send that finished after the request had
	// already moved on.
	Late bool
}

// Hooks connect an orchestrator to challenge persistence and telemetry.
type Hooks struct {
	Persist func(ctx context.Context, challengeID, channel string, onlyIfNone bool) error
	Observe func(Attempt)
}

// Outcome is what the request path learns.
type Outcome struct {
	Channel         string
	PrimaryErr      error
	PrimaryTimedOut bool
}

// Orchestrator races the primary channel against a deadline and falls back
// to the secondary one. A primary call that misses the deadline is never
// cancelled; it finishes in the background and its result is still recorded.
type Orchestrator struct {
	primary   Sender
	secondary Sender
	cfg       Config
	hooks     Hooks
	logger    *slog.Logger

	// mu orders wg.Add against Wait so no send starts once closed is set.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(primary, secondary Sender, cfg Config, hooks Hooks, logger *slog.Logger) *Orchestrator {
	if cfg.PrimaryDeadline <= 0 {
		cfg.PrimaryDeadline = 15 * time.Second
	}
	if cfg.SecondaryDeadline <= 0 {
		cfg.SecondaryDeadline = 10 * time.Second
	}
	if cfg.BackgroundTimeout < cfg.PrimaryDeadline {
		cfg.BackgroundTimeout = 4 * cfg.PrimaryDeadline
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		primary:   primary,
		secondary: secondary,
		cfg:       cfg,
		hooks:     hooks,
		logger:    logger,
	}
}

type primaryResult struct {
	err     error
	latency time.Duration
}

// Deliver sends code and returns once a channel has been settled or every
// option is exhausted. It never blocks longer than PrimaryDeadline plus
// SecondaryDeadline. After Wait it returns ErrClosed without sending.
func (o *Orchestrator) Deliver(ctx context.Context, target Target, code string) (Outcome, error) {
	out := Outcome{Channel: ChannelNone}
	if !o.acquire() {
		return out, ErrClosed
	}
	defer o.wg.Done()

	primaryAttempted := false
	if target.Primary != "" && !target.SkipPrimary && o.primary != nil {
		primaryAttempted = true
		res, timedOut := o.racePrimary(ctx, target, code)
		if !timedOut && res.err == nil {
			out.Channel = ChannelPrimary
			o.persist(ctx, target.ChallengeID, ChannelPrimary, false)
			return out, nil
		}
		out.PrimaryTimedOut = timedOut
		out.PrimaryErr = res.err
		if timedOut {
			out.PrimaryErr = ErrPrimaryTimeout
		}
	}

	if target.Secondary == "" || o.secondary == nil {
		out.Channel = ChannelNone
		switch {
		case out.PrimaryTimedOut:
			return out, ErrPrimaryTimeout
		case primaryAttempted:
			return out, fmt.Errorf("%w: %v", ErrNoSecondary, out.PrimaryErr)
		default:
			return out, ErrNoRoute
		}
	}

	sctx, cancel := context.WithTimeout(ctx, o.cfg.SecondaryDeadline)
	start := time.Now()
	err := o.secondary.SendCode(sctx, target.Secondary, code)
	cancel()
	o.observe(Attempt{
		ChallengeID: target.ChallengeID,
		Channel:     ChannelSecondary,
		Err:         err,
		Latency:     time.Since(start),
	})
	if err != nil {
		out.Channel = ChannelNone
		return out, fmt.Errorf("%w: %v", ErrSecondaryFailed, err)
	}

	out.Channel = ChannelSecondary
	o.persist(ctx, target.ChallengeID, ChannelSecondary, false)
	return out, nil
}

// acquire registers one unit of work unless the orchestrator is closed.
func (o *Orchestrator) acquire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.wg.Add(1)
	return true
}

// racePrimary starts the primary send on a detached context and waits for it
// until the deadline or caller cancellation. The boolean reports a timeout.
// The caller holds a wg slot, so the Add here cannot race Wait.
func (o *Orchestrator) racePrimary(ctx context.Context, target Target, code string) (primaryResult, bool) {
	done := make(chan primaryResult, 1)

	var (
		mu        sync.Mutex
		abandoned bool
	)

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.BackgroundTimeout)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()

		start := time.Now()
		err := o.primary.SendCode(bg, target.Primary, code)
		res := primaryResult{err: err, latency: time.Since(start)}

		mu.Lock()
		late := abandoned
		if !late {
			done <- res
		}
		mu.Unlock()

		if !late {
			return
		}

		o.observe(Attempt{
			ChallengeID: target.ChallengeID,
			Channel:     ChannelPrimary,
			Err:         err,
			Latency:     res.latency,
			Late:        true,
		})
		if err != nil {
			o.logger.Warn("late primary delivery failed",
				slog.String("challenge_id", target.ChallengeID),
				slog.Duration("latency", res.latency),
				slog.Any("error", err),
			)
			return
		}
		o.logger.Info("late primary delivery succeeded",
			slog.String("challenge_id", target.ChallengeID),
			slog.Duration("latency", res.latency),
		)
		o.persist(bg, target.ChallengeID, ChannelPrimary, true)
	}()

	timer := time.NewTimer(o.cfg.PrimaryDeadline)
	defer timer.Stop()

	select {
	case res := <-done:
		o.observe(Attempt{
			ChallengeID: target.ChallengeID,
			Channel:     ChannelPrimary,
			Err:         res.err,
			Latency:     res.latency,
		})
		return res, false
	case <-timer.C:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	select {
	case res := <-done:
		o.observe(Attempt{
			ChallengeID: target.ChallengeID,
			Channel:     ChannelPrimary,
			Err:         res.err,
			Latency:     res.latency,
		})
		return res, false
	default:
		abandoned = true
	}
	return primaryResult{}, true
}

func (o *Orchestrator) persist(ctx context.Context, challengeID, channel string, onlyIfNone bool) {
	if o.hooks.Persist == nil || challengeID == "" {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PersistTimeout)
	defer cancel()
	if err := o.hooks.Persist(pctx, challengeID, channel, onlyIfNone); err != nil {
		o.logger.Error("persist delivery channel failed",
			slog.String("challenge_id", challengeID),
			slog.String("channel", channel),
			slog.Any("error", err),
		)
	}
}

func (o *Orchestrator) observe(a Attempt) {
	if o.hooks.Observe != nil {
		o.hooks.Observe(a)
	}
}

// Wait stops new deliveries and blocks until every in-flight delivery and
// background primary send has finished or ctx ends. It is safe to call while
// Deliver is running on other goroutines.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
