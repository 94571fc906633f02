package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []string
	delay time.Duration
	block chan struct{}
	err   error
}

func (f *fakeSender) SendCode(ctx context.Context, contact, code string) error {
	f.mu.Lock()
	f.calls = append(f.calls, contact+":"+code)
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.err
}

func (f *fakeSender) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recorder struct {
	mu       sync.Mutex
	persists []string
	attempts []Attempt
	channel  string
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		Persist: func(_ context.Context, id, channel string, onlyIfNone bool) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			if onlyIfNone && r.channel != "" {
				return nil
			}
			r.channel = channel
			r.persists = append(r.persists, channel)
			return nil
		},
		Observe: func(a Attempt) {
			r.mu.Lock()
			r.attempts = append(r.attempts, a)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) Channel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel
}

func (r *recorder) LateAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.attempts {
		if a.Late {
			n++
		}
	}
	return n
}

func testConfig() Config {
	return Config{
		PrimaryDeadline:   50 * time.Millisecond,
		SecondaryDeadline: 200 * time.Millisecond,
		BackgroundTimeout: 2 * time.Second,
	}
}

func TestDeliverPrimarySuccess(t *testing.T) {
	primary := &fakeSender{}
	secondary := &fakeSender{}
	rec := &recorder{}
	o := New(primary, secondary, testConfig(), rec.hooks(), nil)

	out, err := o.Deliver(context.Background(), Target{ChallengeID: "c1", Primary: "+4915112345678", Secondary: "a@b.de"}, "123456")
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if out.Channel != ChannelPrimary {
		t.Fatalf("expected PRIMARY, got %s", out.Channel)
	}
	if len(secondary.Calls()) != 0 {
		t.Fatal("secondary must not be called after primary success")
	}
	if rec.Channel() != ChannelPrimary {
		t.Fatalf("expected PRIMARY persisted, got %q", rec.Channel())
	}
}

func TestDeliverPrimaryFailureFallsBack(t *testing.T) {
	primary := &fakeSender{err: errors.New("provider 503")}
	secondary := &fakeSender{}
	rec := &recorder{}
	o := New(primary, secondary, testConfig(), rec.hooks(), nil)

	out, err := o.Deliver(context.Background(), Target{ChallengeID: "c1", Primary: "+4915112345678", Secondary: "a@b.de"}, "123456")
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if out.Channel != ChannelSecondary || out.PrimaryTimedOut {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := secondary.Calls(); len(got) != 1 || got[0] != "a@b.de:123456" {
		t.Fatalf("unexpected secondary calls %v", got)
	}
}

func TestDeliverPrimaryFailureWithoutSecondary(t *testing.T) {
	primary := &fakeSender{err: errors.New("provider 503")}
	o := New(primary, &fakeSender{}, testConfig(), Hooks{}, nil)

	_, err := o.Deliver(context.Background(), Target{ChallengeID: "c1", Primary: "+4915112345678"}, "123456")
	if !errors.Is(err, ErrNoSecondary) {
		t.Fatalf("expected ErrNoSecondary, got %v", err)
	}
}

func TestDeliverTimeoutFallsBackWithoutCancellingPrimary(t *testing.T) {
	release := make(chan struct{})
	primary := &fakeSender{block: release}
	secondary := &fakeSender{}
	rec := &recorder{}
	o := New(primary, secondary, testConfig(), rec.hooks(), nil)

	start := time.Now()
	out, err := o.Deliver(context.Background(), Target{ChallengeID: "c1", Primary: "+4915112345678", Secondary: "a@b.de"}, "123456")
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if out.Channel != ChannelSecondary || !out.PrimaryTimedOut {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if elapsed > time.Second {
		t.Fatalf("request path blocked too long: %v", elapsed)
	}

	// the abandoned primary now succeeds; SECONDARY is already recorded
	close(release)
	if err := o.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if rec.Channel() != ChannelSecondary {
		t.Fatalf("late primary must not overwrite recorded channel, got %q", rec.Channel())
	}
	if rec.LateAttempts() != 1 {
		t.Fatalf("expected one late attempt observed, got %d", rec.LateAttempts())
	}
}

func TestDeliverTimeoutWithoutSecondary(t *testing.T) {
	release := make(chan struct{})
	primary := &fakeSender{block: release}
	rec := &recorder{}
	o := New(primary, nil, testConfig(), rec.hooks(), nil)

	out, err := o.Deliver(context.Background(), Target{ChallengeID: "c1", Primary: "+4915112345678"}, "123456")
	if !errors.Is(err, ErrPrimaryTimeout) {
		t.Fatalf("expected ErrPrimaryTimeout, got %v", err)
	}
	if out.Channel != ChannelNone {
		t.Fatalf("expected NONE, got %s", out.Channel)
	}

	// late success is the only channel, so it gets recorded
	close(release)
	if err := o.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if rec.Channel() != ChannelPrimary {
		t.Fatalf("expected late PRIMARY recorded, got %q", rec.Channel())
	}
}

func TestDeliverCallerCancellationDoesNotCancelPrimary(t *testing.T) {
	release := make(chan struct{})
	primary := &fakeSender{block: release}
	rec := &recorder{}
	cfg := testConfig()
	cfg.PrimaryDeadline = time.Second
	o := New(primary, nil, cfg, rec.hooks(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := o.Deliver(ctx, Target{ChallengeID: "c1", Primary: "+4915112345678"}, "123456"); err == nil {
		t.Fatal("expected error after caller cancellation")
	}

	close(release)
	o.Wait(context.Background())
	if rec.Channel() != ChannelPrimary {
		t.Fatalf("expected detached primary to finish and record, got %q", rec.Channel())
	}
}

func TestDeliverSkipPrimary(t *testing.T) {
	primary := &fakeSender{}
	secondary := &fakeSender{}
	o := New(primary, secondary, testConfig(), Hooks{}, nil)

	out, err := o.Deliver(context.Background(), Target{ChallengeID: "c1", Primary: "+4915112345678", Secondary: "a@b.de", SkipPrimary: true}, "123456")
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if out.Channel != ChannelSecondary {
		t.Fatalf("expected SECONDARY, got %s", out.Channel)
	}
	if len(primary.Calls()) != 0 {
		t.Fatal("primary must be skipped")
	}
}

func TestDeliverSecondaryFailure(t *testing.T) {
	o := New(&fakeSender{err: errors.New("down")}, &fakeSender{err: errors.New("smtp down")}, testConfig(), Hooks{}, nil)

	_, err := o.Deliver(context.Background(), Target{ChallengeID: "c1", Primary: "+4915112345678", Secondary: "a@b.de"}, "123456")
	if !errors.Is(err, ErrSecondaryFailed) {
		t.Fatalf("expected ErrSecondaryFailed, got %v", err)
	}
}

func TestDeliverNoRoute(t *testing.T) {
	o := New(nil, nil, testConfig(), Hooks{}, nil)
	if _, err := o.Deliver(context.Background(), Target{ChallengeID: "c1"}, "123456"); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestDeliverAfterWaitIsRefused(t *testing.T) {
	primary := &fakeSender{}
	o := New(primary, &fakeSender{}, testConfig(), Hooks{}, nil)

	if err := o.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	out, err := o.Deliver(context.Background(), Target{ChallengeID: "c1", Primary: "+4915112345678", Secondary: "a@b.de"}, "123456")
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if out.Channel != ChannelNone {
		t.Fatalf("expected NONE, got %s", out.Channel)
	}
	if len(primary.Calls()) != 0 {
		t.Fatal("no send may start after Wait")
	}
}

func TestWaitConcurrentWithDeliver(t *testing.T) {
	primary := &fakeSender{delay: 5 * time.Millisecond}
	rec := &recorder{}
	o := New(primary, &fakeSender{}, testConfig(), rec.hooks(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Deliver(context.Background(), Target{ChallengeID: "c1", Primary: "+4915112345678"}, "123456")
			if err != nil && !errors.Is(err, ErrClosed) {
				t.Errorf("unexpected deliver error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	// Every send that started finished before Wait returned.
	started := len(primary.Calls())
	wg.Wait()
	if got := len(primary.Calls()); got != started {
		t.Fatalf("sends started after Wait returned: %d then %d", started, got)
	}
}
