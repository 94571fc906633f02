package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goOTP/internal/delivery"
	"github.com/MrEthical07/goOTP/internal/stores"
)

var (
	errNotReady    = errors.New("not ready")
	errValidation  = errors.New("validation")
	errRateLimited = errors.New("rate limited")
	errNoRecords   = errors.New("no records")
	errUnavailable = errors.New("unavailable")
	errExpired     = errors.New("expired")
	errAlreadyUsed = errors.New("already used")
	errExhausted   = errors.New("exhausted")
	errConflict    = errors.New("conflict")
)

type invalidCodeErr struct{ remaining int }

func (e *invalidCodeErr) Error() string { return "invalid code" }

type sendFailedErr struct {
	id  string
	err error
}

func (e *sendFailedErr) Error() string { return "send failed: " + e.err.Error() }

type requestHarness struct {
	created    *stores.ChallengeRecord
	delivered  delivery.Target
	code       string
	rateEvents int
	outcome    delivery.Outcome
	deliverErr error
	limitErr   error
	records    int
}

func (h *requestHarness) deps() RequestDeps {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return RequestDeps{
		CodeDigits:      6,
		MaxAttempts:     3,
		RecordRetention: time.Hour,
		ChallengeTTL:    func(string) time.Duration { return 5 * time.Minute },
		Now:             func() time.Time { return now },
		CheckLimiter: func(context.Context, string, string, string, bool) (time.Duration, error) {
			if h.limitErr != nil {
				return 15 * time.Minute, h.limitErr
			}
			return 0, nil
		},
		CountRelatedRecords: func(context.Context, string, string) (int, error) { return h.records, nil },
		GenerateCode:        func(int) (string, error) { return "123456", nil },
		NewChallengeID:      func() (string, error) { return "challenge-1", nil },
		HashCode:            func(code string) (string, error) { return "hashed:" + code, nil },
		CreateChallenge: func(_ context.Context, rec *stores.ChallengeRecord, _ time.Duration) (string, error) {
			h.created = rec
			return "", nil
		},
		Deliver: func(_ context.Context, target delivery.Target, code string) (delivery.Outcome, error) {
			h.delivered = target
			h.code = code
			return h.outcome, h.deliverErr
		},
		MapLimiterError: func(err error, _ time.Duration) error {
			if errors.Is(err, errRateLimited) {
				return errRateLimited
			}
			return errUnavailable
		},
		SendFailed: func(id string, err error) error { return &sendFailedErr{id: id, err: err} },
		EmitRateLimit: func(context.Context, string, func() map[string]string) {
			h.rateEvents++
		},
		Errors: RequestErrors{
			EngineNotReady:   errNotReady,
			Validation:       errValidation,
			RateLimited:      errRateLimited,
			NoRelatedRecords: errNoRecords,
			Unavailable:      errUnavailable,
		},
	}
}

func TestRequestChallengePrimarySuccess(t *testing.T) {
	h := &requestHarness{outcome: delivery.Outcome{Channel: delivery.ChannelPrimary}}
	res, err := RunRequestChallenge(context.Background(), ChallengeRequest{
		Purpose: "CHECKOUT",
		Phone:   "+4915112345678",
		Email:   "guest@example.com",
		Target:  stores.TargetPhone,
	}, h.deps())
	if err != nil {
		t.Fatalf("RunRequestChallenge failed: %v", err)
	}
	if res.ID != "challenge-1" || res.Channel != delivery.ChannelPrimary {
		t.Fatalf("unexpected result: %+v", res)
	}
	if h.created == nil || h.created.CodeHash == h.code || h.created.CodeHash != "hashed:123456" {
		t.Fatalf("stored record must carry the hash, got %+v", h.created)
	}
	if h.created.MaxAttempts != 3 || !h.created.ExpiresAt.Equal(h.created.CreatedAt.Add(5*time.Minute)) {
		t.Fatalf("unexpected record limits: %+v", h.created)
	}
	if h.delivered.SkipPrimary || h.delivered.Primary != "+4915112345678" || h.delivered.Secondary != "guest@example.com" {
		t.Fatalf("unexpected delivery target: %+v", h.delivered)
	}
}

func TestRequestChallengeEmailTargetSkipsPrimary(t *testing.T) {
	h := &requestHarness{outcome: delivery.Outcome{Channel: delivery.ChannelSecondary}}
	_, err := RunRequestChallenge(context.Background(), ChallengeRequest{
		Purpose: "CHECKOUT",
		Phone:   "+4915112345678",
		Email:   "guest@example.com",
		Target:  stores.TargetEmail,
	}, h.deps())
	if err != nil {
		t.Fatalf("RunRequestChallenge failed: %v", err)
	}
	if !h.delivered.SkipPrimary {
		t.Fatalf("email target must skip the primary channel")
	}
}

func TestRequestChallengeValidation(t *testing.T) {
	h := &requestHarness{}
	cases := []ChallengeRequest{
		{Purpose: "CHECKOUT", Target: stores.TargetPhone},
		{Purpose: "CHECKOUT", Target: stores.TargetEmail, Phone: "+4915112345678"},
		{Purpose: "CHECKOUT", Target: "fax", Phone: "+4915112345678"},
		{Purpose: "CHECKOUT", Target: stores.TargetPhone, Phone: "+4915112345678", SecondaryOnly: true},
		{Target: stores.TargetPhone, Phone: "+4915112345678"},
	}
	for i, req := range cases {
		if _, err := RunRequestChallenge(context.Background(), req, h.deps()); !errors.Is(err, errValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if h.created != nil {
		t.Fatalf("invalid requests must not create challenges")
	}
}

func TestRequestChallengeRateLimited(t *testing.T) {
	h := &requestHarness{limitErr: errRateLimited}
	_, err := RunRequestChallenge(context.Background(), ChallengeRequest{
		Purpose: "CHECKOUT",
		Phone:   "+4915112345678",
		Target:  stores.TargetPhone,
	}, h.deps())
	if !errors.Is(err, errRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if h.rateEvents != 1 {
		t.Fatalf("expected one rate limit event, got %d", h.rateEvents)
	}
	if h.created != nil {
		t.Fatalf("rate limited request must not create a challenge")
	}
}

func TestRequestChallengeRequiresRelatedRecords(t *testing.T) {
	h := &requestHarness{outcome: delivery.Outcome{Channel: delivery.ChannelPrimary}}
	req := ChallengeRequest{
		Purpose:               "ORDER_TRACKING",
		Phone:                 "+4915112345678",
		Target:                stores.TargetPhone,
		RequireRelatedRecords: true,
	}
	if _, err := RunRequestChallenge(context.Background(), req, h.deps()); !errors.Is(err, errNoRecords) {
		t.Fatalf("expected no records error, got %v", err)
	}
	if h.created != nil {
		t.Fatalf("challenge must not be created without related records")
	}

	h.records = 2
	res, err := RunRequestChallenge(context.Background(), req, h.deps())
	if err != nil {
		t.Fatalf("RunRequestChallenge failed: %v", err)
	}
	if res.RelatedRecordCount != 2 {
		t.Fatalf("expected 2 related records, got %d", res.RelatedRecordCount)
	}
}

func TestRequestChallengeSendFailureKeepsChallengeID(t *testing.T) {
	h := &requestHarness{
		outcome:    delivery.Outcome{Channel: delivery.ChannelNone, PrimaryTimedOut: true},
		deliverErr: delivery.ErrPrimaryTimeout,
	}
	_, err := RunRequestChallenge(context.Background(), ChallengeRequest{
		Purpose: "CHECKOUT",
		Phone:   "+4915112345678",
		Target:  stores.TargetPhone,
	}, h.deps())
	var sendErr *sendFailedErr
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected send failure, got %v", err)
	}
	if sendErr.id != "challenge-1" || !errors.Is(sendErr.err, delivery.ErrPrimaryTimeout) {
		t.Fatalf("unexpected send failure: %+v", sendErr)
	}
	if h.created == nil {
		t.Fatalf("challenge must be stored before delivery")
	}
}

type verifyHarness struct {
	record   *stores.ChallengeRecord
	beginErr error
	markErr  error
	compared bool
	marked   bool
}

func (h *verifyHarness) deps() VerifyDeps {
	return VerifyDeps{
		BeginAttempt: func(context.Context, string, string, string, string, time.Time) (*stores.ChallengeRecord, error) {
			if h.beginErr != nil {
				return nil, h.beginErr
			}
			h.record.Attempts++
			cp := *h.record
			return &cp, nil
		},
		CompareCode: func(code, hash string) (bool, error) {
			h.compared = true
			if hash == "corrupt" {
				return false, errors.New("bad hash")
			}
			return "hashed:"+code == hash, nil
		},
		MarkVerified: func(context.Context, *stores.ChallengeRecord, time.Time) error {
			if h.markErr != nil {
				return h.markErr
			}
			h.marked = true
			return nil
		},
		MapStoreError: func(err error) error { return err },
		InvalidCode:   func(remaining int) error { return &invalidCodeErr{remaining: remaining} },
		Errors: VerifyErrors{
			EngineNotReady:   errNotReady,
			Validation:       errValidation,
			Expired:          errExpired,
			AlreadyUsed:      errAlreadyUsed,
			AttemptsExceeded: errExhausted,
			Unavailable:      errUnavailable,
		},
	}
}

func newVerifyHarness() *verifyHarness {
	return &verifyHarness{record: &stores.ChallengeRecord{
		ID:          "challenge-1",
		Purpose:     "CHECKOUT",
		Target:      stores.TargetPhone,
		Phone:       "+4915112345678",
		CodeHash:    "hashed:123456",
		MaxAttempts: 3,
	}}
}

func TestVerifyChallengeWrongCodeReportsRemaining(t *testing.T) {
	h := newVerifyHarness()
	req := VerifyRequest{Purpose: "CHECKOUT", ChallengeID: "challenge-1", Code: "000000", Phone: "+4915112345678"}

	for want := 2; want >= 0; want-- {
		_, err := RunVerifyChallenge(context.Background(), req, h.deps())
		var invalid *invalidCodeErr
		if !errors.As(err, &invalid) {
			t.Fatalf("expected invalid code, got %v", err)
		}
		if invalid.remaining != want {
			t.Fatalf("expected remaining=%d, got %d", want, invalid.remaining)
		}
	}
	if h.marked {
		t.Fatalf("wrong code must never mark verified")
	}
}

func TestVerifyChallengeSuccess(t *testing.T) {
	h := newVerifyHarness()
	res, err := RunVerifyChallenge(context.Background(), VerifyRequest{
		Purpose:     "CHECKOUT",
		ChallengeID: "challenge-1",
		Code:        "123456",
		Phone:       "+4915112345678",
	}, h.deps())
	if err != nil {
		t.Fatalf("RunVerifyChallenge failed: %v", err)
	}
	if !res.Record.Verified || !h.marked {
		t.Fatalf("expected verified record")
	}
}

func TestVerifyChallengeGateErrorSkipsCompare(t *testing.T) {
	h := newVerifyHarness()
	h.beginErr = errExhausted
	_, err := RunVerifyChallenge(context.Background(), VerifyRequest{
		Purpose:     "CHECKOUT",
		ChallengeID: "challenge-1",
		Code:        "123456",
		Phone:       "+4915112345678",
	}, h.deps())
	if !errors.Is(err, errExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if h.compared {
		t.Fatalf("code must not be compared once a gate rejects")
	}
}

func TestVerifyChallengeCompareErrorConsumesAttempt(t *testing.T) {
	h := newVerifyHarness()
	h.record.CodeHash = "corrupt"
	_, err := RunVerifyChallenge(context.Background(), VerifyRequest{
		Purpose:     "CHECKOUT",
		ChallengeID: "challenge-1",
		Code:        "123456",
		Phone:       "+4915112345678",
	}, h.deps())
	if !errors.Is(err, errUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if h.record.Attempts != 1 {
		t.Fatalf("attempt must be consumed before comparing, got %d", h.record.Attempts)
	}
}

func TestVerifyChallengeLosesSingleUseRace(t *testing.T) {
	h := newVerifyHarness()
	h.markErr = errAlreadyUsed
	_, err := RunVerifyChallenge(context.Background(), VerifyRequest{
		Purpose:     "CHECKOUT",
		ChallengeID: "challenge-1",
		Code:        "123456",
		Phone:       "+4915112345678",
	}, h.deps())
	if !errors.Is(err, errAlreadyUsed) {
		t.Fatalf("expected already used, got %v", err)
	}
}

type identityHarness struct {
	byContact   map[string]IdentityRecord
	conflictOn  bool
	setVerified []string
	nextID      int
}

func newIdentityHarness() *identityHarness {
	return &identityHarness{byContact: map[string]IdentityRecord{}}
}

func (h *identityHarness) deps() IdentityDeps {
	return IdentityDeps{
		NewIdentityID: func() (string, error) {
			h.nextID++
			return "ident-" + string(rune('0'+h.nextID)), nil
		},
		Find: func(_ context.Context, target, contact string) (IdentityRecord, bool, error) {
			rec, ok := h.byContact[target+":"+contact]
			return rec, ok, nil
		},
		Create: func(_ context.Context, rec IdentityRecord) (IdentityRecord, error) {
			if h.conflictOn {
				h.byContact["phone:"+rec.Phone] = IdentityRecord{ID: "ident-racer", Phone: rec.Phone, Kind: "GUEST"}
				return IdentityRecord{}, errConflict
			}
			if rec.Phone != "" {
				h.byContact["phone:"+rec.Phone] = rec
			}
			if rec.Email != "" {
				h.byContact["email:"+rec.Email] = rec
			}
			return rec, nil
		},
		SetVerified: func(_ context.Context, id, target string) error {
			h.setVerified = append(h.setVerified, id+":"+target)
			return nil
		},
		IsConflict: func(err error) bool { return errors.Is(err, errConflict) },
		Errors: IdentityErrors{
			EngineNotReady: errNotReady,
			Validation:     errValidation,
			Unavailable:    errUnavailable,
		},
	}
}

func TestResolveIdentityCreatesThenReuses(t *testing.T) {
	h := newIdentityHarness()

	first, err := RunResolveIdentity(context.Background(), stores.TargetPhone, "+4915112345678", h.deps())
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	if !first.IsNew || first.Identity.Email != "" || !first.Identity.PhoneVerified || first.Identity.Kind != "GUEST" {
		t.Fatalf("unexpected new identity: %+v", first)
	}

	second, err := RunResolveIdentity(context.Background(), stores.TargetPhone, "+4915112345678", h.deps())
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if second.IsNew || second.Identity.ID != first.Identity.ID {
		t.Fatalf("expected reuse of %s, got %+v", first.Identity.ID, second)
	}
	if len(h.setVerified) != 0 {
		t.Fatalf("already verified contact must not be re-marked: %v", h.setVerified)
	}
}

func TestResolveIdentityMarksUnverifiedChannel(t *testing.T) {
	h := newIdentityHarness()
	h.byContact["email:guest@example.com"] = IdentityRecord{ID: "ident-9", Email: "guest@example.com", Kind: "REGISTERED"}

	res, err := RunResolveIdentity(context.Background(), stores.TargetEmail, "guest@example.com", h.deps())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.IsNew || !res.Identity.EmailVerified {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(h.setVerified) != 1 || h.setVerified[0] != "ident-9:email" {
		t.Fatalf("expected email to be marked verified, got %v", h.setVerified)
	}
}

func TestResolveIdentityCreateConflictRereads(t *testing.T) {
	h := newIdentityHarness()
	h.conflictOn = true

	res, err := RunResolveIdentity(context.Background(), stores.TargetPhone, "+4915112345678", h.deps())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.IsNew || res.Identity.ID != "ident-racer" {
		t.Fatalf("expected concurrent identity, got %+v", res)
	}
}

func TestVerifyAndIssueBindsPurposeAndSubject(t *testing.T) {
	vh := newVerifyHarness()
	ih := newIdentityHarness()

	var gotSubject, gotPurpose, gotContact string
	var gotTTL time.Duration
	deps := Deps{
		Verify:   vh.deps(),
		Identity: ih.deps(),
		Issue: IssueDeps{
			SessionTTL: func(purpose string) time.Duration {
				if purpose == "CHECKOUT" {
					return 24 * time.Hour
				}
				return 30 * time.Minute
			},
			CreateSession: func(subject, purpose, contact string, ttl time.Duration) (string, time.Time, error) {
				gotSubject, gotPurpose, gotContact, gotTTL = subject, purpose, contact, ttl
				return "signed-token", time.Unix(0, 0).Add(ttl), nil
			},
			Errors: IssueErrors{EngineNotReady: errNotReady, Unavailable: errUnavailable},
		},
	}

	res, err := RunVerifyAndIssue(context.Background(), VerifyRequest{
		Purpose:     "CHECKOUT",
		ChallengeID: "challenge-1",
		Code:        "123456",
		Phone:       "+4915112345678",
	}, deps)
	if err != nil {
		t.Fatalf("RunVerifyAndIssue failed: %v", err)
	}
	if res.Token != "signed-token" || !res.IsNewIdentity || res.SubjectID != gotSubject {
		t.Fatalf("unexpected session: %+v", res)
	}
	if gotPurpose != "CHECKOUT" || gotContact != "+4915112345678" || gotTTL != 24*time.Hour {
		t.Fatalf("unexpected session inputs: %s %s %s", gotPurpose, gotContact, gotTTL)
	}
}
