package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	challengeRecordVersionV1 = "1"

	TargetPhone = "phone"
	TargetEmail = "email"

	ChannelNone      = "NONE"
	ChannelPrimary   = "PRIMARY"
	ChannelSecondary = "SECONDARY"
)

var (
	ErrChallengeNotFound         = errors.New("challenge not found")
	ErrChallengeContactMismatch  = errors.New("challenge contact mismatch")
	ErrChallengeExpired          = errors.New("challenge expired")
	ErrChallengeAlreadyUsed      = errors.New("challenge already used")
	ErrChallengeAttemptsExceeded = errors.New("challenge attempts exceeded")
	ErrChallengeRedisUnavailable = errors.New("challenge redis unavailable")
	ErrChallengeInvalidRecord    = errors.New("invalid challenge record")
)

// createChallengeLua writes a new challenge and points the active index at it.
// Any prior unverified challenge named by the index is marked superseded in
// the same script. The prior record key is derived from ARGV[2]; callers
// running Redis Cluster must keep record and index keys in one slot.
// KEYS[1] = record key
// KEYS[2] = active index key
// ARGV[1] = challenge id
// ARGV[2] = record key prefix
// ARGV[3] = record ttl (ms)
// ARGV[4] = active index ttl (ms)
// ARGV[5..] = field/value pairs
//
// Returns the superseded challenge id or "".
var createChallengeLua = redis.NewScript(`
local prev = redis.call('GET', KEYS[2])
local superseded = ''
if prev and prev ~= ARGV[1] then
  local prevKey = ARGV[2] .. prev
  if redis.call('HGET', prevKey, 'ver') == '0' then
    redis.call('HSET', prevKey, 'sup', '1')
    superseded = prev
  end
end
redis.call('HSET', KEYS[1], unpack(ARGV, 5))
redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[3]))
redis.call('SET', KEYS[2], ARGV[1], 'PX', tonumber(ARGV[4]))
return superseded
`)

// beginAttemptLua runs the ordered verification gates and, when every gate
// passes, increments the attempt counter before any code comparison happens.
// KEYS[1] = record key
// ARGV[1] = provided phone
// ARGV[2] = provided email
// ARGV[3] = now (unix ms)
// ARGV[4] = expected purpose ("" accepts any)
//
// Returns the full record (HGETALL) after the increment, or an error string:
// "not_found", "contact_mismatch", "expired", "already_used", "attempts_exceeded".
var beginAttemptLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {err='not_found'}
end
local rec = redis.call('HMGET', KEYS[1], 'target', 'phone', 'email', 'exp', 'ver', 'att', 'max', 'sup', 'purpose')
if ARGV[4] ~= '' and rec[9] ~= ARGV[4] then
  return {err='not_found'}
end

local expected = rec[2]
local provided = ARGV[1]
if rec[1] == 'email' then
  expected = rec[3]
  provided = ARGV[2]
end
if (not expected) or expected == '' or expected ~= provided then
  return {err='contact_mismatch'}
end

if rec[8] == '1' or tonumber(ARGV[3]) >= tonumber(rec[4]) then
  return {err='expired'}
end

if rec[5] == '1' then
  return {err='already_used'}
end

if tonumber(rec[6]) >= tonumber(rec[7]) then
  return {err='attempts_exceeded'}
end

redis.call('HINCRBY', KEYS[1], 'att', 1)
return redis.call('HGETALL', KEYS[1])
`)

// markVerifiedLua is the single-use gate: verified flips 0 -> 1 exactly once.
// KEYS[1] = record key
// KEYS[2] = active index key
// ARGV[1] = challenge id
// ARGV[2] = verifiedAt (unix ms)
//
// A challenge superseded or expired after BeginAttempt is refused here too.
var markVerifiedLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {err='not_found'}
end
local rec = redis.call('HMGET', KEYS[1], 'sup', 'exp')
if rec[1] == '1' or tonumber(ARGV[2]) >= tonumber(rec[2]) then
  return {err='expired'}
end
if redis.call('HGET', KEYS[1], 'ver') ~= '0' then
  return {err='already_used'}
end
redis.call('HSET', KEYS[1], 'ver', '1', 'vat', ARGV[2])
if redis.call('GET', KEYS[2]) == ARGV[1] then
  redis.call('DEL', KEYS[2])
end
return 1
`)

// setChannelLua records the delivery channel. With ARGV[2]=="1" it only
// writes when no channel has been recorded yet.
var setChannelLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if ARGV[2] == '1' and redis.call('HGET', KEYS[1], 'ch') ~= 'NONE' then
  return 0
end
redis.call('HSET', KEYS[1], 'ch', ARGV[1])
return 1
`)

// ChallengeRecord is the persisted form of an OTP challenge.
type ChallengeRecord struct {
	ID      string
	Purpose string
	// Target is TargetPhone or TargetEmail and selects which contact the
	// challenge verifies.
	Target            string
	Phone             string
	Email             string
	CodeHash          string
	Attempts          int
	MaxAttempts       int
	CreatedAt         time.Time
	ExpiresAt         time.Time
	Verified          bool
	VerifiedAt        time.Time
	DeliveryChannel   string
	RelatedIdentityID string
	Superseded        bool
}

// ContactKey returns the normalized contact the challenge verifies.
func (r *ChallengeRecord) ContactKey() string {
	if r.Target == TargetEmail {
		return r.Email
	}
	return r.Phone
}

// ChallengeStore persists challenges as Redis hashes with an
// (purpose, contact) -> id active index.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "otp"
	}
	return &ChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ChallengeStore) recordPrefix() string {
	return s.prefix + ":c:"
}

func (s *ChallengeStore) key(id string) string {
	return s.recordPrefix() + id
}

func (s *ChallengeStore) activeKey(purpose, contactKey string) string {
	return s.prefix + ":a:" + purpose + ":" + contactKey
}

// Create stores record and makes it the only active challenge for its
// (purpose, contact) pair. retention keeps the record readable after expiry
// so late verifications report expiry instead of not-found.
func (s *ChallengeStore) Create(ctx context.Context, record *ChallengeRecord, retention time.Duration) (string, error) {
	if record == nil || record.ID == "" || record.ContactKey() == "" {
		return "", ErrChallengeInvalidRecord
	}
	lifetime := record.ExpiresAt.Sub(record.CreatedAt)
	if lifetime <= 0 {
		return "", ErrChallengeInvalidRecord
	}
	if record.DeliveryChannel == "" {
		record.DeliveryChannel = ChannelNone
	}
	if retention < 0 {
		retention = 0
	}

	args := []any{
		record.ID,
		s.recordPrefix(),
		(lifetime + retention).Milliseconds(),
		lifetime.Milliseconds(),
	}
	args = append(args, encodeChallengeRecord(record)...)

	superseded, err := createChallengeLua.Run(ctx, s.redis,
		[]string{s.key(record.ID), s.activeKey(record.Purpose, record.ContactKey())},
		args...,
	).Text()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return superseded, nil
}

// BeginAttempt validates the challenge for a verification attempt and
// consumes one attempt. The returned record reflects the incremented count.
// A challenge issued for another purpose is reported as not found.
func (s *ChallengeStore) BeginAttempt(ctx context.Context, id, purpose, phone, email string, now time.Time) (*ChallengeRecord, error) {
	if id == "" {
		return nil, ErrChallengeNotFound
	}
	res, err := beginAttemptLua.Run(ctx, s.redis,
		[]string{s.key(id)},
		phone,
		email,
		now.UnixMilli(),
		purpose,
	).StringSlice()
	if err != nil {
		return nil, mapChallengeScriptError(err)
	}
	return decodeChallengeRecord(pairsToMap(res))
}

// MarkVerified flips the record to verified. Exactly one caller wins; every
// other concurrent caller gets ErrChallengeAlreadyUsed.
func (s *ChallengeStore) MarkVerified(ctx context.Context, record *ChallengeRecord, now time.Time) error {
	if record == nil {
		return ErrChallengeNotFound
	}
	err := markVerifiedLua.Run(ctx, s.redis,
		[]string{s.key(record.ID), s.activeKey(record.Purpose, record.ContactKey())},
		record.ID,
		now.UnixMilli(),
	).Err()
	if err != nil {
		return mapChallengeScriptError(err)
	}
	return nil
}

// SetDeliveryChannel records how the code was delivered. When onlyIfNone is
// set an already recorded channel is kept. It reports whether it wrote.
func (s *ChallengeStore) SetDeliveryChannel(ctx context.Context, id, channel string, onlyIfNone bool) (bool, error) {
	flag := "0"
	if onlyIfNone {
		flag = "1"
	}
	n, err := setChannelLua.Run(ctx, s.redis, []string{s.key(id)}, channel, flag).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return n == 1, nil
}

// Get loads a challenge without touching it.
func (s *ChallengeStore) Get(ctx context.Context, id string) (*ChallengeRecord, error) {
	if id == "" {
		return nil, ErrChallengeNotFound
	}
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrChallengeNotFound
	}
	return decodeChallengeRecord(fields)
}

// ActiveID returns the id the active index points to for (purpose, contact),
// or "" when there is none.
func (s *ChallengeStore) ActiveID(ctx context.Context, purpose, contactKey string) (string, error) {
	id, err := s.redis.Get(ctx, s.activeKey(purpose, contactKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return id, nil
}

func mapChallengeScriptError(err error) error {
	switch err.Error() {
	case "not_found":
		return ErrChallengeNotFound
	case "contact_mismatch":
		return ErrChallengeContactMismatch
	case "expired":
		return ErrChallengeExpired
	case "already_used":
		return ErrChallengeAlreadyUsed
	case "attempts_exceeded":
		return ErrChallengeAttemptsExceeded
	default:
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
}

func encodeChallengeRecord(r *ChallengeRecord) []any {
	verified := "0"
	if r.Verified {
		verified = "1"
	}
	superseded := "0"
	if r.Superseded {
		superseded = "1"
	}
	var verifiedAt int64
	if !r.VerifiedAt.IsZero() {
		verifiedAt = r.VerifiedAt.UnixMilli()
	}
	return []any{
		"v", challengeRecordVersionV1,
		"id", r.ID,
		"purpose", r.Purpose,
		"target", r.Target,
		"phone", r.Phone,
		"email", r.Email,
		"hash", r.CodeHash,
		"att", strconv.Itoa(r.Attempts),
		"max", strconv.Itoa(r.MaxAttempts),
		"cat", strconv.FormatInt(r.CreatedAt.UnixMilli(), 10),
		"exp", strconv.FormatInt(r.ExpiresAt.UnixMilli(), 10),
		"ver", verified,
		"vat", strconv.FormatInt(verifiedAt, 10),
		"ch", r.DeliveryChannel,
		"rid", r.RelatedIdentityID,
		"sup", superseded,
	}
}

func decodeChallengeRecord(f map[string]string) (*ChallengeRecord, error) {
	if f["v"] != challengeRecordVersionV1 {
		return nil, fmt.Errorf("%w: version %q", ErrChallengeInvalidRecord, f["v"])
	}

	intField := func(name string) (int64, error) {
		n, err := strconv.ParseInt(f[name], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: field %s", ErrChallengeInvalidRecord, name)
		}
		return n, nil
	}

	att, err := intField("att")
	if err != nil {
		return nil, err
	}
	max, err := intField("max")
	if err != nil {
		return nil, err
	}
	cat, err := intField("cat")
	if err != nil {
		return nil, err
	}
	exp, err := intField("exp")
	if err != nil {
		return nil, err
	}
	vat, err := intField("vat")
	if err != nil {
		return nil, err
	}

	r := &ChallengeRecord{
		ID:                f["id"],
		Purpose:           f["purpose"],
		Target:            f["target"],
		Phone:             f["phone"],
		Email:             f["email"],
		CodeHash:          f["hash"],
		Attempts:          int(att),
		MaxAttempts:       int(max),
		CreatedAt:         time.UnixMilli(cat).UTC(),
		ExpiresAt:         time.UnixMilli(exp).UTC(),
		Verified:          f["ver"] == "1",
		DeliveryChannel:   f["ch"],
		RelatedIdentityID: f["rid"],
		Superseded:        f["sup"] == "1",
	}
	if vat > 0 {
		r.VerifiedAt = time.UnixMilli(vat).UTC()
	}
	return r, nil
}

func pairsToMap(pairs []string) map[string]string {
	out := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out[pairs[i]] = pairs[i+1]
	}
	return out
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *ChallengeStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return time.Since(start), nil
}
