package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	goOTP "github.com/MrEthical07/goOTP"
)

func main() {
	var (
		challenges  = flag.Int("challenges", 2000, "number of checkout challenges to issue")
		racers      = flag.Int("racers", 8, "concurrent verifies per challenge")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "otplt", "redis key prefix")
		argonMemory = flag.Uint("argon-memory", 8*1024, "argon2 memory in KiB")
	)
	flag.Parse()

	if *challenges <= 0 || *racers <= 0 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "challenges, racers, and concurrency must be > 0")
		os.Exit(2)
	}

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	sink := &codeSink{codes: make(map[string]string, *challenges)}
	engine, err := buildEngine(client, *prefix, uint32(*argonMemory), sink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = engine.Close(ctx)
	}()

	ctx := context.Background()
	issued, requestStats := runRequestPhase(ctx, engine, *challenges, *concurrency)
	verifyStats, doubles := runVerifyRace(ctx, engine, sink, issued, *racers, *concurrency)

	fmt.Println("---- results ----")
	printStats("request", requestStats)
	printStats("verify", verifyStats)
	fmt.Printf("challenges=%d racers=%d double-verified=%d\n", len(issued), *racers, doubles)
	if doubles > 0 {
		os.Exit(1)
	}
}

func buildEngine(client redis.UniversalClient, prefix string, memory uint32, sink *codeSink) (*goOTP.Engine, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	cfg := goOTP.DefaultConfig()
	cfg.Redis.Prefix = prefix
	cfg.Session.PrivateKey = []byte(priv)
	cfg.CodeHash.Memory = memory
	cfg.CodeHash.Time = 1
	cfg.Challenge.RequireRelatedRecords = false
	cfg.Challenge.MaxAttempts = 10

	return goOTP.New().
		WithConfig(cfg).
		WithRedis(client).
		WithPrimaryChannel(sink).
		WithIdentityRepository(newMemIdentities()).
		Build()
}

type issuedChallenge struct {
	id    string
	phone string
}

func runRequestPhase(ctx context.Context, engine *goOTP.Engine, n, concurrency int) ([]issuedChallenge, phaseStats) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, n)
		issued    = make([]issuedChallenge, 0, n)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= n {
					return
				}
				phone := fmt.Sprintf("+49151%08d", i)
				t0 := time.Now()
				res, err := engine.RequestCheckoutOTP(ctx, goOTP.CheckoutOTPRequest{Phone: phone})
				d := time.Since(t0)

				mu.Lock()
				latencies = append(latencies, d)
				if err == nil {
					issued = append(issued, issuedChallenge{id: res.OTPID, phone: phone})
				}
				mu.Unlock()
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}
	wg.Wait()
	return issued, computeStats(time.Since(start), latencies, failures)
}

// runVerifyRace submits the correct code racers times per challenge at once.
// Exactly one verify per challenge may succeed.
func runVerifyRace(ctx context.Context, engine *goOTP.Engine, sink *codeSink, issued []issuedChallenge, racers, concurrency int) (phaseStats, int64) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		doubles   int64
		latencies = make([]time.Duration, 0, len(issued)*racers)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(issued) {
					return
				}
				c := issued[i]
				req := goOTP.VerifyCheckoutOTPRequest{OTPID: c.id, Code: sink.code(c.phone), Phone: c.phone}

				var (
					race      sync.WaitGroup
					successes int64
				)
				for r := 0; r < racers; r++ {
					race.Add(1)
					go func() {
						defer race.Done()
						t0 := time.Now()
						_, err := engine.VerifyCheckoutOTP(ctx, req)
						d := time.Since(t0)
						switch {
						case err == nil:
							atomic.AddInt64(&successes, 1)
						case errors.Is(err, goOTP.ErrAlreadyUsed):
						default:
							atomic.AddInt64(&failures, 1)
						}
						mu.Lock()
						latencies = append(latencies, d)
						mu.Unlock()
					}()
				}
				race.Wait()
				if successes > 1 {
					atomic.AddInt64(&doubles, 1)
				}
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures), doubles
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

type codeSink struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *codeSink) SendCode(_ context.Context, phone, code string) error {
	s.mu.Lock()
	s.codes[phone] = code
	s.mu.Unlock()
	return nil
}

func (s *codeSink) code(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone]
}

type memIdentities struct {
	mu      sync.Mutex
	byPhone map[string]goOTP.GuestIdentity
}

func newMemIdentities() *memIdentities {
	return &memIdentities{byPhone: map[string]goOTP.GuestIdentity{}}
}

func (m *memIdentities) FindByPhone(_ context.Context, phone string) (*goOTP.GuestIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.byPhone[phone]
	if !ok {
		return nil, goOTP.ErrIdentityNotFound
	}
	return &g, nil
}

func (m *memIdentities) FindByEmail(context.Context, string) (*goOTP.GuestIdentity, error) {
	return nil, goOTP.ErrIdentityNotFound
}

func (m *memIdentities) CreateGuest(_ context.Context, g goOTP.GuestIdentity) (*goOTP.GuestIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byPhone[g.Phone]; ok {
		return nil, goOTP.ErrIdentityConflict
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	m.byPhone[g.Phone] = g
	return &g, nil
}

func (m *memIdentities) SetVerified(context.Context, string, goOTP.ContactKind) error {
	return nil
}
