package metrics

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter or histogram slot.
type MetricID uint16

const (
	OTPRequest MetricID = iota
	OTPResend
	OTPRequestFailure
	OTPSuperseded
	DeliveryPrimary
	DeliverySecondary
	DeliveryFallback
	DeliveryFailure
	DeliveryPrimaryTimeout
	DeliveryPrimaryLate
	OTPVerifySuccess
	OTPVerifyFailure
	OTPInvalidCode
	OTPAttemptsExceeded
	OTPAlreadyUsed
	OTPExpired
	IdentityCreated
	IdentityReused
	SessionIssued
	SessionIssueFailure
	SessionValidated
	SessionRejected
	SessionPurposeMismatch
	RateLimitHit
	PrimaryDeliveryLatency
	SecondaryDeliveryLatency
	VerifyLatency
	MetricIDCount
)

const (
	HistogramBucketCount = 8
	cacheLineSize        = 64
)

type histogram struct {
	buckets [HistogramBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

type Config struct {
	Enabled       bool
	EnableLatency bool
}

// Metrics holds cache-line padded counters and fixed-bucket latency
// histograms. All methods are safe on a nil receiver.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [MetricIDCount]paddedCounter
	histograms    [MetricIDCount]histogram
}

// Snapshot is a point-in-time copy of every counter and histogram.
type Snapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatency,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram for id. Ids that are not histograms
// are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || !IsHistogram(id) {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[BucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := Snapshot{
		Counters:   make(map[MetricID]uint64, int(MetricIDCount)),
		Histograms: make(map[MetricID][]uint64, 3),
	}
	for id := MetricID(0); id < MetricIDCount; id++ {
		if IsHistogram(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for id := MetricID(0); id < MetricIDCount; id++ {
			if !IsHistogram(id) {
				continue
			}
			buckets := make([]uint64, HistogramBucketCount)
			for i := 0; i < HistogramBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}
	return s
}

// IsHistogram reports whether id names a latency histogram.
func IsHistogram(id MetricID) bool {
	switch id {
	case PrimaryDeliveryLatency, SecondaryDeliveryLatency, VerifyLatency:
		return true
	}
	return false
}

// BucketIndex maps a latency to its bucket. Upper bounds are 100ms, 250ms,
// 500ms, 1s, 2.5s, 5s, 15s and +Inf.
func BucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 100:
		return 0
	case ms <= 250:
		return 1
	case ms <= 500:
		return 2
	case ms <= 1000:
		return 3
	case ms <= 2500:
		return 4
	case ms <= 5000:
		return 5
	case ms <= 15000:
		return 6
	default:
		return 7
	}
}
