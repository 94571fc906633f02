package otel

import (
	"context"
	"sync"
	"testing"

	goOTP "github.com/MrEthical07/goOTP"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot goOTP.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() goOTP.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goOTP.MetricsSnapshot{
		Counters:   make(map[goOTP.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[goOTP.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findInt64(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			}
		}
	}
	return 0, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader(t)

	src := &fakeSource{
		snapshot: goOTP.MetricsSnapshot{
			Counters: map[goOTP.MetricID]uint64{
				goOTP.MetricOTPVerifySuccess: 3,
			},
			Histograms: map[goOTP.MetricID][]uint64{
				goOTP.MetricPrimaryDeliveryLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(provider.Meter("gootp-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if v, ok := findInt64(rm, "gootp_verify_success_total"); !ok || v != 3 {
		t.Fatalf("verify success = %d, %v", v, ok)
	}
	if v, ok := findInt64(rm, "gootp_primary_delivery_latency_seconds_bucket_le_0_5"); !ok || v != 3 {
		t.Fatalf("cumulative bucket = %d, %v", v, ok)
	}
	if v, ok := findInt64(rm, "gootp_primary_delivery_latency_seconds_count"); !ok || v != 8 {
		t.Fatalf("histogram count = %d, %v", v, ok)
	}
	if v, ok := findInt64(rm, "gootp_audit_dropped_total"); !ok || v != 1 {
		t.Fatalf("audit dropped = %d, %v", v, ok)
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader(t)

	if _, err := NewOTelExporterFromSource(provider.Meter("gootp-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewOTelExporter(provider.Meter("gootp-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader(t)

	src := &fakeSource{
		snapshot: goOTP.MetricsSnapshot{
			Counters:   map[goOTP.MetricID]uint64{goOTP.MetricOTPRequest: 1},
			Histograms: map[goOTP.MetricID][]uint64{},
		},
	}

	exp, err := NewOTelExporterFromSource(provider.Meter("gootp-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[goOTP.MetricOTPRequest] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
