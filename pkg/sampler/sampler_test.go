package sampler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/markus-lassfolk/lteopt/pkg"
	"github.com/markus-lassfolk/lteopt/pkg/logx"
	"github.com/markus-lassfolk/lteopt/pkg/scoring"
	"github.com/markus-lassfolk/lteopt/pkg/telem"
)

// mockDevice returns queued responses, then repeats the last one.
type mockDevice struct {
	mu        sync.Mutex
	responses []mockResponse
	calls     int
}

type mockResponse struct {
	sample *pkg.SignalSample
	err    error
}

func (m *mockDevice) GetSignalMetrics(ctx context.Context) (*pkg.SignalSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.calls
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.calls++
	r := m.responses[idx]
	return r.sample, r.err
}

type mockSink struct {
	mu      sync.Mutex
	samples []*pkg.ScoredSample
}

func (m *mockSink) RecordSample(s *pkg.ScoredSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

func goodSample(band string) *pkg.SignalSample {
	return &pkg.SignalSample{
		Timestamp: time.Now(),
		Band:      band,
		RSRP:      -85,
		RSRQ:      -12,
		SINR:      15,
		RSSI:      -70,
	}
}

func newTestSampler(t *testing.T, device pkg.DeviceClient, capacity int, sinks ...pkg.SampleSink) (*Sampler, *telem.Store) {
	t.Helper()
	engine := scoring.NewEngine(scoring.DefaultWeights, scoring.PeakWeights)
	logger := logx.NewLogger("error", "sampler-test")
	telemetry := telem.NewStore(100, 100)

	s, err := New(device, engine, Config{
		Interval:        time.Second,
		HistoryCapacity: capacity,
	}, logger, telemetry, nil, sinks...)
	if err != nil {
		t.Fatalf("failed to create sampler: %v", err)
	}
	return s, telemetry
}

func TestTickAppendsScoredSample(t *testing.T) {
	device := &mockDevice{responses: []mockResponse{{sample: goodSample("B3")}}}
	sink := &mockSink{}
	s, _ := newTestSampler(t, device, 10, sink)

	scored := s.Tick(context.Background())
	if scored == nil {
		t.Fatal("expected a scored sample")
	}
	if scored.Band != "B3" {
		t.Errorf("expected band B3, got %s", scored.Band)
	}
	if scored.Score <= 0 || scored.Score > 1 {
		t.Errorf("score out of range: %f", scored.Score)
	}
	if got := len(s.Peek(10)); got != 1 {
		t.Errorf("expected 1 sample in history, got %d", got)
	}
	if sink.count() != 1 {
		t.Errorf("expected sink to receive 1 sample, got %d", sink.count())
	}
}

func TestPollFailureLeavesGap(t *testing.T) {
	device := &mockDevice{responses: []mockResponse{
		{sample: goodSample("B3")},
		{err: pkg.ErrDeviceUnreachable},
		{sample: goodSample("B3")},
	}}
	s, _ := newTestSampler(t, device, 10)

	ctx := context.Background()
	if s.Tick(ctx) == nil {
		t.Fatal("first tick should succeed")
	}
	if s.Tick(ctx) != nil {
		t.Fatal("second tick should fail")
	}
	if s.Tick(ctx) == nil {
		t.Fatal("third tick should succeed")
	}

	// The failed tick must not append anything.
	if got := len(s.Peek(10)); got != 2 {
		t.Errorf("expected 2 samples in history, got %d", got)
	}
}

func TestDegradedAfterConsecutiveFailures(t *testing.T) {
	device := &mockDevice{responses: []mockResponse{{err: pkg.ErrDeviceUnreachable}}}
	s, telemetry := newTestSampler(t, device, 10)

	ctx := context.Background()
	for i := 0; i < DegradedAfter-1; i++ {
		s.Tick(ctx)
		if s.Degraded() {
			t.Fatalf("degraded too early after %d failures", i+1)
		}
	}

	s.Tick(ctx)
	if !s.Degraded() {
		t.Fatal("expected degraded state after repeated failures")
	}

	events := telemetry.Events(time.Time{}, 10)
	found := false
	for _, e := range events {
		if e.Type == pkg.EventSamplerDegraded {
			found = true
		}
	}
	if !found {
		t.Error("expected a degraded event in telemetry")
	}
}

func TestRecoveryResetsDegraded(t *testing.T) {
	responses := make([]mockResponse, 0, DegradedAfter+1)
	for i := 0; i < DegradedAfter; i++ {
		responses = append(responses, mockResponse{err: pkg.ErrDeviceUnreachable})
	}
	responses = append(responses, mockResponse{sample: goodSample("B7")})
	device := &mockDevice{responses: responses}
	s, telemetry := newTestSampler(t, device, 10)

	ctx := context.Background()
	for i := 0; i < DegradedAfter; i++ {
		s.Tick(ctx)
	}
	if !s.Degraded() {
		t.Fatal("expected degraded state")
	}

	if s.Tick(ctx) == nil {
		t.Fatal("recovery tick should succeed")
	}
	if s.Degraded() {
		t.Error("a single success must clear the degraded state")
	}

	events := telemetry.Events(time.Time{}, 10)
	found := false
	for _, e := range events {
		if e.Type == pkg.EventSamplerRecovered {
			found = true
		}
	}
	if !found {
		t.Error("expected a recovery event in telemetry")
	}
}

func TestHistoryCapacityEviction(t *testing.T) {
	device := &mockDevice{responses: []mockResponse{{sample: goodSample("B3")}}}
	s, _ := newTestSampler(t, device, 3)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.Tick(ctx)
	}

	if got := len(s.Peek(10)); got != 3 {
		t.Errorf("expected history capped at 3, got %d", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	device := &mockDevice{responses: []mockResponse{{sample: goodSample("B3")}}}
	s, _ := newTestSampler(t, device, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Wait for the immediate first tick.
	deadline := time.After(2 * time.Second)
	for len(s.Peek(1)) == 0 {
		select {
		case <-deadline:
			t.Fatal("sampler never produced a sample")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sampler did not stop on cancel")
	}
}

func TestRunRejectsDoubleStart(t *testing.T) {
	device := &mockDevice{responses: []mockResponse{{sample: goodSample("B3")}}}
	s, _ := newTestSampler(t, device, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// Give the first Run a moment to claim the loop.
	time.Sleep(50 * time.Millisecond)
	if err := s.Run(ctx); err == nil {
		t.Error("second Run should be rejected while the loop is active")
	}
}
