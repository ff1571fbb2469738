// Package sampler runs the periodic signal polling loop and owns the bounded
// in-memory history of scored samples.
package sampler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markus-lassfolk/lteopt/pkg"
	"github.com/markus-lassfolk/lteopt/pkg/logx"
	"github.com/markus-lassfolk/lteopt/pkg/metrics"
	"github.com/markus-lassfolk/lteopt/pkg/scoring"
	"github.com/markus-lassfolk/lteopt/pkg/telem"
)

// DegradedAfter is the number of consecutive poll failures that promotes the
// transient condition to a SamplerDegraded event.
const DegradedAfter = 3

// Config holds the sampler settings.
type Config struct {
	Interval        time.Duration
	HistoryCapacity int
}

// Sampler polls the device collaborator on a fixed interval, scores each
// sample and appends it to the history buffer. Polling is best-effort: a
// failed tick is a gap, never a fatal error.
type Sampler struct {
	device    pkg.DeviceClient
	engine    *scoring.Engine
	config    Config
	logger    *logx.Logger
	history   *telem.SampleBuffer
	telemetry *telem.Store
	sinks     []pkg.SampleSink
	prom      *metrics.Collector

	mu                  sync.Mutex
	running             bool
	consecutiveFailures int
	transientTotal      int64
	degraded            bool
	lastSampleAt        time.Time
}

// New creates a sampler. telemetry receives degraded/recovered events; sinks
// receive every scored sample. prom may be nil.
func New(device pkg.DeviceClient, engine *scoring.Engine, config Config, logger *logx.Logger,
	telemetry *telem.Store, prom *metrics.Collector, sinks ...pkg.SampleSink,
) (*Sampler, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("sampler interval must be positive, got %v", config.Interval)
	}
	history, err := telem.NewSampleBuffer(config.HistoryCapacity)
	if err != nil {
		return nil, err
	}
	return &Sampler{
		device:    device,
		engine:    engine,
		config:    config,
		logger:    logger,
		history:   history,
		telemetry: telemetry,
		prom:      prom,
		sinks:     sinks,
	}, nil
}

// Run executes the polling loop until the context is cancelled. The loop is
// not restartable mid-run; re-invoke Run after it returns.
func (s *Sampler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sampler is already running")
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("Sampler started",
		"interval", s.config.Interval,
		"history_capacity", s.history.Capacity())

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// First sample immediately so callers have data before the first
	// interval elapses.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sampler stopped", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one poll: fetch, score, append. Exposed so the band tester
// can drive sampling at its own cadence during a campaign.
func (s *Sampler) Tick(ctx context.Context) *pkg.ScoredSample {
	tickCtx, cancel := context.WithTimeout(ctx, s.config.Interval)
	defer cancel()

	raw, err := s.device.GetSignalMetrics(tickCtx)
	if err != nil {
		s.recordFailure(err)
		return nil
	}

	scored := s.engine.Score(raw)
	s.history.Append(scored)
	s.recordSuccess(scored)

	for _, sink := range s.sinks {
		sink.RecordSample(scored)
	}
	return scored
}

func (s *Sampler) recordFailure(err error) {
	s.mu.Lock()
	s.consecutiveFailures++
	s.transientTotal++
	failures := s.consecutiveFailures
	becameDegraded := failures >= DegradedAfter && !s.degraded
	if becameDegraded {
		s.degraded = true
	}
	s.mu.Unlock()

	if s.prom != nil {
		s.prom.IncPollFailure()
	}

	if !pkg.IsTransient(err) {
		s.logger.Warn("Device poll failed", "error", err, "consecutive", failures)
	} else {
		s.logger.Debug("Device poll failed", "error", err, "consecutive", failures)
	}

	if becameDegraded {
		s.logger.Warn("Sampler degraded after repeated poll failures", "consecutive", failures)
		if s.prom != nil {
			s.prom.SetDegraded(true)
		}
		if s.telemetry != nil {
			s.telemetry.AddEvent(&pkg.Event{
				Timestamp: time.Now(),
				Type:      pkg.EventSamplerDegraded,
				Reason:    err.Error(),
				Data:      map[string]interface{}{"consecutive_failures": failures},
			})
		}
	}
}

func (s *Sampler) recordSuccess(sample *pkg.ScoredSample) {
	s.mu.Lock()
	wasDegraded := s.degraded
	s.consecutiveFailures = 0
	s.degraded = false
	s.lastSampleAt = sample.Timestamp
	s.mu.Unlock()

	if wasDegraded {
		s.logger.Info("Sampler recovered", "band", sample.Band, "score", sample.Score)
		if s.prom != nil {
			s.prom.SetDegraded(false)
		}
		if s.telemetry != nil {
			s.telemetry.AddEvent(&pkg.Event{
				Timestamp: time.Now(),
				Type:      pkg.EventSamplerRecovered,
				Band:      sample.Band,
			})
		}
	}
}

// Peek returns up to n most recent scored samples without perturbing the
// polling cadence.
func (s *Sampler) Peek(n int) []*pkg.ScoredSample {
	return s.history.Last(n)
}

// Window returns the scored samples observed within the trailing duration d.
func (s *Sampler) Window(d time.Duration) []*pkg.ScoredSample {
	return s.history.Since(time.Now().Add(-d))
}

// History exposes the live rolling buffer as a read view for the controller.
// The sampler remains the single writer.
func (s *Sampler) History() *telem.SampleBuffer {
	return s.history
}

// Degraded reports whether the sampler is currently in the degraded state.
func (s *Sampler) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// GetStatus returns sampler status for diagnostics.
func (s *Sampler) GetStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"running":              s.running,
		"interval_s":           int(s.config.Interval / time.Second),
		"history_len":          s.history.Len(),
		"history_capacity":     s.history.Capacity(),
		"consecutive_failures": s.consecutiveFailures,
		"transient_total":      s.transientTotal,
		"degraded":             s.degraded,
		"last_sample_at":       s.lastSampleAt,
	}
}
