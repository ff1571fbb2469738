// Package bandtest orchestrates timed test campaigns across candidate band
// configurations and aggregates per-band quality profiles.
package bandtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/markus-lassfolk/lteopt/pkg"
	"github.com/markus-lassfolk/lteopt/pkg/logx"
	"github.com/markus-lassfolk/lteopt/pkg/metrics"
	"github.com/markus-lassfolk/lteopt/pkg/sampler"
	"github.com/markus-lassfolk/lteopt/pkg/scoring"
	"github.com/markus-lassfolk/lteopt/pkg/telem"
)

// restoreTimeout bounds the pre-campaign band restore even when the campaign
// context is already cancelled.
const restoreTimeout = 30 * time.Second

// Config holds the campaign settings.
type Config struct {
	SettleDelay    time.Duration // wait after a switch before sampling
	SampleInterval time.Duration // polling cadence while a band is under test
}

// ResultStore persists finished campaign results.
type ResultStore interface {
	SaveCampaign(startedAt time.Time, profiles map[string]*pkg.BandProfile) error
}

// Tester runs band test campaigns. Callers must hold band-change authority
// for the duration of a campaign; the tester itself does not take the lock.
type Tester struct {
	bands     pkg.BandController
	smp       *sampler.Sampler
	engine    *scoring.Engine
	config    Config
	logger    *logx.Logger
	telemetry *telem.Store
	prom      *metrics.Collector
	results   ResultStore
}

// New creates a band tester. telemetry, prom and results may be nil.
func New(bands pkg.BandController, smp *sampler.Sampler, engine *scoring.Engine, config Config,
	logger *logx.Logger, telemetry *telem.Store, prom *metrics.Collector, results ResultStore,
) *Tester {
	if config.SettleDelay <= 0 {
		config.SettleDelay = 10 * time.Second
	}
	if config.SampleInterval <= 0 {
		config.SampleInterval = 30 * time.Second
	}
	return &Tester{
		bands:     bands,
		smp:       smp,
		engine:    engine,
		config:    config,
		logger:    logger,
		telemetry: telemetry,
		prom:      prom,
		results:   results,
	}
}

// RunCampaign tests each candidate band in order for perBandDuration and
// returns the per-band profiles. Profile scores are folded with the supplied
// weight profile so campaign results are comparable to the evaluation that
// triggered them. A band that cannot be switched to is marked unreachable and
// skipped; the pre-campaign band is always restored.
func (t *Tester) RunCampaign(ctx context.Context, candidates []string, perBandDuration time.Duration, weights scoring.Weights) (map[string]*pkg.BandProfile, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidate bands to test")
	}
	if perBandDuration <= 0 {
		return nil, fmt.Errorf("per-band duration must be positive, got %v", perBandDuration)
	}

	originalBand, err := t.bands.GetActiveBand(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot determine pre-campaign band: %w", err)
	}

	startedAt := time.Now()
	t.logger.Info("Band test campaign started",
		"candidates", candidates,
		"per_band_duration", perBandDuration,
		"original_band", originalBand)
	if t.prom != nil {
		t.prom.IncCampaign()
	}
	if t.telemetry != nil {
		t.telemetry.AddEvent(&pkg.Event{
			Timestamp: startedAt,
			Type:      pkg.EventCampaignStarted,
			Band:      originalBand,
			Data:      map[string]interface{}{"candidates": candidates},
		})
	}

	profiles := make(map[string]*pkg.BandProfile, len(candidates))
	defer t.restoreBand(originalBand)

	for _, band := range candidates {
		profiles[band] = t.testBand(ctx, band, perBandDuration, weights)
		if ctx.Err() != nil {
			break
		}
	}

	if t.telemetry != nil {
		t.telemetry.SetLastCampaign(profiles)
		t.telemetry.AddEvent(&pkg.Event{
			Timestamp: time.Now(),
			Type:      pkg.EventCampaignFinished,
			Band:      originalBand,
			Data:      map[string]interface{}{"bands_tested": len(profiles)},
		})
	}
	if t.results != nil {
		if err := t.results.SaveCampaign(startedAt, profiles); err != nil {
			t.logger.Error("Failed to persist campaign results", "error", err)
		}
	}

	t.logger.Info("Band test campaign finished",
		"bands_tested", len(profiles),
		"elapsed", time.Since(startedAt))
	return profiles, ctx.Err()
}

// testBand switches to a band, waits out the settle delay and folds every
// sample observed during the test window into a streaming profile, scored
// with the supplied weight profile.
func (t *Tester) testBand(ctx context.Context, band string, duration time.Duration, weights scoring.Weights) *pkg.BandProfile {
	builder := newProfileBuilder(band)

	if err := t.bands.SetBandConfiguration(ctx, pkg.SingleBandConfig(band)); err != nil {
		if errors.Is(err, pkg.ErrUnsupportedBand) {
			t.logger.Warn("Band rejected by device, skipping", "band", band)
		} else {
			t.logger.Warn("Band switch failed, skipping", "band", band, "error", err)
		}
		return builder.finalizeUnreachable()
	}

	// Samples taken while the radio re-associates are discarded. A
	// cancellation here yields an empty profile, not an unreachable one:
	// the band itself was fine, the campaign just stopped.
	if !sleepCtx(ctx, t.config.SettleDelay) {
		return builder.finalize()
	}

	t.logger.Info("Testing band", "band", band, "duration", duration)
	builder.start = time.Now()
	deadline := builder.start.Add(duration)

	for time.Now().Before(deadline) {
		if scored := t.smp.Tick(ctx); scored != nil {
			builder.add(t.engine.ScoreWith(&scored.SignalSample, weights).Score)
		}
		remaining := time.Until(deadline)
		wait := t.config.SampleInterval
		if remaining < wait {
			wait = remaining
		}
		if !sleepCtx(ctx, wait) {
			break
		}
	}

	profile := builder.finalize()
	t.logger.Info("Band test completed",
		"band", band,
		"samples", profile.SampleCount,
		"mean_score", profile.MeanScore,
		"variance", profile.Variance)
	return profile
}

// restoreBand switches back to the pre-campaign band with a detached timeout
// so restoration happens even when the campaign context was cancelled.
func (t *Tester) restoreBand(band string) {
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()

	if err := t.bands.SetBandConfiguration(ctx, pkg.SingleBandConfig(band)); err != nil {
		t.logger.Error("Failed to restore pre-campaign band", "band", band, "error", err)
		return
	}
	t.logger.Info("Restored pre-campaign band", "band", band)
}

// RankProfiles orders reachable profiles best-first: highest mean score, ties
// broken by lowest variance, further ties by earlier position in the
// candidate list. Unreachable and empty profiles are excluded.
func RankProfiles(profiles map[string]*pkg.BandProfile, candidates []string) []*pkg.BandProfile {
	position := make(map[string]int, len(candidates))
	for i, band := range candidates {
		position[band] = i
	}

	ranked := make([]*pkg.BandProfile, 0, len(profiles))
	for _, p := range profiles {
		if p.Unreachable || p.SampleCount == 0 {
			continue
		}
		ranked = append(ranked, p)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.MeanScore != b.MeanScore {
			return a.MeanScore > b.MeanScore
		}
		if a.Variance != b.Variance {
			return a.Variance < b.Variance
		}
		return position[a.Band] < position[b.Band]
	})
	return ranked
}

// BestBand returns the top-ranked profile, or nil when no band produced data.
func BestBand(profiles map[string]*pkg.BandProfile, candidates []string) *pkg.BandProfile {
	ranked := RankProfiles(profiles, candidates)
	if len(ranked) == 0 {
		return nil
	}
	return ranked[0]
}

// profileBuilder accumulates a streaming mean/variance (Welford) so campaign
// memory stays bounded regardless of test duration.
type profileBuilder struct {
	band  string
	start time.Time
	count int
	mean  float64
	m2    float64
	min   float64
	max   float64
}

func newProfileBuilder(band string) *profileBuilder {
	return &profileBuilder{band: band, min: math.Inf(1), max: math.Inf(-1)}
}

func (b *profileBuilder) add(score float64) {
	b.count++
	delta := score - b.mean
	b.mean += delta / float64(b.count)
	b.m2 += delta * (score - b.mean)
	if score < b.min {
		b.min = score
	}
	if score > b.max {
		b.max = score
	}
}

func (b *profileBuilder) finalize() *pkg.BandProfile {
	variance := 0.0
	if b.count > 1 {
		variance = b.m2 / float64(b.count-1)
	}
	minScore, maxScore := b.min, b.max
	if b.count == 0 {
		minScore, maxScore = 0, 0
	}
	return &pkg.BandProfile{
		Band:        b.band,
		SampleCount: b.count,
		MeanScore:   b.mean,
		Variance:    variance,
		MinScore:    minScore,
		MaxScore:    maxScore,
		TestStart:   b.start,
		TestEnd:     time.Now(),
	}
}

func (b *profileBuilder) finalizeUnreachable() *pkg.BandProfile {
	p := b.finalize()
	p.Unreachable = true
	return p
}

// sleepCtx sleeps for d or until the context is cancelled; it reports whether
// the full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
