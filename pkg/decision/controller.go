// Package decision implements the optimization controller: a state machine
// that watches the live sample stream, detects sustained degradation and
// decides whether and when to switch band configuration.
package decision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/markus-lassfolk/lteopt/pkg"
	"github.com/markus-lassfolk/lteopt/pkg/bandtest"
	"github.com/markus-lassfolk/lteopt/pkg/logx"
	"github.com/markus-lassfolk/lteopt/pkg/predictive"
	"github.com/markus-lassfolk/lteopt/pkg/sampler"
	"github.com/markus-lassfolk/lteopt/pkg/scoring"
	"github.com/markus-lassfolk/lteopt/pkg/telem"
)

// State is the controller's lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateEvaluating  State = "evaluating"
	StateCoolingDown State = "cooling_down"
)

// baselineEWMA is the smoothing factor applied when a healthy evaluation
// refreshes the last-confirmed-good baseline.
const baselineEWMA = 0.3

// Config holds the controller settings.
type Config struct {
	AutoSwitchThreshold float64
	NoiseMargin         float64
	Cooldown            time.Duration
	EvalWindow          time.Duration
	MinWindowSamples    int
	CandidateBands      []string
	BandTestDuration    time.Duration
	PeakWindows         []pkg.TimeWindow
}

// Controller evaluates link quality and triggers band changes. Only one
// evaluation may be in flight at a time; concurrent triggers coalesce into a
// no-op. The same authority lock serializes campaigns and switch actions.
type Controller struct {
	config Config
	engine *scoring.Engine
	smp    *sampler.Sampler
	tester *bandtest.Tester
	bands  pkg.BandController
	trend  *predictive.Estimator
	logger *logx.Logger

	telemetry *telem.Store
	sinks     []pkg.DecisionSink

	// authority is the band-change authority: held for the whole of an
	// evaluation or campaign, so no two band mutations ever interleave.
	authority sync.Mutex

	mu            sync.Mutex
	state         State
	currentBand   string
	baseline      float64
	baselineAt    time.Time
	lastSwitch    time.Time
	cooldownUntil time.Time

	now func() time.Time
}

// New creates a controller. telemetry may be nil; sinks receive every
// decision.
func New(config Config, engine *scoring.Engine, smp *sampler.Sampler, tester *bandtest.Tester,
	bands pkg.BandController, logger *logx.Logger, telemetry *telem.Store, sinks ...pkg.DecisionSink,
) *Controller {
	if config.MinWindowSamples < 1 {
		config.MinWindowSamples = 1
	}
	return &Controller{
		config:    config,
		engine:    engine,
		smp:       smp,
		tester:    tester,
		bands:     bands,
		trend:     predictive.NewEstimator(logger),
		logger:    logger,
		telemetry: telemetry,
		sinks:     sinks,
		state:     StateIdle,
		now:       time.Now,
	}
}

// Evaluate runs one controller evaluation. It returns nil when the trigger
// was coalesced because another evaluation or campaign was in flight.
func (c *Controller) Evaluate(ctx context.Context, trigger string) *pkg.Decision {
	if !c.authority.TryLock() {
		c.logger.Debug("Evaluation trigger coalesced, another evaluation in flight", "trigger", trigger)
		return nil
	}
	defer c.authority.Unlock()

	now := c.now()
	peak := pkg.InAnyWindow(now, c.config.PeakWindows)

	c.setState(StateEvaluating, trigger)

	decision := c.evaluate(ctx, now, peak)
	decision.Timestamp = now
	decision.PeakHours = peak

	if decision.Action == pkg.ActionSwitch {
		c.setState(StateCoolingDown, decision.Reason)
	} else if c.inCooldown(now) {
		c.setState(StateCoolingDown, "cooldown pending")
	} else {
		c.setState(StateIdle, decision.Reason)
	}

	c.emit(decision)
	return decision
}

// evaluate holds the decision logic proper; the caller owns locking, state
// transitions and decision emission.
func (c *Controller) evaluate(ctx context.Context, now time.Time, peak bool) *pkg.Decision {
	if c.inCooldown(now) {
		return &pkg.Decision{
			Action:   pkg.ActionNone,
			Reason:   "cooling down, switches suppressed",
			FromBand: c.activeBand(ctx),
			Baseline: c.baselineValue(),
		}
	}

	// Decisions on stale data are unsafe: suspend while the sampler is
	// degraded.
	if c.smp.Degraded() {
		return &pkg.Decision{
			Action:   pkg.ActionNone,
			Reason:   "device degraded, evaluation suspended",
			FromBand: c.activeBand(ctx),
			Baseline: c.baselineValue(),
		}
	}

	window := c.smp.Window(c.config.EvalWindow)
	if len(window) < c.config.MinWindowSamples {
		return &pkg.Decision{
			Action:   pkg.ActionNone,
			Reason:   fmt.Sprintf("insufficient data: %d samples in window, need %d", len(window), c.config.MinWindowSamples),
			FromBand: c.activeBand(ctx),
			Baseline: c.baselineValue(),
		}
	}

	currentBand := window[len(window)-1].Band
	c.mu.Lock()
	c.currentBand = currentBand
	c.mu.Unlock()

	// Peak hours re-weight the composite toward stability; the raw samples
	// are re-scored with the applicable profile.
	weights := c.engine.WeightsFor(peak)
	scores := make([]float64, len(window))
	for i, s := range window {
		scores[i] = c.engine.ScoreWith(&s.SignalSample, weights).Score
	}
	windowMean := stat.Mean(scores, nil)
	windowStdDev := stat.StdDev(scores, nil)

	trendNote := ""
	if t, err := c.trend.ScoreTrend(window); err == nil {
		c.logger.Debug("Evaluation window",
			"mean", windowMean,
			"stddev", windowStdDev,
			"trend_per_min", t.SlopePerMinute,
			"peak_hours", peak)
		if t.Degrading(0.01) {
			trendNote = fmt.Sprintf(", declining %.3f/min", t.SlopePerMinute)
		}
	}

	c.mu.Lock()
	baseline := c.baseline
	if baseline == 0 {
		// First evaluation on this band: establish the reference.
		c.baseline = windowMean
		c.baselineAt = now
		c.mu.Unlock()
		return &pkg.Decision{
			Action:     pkg.ActionNone,
			Reason:     "baseline established",
			FromBand:   currentBand,
			WindowMean: windowMean,
			Baseline:   windowMean,
		}
	}
	c.mu.Unlock()

	if windowMean >= c.config.AutoSwitchThreshold*baseline {
		// Healthy: keep the last-confirmed-good reference fresh.
		c.mu.Lock()
		c.baseline = (1-baselineEWMA)*c.baseline + baselineEWMA*windowMean
		c.baselineAt = now
		c.mu.Unlock()
		return &pkg.Decision{
			Action:     pkg.ActionNone,
			Reason:     "quality within threshold",
			FromBand:   currentBand,
			WindowMean: windowMean,
			Baseline:   baseline,
		}
	}

	c.logger.Warn("Sustained degradation detected",
		"band", currentBand,
		"window_mean", windowMean,
		"baseline", baseline,
		"threshold", c.config.AutoSwitchThreshold)

	// The campaign folds its samples with the same weight profile as this
	// evaluation, so band means stay comparable to the window mean.
	candidates := excludeBand(c.config.CandidateBands, currentBand)
	profiles, err := c.tester.RunCampaign(ctx, candidates, c.config.BandTestDuration, weights)
	if err != nil && len(profiles) == 0 {
		return &pkg.Decision{
			Action:     pkg.ActionAlert,
			Reason:     fmt.Sprintf("degradation confirmed but campaign failed: %v", err),
			FromBand:   currentBand,
			WindowMean: windowMean,
			Baseline:   baseline,
		}
	}

	best := bandtest.BestBand(profiles, candidates)
	if best == nil {
		return &pkg.Decision{
			Action:     pkg.ActionAlert,
			Reason:     "degradation confirmed but no alternative band produced data",
			FromBand:   currentBand,
			WindowMean: windowMean,
			Baseline:   baseline,
		}
	}

	delta := best.MeanScore - windowMean
	if delta <= c.config.NoiseMargin {
		return &pkg.Decision{
			Action:     pkg.ActionNone,
			Reason:     fmt.Sprintf("best alternative %s within noise margin", best.Band),
			FromBand:   currentBand,
			ToBand:     best.Band,
			ScoreDelta: delta,
			WindowMean: windowMean,
			Baseline:   baseline,
		}
	}

	if err := c.bands.SetBandConfiguration(ctx, pkg.SingleBandConfig(best.Band)); err != nil {
		return &pkg.Decision{
			Action:     pkg.ActionAlert,
			Reason:     fmt.Sprintf("switch to %s failed: %v", best.Band, err),
			FromBand:   currentBand,
			ToBand:     best.Band,
			ScoreDelta: delta,
			WindowMean: windowMean,
			Baseline:   baseline,
		}
	}

	c.mu.Lock()
	c.currentBand = best.Band
	c.baseline = best.MeanScore
	c.baselineAt = now
	c.lastSwitch = now
	c.cooldownUntil = now.Add(c.config.Cooldown)
	c.mu.Unlock()

	c.logger.Info("Band switched",
		"from", currentBand,
		"to", best.Band,
		"mean_score", best.MeanScore,
		"cooldown", c.config.Cooldown)
	if c.telemetry != nil {
		c.telemetry.AddEvent(&pkg.Event{
			Timestamp: now,
			Type:      pkg.EventBandSwitched,
			Band:      best.Band,
			Reason:    "sustained degradation",
			Data: map[string]interface{}{
				"from_band":  currentBand,
				"mean_score": best.MeanScore,
			},
		})
	}

	return &pkg.Decision{
		Action:     pkg.ActionSwitch,
		Reason:     "sustained degradation" + trendNote + ", better band available",
		FromBand:   currentBand,
		ToBand:     best.Band,
		ScoreDelta: delta,
		WindowMean: windowMean,
		Baseline:   baseline,
	}
}

// RunCampaign runs a band test campaign outside of an evaluation, for manual
// or scheduled full tests. It shares band-change authority with Evaluate.
func (c *Controller) RunCampaign(ctx context.Context) (map[string]*pkg.BandProfile, error) {
	if !c.authority.TryLock() {
		return nil, fmt.Errorf("evaluation or campaign already in flight")
	}
	defer c.authority.Unlock()

	weights := c.engine.WeightsFor(pkg.InAnyWindow(c.now(), c.config.PeakWindows))
	return c.tester.RunCampaign(ctx, c.config.CandidateBands, c.config.BandTestDuration, weights)
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCoolingDown && !c.now().Before(c.cooldownUntil) {
		return StateIdle
	}
	return c.state
}

// GetStatus returns controller status for diagnostics.
func (c *Controller) GetStatus() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := map[string]interface{}{
		"state":        string(c.state),
		"current_band": c.currentBand,
		"baseline":     c.baseline,
		"baseline_at":  c.baselineAt,
	}
	if !c.lastSwitch.IsZero() {
		status["last_switch"] = c.lastSwitch
		status["cooldown_until"] = c.cooldownUntil
	}
	return status
}

func (c *Controller) emit(decision *pkg.Decision) {
	if c.telemetry != nil {
		c.telemetry.RecordDecision(decision)
	}
	for _, sink := range c.sinks {
		sink.RecordDecision(decision)
	}
}

func (c *Controller) setState(next State, reason string) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()

	if prev != next {
		c.logger.LogStateChange("optimization_controller", string(prev), string(next), reason, nil)
	}
}

func (c *Controller) inCooldown(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Before(c.cooldownUntil)
}

func (c *Controller) baselineValue() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseline
}

// activeBand returns the best known current band: the latest sample's band,
// falling back to the device when the history is empty.
func (c *Controller) activeBand(ctx context.Context) string {
	if recent := c.smp.Peek(1); len(recent) == 1 {
		return recent[0].Band
	}
	band, err := c.bands.GetActiveBand(ctx)
	if err != nil {
		return ""
	}
	return band
}

func excludeBand(bands []string, exclude string) []string {
	out := make([]string, 0, len(bands))
	for _, b := range bands {
		if b != exclude {
			out = append(out, b)
		}
	}
	return out
}
