// Package predictive estimates short-horizon quality trends from recent
// scored samples. The controller uses the estimate for decision reasoning
// only; it never changes thresholds.
package predictive

import (
	"fmt"

	"github.com/sajari/regression"

	"github.com/markus-lassfolk/lteopt/pkg"
	"github.com/markus-lassfolk/lteopt/pkg/logx"
)

// minSamples is the smallest window a regression is attempted on.
const minSamples = 3

// Trend is a fitted score trend over an evaluation window.
type Trend struct {
	SlopePerMinute float64 `json:"slope_per_minute"` // score units per minute
	R2             float64 `json:"r2"`
	Samples        int     `json:"samples"`
}

// Estimator fits linear score trends.
type Estimator struct {
	logger *logx.Logger
}

// NewEstimator creates a trend estimator.
func NewEstimator(logger *logx.Logger) *Estimator {
	return &Estimator{logger: logger}
}

// ScoreTrend fits score against elapsed minutes over the window. Suspect
// samples are included; they were already clamped at scoring time.
func (e *Estimator) ScoreTrend(samples []*pkg.ScoredSample) (*Trend, error) {
	if len(samples) < minSamples {
		return nil, fmt.Errorf("need at least %d samples for a trend, have %d", minSamples, len(samples))
	}

	r := new(regression.Regression)
	r.SetObserved("score")
	r.SetVar(0, "elapsed_min")

	t0 := samples[0].Timestamp
	for _, s := range samples {
		elapsed := s.Timestamp.Sub(t0).Minutes()
		r.Train(regression.DataPoint(s.Score, []float64{elapsed}))
	}

	if err := r.Run(); err != nil {
		return nil, fmt.Errorf("trend regression failed: %w", err)
	}

	trend := &Trend{
		SlopePerMinute: r.Coeff(1),
		R2:             r.R2,
		Samples:        len(samples),
	}
	e.logger.Debug("Score trend fitted",
		"slope_per_min", trend.SlopePerMinute,
		"r2", trend.R2,
		"samples", trend.Samples)
	return trend, nil
}

// Degrading reports whether the trend indicates a meaningful decline: slope
// below -threshold with a minimally convincing fit.
func (t *Trend) Degrading(threshold float64) bool {
	return t.SlopePerMinute < -threshold && t.R2 > 0.3
}
