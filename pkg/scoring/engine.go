// Package scoring converts raw LTE signal metrics into a normalized quality
// score and a qualitative tier.
package scoring

import (
	"math"

	"github.com/markus-lassfolk/lteopt/pkg"
)

// Weights is a convex combination over the four metric sub-scores. The values
// come from configuration; they are never derived at runtime.
type Weights struct {
	RSRP float64 `json:"rsrp"`
	RSRQ float64 `json:"rsrq"`
	SINR float64 `json:"sinr"`
	RSSI float64 `json:"rssi"`
}

// DefaultWeights is the off-peak (throughput-oriented) profile.
var DefaultWeights = Weights{RSRP: 0.35, RSRQ: 0.25, SINR: 0.30, RSSI: 0.10}

// PeakWeights shifts weight away from the bandwidth-correlated SINR toward
// the quality metrics, preferring stable links during peak hours.
var PeakWeights = Weights{RSRP: 0.40, RSRQ: 0.35, SINR: 0.15, RSSI: 0.10}

// breakpoints holds the tier boundaries for one metric plus its physical
// range. Values between pf and ge map linearly onto [0,1] with a knot at
// fg -> 0.5; values outside clamp.
type breakpoints struct {
	pf, fg, ge float64 // poor/fair, fair/good, good/excellent boundaries
	min, max   float64 // physical range; outside means a suspect reading
}

var (
	rsrpBreaks = breakpoints{pf: -100, fg: -90, ge: -80, min: -140, max: -40}
	rsrqBreaks = breakpoints{pf: -20, fg: -15, ge: -10, min: -34, max: 3}
	sinrBreaks = breakpoints{pf: 0, fg: 13, ge: 20, min: -20, max: 40}
	rssiBreaks = breakpoints{pf: -85, fg: -75, ge: -65, min: -120, max: -10}
)

// Engine computes quality scores. It holds no mutable state; scoring is a
// pure function of the sample and the weight profile.
type Engine struct {
	weights     Weights
	peakWeights Weights
}

// NewEngine creates a scoring engine with the given off-peak and peak weight
// profiles.
func NewEngine(weights, peakWeights Weights) *Engine {
	return &Engine{weights: weights, peakWeights: peakWeights}
}

// WeightsFor returns the profile for the given time-of-day context.
func (e *Engine) WeightsFor(peakHours bool) Weights {
	if peakHours {
		return e.peakWeights
	}
	return e.weights
}

// Score scores a sample with the off-peak profile.
func (e *Engine) Score(sample *pkg.SignalSample) *pkg.ScoredSample {
	return e.ScoreWith(sample, e.weights)
}

// ScoreWith scores a sample with an explicit weight profile. Malformed metric
// values (NaN or outside the physical range) are clamped to the nearest valid
// boundary and the result is flagged suspect; scoring never fails.
func (e *Engine) ScoreWith(sample *pkg.SignalSample, w Weights) *pkg.ScoredSample {
	rsrp, s1 := sanitize(sample.RSRP, rsrpBreaks)
	rsrq, s2 := sanitize(sample.RSRQ, rsrqBreaks)
	sinr, s3 := sanitize(sample.SINR, sinrBreaks)
	rssi, s4 := sanitize(sample.RSSI, rssiBreaks)

	score := w.RSRP*subScore(rsrp, rsrpBreaks) +
		w.RSRQ*subScore(rsrq, rsrqBreaks) +
		w.SINR*subScore(sinr, sinrBreaks) +
		w.RSSI*subScore(rssi, rssiBreaks)

	return &pkg.ScoredSample{
		SignalSample: *sample,
		Score:        score,
		Tier:         TierFor(score),
		Suspect:      s1 || s2 || s3 || s4,
	}
}

// TierFor maps a composite score onto the four equal-width quality tiers.
func TierFor(score float64) pkg.QualityTier {
	switch {
	case score < 0.25:
		return pkg.TierPoor
	case score < 0.5:
		return pkg.TierFair
	case score < 0.75:
		return pkg.TierGood
	default:
		return pkg.TierExcellent
	}
}

// sanitize clamps v to the metric's physical range. The second return value
// reports whether clamping happened.
func sanitize(v float64, bp breakpoints) (float64, bool) {
	if math.IsNaN(v) {
		return bp.min, true
	}
	if v < bp.min {
		return bp.min, true
	}
	if v > bp.max {
		return bp.max, true
	}
	return v, false
}

// subScore maps a metric value onto [0,1]: 0 at the poor boundary, 0.5 at the
// fair/good boundary, 1 at the excellent boundary, linear in between.
func subScore(v float64, bp breakpoints) float64 {
	switch {
	case v <= bp.pf:
		return 0
	case v >= bp.ge:
		return 1
	case v < bp.fg:
		return 0.5 * (v - bp.pf) / (bp.fg - bp.pf)
	default:
		return 0.5 + 0.5*(v-bp.fg)/(bp.ge-bp.fg)
	}
}
