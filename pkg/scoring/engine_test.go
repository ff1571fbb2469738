package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/markus-lassfolk/lteopt/pkg"
)

func testSample(rsrp, rsrq, sinr, rssi float64) *pkg.SignalSample {
	return &pkg.SignalSample{
		Timestamp: time.Now(),
		Band:      "B3",
		RSRP:      rsrp,
		RSRQ:      rsrq,
		SINR:      sinr,
		RSSI:      rssi,
	}
}

func TestScoreBoundaries(t *testing.T) {
	engine := NewEngine(DefaultWeights, PeakWeights)

	t.Run("all metrics at poor boundary score zero", func(t *testing.T) {
		scored := engine.Score(testSample(-100, -20, 0, -85))
		if scored.Score != 0 {
			t.Errorf("expected score 0, got %f", scored.Score)
		}
		if scored.Tier != pkg.TierPoor {
			t.Errorf("expected tier poor, got %s", scored.Tier)
		}
		if scored.Suspect {
			t.Error("boundary values should not be suspect")
		}
	})

	t.Run("all metrics at excellent boundary score one", func(t *testing.T) {
		scored := engine.Score(testSample(-80, -10, 20, -65))
		if math.Abs(scored.Score-1.0) > 1e-9 {
			t.Errorf("expected score 1, got %f", scored.Score)
		}
		if scored.Tier != pkg.TierExcellent {
			t.Errorf("expected tier excellent, got %s", scored.Tier)
		}
	})

	t.Run("all metrics at fair-good boundary score half", func(t *testing.T) {
		scored := engine.Score(testSample(-90, -15, 13, -75))
		if math.Abs(scored.Score-0.5) > 1e-9 {
			t.Errorf("expected score 0.5, got %f", scored.Score)
		}
	})

	t.Run("values beyond excellent clamp to one", func(t *testing.T) {
		scored := engine.Score(testSample(-50, -5, 35, -20))
		if math.Abs(scored.Score-1.0) > 1e-9 {
			t.Errorf("expected clamped score 1, got %f", scored.Score)
		}
		if scored.Suspect {
			t.Error("in-range strong values should not be suspect")
		}
	})
}

func TestScoreDeterministic(t *testing.T) {
	engine := NewEngine(DefaultWeights, PeakWeights)
	sample := testSample(-92.5, -13.7, 8.2, -78.1)

	first := engine.Score(sample)
	for i := 0; i < 10; i++ {
		if got := engine.Score(sample); got.Score != first.Score {
			t.Fatalf("score not deterministic: %f vs %f", got.Score, first.Score)
		}
	}
}

func TestScoreMonotonic(t *testing.T) {
	engine := NewEngine(DefaultWeights, PeakWeights)

	// Improving any single metric must never lower the composite.
	prev := -1.0
	for rsrp := -120.0; rsrp <= -60; rsrp += 2.5 {
		scored := engine.Score(testSample(rsrp, -15, 10, -75))
		if scored.Score < prev {
			t.Fatalf("score decreased when RSRP improved to %f: %f < %f", rsrp, scored.Score, prev)
		}
		prev = scored.Score
	}
}

func TestSuspectSamples(t *testing.T) {
	engine := NewEngine(DefaultWeights, PeakWeights)

	tests := []struct {
		name   string
		sample *pkg.SignalSample
	}{
		{"NaN RSRP", testSample(math.NaN(), -15, 10, -75)},
		{"RSRP below physical range", testSample(-200, -15, 10, -75)},
		{"RSRQ above physical range", testSample(-90, 50, 10, -75)},
		{"SINR below physical range", testSample(-90, -15, -60, -75)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scored := engine.Score(tt.sample)
			if !scored.Suspect {
				t.Error("expected sample to be flagged suspect")
			}
			if math.IsNaN(scored.Score) {
				t.Error("suspect sample must still produce a valid score")
			}
			if scored.Score < 0 || scored.Score > 1 {
				t.Errorf("score out of range: %f", scored.Score)
			}
		})
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		score float64
		want  pkg.QualityTier
	}{
		{0.0, pkg.TierPoor},
		{0.24, pkg.TierPoor},
		{0.25, pkg.TierFair},
		{0.49, pkg.TierFair},
		{0.5, pkg.TierGood},
		{0.74, pkg.TierGood},
		{0.75, pkg.TierExcellent},
		{1.0, pkg.TierExcellent},
	}

	for _, tt := range tests {
		if got := TierFor(tt.score); got != tt.want {
			t.Errorf("TierFor(%f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestWeightProfiles(t *testing.T) {
	engine := NewEngine(DefaultWeights, PeakWeights)

	t.Run("profile selection", func(t *testing.T) {
		if engine.WeightsFor(false) != DefaultWeights {
			t.Error("off-peak should use the default profile")
		}
		if engine.WeightsFor(true) != PeakWeights {
			t.Error("peak hours should use the peak profile")
		}
	})

	t.Run("peak profile favors stability", func(t *testing.T) {
		// Strong SINR but weak RSRP/RSRQ: the peak profile should score
		// this lower than the throughput-oriented default.
		sample := testSample(-98, -19, 25, -80)
		off := engine.ScoreWith(sample, DefaultWeights)
		peak := engine.ScoreWith(sample, PeakWeights)
		if peak.Score >= off.Score {
			t.Errorf("peak profile should penalize SINR-carried links: peak %f >= off %f", peak.Score, off.Score)
		}
	})
}
