// Package pkg contains the shared data types and collaborator interfaces
// used across the lteopt daemon.
package pkg

import (
	"context"
	"time"
)

// SignalSample is a single raw observation from the device diagnostic API.
// It is immutable after creation; components hand it around by pointer but
// never modify it.
type SignalSample struct {
	Timestamp time.Time `json:"timestamp"`
	Band      string    `json:"band"`
	RSRP      float64   `json:"rsrp"` // dBm
	RSRQ      float64   `json:"rsrq"` // dB
	SINR      float64   `json:"sinr"` // dB
	RSSI      float64   `json:"rssi"` // dBm
	CellID    string    `json:"cell_id"`
	PLMN      string    `json:"plmn,omitempty"`
}

// QualityTier is the qualitative classification of a composite score.
type QualityTier string

const (
	TierPoor      QualityTier = "poor"
	TierFair      QualityTier = "fair"
	TierGood      QualityTier = "good"
	TierExcellent QualityTier = "excellent"
)

// ScoredSample is a SignalSample plus its derived quality score.
// Suspect marks samples whose raw metrics were clamped to the physical
// range before scoring.
type ScoredSample struct {
	SignalSample
	Score   float64     `json:"score"` // 0.0-1.0
	Tier    QualityTier `json:"tier"`
	Suspect bool        `json:"suspect,omitempty"`
}

// BandProfile aggregates the scored samples collected for one band during a
// test campaign. It is updated incrementally while the band is under test and
// treated as immutable once the campaign moves on.
type BandProfile struct {
	Band        string    `json:"band"`
	SampleCount int       `json:"sample_count"`
	MeanScore   float64   `json:"mean_score"`
	Variance    float64   `json:"variance"`
	MinScore    float64   `json:"min_score"`
	MaxScore    float64   `json:"max_score"`
	TestStart   time.Time `json:"test_start"`
	TestEnd     time.Time `json:"test_end"`
	Unreachable bool      `json:"unreachable,omitempty"`
}

// DecisionAction enumerates the possible outcomes of a controller evaluation.
type DecisionAction string

const (
	ActionNone   DecisionAction = "no_action"
	ActionSwitch DecisionAction = "switch"
	ActionAlert  DecisionAction = "alert"
)

// Decision is the outcome of one optimization evaluation. Every evaluation
// produces exactly one Decision, including no-action outcomes.
type Decision struct {
	Timestamp  time.Time      `json:"timestamp"`
	Action     DecisionAction `json:"action"`
	Reason     string         `json:"reason"`
	FromBand   string         `json:"from_band,omitempty"`
	ToBand     string         `json:"to_band,omitempty"`
	ScoreDelta float64        `json:"score_delta"`
	WindowMean float64        `json:"window_mean"`
	Baseline   float64        `json:"baseline"`
	PeakHours  bool           `json:"peak_hours"`
}

// Event is a system event surfaced by the monitoring loops.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Band      string                 `json:"band,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event types emitted by the core loops.
const (
	EventSamplerDegraded  = "sampler_degraded"
	EventSamplerRecovered = "sampler_recovered"
	EventBandSwitched     = "band_switched"
	EventCampaignStarted  = "campaign_started"
	EventCampaignFinished = "campaign_finished"
)

// DeviceClient is the device metrics collaborator: one call, one sample.
type DeviceClient interface {
	GetSignalMetrics(ctx context.Context) (*SignalSample, error)
}

// BandController is the device configuration collaborator. SetBandConfiguration
// takes the full band enablement map; enabling a single band means a map with
// exactly one true entry.
type BandController interface {
	GetActiveBand(ctx context.Context) (string, error)
	SetBandConfiguration(ctx context.Context, bands map[string]bool) error
}

// SampleSink receives every scored sample as an append-only stream. Sinks must
// not block the sampling loop; slow consumers drop or buffer internally.
type SampleSink interface {
	RecordSample(sample *ScoredSample)
}

// DecisionSink receives every decision as an append-only stream.
type DecisionSink interface {
	RecordDecision(decision *Decision)
}
