package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/markus-lassfolk/lteopt/pkg"
	"github.com/markus-lassfolk/lteopt/pkg/logx"
)

func testScored(ts time.Time, band string, score float64) *pkg.ScoredSample {
	return &pkg.ScoredSample{
		SignalSample: pkg.SignalSample{
			Timestamp: ts,
			Band:      band,
			RSRP:      -88,
			RSRQ:      -12,
			SINR:      14,
			RSSI:      -72,
			CellID:    "12345",
			PLMN:      "24001",
		},
		Score: score,
		Tier:  pkg.TierGood,
	}
}

func openTestMetricsDB(t *testing.T) *MetricsDB {
	t.Helper()
	db, err := OpenMetricsDB(filepath.Join(t.TempDir(), "metrics.db"),
		logx.NewLogger("error", "store-test"))
	if err != nil {
		t.Fatalf("failed to open metrics db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMetricsArchiveRoundTrip(t *testing.T) {
	db := openTestMetricsDB(t)
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	db.RecordSample(testScored(base, "B3", 0.6))
	db.RecordSample(testScored(base.Add(time.Minute), "B3", 0.8))
	db.RecordSample(testScored(base.Add(2*time.Minute), "B7", 0.4))

	samples, err := db.SamplesSince("B3", base.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 B3 samples, got %d", len(samples))
	}
	if samples[0].Score != 0.6 || samples[1].Score != 0.8 {
		t.Errorf("unexpected scores: %f, %f", samples[0].Score, samples[1].Score)
	}
	if samples[0].Band != "B3" || samples[0].CellID != "12345" {
		t.Errorf("sample fields lost in archive: %+v", samples[0])
	}
}

func TestBandSummaries(t *testing.T) {
	db := openTestMetricsDB(t)
	base := time.Now().Add(-time.Hour)

	db.RecordSample(testScored(base, "B3", 0.6))
	db.RecordSample(testScored(base.Add(time.Minute), "B3", 0.8))
	db.RecordSample(testScored(base.Add(2*time.Minute), "B7", 0.4))

	summaries, err := db.BandSummaries(base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("summary query failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 band summaries, got %d", len(summaries))
	}
	// Ordered by mean score descending.
	if summaries[0].Band != "B3" || summaries[0].Samples != 2 {
		t.Errorf("unexpected first summary: %+v", summaries[0])
	}
	if summaries[0].MeanScore < summaries[1].MeanScore {
		t.Error("summaries not ordered by mean score")
	}
}

func TestMetricsPrune(t *testing.T) {
	db := openTestMetricsDB(t)

	db.RecordSample(testScored(time.Now().Add(-48*time.Hour), "B3", 0.5))
	db.RecordSample(testScored(time.Now(), "B3", 0.7))

	removed, err := db.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 pruned sample, got %d", removed)
	}

	remaining, err := db.SamplesSince("B3", time.Time{}, 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("expected 1 remaining sample, got %d", len(remaining))
	}
}

func openTestCampaignStore(t *testing.T) *CampaignStore {
	t.Helper()
	cs, err := OpenCampaignStore(filepath.Join(t.TempDir(), "campaigns.db"),
		logx.NewLogger("error", "store-test"))
	if err != nil {
		t.Fatalf("failed to open campaign store: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func testProfiles() map[string]*pkg.BandProfile {
	return map[string]*pkg.BandProfile{
		"B1": {Band: "B1", SampleCount: 10, MeanScore: 0.72, Variance: 0.01},
		"B3": {Band: "B3", SampleCount: 10, MeanScore: 0.55, Variance: 0.02},
	}
}

func TestCampaignStoreRoundTrip(t *testing.T) {
	cs := openTestCampaignStore(t)
	started := time.Now().Add(-time.Hour)

	if err := cs.SaveCampaign(started, testProfiles()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	records, err := cs.Campaigns(started.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 campaign record, got %d", len(records))
	}
	if records[0].Profiles["B1"].MeanScore != 0.72 {
		t.Errorf("profile lost in round trip: %+v", records[0].Profiles["B1"])
	}
}

func TestLastCampaignRecord(t *testing.T) {
	cs := openTestCampaignStore(t)

	last, err := cs.LastCampaign()
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if last != nil {
		t.Fatal("expected nil before any campaign")
	}

	first := time.Now().Add(-2 * time.Hour)
	second := time.Now().Add(-time.Hour)
	if err := cs.SaveCampaign(first, testProfiles()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	profiles := testProfiles()
	profiles["B1"].MeanScore = 0.9
	if err := cs.SaveCampaign(second, profiles); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	last, err = cs.LastCampaign()
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if last == nil || last.Profiles["B1"].MeanScore != 0.9 {
		t.Errorf("expected the most recent campaign, got %+v", last)
	}
}

func TestCampaignPrune(t *testing.T) {
	cs := openTestCampaignStore(t)

	if err := cs.SaveCampaign(time.Now().Add(-80*time.Hour), testProfiles()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := cs.SaveCampaign(time.Now(), testProfiles()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	removed, err := cs.Prune(72 * time.Hour)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 pruned record, got %d", removed)
	}

	records, err := cs.Campaigns(time.Time{}, 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 remaining record, got %d", len(records))
	}
}
