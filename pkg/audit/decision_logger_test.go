package audit

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/markus-lassfolk/lteopt/pkg"
	"github.com/markus-lassfolk/lteopt/pkg/logx"
)

func testDecision(action pkg.DecisionAction, ts time.Time) *pkg.Decision {
	return &pkg.Decision{
		Timestamp:  ts,
		Action:     action,
		Reason:     "test",
		FromBand:   "B20",
		ToBand:     "B3",
		ScoreDelta: 0.12,
		WindowMean: 0.45,
		Baseline:   0.7,
	}
}

func newTestLogger(t *testing.T, maxRecords int) *DecisionLogger {
	t.Helper()
	return NewDecisionLogger(logx.NewLogger("error", "audit-test"), maxRecords, t.TempDir())
}

func TestRecordDecisionWritesFiles(t *testing.T) {
	dir := t.TempDir()
	dl := NewDecisionLogger(logx.NewLogger("error", "audit-test"), 10, dir)

	dl.RecordDecision(testDecision(pkg.ActionSwitch, time.Now()))

	logData, err := os.ReadFile(filepath.Join(dir, "decision_audit.log"))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(logData), "switch") || !strings.Contains(string(logData), "B20 -> B3") {
		t.Errorf("unexpected log entry: %s", logData)
	}

	csvFile, err := os.Open(filepath.Join(dir, "decision_audit.csv"))
	if err != nil {
		t.Fatalf("CSV file not written: %v", err)
	}
	defer csvFile.Close()

	rows, err := csv.NewReader(csvFile).ReadAll()
	if err != nil {
		t.Fatalf("CSV unreadable: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header plus one row, got %d rows", len(rows))
	}
	if rows[1][1] != "switch" || rows[1][3] != "B20" {
		t.Errorf("unexpected CSV row: %v", rows[1])
	}
}

func TestRecordBounded(t *testing.T) {
	dl := newTestLogger(t, 3)

	for i := 0; i < 5; i++ {
		dl.RecordDecision(testDecision(pkg.ActionNone, time.Now()))
	}
	if dl.Count() != 3 {
		t.Errorf("expected in-memory trail capped at 3, got %d", dl.Count())
	}
}

func TestRecentDecisions(t *testing.T) {
	dl := newTestLogger(t, 10)
	base := time.Now().Add(-time.Hour)

	dl.RecordDecision(testDecision(pkg.ActionNone, base))
	dl.RecordDecision(testDecision(pkg.ActionAlert, base.Add(30*time.Minute)))
	dl.RecordDecision(testDecision(pkg.ActionSwitch, base.Add(50*time.Minute)))

	recent := dl.RecentDecisions(base.Add(20*time.Minute), 10)
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent decisions, got %d", len(recent))
	}
	// Oldest first.
	if recent[0].Action != pkg.ActionAlert || recent[1].Action != pkg.ActionSwitch {
		t.Errorf("unexpected order: %s, %s", recent[0].Action, recent[1].Action)
	}

	if limited := dl.RecentDecisions(time.Time{}, 1); len(limited) != 1 {
		t.Errorf("expected limit of 1, got %d", len(limited))
	}
}

func TestStats(t *testing.T) {
	dl := newTestLogger(t, 10)
	now := time.Now()

	dl.RecordDecision(testDecision(pkg.ActionNone, now))
	dl.RecordDecision(testDecision(pkg.ActionNone, now))
	dl.RecordDecision(testDecision(pkg.ActionSwitch, now))

	stats := dl.Stats(now.Add(-time.Minute))
	if stats["no_action"] != 2 || stats["switch"] != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}
}

func TestDisable(t *testing.T) {
	dl := newTestLogger(t, 10)
	dl.Disable()
	dl.RecordDecision(testDecision(pkg.ActionSwitch, time.Now()))
	if dl.Count() != 0 {
		t.Error("disabled logger must not record")
	}
}
