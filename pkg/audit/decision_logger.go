// Package audit maintains the append-only audit trail of optimization
// decisions: an in-memory ring for queries plus a log file and CSV on disk.
package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/markus-lassfolk/lteopt/pkg"
	"github.com/markus-lassfolk/lteopt/pkg/logx"
)

// DecisionLogger records every optimization decision, including no-action
// outcomes. Implements pkg.DecisionSink.
type DecisionLogger struct {
	logger     *logx.Logger
	mu         sync.RWMutex
	records    []*pkg.Decision
	maxRecords int
	logFile    string
	csvFile    string
	enabled    bool
}

// NewDecisionLogger creates a decision logger writing under logDir.
func NewDecisionLogger(logger *logx.Logger, maxRecords int, logDir string) *DecisionLogger {
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	if logDir == "" {
		logDir = "/var/log/lteopt"
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		logger.Error("Failed to create audit log directory", "error", err, "path", logDir)
	}

	return &DecisionLogger{
		logger:     logger,
		records:    make([]*pkg.Decision, 0, maxRecords),
		maxRecords: maxRecords,
		logFile:    filepath.Join(logDir, "decision_audit.log"),
		csvFile:    filepath.Join(logDir, "decision_audit.csv"),
		enabled:    true,
	}
}

// RecordDecision appends a decision to the trail. File write failures are
// logged and never propagate; the decision stream must not stall the core.
func (dl *DecisionLogger) RecordDecision(decision *pkg.Decision) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	if !dl.enabled {
		return
	}

	dl.records = append(dl.records, decision)
	if len(dl.records) > dl.maxRecords {
		dl.records = dl.records[len(dl.records)-dl.maxRecords:]
	}

	if err := dl.writeToLogFile(decision); err != nil {
		dl.logger.Error("Failed to write decision to log file", "error", err)
	}
	if err := dl.writeToCSV(decision); err != nil {
		dl.logger.Error("Failed to write decision to CSV", "error", err)
	}

	dl.logger.Info("Decision recorded",
		"action", decision.Action,
		"reason", decision.Reason,
		"from_band", decision.FromBand,
		"to_band", decision.ToBand,
		"score_delta", decision.ScoreDelta,
		"peak_hours", decision.PeakHours)
}

// RecentDecisions returns decisions after the given time, oldest first,
// capped at limit.
func (dl *DecisionLogger) RecentDecisions(since time.Time, limit int) []*pkg.Decision {
	dl.mu.RLock()
	defer dl.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	var recent []*pkg.Decision
	for i := len(dl.records) - 1; i >= 0 && len(recent) < limit; i-- {
		if dl.records[i].Timestamp.After(since) {
			recent = append([]*pkg.Decision{dl.records[i]}, recent...)
		}
	}
	return recent
}

// Stats summarizes decisions after the given time.
func (dl *DecisionLogger) Stats(since time.Time) map[string]int {
	dl.mu.RLock()
	defer dl.mu.RUnlock()

	stats := make(map[string]int)
	for _, d := range dl.records {
		if d.Timestamp.After(since) {
			stats[string(d.Action)]++
		}
	}
	return stats
}

// Count returns the number of retained records.
func (dl *DecisionLogger) Count() int {
	dl.mu.RLock()
	defer dl.mu.RUnlock()
	return len(dl.records)
}

// Disable stops recording; used by dry-run tooling.
func (dl *DecisionLogger) Disable() {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.enabled = false
}

func (dl *DecisionLogger) writeToLogFile(d *pkg.Decision) error {
	file, err := os.OpenFile(dl.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	entry := fmt.Sprintf("[%s] %s | %s | %s -> %s | delta=%.4f | window=%.4f | baseline=%.4f | peak=%v\n",
		d.Timestamp.Format(time.RFC3339),
		d.Action,
		d.Reason,
		d.FromBand,
		d.ToBand,
		d.ScoreDelta,
		d.WindowMean,
		d.Baseline,
		d.PeakHours,
	)
	_, err = file.WriteString(entry)
	return err
}

func (dl *DecisionLogger) writeToCSV(d *pkg.Decision) error {
	if _, err := os.Stat(dl.csvFile); os.IsNotExist(err) {
		if err := dl.createCSVHeader(); err != nil {
			return err
		}
	}

	file, err := os.OpenFile(dl.csvFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	return writer.Write([]string{
		d.Timestamp.Format(time.RFC3339),
		string(d.Action),
		d.Reason,
		d.FromBand,
		d.ToBand,
		strconv.FormatFloat(d.ScoreDelta, 'f', 4, 64),
		strconv.FormatFloat(d.WindowMean, 'f', 4, 64),
		strconv.FormatFloat(d.Baseline, 'f', 4, 64),
		strconv.FormatBool(d.PeakHours),
	})
}

func (dl *DecisionLogger) createCSVHeader() error {
	file, err := os.Create(dl.csvFile)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	return writer.Write([]string{
		"Timestamp", "Action", "Reason", "FromBand", "ToBand",
		"ScoreDelta", "WindowMean", "Baseline", "PeakHours",
	})
}
