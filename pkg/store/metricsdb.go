// Package store persists sample history and campaign results: scored samples
// go to a SQLite archive, campaign outcomes to a bbolt key/value store. The
// in-memory ring in pkg/telem stays authoritative for live decisions; these
// stores exist for post-hoc analysis and for history that survives restarts.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/markus-lassfolk/lteopt/pkg"
	"github.com/markus-lassfolk/lteopt/pkg/logx"
)

// MetricsDB is the on-disk sample archive. Implements pkg.SampleSink.
type MetricsDB struct {
	db     *sql.DB
	logger *logx.Logger
	mu     sync.Mutex
}

// BandSummary aggregates archived samples for one band.
type BandSummary struct {
	Band      string    `json:"band"`
	Samples   int       `json:"samples"`
	MeanScore float64   `json:"mean_score"`
	MinScore  float64   `json:"min_score"`
	MaxScore  float64   `json:"max_score"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// OpenMetricsDB opens (creating if needed) the sample archive at path.
func OpenMetricsDB(path string, logger *logx.Logger) (*MetricsDB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics database: %w", err)
	}

	m := &MetricsDB{db: db, logger: logger}
	if err := m.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Metrics database opened", "path", path)
	return m, nil
}

func (m *MetricsDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		band TEXT NOT NULL,
		rsrp REAL NOT NULL,
		rsrq REAL NOT NULL,
		sinr REAL NOT NULL,
		rssi REAL NOT NULL,
		cell_id TEXT,
		plmn TEXT,
		score REAL NOT NULL,
		tier TEXT NOT NULL,
		suspect INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_samples_timestamp ON samples(timestamp);
	CREATE INDEX IF NOT EXISTS idx_samples_band ON samples(band);
	`
	if _, err := m.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create samples schema: %w", err)
	}
	return nil
}

// RecordSample archives one scored sample. Write failures are logged, not
// propagated; archival must never stall the sampling loop.
func (m *MetricsDB) RecordSample(sample *pkg.ScoredSample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	suspect := 0
	if sample.Suspect {
		suspect = 1
	}
	_, err := m.db.Exec(`
		INSERT INTO samples (timestamp, band, rsrp, rsrq, sinr, rssi, cell_id, plmn, score, tier, suspect)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sample.Timestamp.Unix(), sample.Band,
		sample.RSRP, sample.RSRQ, sample.SINR, sample.RSSI,
		sample.CellID, sample.PLMN,
		sample.Score, string(sample.Tier), suspect,
	)
	if err != nil {
		m.logger.Error("Failed to archive sample", "error", err, "band", sample.Band)
	}
}

// BandSummaries aggregates archived samples per band since the given time.
func (m *MetricsDB) BandSummaries(since time.Time) ([]*BandSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.db.Query(`
		SELECT band, COUNT(*), AVG(score), MIN(score), MAX(score), MIN(timestamp), MAX(timestamp)
		FROM samples
		WHERE timestamp >= ?
		GROUP BY band
		ORDER BY AVG(score) DESC`,
		since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query band summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*BandSummary
	for rows.Next() {
		var s BandSummary
		var first, last int64
		if err := rows.Scan(&s.Band, &s.Samples, &s.MeanScore, &s.MinScore, &s.MaxScore, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan band summary: %w", err)
		}
		s.FirstSeen = time.Unix(first, 0)
		s.LastSeen = time.Unix(last, 0)
		summaries = append(summaries, &s)
	}
	return summaries, rows.Err()
}

// SamplesSince returns archived samples for one band after the given time,
// oldest first, capped at limit.
func (m *MetricsDB) SamplesSince(band string, since time.Time, limit int) ([]*pkg.ScoredSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 1000
	}
	rows, err := m.db.Query(`
		SELECT timestamp, band, rsrp, rsrq, sinr, rssi, cell_id, plmn, score, tier, suspect
		FROM samples
		WHERE band = ? AND timestamp >= ?
		ORDER BY timestamp ASC
		LIMIT ?`,
		band, since.Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []*pkg.ScoredSample
	for rows.Next() {
		var s pkg.ScoredSample
		var ts int64
		var tier string
		var suspect int
		if err := rows.Scan(&ts, &s.Band, &s.RSRP, &s.RSRQ, &s.SINR, &s.RSSI,
			&s.CellID, &s.PLMN, &s.Score, &tier, &suspect); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		s.Timestamp = time.Unix(ts, 0)
		s.Tier = pkg.QualityTier(tier)
		s.Suspect = suspect == 1
		samples = append(samples, &s)
	}
	return samples, rows.Err()
}

// Prune deletes archived samples older than the retention horizon and
// returns how many were removed.
func (m *MetricsDB) Prune(retention time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-retention).Unix()
	result, err := m.db.Exec(`DELETE FROM samples WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune samples: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		m.logger.Debug("Pruned archived samples", "removed", n, "retention", retention)
	}
	return n, nil
}

// Close closes the underlying database.
func (m *MetricsDB) Close() error {
	return m.db.Close()
}
