package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/markus-lassfolk/lteopt/pkg"
	"github.com/markus-lassfolk/lteopt/pkg/logx"
)

var campaignBucket = []byte("campaigns")

// CampaignRecord is one persisted campaign outcome.
type CampaignRecord struct {
	StartedAt time.Time                   `json:"started_at"`
	Profiles  map[string]*pkg.BandProfile `json:"profiles"`
}

// CampaignStore persists campaign results in a bbolt file, keyed by start
// time. Implements the band tester's result store.
type CampaignStore struct {
	db     *bolt.DB
	logger *logx.Logger
}

// OpenCampaignStore opens (creating if needed) the campaign store at path.
func OpenCampaignStore(path string, logger *logx.Logger) (*CampaignStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open campaign store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(campaignBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create campaign bucket: %w", err)
	}

	logger.Info("Campaign store opened", "path", path)
	return &CampaignStore{db: db, logger: logger}, nil
}

// SaveCampaign persists one campaign's per-band profiles.
func (c *CampaignStore) SaveCampaign(startedAt time.Time, profiles map[string]*pkg.BandProfile) error {
	record := CampaignRecord{StartedAt: startedAt, Profiles: profiles}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign record: %w", err)
	}

	key := []byte(startedAt.UTC().Format(time.RFC3339Nano))
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(campaignBucket).Put(key, data)
	})
	if err != nil {
		return fmt.Errorf("failed to save campaign record: %w", err)
	}

	c.logger.Debug("Campaign persisted", "started_at", startedAt, "bands", len(profiles))
	return nil
}

// Campaigns returns campaign records started after the given time, oldest
// first, capped at limit.
func (c *CampaignStore) Campaigns(since time.Time, limit int) ([]*CampaignRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	min := []byte(since.UTC().Format(time.RFC3339Nano))

	var records []*CampaignRecord
	err := c.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(campaignBucket).Cursor()
		for k, v := cursor.Seek(min); k != nil && len(records) < limit; k, v = cursor.Next() {
			var record CampaignRecord
			if err := json.Unmarshal(v, &record); err != nil {
				c.logger.Warn("Skipping unreadable campaign record", "key", string(k), "error", err)
				continue
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign records: %w", err)
	}
	return records, nil
}

// LastCampaign returns the most recent campaign record, or nil when none
// has been persisted yet.
func (c *CampaignStore) LastCampaign() (*CampaignRecord, error) {
	var record *CampaignRecord
	err := c.db.View(func(tx *bolt.Tx) error {
		_, v := tx.Bucket(campaignBucket).Cursor().Last()
		if v == nil {
			return nil
		}
		var r CampaignRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("failed to unmarshal campaign record: %w", err)
		}
		record = &r
		return nil
	})
	return record, err
}

// Prune deletes campaign records started before the retention horizon.
func (c *CampaignStore) Prune(retention time.Duration) (int, error) {
	cutoff := []byte(time.Now().Add(-retention).UTC().Format(time.RFC3339Nano))

	removed := 0
	err := c.db.Update(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(campaignBucket).Cursor()
		for k, _ := cursor.First(); k != nil && string(k) < string(cutoff); k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to prune campaign records: %w", err)
	}
	return removed, nil
}

// Close closes the underlying store.
func (c *CampaignStore) Close() error {
	return c.db.Close()
}
