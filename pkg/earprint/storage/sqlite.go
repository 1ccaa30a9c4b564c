//go:build !js && !wasm
// +build !js,!wasm

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/himanishpuri/EarPrint/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	DefaultDBFile  = "earprint.sqlite3"
	errDBClientNil = "db client is nil"

	// lookupBatchSize bounds the number of bound parameters per IN query.
	lookupBatchSize = 500
	insertBatchSize = 500
)

var ErrNotFound = errors.New("recording not found")

// DBClient stores recordings and their fingerprints in SQLite. Lookups may
// run concurrently; registrations and deletions are serialized against each
// other and against lookups.
type DBClient struct {
	DB *gorm.DB
	db *sql.DB
	mu sync.RWMutex
}

type Recording struct {
	ID           string        `gorm:"primaryKey;type:varchar(64)"`
	Title        string        `gorm:"index:idx_recording_meta,priority:1" json:"title"`
	Artist       string        `gorm:"index:idx_recording_meta,priority:2" json:"artist"`
	Album        string        `json:"album"`
	DurationSec  float64       `json:"duration_sec"`
	CreatedAt    time.Time     `json:"created_at"`
	Fingerprints []Fingerprint `gorm:"foreignKey:RecordingID;constraint:OnDelete:CASCADE" json:"-"`
}

type Fingerprint struct {
	ID          uint    `gorm:"primaryKey;autoIncrement"`
	Hash        uint32  `gorm:"index:idx_fingerprint_hash;not null" json:"hash"`
	TimeOffset  float64 `gorm:"not null" json:"time_offset"`
	RecordingID string  `gorm:"type:varchar(64);index:idx_fingerprint_recording;not null" json:"recording_id"`
}

func (r Recording) toModel() models.Recording {
	return models.Recording{
		ID:          r.ID,
		Title:       r.Title,
		Artist:      r.Artist,
		Album:       r.Album,
		DurationSec: r.DurationSec,
		CreatedAt:   r.CreatedAt,
	}
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("EARPRINT_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Recording{}, &Fingerprint{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// RegisterRecording upserts rec and replaces its fingerprint set in a single
// transaction. On error nothing is changed.
func (c *DBClient) RegisterRecording(ctx context.Context, rec models.Recording, fps []models.Fingerprint) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := Recording{
			ID:          rec.ID,
			Title:       rec.Title,
			Artist:      rec.Artist,
			Album:       rec.Album,
			DurationSec: rec.DurationSec,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "artist", "album", "duration_sec"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("upserting recording: %w", err)
		}

		if err := tx.Where("recording_id = ?", rec.ID).Delete(&Fingerprint{}).Error; err != nil {
			return fmt.Errorf("clearing old fingerprints: %w", err)
		}

		if len(fps) == 0 {
			return nil
		}
		entries := make([]Fingerprint, len(fps))
		for i, fp := range fps {
			entries[i] = Fingerprint{Hash: fp.Hash, TimeOffset: fp.Offset, RecordingID: rec.ID}
		}
		if err := tx.CreateInBatches(entries, insertBatchSize).Error; err != nil {
			return fmt.Errorf("batch insert fingerprints: %w", err)
		}
		return nil
	})
}

// DeleteRecording removes a recording and every fingerprint referencing it.
func (c *DBClient) DeleteRecording(ctx context.Context, id string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("recording_id = ?", id).Delete(&Fingerprint{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Recording{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// LookupHashes returns every stored couple for the given hashes, keyed by
// hash. Duplicate hashes are queried once.
func (c *DBClient) LookupHashes(ctx context.Context, hashes []uint32) (map[uint32][]models.Couple, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	result := make(map[uint32][]models.Couple)
	if len(hashes) == 0 {
		return result, nil
	}

	unique := dedupHashes(hashes)

	c.mu.RLock()
	defer c.mu.RUnlock()

	db := c.DB.WithContext(ctx)
	for start := 0; start < len(unique); start += lookupBatchSize {
		end := min(start+lookupBatchSize, len(unique))

		var rows []Fingerprint
		if err := db.Where("hash IN ?", unique[start:end]).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("batch querying fingerprints: %w", err)
		}
		for _, r := range rows {
			result[r.Hash] = append(result[r.Hash], models.Couple{
				RecordingID: r.RecordingID,
				Offset:      r.TimeOffset,
			})
		}
	}
	return result, nil
}

func dedupHashes(hashes []uint32) []uint32 {
	seen := make(map[uint32]struct{}, len(hashes))
	out := make([]uint32, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *DBClient) GetRecording(ctx context.Context, id string) (*models.Recording, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var row Recording
	if err := c.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying recording: %w", err)
	}
	rec := row.toModel()
	return &rec, nil
}

// GetRecordings fetches several recordings at once, keyed by id. Unknown ids
// are absent from the result.
func (c *DBClient) GetRecordings(ctx context.Context, ids []string) (map[string]models.Recording, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	out := make(map[string]models.Recording, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var rows []Recording
	if err := c.DB.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying recordings: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r.toModel()
	}
	return out, nil
}

func (c *DBClient) ListRecordings(ctx context.Context) ([]models.Recording, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var rows []Recording
	if err := c.DB.WithContext(ctx).Order("artist, title, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing recordings: %w", err)
	}
	out := make([]models.Recording, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (c *DBClient) FingerprintCount(ctx context.Context, id string) (int, error) {
	if c == nil || c.DB == nil {
		return 0, errors.New(errDBClientNil)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var count int64
	if err := c.DB.WithContext(ctx).Model(&Fingerprint{}).Where("recording_id = ?", id).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting fingerprints: %w", err)
	}
	return int(count), nil
}

// Counts returns the number of stored recordings and fingerprint rows.
func (c *DBClient) Counts(ctx context.Context) (recordings, fingerprints int64, err error) {
	if c == nil || c.DB == nil {
		return 0, 0, errors.New(errDBClientNil)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	db := c.DB.WithContext(ctx)
	if err := db.Model(&Recording{}).Count(&recordings).Error; err != nil {
		return 0, 0, fmt.Errorf("counting recordings: %w", err)
	}
	if err := db.Model(&Fingerprint{}).Count(&fingerprints).Error; err != nil {
		return 0, 0, fmt.Errorf("counting fingerprints: %w", err)
	}
	return recordings, fingerprints, nil
}

// Ping checks that the database is reachable.
func (c *DBClient) Ping(ctx context.Context) error {
	if c == nil || c.db == nil {
		return errors.New(errDBClientNil)
	}
	return c.db.PingContext(ctx)
}
