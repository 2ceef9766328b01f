// Package history persists a record of every inference run in a sqlite
// database so latency can be compared across models and devices.
package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	RunCompleted string = "COMPLETED"
	RunFailed    string = "FAILED"
)

var ErrRunNotFound = errors.New("run not found")

type Run struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time

	ModelPath     string `gorm:"not null"`
	Backend       string `gorm:"size:20"`
	Provider      string `gorm:"size:20"`
	DeviceID      int
	PrecisionMode string `gorm:"size:40"`
	HostCPU       string

	Samples int     `gorm:"default:0"`
	MeanMS  float64 `gorm:"default:0"`
	Status  string  `gorm:"size:20;not null"`
	Error   string

	Latencies []SampleLatency `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

type SampleLatency struct {
	RunID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Position   int       `gorm:"primaryKey;autoIncrement:false"`
	Input      string
	DurationMS float64
}

type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the sqlite database at path and migrates
// the schema. ":memory:" gives a private in-memory store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening history database: %w", err)
	}

	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("error enabling foreign keys: %w", err)
	}

	if err := db.AutoMigrate(&Run{}, &SampleLatency{}); err != nil {
		return nil, fmt.Errorf("error migrating history database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// Record inserts run and its latencies in one transaction. A zero ID is
// replaced with a fresh one.
func (s *Store) Record(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	for i := range run.Latencies {
		run.Latencies[i].RunID = run.ID
	}

	err := s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		return txn.Create(run).Error
	})
	if err != nil {
		return fmt.Errorf("error recording run: %w", err)
	}

	return nil
}

// Recent returns up to limit runs, newest first, without their latencies.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run
	q := s.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("error listing runs: %w", err)
	}

	return runs, nil
}

// Get returns one run with its latencies in sample order.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Run, error) {
	var run Run
	err := s.db.WithContext(ctx).
		Preload("Latencies", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("error loading run: %w", err)
	}

	return run, nil
}
