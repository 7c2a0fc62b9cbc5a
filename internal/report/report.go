// Package report persists benchmark runs so throughput and latency numbers
// can be compared across sessions. SQLite is the default backend; a MySQL
// DSN can be configured through the environment for shared result storage.
package report

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"jsongen/common"
	"jsongen/internal/latency"
)

// Run is one recorded benchmark run, server- or client-side.
type Run struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	Mode           string    `json:"mode"`
	Messages       uint64    `json:"messages"`
	Bytes          uint64    `json:"bytes"`
	Seconds        float64   `json:"seconds"`
	MessagesPerSec float64   `json:"messages_per_sec"`
	GigabitsPerSec float64   `json:"gigabits_per_sec"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Run) TableName() string {
	return "runs"
}

// LatencySample is one stage interval of one tracked record.
type LatencySample struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	RunID       string  `gorm:"index" json:"run_id"`
	SampleIndex int     `json:"sample_index"`
	Stage       int     `json:"stage"`
	Seconds     float64 `json:"seconds"`
}

func (LatencySample) TableName() string {
	return "latency_samples"
}

// Store wraps the result database.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to the result database. When the REPORT_DB_HOST environment
// variable is set a MySQL backend is used (REPORT_DB_PORT, REPORT_DB_USER,
// REPORT_DB_PASS, REPORT_DB_NAME complete the DSN); otherwise a SQLite file
// at REPORT_DB_PATH (default jsongen.db) is opened.
func Open(log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var db *gorm.DB
	var err error
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if host := os.Getenv("REPORT_DB_HOST"); host != "" {
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			os.Getenv("REPORT_DB_USER"), os.Getenv("REPORT_DB_PASS"),
			host, os.Getenv("REPORT_DB_PORT"), os.Getenv("REPORT_DB_NAME"))
		db, err = gorm.Open(mysql.Open(dsn), cfg)
	} else {
		path := os.Getenv("REPORT_DB_PATH")
		if path == "" {
			path = "jsongen.db"
		}
		db, err = gorm.Open(sqlite.Open(path), cfg)
	}
	if err != nil {
		return nil, common.Wrap(common.ErrIO, err)
	}

	store := NewStore(db, log)
	if err := store.Migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing database handle without touching the schema.
func NewStore(db *gorm.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log}
}

// Migrate creates or updates the result tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&Run{}, &LatencySample{}); err != nil {
		return common.Wrap(common.ErrIO, err)
	}
	return nil
}

// SaveRun records one finished run.
func (s *Store) SaveRun(run Run) error {
	if run.Seconds > 0 {
		run.MessagesPerSec = float64(run.Messages) / run.Seconds
		run.GigabitsPerSec = float64(run.Bytes*8) / run.Seconds * 1e-9
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if err := s.db.Create(&run).Error; err != nil {
		return common.Wrap(common.ErrIO, err)
	}
	s.log.Info("run recorded", zap.String("id", run.ID), zap.String("mode", run.Mode))
	return nil
}

// SaveLatencies stores every stage interval the tracker holds for runID.
// Only intervals between consecutive stages are stored; samples whose time
// points were never written (zero) are skipped.
func (s *Store) SaveLatencies(runID string, tracker *latency.Tracker) error {
	var samples []LatencySample
	for index := 0; index < tracker.NumSamples(); index++ {
		for stage := 1; stage < tracker.NumStages(); stage++ {
			earlier, err := tracker.Get(index, stage-1)
			if err != nil {
				return err
			}
			later, err := tracker.Get(index, stage)
			if err != nil {
				return err
			}
			if earlier.IsZero() || later.IsZero() {
				continue
			}
			seconds, err := tracker.Interval(index, stage)
			if err != nil {
				return err
			}
			samples = append(samples, LatencySample{
				RunID:       runID,
				SampleIndex: index,
				Stage:       stage,
				Seconds:     seconds,
			})
		}
	}
	if len(samples) == 0 {
		return nil
	}
	if err := s.db.CreateInBatches(samples, 500).Error; err != nil {
		return common.Wrap(common.ErrIO, err)
	}
	s.log.Info("latency samples recorded",
		zap.String("run_id", runID), zap.Int("samples", len(samples)))
	return nil
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, common.Wrap(common.ErrIO, err)
	}
	return runs, nil
}
