package report

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"jsongen/internal/latency"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store := NewStore(db, nil)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestStore_SaveRun(t *testing.T) {
	store := setupTestStore(t)

	err := store.SaveRun(Run{
		ID:       "run-1",
		Mode:     "stream",
		Messages: 1000,
		Bytes:    125000,
		Seconds:  2.0,
	})
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	runs, err := store.Runs(10)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}

	run := runs[0]
	if run.MessagesPerSec != 500 {
		t.Errorf("messages/s = %v, want 500", run.MessagesPerSec)
	}
	if run.GigabitsPerSec != 125000*8/2.0*1e-9 {
		t.Errorf("gigabits/s = %v", run.GigabitsPerSec)
	}
	if run.CreatedAt.IsZero() {
		t.Error("created at was not stamped")
	}
}

func TestStore_SaveLatencies(t *testing.T) {
	store := setupTestStore(t)

	tracker, err := latency.NewTracker(4, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Now()
	// Two complete samples, two empty slots.
	tracker.Put(0, 0, base)
	tracker.Put(0, 1, base.Add(time.Millisecond))
	tracker.Put(1, 0, base)
	tracker.Put(1, 1, base.Add(2*time.Millisecond))

	if err := store.SaveLatencies("run-2", tracker); err != nil {
		t.Fatalf("SaveLatencies: %v", err)
	}

	var samples []LatencySample
	if err := store.db.Where("run_id = ?", "run-2").Order("sample_index").Find(&samples).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}
	if samples[0].Seconds != 0.001 {
		t.Errorf("sample 0 = %v, want 0.001", samples[0].Seconds)
	}
	if samples[1].Seconds != 0.002 {
		t.Errorf("sample 1 = %v, want 0.002", samples[1].Seconds)
	}
}

// TestStore_SaveRun_SQL verifies the emitted SQL against a mocked MySQL
// backend.
func TestStore_SaveRun_SQL(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer sqlDB.Close()

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}
	store := NewStore(db, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `runs`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = store.SaveRun(Run{ID: "run-3", Mode: "consume-queue", Messages: 10, Bytes: 100, Seconds: 1})
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
