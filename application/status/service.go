package status

import (
	"runtime"
	"time"
)

// Snapshot is one live view of a running role.
type Snapshot struct {
	Role           string  `json:"role"`
	Messages       uint64  `json:"messages"`
	Bytes          uint64  `json:"bytes"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
	MessagesPerSec float64 `json:"messagesPerSec"`
	GigabitsPerSec float64 `json:"gigabitsPerSec"`
}

// Source exposes the live counters of a running server or client.
type Source struct {
	// Role names the counter owner: "server", "client".
	Role string
	// Counters returns the live message and byte counts.
	Counters func() (messages, bytes uint64)
}

type Service struct {
	sources []Source
	start   time.Time
}

func NewService(sources ...Source) *Service {
	return &Service{
		sources: sources,
		start:   time.Now(),
	}
}

// Status returns one snapshot per registered source with derived rates.
func (s *Service) Status() []Snapshot {
	elapsed := time.Since(s.start).Seconds()
	snapshots := make([]Snapshot, 0, len(s.sources))
	for _, src := range s.sources {
		messages, bytes := src.Counters()
		snap := Snapshot{
			Role:           src.Role,
			Messages:       messages,
			Bytes:          bytes,
			ElapsedSeconds: elapsed,
		}
		if elapsed > 0 {
			snap.MessagesPerSec = float64(messages) / elapsed
			snap.GigabitsPerSec = float64(bytes*8) / elapsed * 1e-9
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots
}

// Health returns process vitals.
func (s *Service) Health() map[string]any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.start).Seconds(),
		"goroutines":     runtime.NumGoroutine(),
		"alloc_mb":       m.Alloc / (1024 * 1024),
		"gc_count":       m.NumGC,
	}
}
