package latency

import (
	"testing"
	"time"
)

func TestNewTracker_Validation(t *testing.T) {
	cases := []struct {
		name            string
		samples, stages int
		interval        uint64
	}{
		{"zero samples", 0, 1, 1},
		{"zero stages", 4, 0, 1},
		{"zero interval", 4, 1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewTracker(tc.samples, tc.stages, tc.interval); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestTracker_PutSampling(t *testing.T) {
	tracker, err := NewTracker(4, 2, 10)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	if !tracker.Put(0, 0, now) {
		t.Error("seq 0 should be stored")
	}
	if tracker.Put(5, 0, now) {
		t.Error("seq 5 is not a sample at interval 10")
	}
	if !tracker.Put(10, 1, now) {
		t.Error("seq 10 should be stored")
	}

	got, err := tracker.Get(1, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Equal(now) {
		t.Error("stored time point does not match")
	}
}

func TestTracker_Wraparound(t *testing.T) {
	tracker, err := NewTracker(2, 1, 1)
	if err != nil {
		t.Fatal(err)
	}

	t0 := time.Now()
	t2 := t0.Add(2 * time.Second)
	tracker.Put(0, 0, t0)
	tracker.Put(1, 0, t0.Add(time.Second))
	// Seq 2 wraps onto slot 0.
	tracker.Put(2, 0, t2)

	got, err := tracker.Get(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(t2) {
		t.Error("wraparound should overwrite slot 0")
	}
}

func TestTracker_GetOutOfRange(t *testing.T) {
	tracker, err := NewTracker(4, 2, 1)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := tracker.Get(0, 2); err == nil {
		t.Error("stage out of range should fail")
	}
	if _, err := tracker.Get(4, 0); err == nil {
		t.Error("index out of range should fail")
	}
}

func TestTracker_Interval(t *testing.T) {
	tracker, err := NewTracker(4, 2, 1)
	if err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	tracker.Put(1, 0, base)
	tracker.Put(1, 1, base.Add(250*time.Millisecond))

	got, err := tracker.Interval(1, 1)
	if err != nil {
		t.Fatalf("Interval: %v", err)
	}
	if got != 0.25 {
		t.Errorf("interval = %v, want 0.25", got)
	}

	if _, err := tracker.Interval(1, 0); err == nil {
		t.Error("stage 0 has no previous stage; expected error")
	}
}
