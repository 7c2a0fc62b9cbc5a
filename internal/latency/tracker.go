// Package latency stores sparse per-record timestamps so ingestion latency
// can be derived after a benchmark session without slowing down the hot
// receive path.
//
// The tracker is a dense (numSamples, numStages) ring of time points with a
// sampling interval. Putting a timestamp for a sequence number stores it only
// when the sequence number is zero modulo the interval, into slot
// (seq/interval) mod numSamples. Wraparound is accepted: slots overwritten by
// later samples are older history no consumer is entitled to read.
//
// During a session only the client receive loop writes. Reads from other
// goroutines are permitted only after the session has closed.
package latency

import (
	"time"

	"jsongen/common"
)

// Tracker stores time points indexed by (sample slot, stage).
type Tracker struct {
	sampleInterval uint64
	numSamples     int
	numStages      int
	points         []time.Time
}

// NewTracker creates a tracker with the given shape.
//
// numSamples and numStages must be at least 1; sampleInterval must be at
// least 1 (an interval of 1 samples every record).
func NewTracker(numSamples, numStages int, sampleInterval uint64) (*Tracker, error) {
	if numSamples < 1 {
		return nil, common.Errorf(common.ErrGeneric, "tracker needs at least one sample, got %d", numSamples)
	}
	if numStages < 1 {
		return nil, common.Errorf(common.ErrGeneric, "tracker needs at least one stage, got %d", numStages)
	}
	if sampleInterval < 1 {
		return nil, common.Errorf(common.ErrGeneric, "sample interval must be at least 1, got %d", sampleInterval)
	}
	return &Tracker{
		sampleInterval: sampleInterval,
		numSamples:     numSamples,
		numStages:      numStages,
		points:         make([]time.Time, numSamples*numStages),
	}, nil
}

// Put stores value at (seq, stage) if seq is a sample, and reports whether it
// was stored. The slot wraps around once seq/interval reaches the number of
// samples.
//
// Put performs no synchronisation; it must only be called from the single
// goroutine that owns the session.
func (t *Tracker) Put(seq common.Seq, stage int, value time.Time) bool {
	if stage < 0 || stage >= t.numStages {
		return false
	}
	if seq%t.sampleInterval != 0 {
		return false
	}
	slot := int((seq / t.sampleInterval) % uint64(t.numSamples))
	t.points[slot*t.numStages+stage] = value
	return true
}

// Get returns the time point stored at (index, stage).
//
// It fails when stage >= NumStages or index >= NumSamples.
func (t *Tracker) Get(index, stage int) (time.Time, error) {
	if stage < 0 || stage >= t.numStages {
		return time.Time{}, common.Errorf(common.ErrGeneric, "stage %d out of range [0, %d)", stage, t.numStages)
	}
	if index < 0 || index >= t.numSamples {
		return time.Time{}, common.Errorf(common.ErrGeneric, "sample index %d out of range [0, %d)", index, t.numSamples)
	}
	return t.points[index*t.numStages+stage], nil
}

// Interval returns the duration in seconds between stage-1 and stage at the
// given sample index. Stage must be greater than zero.
func (t *Tracker) Interval(index, stage int) (float64, error) {
	if stage < 1 {
		return 0, common.Errorf(common.ErrGeneric, "stage must be > 0 to obtain an interval, got %d", stage)
	}
	later, err := t.Get(index, stage)
	if err != nil {
		return 0, err
	}
	earlier, err := t.Get(index, stage-1)
	if err != nil {
		return 0, err
	}
	return later.Sub(earlier).Seconds(), nil
}

// NumSamples returns the number of sample slots.
func (t *Tracker) NumSamples() int { return t.numSamples }

// NumStages returns the number of stages per sample.
func (t *Tracker) NumStages() int { return t.numStages }

// SampleInterval returns the sampling interval.
func (t *Tracker) SampleInterval() uint64 { return t.sampleInterval }
