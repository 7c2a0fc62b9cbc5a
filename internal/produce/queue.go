// Package produce generates batches of random JSON records on a pool of
// worker goroutines and hands them to a sender through a bounded queue.
package produce

import (
	"jsongen/common"
)

// JSONBatch is an owned byte sequence holding NumJSONs complete records,
// each followed by exactly one separator byte.
type JSONBatch struct {
	// Data holds the concatenated records.
	Data []byte
	// NumJSONs is the number of complete records in Data. It equals the
	// number of separators.
	NumJSONs uint64
}

// Queue is a bounded FIFO of batches, safe for multiple producers and a
// single consumer.
//
// Both operations are non-blocking; callers handle backpressure themselves
// (the producer pool sleeps between failed enqueues and re-checks the
// shutdown flag so it cannot deadlock against a sender that has given up).
type Queue struct {
	ch chan JSONBatch
}

// NewQueue creates a queue with the given capacity. Capacity must be at
// least 1.
func NewQueue(capacity int) (*Queue, error) {
	if capacity < 1 {
		return nil, common.Errorf(common.ErrGeneric, "queue capacity must be at least 1, got %d", capacity)
	}
	return &Queue{ch: make(chan JSONBatch, capacity)}, nil
}

// TryEnqueue appends a batch if space exists and reports whether it did.
func (q *Queue) TryEnqueue(batch JSONBatch) bool {
	select {
	case q.ch <- batch:
		return true
	default:
		return false
	}
}

// TryDequeue pops the oldest batch into out and reports whether one existed.
func (q *Queue) TryDequeue(out *JSONBatch) bool {
	select {
	case batch := <-q.ch:
		*out = batch
		return true
	default:
		return false
	}
}

// Len returns the number of batches currently queued.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Capacity returns the capacity the queue was created with.
func (q *Queue) Capacity() int {
	return cap(q.ch)
}
