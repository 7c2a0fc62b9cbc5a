// Package client ingests a separator-delimited JSON byte stream over TCP.
//
// Two ingestion strategies are provided. The buffering client reads into one
// of several caller-supplied, mutex-protected buffers and frames records in
// place, so consumer goroutines can work on raw TCP bytes without copies.
// The queueing client materialises every record into an owned string and
// enqueues it for downstream consumption.
//
// Both clients assign a strictly monotonic sequence number to every
// non-empty record, in byte order of arrival.
package client

import (
	"bytes"
	"time"

	"jsongen/common"
)

// JSONBuffer wraps a caller-owned byte region of fixed capacity together
// with the framing metadata the receive loop attaches: the valid prefix
// length, the sequence range of the records whose terminating separator lies
// within that prefix, the receive time of the bytes, and the sequence
// numbers whose receive time was recorded in a latency tracker.
//
// The backing storage is owned outside the buffer; the client only borrows
// it for the session. A buffer is empty iff its size is zero.
type JSONBuffer struct {
	backing  []byte
	size     int
	seqRange common.SeqRange
	numJSONs uint64
	recvTime time.Time
	tracked  []common.Seq
}

// NewJSONBuffer wraps a pre-allocated byte region.
func NewJSONBuffer(backing []byte) (*JSONBuffer, error) {
	if backing == nil {
		return nil, common.Errorf(common.ErrClient, "pre-allocated buffer cannot be nil")
	}
	if len(backing) == 0 {
		return nil, common.Errorf(common.ErrClient, "buffer capacity cannot be 0")
	}
	return &JSONBuffer{backing: backing}, nil
}

// Data returns the valid prefix of the buffer.
func (b *JSONBuffer) Data() []byte {
	return b.backing[:b.size]
}

// Capacity returns the allocated capacity of the backing region.
func (b *JSONBuffer) Capacity() int {
	return len(b.backing)
}

// Size returns the number of valid bytes.
func (b *JSONBuffer) Size() int {
	return b.size
}

// Empty reports whether the buffer holds no valid bytes.
func (b *JSONBuffer) Empty() bool {
	return b.size == 0
}

// SetSize sets the valid prefix length. Sizes beyond the capacity fail.
func (b *JSONBuffer) SetSize(size int) error {
	if size < 0 || size > len(b.backing) {
		return common.Errorf(common.ErrClient, "cannot set buffer size %d beyond capacity %d", size, len(b.backing))
	}
	b.size = size
	return nil
}

// SetRange records the sequence numbers of the numJSONs records framed in
// this buffer.
func (b *JSONBuffer) SetRange(r common.SeqRange, numJSONs uint64) {
	b.seqRange = r
	b.numJSONs = numJSONs
}

// Range returns the sequence range of the framed records. The range is only
// meaningful when NumJSONs is non-zero.
func (b *JSONBuffer) Range() common.SeqRange {
	return b.seqRange
}

// NumJSONs returns the number of complete records framed in the buffer.
func (b *JSONBuffer) NumJSONs() uint64 {
	return b.numJSONs
}

// SetRecvTime records the instant at which the TCP read returning these
// bytes completed.
func (b *JSONBuffer) SetRecvTime(t time.Time) {
	b.recvTime = t
}

// RecvTime returns the receive time of the buffer contents.
func (b *JSONBuffer) RecvTime() time.Time {
	return b.recvTime
}

// TrackedSeqs returns the sequence numbers of records in this buffer whose
// receive time was stored in the latency tracker.
func (b *JSONBuffer) TrackedSeqs() []common.Seq {
	return b.tracked
}

// Reset marks the buffer empty and clears its metadata. Consumers must call
// this before releasing a buffer's mutex, otherwise the receive loop keeps
// seeing the buffer as full and skips it.
func (b *JSONBuffer) Reset() {
	b.size = 0
	b.seqRange = common.SeqRange{}
	b.numJSONs = 0
	b.tracked = nil
}

// Scan frames separator-delimited records in data.
//
// It scans left to right for sep. A record of length zero (two adjacent
// separators, or a separator at the very start) is ignored and does not
// count. The bytes after the last separator are the tail of an incomplete
// record.
//
// It returns the number of complete non-empty records and the tail length.
// The scan never reads past len(data).
func Scan(data []byte, sep byte) (numJSONs uint64, tail int) {
	start := 0
	for start < len(data) {
		i := bytes.IndexByte(data[start:], sep)
		if i < 0 {
			break
		}
		if i > 0 {
			numJSONs++
		}
		start += i + 1
	}
	return numJSONs, len(data) - start
}
