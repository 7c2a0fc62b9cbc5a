package client

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"jsongen/common"
	"jsongen/internal/latency"
)

// ItemQueue carries owned records from the queueing client to downstream
// consumers.
type ItemQueue struct {
	ch chan common.JSONItem
}

// NewItemQueue creates a queue holding up to capacity items. Capacities
// below 1 fall back to a default sized for bursty ingestion.
func NewItemQueue(capacity int) *ItemQueue {
	if capacity < 1 {
		capacity = 64 * 1024
	}
	return &ItemQueue{ch: make(chan common.JSONItem, capacity)}
}

// Enqueue appends an item, blocking while the queue is full.
func (q *ItemQueue) Enqueue(item common.JSONItem) {
	q.ch <- item
}

// TryDequeue pops the oldest item into out and reports whether one existed.
func (q *ItemQueue) TryDequeue(out *common.JSONItem) bool {
	select {
	case item := <-q.ch:
		*out = item
		return true
	default:
		return false
	}
}

// Len returns the number of queued items.
func (q *ItemQueue) Len() int {
	return len(q.ch)
}

// QueueingClient receives the TCP stream into a single owned buffer and
// copies every complete record into an owned string before enqueueing it
// with its sequence number.
//
// It records two latency stages per sampled record: the receive time at
// stage 0 and the pre-enqueue time at stage 1.
type QueueingClient struct {
	conn   net.Conn
	buffer []byte
	queue  *ItemQueue
	log    *zap.Logger
	sep    byte

	seq          common.Seq
	mustBeClosed bool

	jsonsReceived atomic.Uint64
	bytesReceived atomic.Uint64
}

// NewQueueing connects to the server and prepares a queueing client feeding
// queue. The client owns its receive buffer of Options.BufferSize bytes for
// the session.
func NewQueueing(opts Options, queue *ItemQueue) (*QueueingClient, error) {
	opts.Validate()
	if queue == nil {
		return nil, common.Errorf(common.ErrClient, "cannot create client without a queue")
	}

	conn, err := dial(opts)
	if err != nil {
		return nil, err
	}
	return &QueueingClient{
		conn:         conn,
		buffer:       make([]byte, opts.BufferSize),
		queue:        queue,
		log:          opts.Logger,
		sep:          opts.Separator,
		seq:          opts.Seq,
		mustBeClosed: true,
	}, nil
}

// ReceiveJSONs reads until the server disconnects, enqueueing every complete
// record. Bytes of a record whose separator has not arrived yet are carried
// in a scratch buffer across reads.
func (c *QueueingClient) ReceiveJSONs(tracker *latency.Tracker) error {
	// Scratch for the incomplete trailing record; reused across reads to
	// avoid allocations.
	partial := make([]byte, 0, 4096)

	for {
		n, readErr := c.conn.Read(c.buffer)
		recvTime := time.Now()
		c.bytesReceived.Add(uint64(n))

		data := c.buffer[:n]
		start := 0
		for start < len(data) {
			i := bytes.IndexByte(data[start:], c.sep)
			if i < 0 {
				partial = append(partial, data[start:]...)
				break
			}

			var record string
			if len(partial) > 0 {
				record = string(append(partial, data[start:start+i]...))
				partial = partial[:0]
			} else {
				record = string(data[start : start+i])
			}
			start += i + 1

			// Empty records do not advance the sequence.
			if len(record) == 0 {
				continue
			}

			preQueue := time.Now()
			if tracker != nil {
				tracker.Put(c.seq, 0, recvTime)
				tracker.Put(c.seq, 1, preQueue)
			}
			c.queue.Enqueue(common.JSONItem{Seq: c.seq, Data: record})
			c.seq++
			c.jsonsReceived.Add(1)
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				c.log.Debug("server disconnected cleanly")
				return nil
			}
			return common.Errorf(common.ErrClient, "receive failed: %v", readErr)
		}
	}
}

// Close shuts the connection down. Closing twice is an error.
func (c *QueueingClient) Close() error {
	if !c.mustBeClosed {
		return common.Errorf(common.ErrClient, "client was already closed")
	}
	c.mustBeClosed = false
	if err := c.conn.Close(); err != nil {
		return common.Wrap(common.ErrClient, err)
	}
	return nil
}

// JSONsReceived returns the number of records enqueued so far.
func (c *QueueingClient) JSONsReceived() uint64 {
	return c.jsonsReceived.Load()
}

// BytesReceived returns the number of bytes read so far.
func (c *QueueingClient) BytesReceived() uint64 {
	return c.bytesReceived.Load()
}
