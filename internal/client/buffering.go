package client

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"jsongen/common"
	"jsongen/internal/latency"
)

// BufferingClient receives the TCP stream into caller-supplied lockable
// buffers and frames records in place.
//
// Once the client has locked an empty buffer it fills it with as many bytes
// as one read delivers, scans them for complete records, and releases the
// lock. Consumer goroutines lock full buffers, drain them, reset them and
// release. Records whose terminating separator has not arrived yet spill
// into a scratch region and are replayed at the front of the next buffer.
type BufferingClient struct {
	buffers []*JSONBuffer
	mutexes []*sync.Mutex
	conn    net.Conn
	log     *zap.Logger
	sep     byte

	seq          common.Seq
	mustBeClosed bool

	jsonsReceived atomic.Uint64
	bytesReceived atomic.Uint64
}

// NewBuffering connects to the server and prepares a buffering client over
// the supplied buffer set.
//
// buffers and mutexes are parallel slices indexed identically; both must be
// of length at least 1 and of equal length. Ownership of the backing bytes
// and mutexes stays with the caller.
func NewBuffering(opts Options, buffers []*JSONBuffer, mutexes []*sync.Mutex) (*BufferingClient, error) {
	opts.Validate()
	if len(buffers) == 0 {
		return nil, common.Errorf(common.ErrClient, "cannot create client without buffers")
	}
	if len(mutexes) != len(buffers) {
		return nil, common.Errorf(common.ErrClient,
			"cannot create client: %d buffers but %d mutexes", len(buffers), len(mutexes))
	}

	conn, err := dial(opts)
	if err != nil {
		return nil, err
	}
	return &BufferingClient{
		buffers:      buffers,
		mutexes:      mutexes,
		conn:         conn,
		log:          opts.Logger,
		sep:          opts.Separator,
		seq:          opts.Seq,
		mustBeClosed: true,
	}, nil
}

// ReceiveJSONs runs the session loop until the server disconnects.
//
// Per iteration it locks an empty buffer (sleeping briefly when none is
// free), replays spilled bytes from the previous read, reads from the
// socket, frames the records, stamps latency samples at stage 0, and
// releases the buffer with its metadata set. A clean disconnect returns nil;
// any other socket failure returns ClientError.
func (c *BufferingClient) ReceiveJSONs(tracker *latency.Tracker) error {
	spillCap := 0
	for _, b := range c.buffers {
		if b.Capacity() > spillCap {
			spillCap = b.Capacity()
		}
	}
	spill := make([]byte, spillCap)
	remaining := 0

	for {
		buf, idx, ok := TryGetEmptyBuffer(c.buffers, c.mutexes)
		if !ok {
			time.Sleep(acquireBackoff)
			continue
		}

		// Replay the incomplete record carried over from the
		// previous buffer.
		if remaining > 0 {
			copy(buf.backing, spill[:remaining])
		}
		if remaining == buf.Capacity() {
			// A record larger than the buffer can never be framed.
			c.mutexes[idx].Unlock()
			return common.Errorf(common.ErrClient,
				"record exceeds buffer capacity %d; configure larger buffers", buf.Capacity())
		}

		n, readErr := c.conn.Read(buf.backing[remaining:])
		buf.SetRecvTime(time.Now())
		c.bytesReceived.Add(uint64(n))

		scanSize := remaining + n
		numJSONs, tail := Scan(buf.backing[:scanSize], c.sep)

		if numJSONs > 0 {
			first := c.seq
			buf.SetRange(common.SeqRange{First: first, Last: first + numJSONs - 1}, numJSONs)
			if tracker != nil {
				for i := uint64(0); i < numJSONs; i++ {
					if tracker.Put(first+i, 0, buf.RecvTime()) {
						buf.tracked = append(buf.tracked, first+i)
					}
				}
			}
			c.seq += numJSONs
			c.jsonsReceived.Add(numJSONs)
		}

		if err := buf.SetSize(scanSize - tail); err != nil {
			c.mutexes[idx].Unlock()
			return err
		}
		if tail > 0 {
			copy(spill, buf.backing[buf.size:scanSize])
		}
		remaining = tail

		c.mutexes[idx].Unlock()

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
func (c *BufferingClient) Close() error {
	if !c.mustBeClosed {
		return common.Errorf(common.ErrClient, "client was already closed")
	}
	c.mustBeClosed = false
	if err := c.conn.Close(); err != nil {
		return common.Wrap(common.ErrClient, err)
	}
	return nil
}

// JSONsReceived returns the number of records framed so far.
func (c *BufferingClient) JSONsReceived() uint64 {
	return c.jsonsReceived.Load()
}

// BytesReceived returns the number of bytes read so far.
func (c *BufferingClient) BytesReceived() uint64 {
	return c.bytesReceived.Load()
}
