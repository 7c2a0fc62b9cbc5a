package client

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"jsongen/common"
	"jsongen/internal/latency"
)

// newPipeBuffering builds a buffering client over an in-memory pipe so tests
// control exactly how bytes arrive per read.
func newPipeBuffering(buffers []*JSONBuffer, mutexes []*sync.Mutex, startSeq common.Seq) (*BufferingClient, net.Conn) {
	serverSide, clientSide := net.Pipe()
	c := &BufferingClient{
		buffers:      buffers,
		mutexes:      mutexes,
		conn:         clientSide,
		log:          zap.NewNop(),
		sep:          '\n',
		seq:          startSeq,
		mustBeClosed: true,
	}
	return c, serverSide
}

// feed writes every chunk as a separate pipe write (one write per client
// read) and closes the connection.
func feed(t *testing.T, conn net.Conn, chunks ...string) {
	t.Helper()
	go func() {
		for _, chunk := range chunks {
			if _, err := conn.Write([]byte(chunk)); err != nil {
				return
			}
		}
		conn.Close()
	}()
}

func TestBufferingClient_SingleRead(t *testing.T) {
	buffers, mutexes := newBufferSet(t, 2, 64)
	c, server := newPipeBuffering(buffers, mutexes, 0)
	feed(t, server, "AAA\nBBBB\n")

	if err := c.ReceiveJSONs(nil); err != nil {
		t.Fatalf("ReceiveJSONs: %v", err)
	}

	if got := c.JSONsReceived(); got != 2 {
		t.Errorf("jsons received = %d, want 2", got)
	}
	if got := c.BytesReceived(); got != 9 {
		t.Errorf("bytes received = %d, want 9", got)
	}
	if buffers[0].Size() != 9 {
		t.Errorf("buffer size = %d, want 9", buffers[0].Size())
	}
	if buffers[0].NumJSONs() != 2 {
		t.Errorf("buffer numJSONs = %d, want 2", buffers[0].NumJSONs())
	}
	if r := buffers[0].Range(); r.First != 0 || r.Last != 1 {
		t.Errorf("range = %+v, want {0 1}", r)
	}
}

func TestBufferingClient_SpillAcrossReads(t *testing.T) {
	buffers, mutexes := newBufferSet(t, 3, 64)
	c, server := newPipeBuffering(buffers, mutexes, 0)
	feed(t, server, "AAA\nBB", "B\n")

	if err := c.ReceiveJSONs(nil); err != nil {
		t.Fatalf("ReceiveJSONs: %v", err)
	}

	// First buffer keeps only the complete record; the fragment moved to
	// the second buffer where its separator arrived.
	if got := string(buffers[0].Data()); got != "AAA\n" {
		t.Errorf("buffer 0 = %q, want %q", got, "AAA\n")
	}
	if got := string(buffers[1].Data()); got != "BBB\n" {
		t.Errorf("buffer 1 = %q, want %q", got, "BBB\n")
	}
	if r := buffers[1].Range(); r.First != 1 || r.Last != 1 {
		t.Errorf("buffer 1 range = %+v, want {1 1}", r)
	}
	if got := c.JSONsReceived(); got != 2 {
		t.Errorf("jsons received = %d, want 2", got)
	}
}

// TestBufferingClient_SpillEquivalence feeds the same payload whole and
// split at every byte boundary; every variant must frame the same records.
func TestBufferingClient_SpillEquivalence(t *testing.T) {
	payload := "aa\nbbb\ncccc\nd\ne"

	run := func(chunks ...string) (uint64, string) {
		buffers, mutexes := newBufferSet(t, 16, 64)
		c, server := newPipeBuffering(buffers, mutexes, 0)
		feed(t, server, chunks...)
		if err := c.ReceiveJSONs(nil); err != nil {
			t.Fatalf("ReceiveJSONs(%q): %v", chunks, err)
		}
		var framed bytes.Buffer
		for _, b := range buffers {
			framed.Write(b.Data())
		}
		return c.JSONsReceived(), framed.String()
	}

	wantNum, wantFramed := run(payload)

	for split := 1; split < len(payload); split++ {
		num, framed := run(payload[:split], payload[split:])
		if num != wantNum {
			t.Errorf("split %d: jsons = %d, want %d", split, num, wantNum)
		}
		if framed != wantFramed {
			t.Errorf("split %d: framed = %q, want %q", split, framed, wantFramed)
		}
	}
}

func TestBufferingClient_SequenceMonotonicity(t *testing.T) {
	const startSeq = 5
	buffers, mutexes := newBufferSet(t, 8, 64)
	c, server := newPipeBuffering(buffers, mutexes, startSeq)
	feed(t, server, "a\nb\n", "c\n", "dd\nee\nff\n")

	if err := c.ReceiveJSONs(nil); err != nil {
		t.Fatalf("ReceiveJSONs: %v", err)
	}

	// Buffers fill in ascending index order, so ranges must chain.
	next := common.Seq(startSeq)
	for i, b := range buffers {
		if b.NumJSONs() == 0 {
			continue
		}
		r := b.Range()
		if r.First != next {
			t.Errorf("buffer %d: first = %d, want %d", i, r.First, next)
		}
		if r.Count() != b.NumJSONs() {
			t.Errorf("buffer %d: range count %d != numJSONs %d", i, r.Count(), b.NumJSONs())
		}
		next = r.Last + 1
	}
	if next != startSeq+6 {
		t.Errorf("final seq = %d, want %d", next, startSeq+6)
	}
}

// TestBufferingClient_NoLostBytes checks that every received byte ends up in
// a framed buffer when the stream ends on a record boundary.
func TestBufferingClient_NoLostBytes(t *testing.T) {
	buffers, mutexes := newBufferSet(t, 8, 32)
	c, server := newPipeBuffering(buffers, mutexes, 0)
	feed(t, server, "aaaa\nbb", "bb\ncc\n", "dddddd\n")

	if err := c.ReceiveJSONs(nil); err != nil {
		t.Fatalf("ReceiveJSONs: %v", err)
	}

	total := 0
	for _, b := range buffers {
		total += b.Size()
	}
	if uint64(total) != c.BytesReceived() {
		t.Errorf("framed bytes = %d, received = %d", total, c.BytesReceived())
	}
}

func TestBufferingClient_LatencySamples(t *testing.T) {
	tracker, err := latency.NewTracker(8, 1, 2)
	if err != nil {
		t.Fatal(err)
	}

	buffers, mutexes := newBufferSet(t, 2, 64)
	c, server := newPipeBuffering(buffers, mutexes, 0)
	feed(t, server, "a\nb\nc\nd\n")

	if err := c.ReceiveJSONs(tracker); err != nil {
		t.Fatalf("ReceiveJSONs: %v", err)
	}

	// With interval 2, records 0 and 2 are samples.
	want := []common.Seq{0, 2}
	got := buffers[0].TrackedSeqs()
	if len(got) != len(want) {
		t.Fatalf("tracked seqs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tracked seqs = %v, want %v", got, want)
		}
	}

	for _, slot := range []int{0, 1} {
		at, err := tracker.Get(slot, 0)
		if err != nil {
			t.Fatalf("Get(%d, 0): %v", slot, err)
		}
		if !at.Equal(buffers[0].RecvTime()) {
			t.Errorf("slot %d: stamped time != buffer recv time", slot)
		}
	}
}

// TestBufferingClient_Backpressure holds the only buffer's mutex and checks
// that the client stops reading instead of spinning through the stream.
func TestBufferingClient_Backpressure(t *testing.T) {
	buffers, mutexes := newBufferSet(t, 1, 64)
	c, server := newPipeBuffering(buffers, mutexes, 0)

	mutexes[0].Lock()

	received := make(chan error, 1)
	go func() { received <- c.ReceiveJSONs(nil) }()

	written := make(chan struct{})
	go func() {
		server.Write([]byte("x\n"))
		close(written)
	}()

	// While the consumer holds the buffer, the write must not complete.
	select {
	case <-written:
		t.Fatal("client read while no buffer was available")
	case <-time.After(50 * time.Millisecond):
	}

	mutexes[0].Unlock()
	select {
	case <-written:
	case <-time.After(time.Second):
		t.Fatal("client did not resume reading")
	}

	// Drain the buffer so the EOF read has somewhere to land.
	for {
		mutexes[0].Lock()
		if !buffers[0].Empty() {
			buffers[0].Reset()
			mutexes[0].Unlock()
			break
		}
		mutexes[0].Unlock()
		time.Sleep(time.Millisecond)
	}

	server.Close()
	if err := <-received; err != nil {
		t.Fatalf("ReceiveJSONs: %v", err)
	}
	if got := c.JSONsReceived(); got != 1 {
		t.Errorf("jsons received = %d, want 1", got)
	}
}

func TestBufferingClient_RecordLargerThanBuffer(t *testing.T) {
	buffers, mutexes := newBufferSet(t, 1, 4)
	c, server := newPipeBuffering(buffers, mutexes, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		server.Write([]byte("abcdefgh"))
	}()

	err := c.ReceiveJSONs(nil)
	if !errors.Is(err, common.ErrClient) {
		t.Errorf("expected ClientError, got %v", err)
	}

	server.Close()
	wg.Wait()
}

func TestBufferingClient_DoubleClose(t *testing.T) {
	buffers, mutexes := newBufferSet(t, 1, 16)
	c, server := newPipeBuffering(buffers, mutexes, 0)
	defer server.Close()

	if err := c.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := c.Close(); !errors.Is(err, common.ErrClient) {
		t.Errorf("second close should be ClientError, got %v", err)
	}
}

func TestNewBuffering_Validation(t *testing.T) {
	buffers, mutexes := newBufferSet(t, 1, 16)

	t.Run("rejects empty buffer set", func(t *testing.T) {
		_, err := NewBuffering(Options{}, nil, nil)
		if !errors.Is(err, common.ErrClient) {
			t.Errorf("expected ClientError, got %v", err)
		}
	})

	t.Run("rejects count mismatch", func(t *testing.T) {
		_, err := NewBuffering(Options{}, buffers, append(mutexes, &sync.Mutex{}))
		if !errors.Is(err, common.ErrClient) {
			t.Errorf("expected ClientError, got %v", err)
		}
	})
}
