package client

import (
	"errors"
	"net"
	"testing"

	"go.uber.org/zap"

	"jsongen/common"
	"jsongen/internal/latency"
)

func newPipeQueueing(queue *ItemQueue, bufferSize int, startSeq common.Seq) (*QueueingClient, net.Conn) {
	serverSide, clientSide := net.Pipe()
	c := &QueueingClient{
		conn:         clientSide,
		buffer:       make([]byte, bufferSize),
		queue:        queue,
		log:          zap.NewNop(),
		sep:          '\n',
		seq:          startSeq,
		mustBeClosed: true,
	}
	return c, serverSide
}

func drainItems(queue *ItemQueue) []common.JSONItem {
	var items []common.JSONItem
	var item common.JSONItem
	for queue.TryDequeue(&item) {
		items = append(items, item)
	}
	return items
}

func TestQueueingClient_EnqueuesRecords(t *testing.T) {
	queue := NewItemQueue(16)
	c, server := newPipeQueueing(queue, 64, 0)
	feed(t, server, "{\"a\":1}\n{\"b\":2}\n")

	if err := c.ReceiveJSONs(nil); err != nil {
		t.Fatalf("ReceiveJSONs: %v", err)
	}

	items := drainItems(queue)
	if len(items) != 2 {
		t.Fatalf("queued %d items, want 2", len(items))
	}
	if items[0].Seq != 0 || items[0].Data != `{"a":1}` {
		t.Errorf("item 0 = %+v", items[0])
	}
	if items[1].Seq != 1 || items[1].Data != `{"b":2}` {
		t.Errorf("item 1 = %+v", items[1])
	}
	if got := c.JSONsReceived(); got != 2 {
		t.Errorf("jsons received = %d, want 2", got)
	}
}

func TestQueueingClient_RecordAcrossReads(t *testing.T) {
	queue := NewItemQueue(16)
	c, server := newPipeQueueing(queue, 64, 0)
	feed(t, server, "abc", "def\n", "gh", "i\njk\n")

	if err := c.ReceiveJSONs(nil); err != nil {
		t.Fatalf("ReceiveJSONs: %v", err)
	}

	items := drainItems(queue)
	want := []string{"abcdef", "ghi", "jk"}
	if len(items) != len(want) {
		t.Fatalf("queued %d items, want %d", len(items), len(want))
	}
	for i, w := range want {
		if items[i].Data != w {
			t.Errorf("item %d = %q, want %q", i, items[i].Data, w)
		}
		if items[i].Seq != common.Seq(i) {
			t.Errorf("item %d seq = %d, want %d", i, items[i].Seq, i)
		}
	}
}

func TestQueueingClient_IgnoresEmptyRecords(t *testing.T) {
	queue := NewItemQueue(16)
	c, server := newPipeQueueing(queue, 64, 0)
	feed(t, server, "\n\na\n\nb\n\n")

	if err := c.ReceiveJSONs(nil); err != nil {
		t.Fatalf("ReceiveJSONs: %v", err)
	}

	items := drainItems(queue)
	if len(items) != 2 {
		t.Fatalf("queued %d items, want 2", len(items))
	}
	if items[0].Data != "a" || items[1].Data != "b" {
		t.Errorf("items = %+v", items)
	}
}

func TestQueueingClient_LatencyStages(t *testing.T) {
	tracker, err := latency.NewTracker(4, 2, 1)
	if err != nil {
		t.Fatal(err)
	}

	queue := NewItemQueue(16)
	c, server := newPipeQueueing(queue, 64, 0)
	feed(t, server, "a\nb\n")

	if err := c.ReceiveJSONs(tracker); err != nil {
		t.Fatalf("ReceiveJSONs: %v", err)
	}

	// Every record is a sample at interval 1; stage 0 holds the receive
	// time, stage 1 the pre-enqueue time.
	for slot := 0; slot < 2; slot++ {
		recv, err := tracker.Get(slot, 0)
		if err != nil {
			t.Fatalf("Get(%d, 0): %v", slot, err)
		}
		pre, err := tracker.Get(slot, 1)
		if err != nil {
			t.Fatalf("Get(%d, 1): %v", slot, err)
		}
		if recv.IsZero() || pre.IsZero() {
			t.Fatalf("slot %d: missing stamp", slot)
		}
		if pre.Before(recv) {
			t.Errorf("slot %d: pre-enqueue time precedes receive time", slot)
		}
	}
}

func TestQueueingClient_DoubleClose(t *testing.T) {
	queue := NewItemQueue(4)
	c, server := newPipeQueueing(queue, 64, 0)
	defer server.Close()

	if err := c.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := c.Close(); !errors.Is(err, common.ErrClient) {
		t.Errorf("second close should be ClientError, got %v", err)
	}
}

func TestNewQueueing_Validation(t *testing.T) {
	if _, err := NewQueueing(Options{}, nil); !errors.Is(err, common.ErrClient) {
		t.Errorf("expected ClientError for nil queue, got %v", err)
	}
}
