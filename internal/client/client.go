package client

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"jsongen/common"
	"jsongen/internal/latency"
)

// acquireBackoff is the sleep between failed attempts to acquire an empty
// buffer. Sleeping here is the client's backpressure mechanism: when
// consumers have not freed buffers, the client stops reading and the kernel
// absorbs the slack up to the socket's receive window.
const acquireBackoff = 100 * time.Microsecond

// Options configures a client connection.
type Options struct {
	// Host to connect to. Defaults to localhost.
	Host string
	// Port to connect to. Defaults to common.DefaultPort.
	Port uint16
	// Seq is the starting sequence number for the first record received.
	Seq common.Seq
	// Separator is the record separator byte. Defaults to '\n'.
	Separator byte
	// BufferSize is the receive buffer capacity of the queueing client.
	// Defaults to common.DefaultTCPBufferSize.
	BufferSize int
	// Logger for debug output. Nil disables logging.
	Logger *zap.Logger
}

// Validate applies defaults for zero values.
func (o *Options) Validate() {
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Port == 0 {
		o.Port = common.DefaultPort
	}
	if o.Separator == 0 {
		o.Separator = common.DefaultSeparator
	}
	if o.BufferSize <= 0 {
		o.BufferSize = common.DefaultTCPBufferSize
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Client is the capability set shared by the two ingestion strategies.
type Client interface {
	// ReceiveJSONs ingests records until the server disconnects,
	// optionally stamping latency samples into tracker. Tracker may be
	// nil.
	ReceiveJSONs(tracker *latency.Tracker) error
	// Close shuts the connection down. A second close is an error.
	Close() error
	// JSONsReceived returns the number of records ingested so far.
	JSONsReceived() uint64
	// BytesReceived returns the number of bytes read so far.
	BytesReceived() uint64
}

var (
	_ Client = (*BufferingClient)(nil)
	_ Client = (*QueueingClient)(nil)
)

// dial connects to the configured endpoint.
func dial(opts Options) (net.Conn, error) {
	endpoint := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	conn, err := net.Dial("tcp", endpoint)
	if err != nil {
		return nil, common.Errorf(common.ErrClient, "unable to connect to %s: %v", endpoint, err)
	}
	opts.Logger.Debug("connected", zap.String("endpoint", endpoint))
	return conn, nil
}
