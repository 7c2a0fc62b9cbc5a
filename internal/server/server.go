// Package server owns the listening endpoint of the stream generator. After
// accepting a single client it drains the production queue onto the socket,
// optionally repeating the cycle with reseeded generators, and accounts for
// per-repetition throughput.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"jsongen/common"
	"jsongen/internal/produce"
)

// seedIncrement is added to the generator seed between repetitions so every
// repetition produces different bytes.
const seedIncrement = 42

// pollInterval is the sleep while waiting on an empty production queue.
const pollInterval = 100 * time.Microsecond

// Options configures the listening endpoint.
type Options struct {
	// Port to bind on 0.0.0.0. Port 0 binds an ephemeral port; use Addr
	// to discover it.
	Port uint16
	// ReuseSocket sets SO_REUSEADDR on the listening socket.
	ReuseSocket bool
	// Logger for progress output. Nil disables logging.
	Logger *zap.Logger
}

// RepeatOptions configures repeated streaming mode.
type RepeatOptions struct {
	// Times is the number of production/send cycles to run.
	Times uint64
	// Interval is the pause between cycles.
	Interval time.Duration
}

// DefaultRepeatOptions returns a single cycle with the default pause.
func DefaultRepeatOptions() RepeatOptions {
	return RepeatOptions{Times: 1, Interval: 250 * time.Millisecond}
}

// StreamMetrics accounts for one SendJSONs call across all repetitions.
type StreamMetrics struct {
	// NumMessages is the number of records sent.
	NumMessages uint64
	// NumBytes is the number of bytes sent.
	NumBytes uint64
	// Time is the total time spent producing and sending, in seconds.
	Time float64
	// Producer aggregates the production pool metrics.
	Producer produce.Metrics
}

// Server streams newline-delimited JSON records to a single accepted client.
//
// Lifecycle: Create binds and listens; SendJSONs accepts one peer and runs
// the repetition loop; Close tears the sockets down. A second Close is an
// error.
type Server struct {
	opts     Options
	log      *zap.Logger
	listener net.Listener
	conn     net.Conn
	closed   bool

	// Live counters, readable while a stream is in flight.
	sentMessages atomic.Uint64
	sentBytes    atomic.Uint64
}

// Create binds 0.0.0.0 on the configured port and starts listening.
func Create(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	lc := net.ListenConfig{}
	if opts.ReuseSocket {
		lc.Control = func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		}
	}

	listener, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf("0.0.0.0:%d", opts.Port))
	if err != nil {
		return nil, common.Wrap(common.ErrServer, err)
	}

	opts.Logger.Info("listening", zap.String("addr", listener.Addr().String()))
	return &Server{
		opts:     opts,
		log:      opts.Logger,
		listener: listener,
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Counters returns the live sent-message and sent-byte counts.
func (s *Server) Counters() (messages, bytes uint64) {
	return s.sentMessages.Load(), s.sentBytes.Load()
}

// SendJSONs accepts one client and streams repeatOpts.Times production
// cycles to it, accumulating throughput metrics into metrics after every
// repetition.
//
// Each repetition starts a fresh producer pool, drains the queue onto the
// socket in whole-batch writes, and terminates once exactly
// prodOpts.TotalJSONs() records went out or the shutdown flag fired. If the
// peer disappears the shutdown flag is asserted (so the pool unblocks) and
// ServerError is returned.
//
// While waiting on accept a SIGINT handler is installed that asserts the
// same shutdown flag for a graceful exit.
func (s *Server) SendJSONs(prodOpts produce.Options, repeatOpts RepeatOptions, metrics *StreamMetrics) error {
	if s.listener == nil || s.closed {
		return common.Errorf(common.ErrServer, "server not listening; use Create")
	}
	if err := prodOpts.Validate(); err != nil {
		return err
	}
	if repeatOpts.Times == 0 {
		repeatOpts.Times = 1
	}

	// One shutdown flag per session, shared with every producer pool.
	// SIGINT and peer loss both assert it.
	var shutdown atomic.Bool

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	acceptDone := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			s.log.Warn("interrupted, shutting down")
			shutdown.Store(true)
			// Unblock the accept below.
			s.listener.Close()
		case <-acceptDone:
		}
	}()

	s.log.Info("waiting for client to connect")
	conn, err := s.listener.Accept()
	close(acceptDone)
	if err != nil {
		if shutdown.Load() {
			return nil
		}
		return common.Wrap(common.ErrServer, err)
	}
	s.conn = conn
	s.log.Info("client connected", zap.String("peer", conn.RemoteAddr().String()))

	if repeatOpts.Times > 1 {
		s.log.Info("repeating",
			zap.Uint64("times", repeatOpts.Times),
			zap.Duration("interval", repeatOpts.Interval))
	}

	var result StreamMetrics
	color := false

	for rep := uint64(0); rep < repeatOpts.Times && !shutdown.Load(); rep++ {
		queue, err := produce.NewQueue(prodOpts.QueueCapacity)
		if err != nil {
			return err
		}
		pool, err := produce.New(prodOpts, queue)
		if err != nil {
			return err
		}
		pool.Start(&shutdown)

		numMessages := uint64(0)
		numBytes := uint64(0)
		totalMessages := prodOpts.TotalJSONs()
		logEvery := totalMessages / 10
		if logEvery == 0 {
			logEvery = 1
		}

		start := time.Now()
		for numMessages != totalMessages && !shutdown.Load() {
			var batch produce.JSONBatch
			for !queue.TryDequeue(&batch) {
				if shutdown.Load() {
					break
				}
				time.Sleep(pollInterval)
				// Check the client is still alive while the
				// producers catch up.
				if err := s.probePeer(); err != nil {
					shutdown.Store(true)
					pool.Finish()
					return common.Wrap(common.ErrServer, err)
				}
			}
			if shutdown.Load() {
				break
			}

			// A batch is sent with a single write; anything short
			// of the full batch is an error.
			n, err := conn.Write(batch.Data)
			if err != nil {
				shutdown.Store(true)
				pool.Finish()
				return common.Errorf(common.ErrServer, "send failed after %d bytes: %v", n, err)
			}
			if n != len(batch.Data) {
				shutdown.Store(true)
				pool.Finish()
				return common.Errorf(common.ErrServer, "partial send: %d of %d bytes", n, len(batch.Data))
			}

			if prodOpts.Verbose {
				echoBatch(batch.Data, color)
				color = !color
			}

			numMessages += batch.NumJSONs
			numBytes += uint64(n)
			s.sentMessages.Add(batch.NumJSONs)
			s.sentBytes.Add(uint64(n))

			if numMessages%logEvery < batch.NumJSONs {
				s.log.Info("progress",
					zap.Uint64("sent", numMessages),
					zap.Uint64("total", totalMessages))
			}
		}

		prodMetrics, prodErr := pool.Finish()
		elapsed := time.Since(start).Seconds()

		result.NumMessages += numMessages
		result.NumBytes += numBytes
		result.Time += elapsed
		result.Producer.Add(prodMetrics)
		if metrics != nil {
			*metrics = result
		}
		if prodErr != nil {
			return prodErr
		}
		if shutdown.Load() {
			break
		}

		time.Sleep(repeatOpts.Interval)
		// Reseed so the next repetition produces different bytes.
		prodOpts.Gen.Seed += seedIncrement
	}

	return nil
}

// probePeer checks whether the accepted client is still reachable without
// consuming stream data: the client never sends, so a read either times out
// (peer alive) or reports the disconnect.
func (s *Server) probePeer() error {
	if err := s.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return err
	}
	var probe [1]byte
	_, err := s.conn.Read(probe[:])
	s.conn.SetReadDeadline(time.Time{})
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return nil
	}
	return fmt.Errorf("client socket: %w", err)
}

// echoBatch prints a sent batch to stdout, alternating colors per batch.
func echoBatch(data []byte, color bool) {
	code := "\033[35m"
	if color {
		code = "\033[34m"
	}
	body := data
	if len(body) > 0 && body[len(body)-1] == '\n' {
		body = body[:len(body)-1]
	}
	fmt.Printf("%s%s\033[39m\n", code, body)
}

// Close shuts the accepted connection and the listener down. Closing twice
// is an error.
func (s *Server) Close() error {
	if s.closed {
		return common.Errorf(common.ErrServer, "server was already closed")
	}
	s.closed = true

	var errs []error
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.listener.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return common.Wrap(common.ErrServer, errors.Join(errs...))
	}
	return nil
}

// LogStats writes the throughput summary for a finished stream.
func LogStats(log *zap.Logger, m StreamMetrics, numThreads int) {
	if m.Time == 0 {
		return
	}
	log.Info("streamed",
		zap.Uint64("messages", m.NumMessages),
		zap.Float64("seconds", m.Time),
		zap.Float64("messages_per_sec", float64(m.NumMessages)/m.Time),
		zap.Float64("gigabits_per_sec", float64(m.NumBytes*8)/m.Time*1e-9))
	if m.Producer.Time > 0 {
		perThread := m.Producer.Time / float64(numThreads)
		log.Info("produced",
			zap.Uint64("jsons", m.Producer.NumJSONs),
			zap.Uint64("batches", m.Producer.NumBatches),
			zap.Uint64("queue_full", m.Producer.QueueFull),
			zap.Float64("thread_seconds", perThread),
			zap.Float64("jsons_per_sec", float64(m.Producer.NumJSONs)/perThread))
	}
}
