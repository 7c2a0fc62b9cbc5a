package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"jsongen/application/status"
	"jsongen/common"
	"jsongen/internal/client"
	"jsongen/internal/gen"
	"jsongen/internal/latency"
	"jsongen/internal/produce"
	"jsongen/internal/report"
	"jsongen/internal/server"
	"jsongen/middleware"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	}

	z := NewLogger()
	defer z.Sync()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "file":
		err = runFile(z, os.Args[2:])
	case "stream":
		err = runStream(z, os.Args[2:])
	case "consume":
		err = runConsume(z, os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		err = common.Errorf(common.ErrCLI, "unknown subcommand %q", os.Args[1])
		usage()
	}

	if err != nil {
		z.Error("exiting with failure", zap.Error(err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `jsongen - a synthetic JSON stream generator and its matched client

Usage:
  jsongen file    [flags]   generate documents to stdout or a file
  jsongen stream  [flags]   serve a generated record stream over TCP
  jsongen consume [flags]   connect to a server and ingest the stream

Run a subcommand with -h for its flags.
`)
}

func NewLogger() *zap.Logger {
	zapLogger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return zapLogger
}

// productionFlags registers the flags shared by the file and stream
// subcommands and returns a builder for the resulting options.
func productionFlags(fs *flag.FlagSet) func() (produce.Options, error) {
	schemaPath := fs.String("schema", "", "path to the YAML schema (required)")
	seed := fs.Int64("seed", 0, "base seed of the random generators")
	numJSONs := fs.Uint64("n", 1, "records per batch (with -batch) or total records")
	threads := fs.Int("threads", 1, "number of producer workers")
	batch := fs.Bool("batch", false, "enable batch mode")
	batches := fs.Uint64("batches", 1, "number of batches in batch mode")
	pretty := fs.Bool("pretty", false, "indent generated documents")
	verbose := fs.Bool("v", false, "echo every sent batch to stdout")
	queueCap := fs.Int("queue", 64, "production queue capacity")

	return func() (produce.Options, error) {
		if *schemaPath == "" {
			return produce.Options{}, common.Errorf(common.ErrCLI, "-schema is required")
		}
		schema, err := gen.LoadSchema(*schemaPath)
		if err != nil {
			return produce.Options{}, err
		}
		opts := produce.DefaultOptions()
		opts.Gen.Seed = *seed
		opts.Schema = schema
		opts.NumJSONs = *numJSONs
		opts.NumThreads = *threads
		opts.Batching = *batch
		opts.NumBatches = *batches
		opts.Pretty = *pretty
		opts.Verbose = *verbose
		opts.QueueCapacity = *queueCap
		return opts, nil
	}
}

func runFile(z *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("file", flag.ExitOnError)
	buildOpts := productionFlags(fs)
	outPath := fs.String("o", "", "output path; stdout when empty")
	fs.Parse(args)

	opts, err := buildOpts()
	if err != nil {
		return err
	}

	g, err := gen.NewDocumentGenerator(opts.Schema, opts.Gen)
	if err != nil {
		return err
	}

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return common.Wrap(common.ErrIO, err)
		}
		defer f.Close()
		out = f
	}

	for i := uint64(0); i < opts.NumJSONs; i++ {
		doc, err := g.Render(opts.Pretty)
		if err != nil {
			return common.Wrap(common.ErrGeneric, err)
		}
		if _, err := out.Write(append(doc, opts.WhitespaceChar)); err != nil {
			return common.Wrap(common.ErrIO, err)
		}
	}
	return nil
}

func runStream(z *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	buildOpts := productionFlags(fs)
	port := fs.Uint("port", uint(envPort()), "TCP port to listen on")
	reuse := fs.Bool("reuse", false, "set SO_REUSEADDR on the listening socket")
	repeat := fs.Uint64("repeat", 1, "number of times to repeat the stream")
	interval := fs.Duration("interval", 250*time.Millisecond, "pause between repetitions")
	statusAddr := fs.String("status", "", "serve live status on this HTTP address")
	save := fs.Bool("report", false, "record the run in the report database")
	fs.Parse(args)

	prodOpts, err := buildOpts()
	if err != nil {
		return err
	}
	prodOpts.Logger = z

	srv, err := server.Create(server.Options{
		Port:        uint16(*port),
		ReuseSocket: *reuse,
		Logger:      z,
	})
	if err != nil {
		return err
	}

	stopStatus := startStatusServer(z, *statusAddr, status.Source{
		Role:     "server",
		Counters: srv.Counters,
	})
	defer stopStatus()

	repeatOpts := server.RepeatOptions{Times: *repeat, Interval: *interval}
	var metrics server.StreamMetrics
	sendErr := srv.SendJSONs(prodOpts, repeatOpts, &metrics)

	server.LogStats(z, metrics, prodOpts.NumThreads)

	if *save {
		if err := saveRun(z, "stream", metrics.NumMessages, metrics.NumBytes, metrics.Time, nil); err != nil {
			z.Warn("could not record run", zap.Error(err))
		}
	}

	z.Info("server shutting down")
	if err := srv.Close(); err != nil && sendErr == nil {
		return err
	}
	return sendErr
}

func runConsume(z *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("consume", flag.ExitOnError)
	host := fs.String("host", "localhost", "server host to connect to")
	port := fs.Uint("port", uint(envPort()), "server port to connect to")
	mode := fs.String("mode", "queue", "ingestion strategy: queue or buffer")
	numBuffers := fs.Int("buffers", 2, "number of TCP buffers (buffer mode)")
	numConsumers := fs.Int("consumers", 1, "number of consumer goroutines (buffer mode)")
	bufSize := fs.Int("bufsize", common.DefaultTCPBufferSize, "capacity per TCP buffer")
	startSeq := fs.Uint64("seq", 0, "starting sequence number")
	trackLatency := fs.Bool("latency", false, "sample per-record latency")
	samples := fs.Int("samples", 1024, "latency sample slots")
	sampleInterval := fs.Uint64("sample-interval", 1024, "sample every Nth record")
	statusAddr := fs.String("status", "", "serve live status on this HTTP address")
	save := fs.Bool("report", false, "record the run in the report database")
	fs.Parse(args)

	opts := client.Options{
		Host:       *host,
		Port:       uint16(*port),
		Seq:        *startSeq,
		BufferSize: *bufSize,
		Logger:     z,
	}

	var tracker *latency.Tracker
	if *trackLatency {
		stages := 1
		if *mode == "queue" {
			stages = 2
		}
		var err error
		tracker, err = latency.NewTracker(*samples, stages, *sampleInterval)
		if err != nil {
			return err
		}
	}

	var c client.Client
	var consumed *atomic.Uint64
	var stopConsumers func()

	switch *mode {
	case "queue":
		queue := client.NewItemQueue(0)
		qc, err := client.NewQueueing(opts, queue)
		if err != nil {
			return err
		}
		c = qc
		consumed, stopConsumers = drainQueue(queue)

	case "buffer":
		buffers := make([]*client.JSONBuffer, *numBuffers)
		mutexes := make([]*sync.Mutex, *numBuffers)
		for i := range buffers {
			buf, err := client.NewJSONBuffer(make([]byte, *bufSize))
			if err != nil {
				return err
			}
			buffers[i] = buf
			mutexes[i] = &sync.Mutex{}
		}
		bc, err := client.NewBuffering(opts, buffers, mutexes)
		if err != nil {
			return err
		}
		c = bc
		consumed, stopConsumers = drainBuffers(buffers, mutexes, *numConsumers)

	default:
		return common.Errorf(common.ErrCLI, "unknown mode %q; use queue or buffer", *mode)
	}

	stopStatus := startStatusServer(z, *statusAddr, status.Source{
		Role: "client",
		Counters: func() (uint64, uint64) {
			return c.JSONsReceived(), c.BytesReceived()
		},
	})
	defer stopStatus()

	start := time.Now()
	recvErr := c.ReceiveJSONs(tracker)
	elapsed := time.Since(start).Seconds()

	stopConsumers()

	rate := 0.0
	if elapsed > 0 {
		rate = float64(c.JSONsReceived()) / elapsed
	}
	z.Info("received",
		zap.Uint64("jsons", c.JSONsReceived()),
		zap.Uint64("bytes", c.BytesReceived()),
		zap.Uint64("consumed", consumed.Load()),
		zap.Float64("seconds", elapsed),
		zap.Float64("jsons_per_sec", rate))

	if *save {
		if err := saveRun(z, "consume-"+*mode, c.JSONsReceived(), c.BytesReceived(), elapsed, tracker); err != nil {
			z.Warn("could not record run", zap.Error(err))
		}
	}

	if err := c.Close(); err != nil && recvErr == nil {
		return err
	}
	return recvErr
}

// drainQueue consumes items from the queueing client's queue until stopped.
func drainQueue(queue *client.ItemQueue) (*atomic.Uint64, func()) {
	consumed := &atomic.Uint64{}
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		var item common.JSONItem
		for {
			for queue.TryDequeue(&item) {
				consumed.Add(1)
			}
			select {
			case <-done:
				// Drain what arrived before the stop.
				for queue.TryDequeue(&item) {
					consumed.Add(1)
				}
				return
			default:
				time.Sleep(100 * time.Microsecond)
			}
		}
	}()

	return consumed, func() {
		close(done)
		<-finished
	}
}

// drainBuffers runs consumer goroutines over the buffer set until stopped.
// Every consumer locks a full buffer, accounts for its records, resets it
// and releases the mutex so the receive loop can reuse it.
func drainBuffers(buffers []*client.JSONBuffer, mutexes []*sync.Mutex, numConsumers int) (*atomic.Uint64, func()) {
	consumed := &atomic.Uint64{}
	done := make(chan struct{})
	var wg sync.WaitGroup

	consumePass := func() {
		for i := range buffers {
			if !mutexes[i].TryLock() {
				continue
			}
			if !buffers[i].Empty() {
				consumed.Add(buffers[i].NumJSONs())
				buffers[i].Reset()
			}
			mutexes[i].Unlock()
		}
	}

	for w := 0; w < numConsumers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					consumePass()
					return
				default:
					consumePass()
					time.Sleep(100 * time.Microsecond)
				}
			}
		}()
	}

	return consumed, func() {
		close(done)
		wg.Wait()
	}
}

// startStatusServer serves the live status surface when addr is non-empty.
// The returned stop function shuts the HTTP server down.
func startStatusServer(z *zap.Logger, addr string, sources ...status.Source) func() {
	if addr == "" {
		return func() {}
	}

	svc := status.NewService(sources...)
	router := SetupRouter(z, svc)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		z.Info("status surface listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			z.Warn("status surface failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func SetupRouter(z *zap.Logger, svc *status.Service) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestInit())
	r.Use(middleware.ResponseInit(z))

	handler := status.NewHandler(svc)
	handler.RegisterRoutes(r.Group(""))

	return r
}

// saveRun records a finished run, and its latency samples when a tracker was
// active, in the report database.
func saveRun(z *zap.Logger, mode string, messages, bytes uint64, seconds float64, tracker *latency.Tracker) error {
	store, err := report.Open(z)
	if err != nil {
		return err
	}
	runID := uuid.New().String()
	if err := store.SaveRun(report.Run{
		ID:       runID,
		Mode:     mode,
		Messages: messages,
		Bytes:    bytes,
		Seconds:  seconds,
	}); err != nil {
		return err
	}
	if tracker != nil {
		return store.SaveLatencies(runID, tracker)
	}
	return nil
}

func envPort() uint16 {
	if v := os.Getenv("JSONGEN_PORT"); v != "" {
		if p, err := strconv.ParseUint(v, 10, 16); err == nil {
			return uint16(p)
		}
	}
	return common.DefaultPort
}
