package produce

import (
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"jsongen/common"
	"jsongen/internal/gen"
)

// backoff is the sleep between failed enqueue attempts when the queue is
// full. The shutdown flag is re-checked on every iteration.
const backoff = 100 * time.Microsecond

// Options configures the production of random JSON batches.
type Options struct {
	// Gen holds the random generation options. Worker i uses
	// Gen.Seed + i, so the produced bytes depend only on
	// (seed, threads, batches, jsons, schema, pretty, separator).
	Gen gen.GenerateOptions
	// Schema describes the shape of the generated documents.
	Schema *gen.Schema
	// NumJSONs is the number of records per batch when batching, or the
	// total number of records otherwise.
	NumJSONs uint64
	// Whitespace appends a separator byte after every record.
	Whitespace bool
	// WhitespaceChar is the separator byte. Defaults to '\n'.
	WhitespaceChar byte
	// Pretty selects indented output. Indented records contain newlines
	// and cannot be framed by a newline-scanning client; pretty is meant
	// for the file mode.
	Pretty bool
	// Verbose makes the server echo every sent batch to stdout.
	Verbose bool
	// NumThreads is the number of producer workers.
	NumThreads int
	// Batching enables batch mode: NumBatches batches of NumJSONs records
	// each. When disabled a single pass produces NumJSONs records as
	// trivial one-record batches.
	Batching bool
	// NumBatches is the number of batches to produce in batch mode.
	NumBatches uint64
	// QueueCapacity bounds the production queue.
	QueueCapacity int
	// Logger receives per-worker debug output. Nil disables logging.
	Logger *zap.Logger
}

// DefaultOptions returns production options for a single record on a single
// thread with newline separators.
func DefaultOptions() Options {
	return Options{
		NumJSONs:       1,
		Whitespace:     true,
		WhitespaceChar: common.DefaultSeparator,
		NumThreads:     1,
		NumBatches:     1,
		QueueCapacity:  64,
	}
}

// Validate applies defaults for zero values and rejects unusable options.
func (o *Options) Validate() error {
	if o.Schema == nil {
		return common.Errorf(common.ErrGeneric, "production needs a schema")
	}
	if o.NumJSONs == 0 {
		o.NumJSONs = 1
	}
	if o.WhitespaceChar == 0 {
		o.WhitespaceChar = common.DefaultSeparator
	}
	if o.NumThreads < 1 {
		o.NumThreads = 1
	}
	if o.NumBatches == 0 {
		o.NumBatches = 1
	}
	if o.QueueCapacity < 1 {
		o.QueueCapacity = 64
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return nil
}

// TotalJSONs returns the number of records one full production run emits.
func (o Options) TotalJSONs() uint64 {
	if o.Batching {
		return o.NumBatches * o.NumJSONs
	}
	return o.NumJSONs
}

// Metrics aggregates what the producer workers did.
type Metrics struct {
	// NumChars is the total number of bytes generated.
	NumChars uint64
	// NumJSONs is the total number of records generated.
	NumJSONs uint64
	// NumBatches is the total number of batches generated. A batch whose
	// enqueue was abandoned on shutdown is counted too.
	NumBatches uint64
	// QueueFull counts failed enqueue attempts.
	QueueFull uint64
	// Time is the sum of per-worker elapsed seconds.
	Time float64
}

// Add accumulates other into m.
func (m *Metrics) Add(other Metrics) {
	m.NumChars += other.NumChars
	m.NumJSONs += other.NumJSONs
	m.NumBatches += other.NumBatches
	m.QueueFull += other.QueueFull
	m.Time += other.Time
}

// workerResult is the per-worker counterpart of a promise: the worker fills
// it in, Finish reads it after the join.
type workerResult struct {
	metrics Metrics
	err     error
}

// Producer is a pool of worker goroutines writing serialised batches into a
// queue.
//
// Lifecycle: New, Start(shutdown), Finish. Start spawns exactly
// Options.NumThreads workers and returns; Finish joins them and aggregates
// their metrics, surfacing the first worker error.
type Producer struct {
	opts    Options
	queue   *Queue
	log     *zap.Logger
	wg      sync.WaitGroup
	results []workerResult
	started bool
}

// New creates a producer pool writing into queue.
func New(opts Options, queue *Queue) (*Producer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if queue == nil {
		return nil, common.Errorf(common.ErrGeneric, "producer needs a queue")
	}
	return &Producer{
		opts:  opts,
		queue: queue,
		log:   opts.Logger,
	}, nil
}

// Start spawns the workers. Each worker observes the supplied shutdown flag:
// when it fires, the worker completes the batch it is assembling, attempts
// one final enqueue, and exits.
//
// The workload split concentrates the division remainder on worker 0; the
// remainder is negligible in absolute terms and this keeps the partitioning
// deterministic.
func (p *Producer) Start(shutdown *atomic.Bool) {
	t := uint64(p.opts.NumThreads)

	var batchesPerWorker, jsonsPerBatch, remainder uint64
	if p.opts.Batching {
		batchesPerWorker = p.opts.NumBatches / t
		remainder = p.opts.NumBatches % t
		jsonsPerBatch = p.opts.NumJSONs
	} else {
		// Without batching each record is a trivial one-record batch.
		batchesPerWorker = p.opts.NumJSONs / t
		remainder = p.opts.NumJSONs % t
		jsonsPerBatch = 1
	}

	p.results = make([]workerResult, p.opts.NumThreads)
	p.started = true
	for id := 0; id < p.opts.NumThreads; id++ {
		numBatches := batchesPerWorker
		if id == 0 {
			numBatches += remainder
		}
		p.wg.Add(1)
		go p.worker(id, numBatches, jsonsPerBatch, shutdown, &p.results[id])
	}
}

// Finish joins all workers and returns the aggregated metrics. The first
// worker error, if any, is returned alongside whatever was accumulated.
func (p *Producer) Finish() (Metrics, error) {
	if !p.started {
		return Metrics{}, common.Errorf(common.ErrGeneric, "producer was not started")
	}
	p.wg.Wait()
	p.started = false

	var total Metrics
	var firstErr error
	for i := range p.results {
		total.Add(p.results[i].metrics)
		if firstErr == nil && p.results[i].err != nil {
			firstErr = p.results[i].err
		}
	}
	return total, firstErr
}

func (p *Producer) worker(id int, numBatches, jsonsPerBatch uint64, shutdown *atomic.Bool, res *workerResult) {
	defer p.wg.Done()
	start := time.Now()
	defer func() {
		res.metrics.Time = time.Since(start).Seconds()
	}()

	// Each worker owns an independent generator seeded by base seed plus
	// worker id, so different workers produce different values.
	genOpts := p.opts.Gen
	genOpts.Seed += int64(id)
	g, err := gen.NewDocumentGenerator(p.opts.Schema, genOpts)
	if err != nil {
		res.err = err
		return
	}

	api := gen.StreamAPI(p.opts.Pretty)
	stream := jsoniter.NewStream(api, nil, 4096)
	sep := string([]byte{p.opts.WhitespaceChar})

	for b := uint64(0); b < numBatches; b++ {
		if shutdown.Load() {
			p.log.Debug("worker observed shutdown", zap.Int("worker", id))
			return
		}

		stream.SetBuffer(stream.Buffer()[:0])
		for j := uint64(0); j < jsonsPerBatch; j++ {
			g.WriteTo(stream)
			if p.opts.Whitespace {
				stream.WriteRaw(sep)
			}
		}
		if stream.Error != nil {
			res.err = common.Wrap(common.ErrGeneric, stream.Error)
			return
		}

		data := make([]byte, len(stream.Buffer()))
		copy(data, stream.Buffer())
		batch := JSONBatch{Data: data, NumJSONs: jsonsPerBatch}

		res.metrics.NumChars += uint64(len(data))
		res.metrics.NumJSONs += jsonsPerBatch
		res.metrics.NumBatches++

		for !p.queue.TryEnqueue(batch) {
			res.metrics.QueueFull++
			if shutdown.Load() {
				return
			}
			time.Sleep(backoff)
		}
	}
	p.log.Debug("worker done", zap.Int("worker", id), zap.Uint64("batches", numBatches))
}
