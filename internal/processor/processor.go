// Package processor runs accepted readings through ingestion, rollup and
// period resolution on a fixed set of per-account shard workers.
package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/ingest"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/period"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/rollup"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/shard"
)

// ErrStopped is returned for work submitted after Stop
var ErrStopped = errors.New("processor stopped")

// Sink receives accepted readings and the summaries they produced for reporting
type Sink interface {
	WriteReading(acc models.AcceptedReading) error
	WriteSummary(s models.MonthlySummary) error
	WriteProviderActivity(activity []models.ProviderActivity, timestamp time.Time) error
}

// Result is the outcome of one reading
type Result struct {
	Reading models.Reading
	Outcome period.Outcome
	Err     error
}

type job struct {
	ctx     context.Context
	reading models.Reading
	result  chan Result
}

// Processor processes incoming readings
type Processor struct {
	ingestor *ingest.Ingestor
	resolver *period.Resolver
	sink     Sink
	config   config.ProcessorConfig
	logger   zerolog.Logger
	metrics  *metrics.Collector
	activity *providerAggregator

	shards []chan job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// Option configures a Processor
type Option func(*Processor)

// WithSink reports accepted readings and summaries to s
func WithSink(s Sink) Option {
	return func(p *Processor) { p.sink = s }
}

// WithMetrics records processing metrics
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Processor) { p.metrics = m }
}

// NewProcessor creates a new processor and starts its workers
func NewProcessor(ingestor *ingest.Ingestor, resolver *period.Resolver, cfg config.ProcessorConfig, logger zerolog.Logger, opts ...Option) *Processor {
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	p := &Processor{
		ingestor: ingestor,
		resolver: resolver,
		config:   cfg,
		logger:   logger.With().Str("component", "processor").Logger(),
		shards:   make([]chan job, cfg.WorkerCount),
	}
	for _, opt := range opts {
		opt(p)
	}

	if cfg.EnableAggregations && p.sink != nil {
		p.activity = newProviderAggregator(p.sink, cfg.FlushInterval, p.logger)
	}

	p.wg.Add(cfg.WorkerCount)
	for i := range p.shards {
		p.shards[i] = make(chan job, cfg.QueueSize)
		go p.worker(i, p.shards[i])
	}

	p.logger.Info().Int("workers", cfg.WorkerCount).Int("queue_size", cfg.QueueSize).Msg("processor started")
	return p
}

// Process runs one reading through the pipeline and waits for its outcome
func (p *Processor) Process(ctx context.Context, r models.Reading) (period.Outcome, error) {
	res := make(chan Result, 1)
	if err := p.enqueue(ctx, r, res); err != nil {
		return period.Outcome{}, err
	}

	select {
	case out := <-res:
		return out.Outcome, out.Err
	case <-ctx.Done():
		return period.Outcome{}, ctx.Err()
	}
}

// ProcessBatch runs readings through the pipeline and returns one result per
// reading, in input order. A failed reading does not affect the others;
// readings of one account are applied in input order.
func (p *Processor) ProcessBatch(ctx context.Context, readings []models.Reading) []Result {
	pending := make([]chan Result, len(readings))
	results := make([]Result, len(readings))

	for i, r := range readings {
		pending[i] = make(chan Result, 1)
		if err := p.enqueue(ctx, r, pending[i]); err != nil {
			pending[i] <- Result{Reading: r, Err: err}
		}
	}

	for i, ch := range pending {
		select {
		case results[i] = <-ch:
		case <-ctx.Done():
			results[i] = Result{Reading: readings[i], Err: ctx.Err()}
		}
	}
	return results
}

// ProcessMessages processes a batch of readings from the ingestion channel.
// Rejected readings are logged and skipped; an error is returned only when
// the batch could not be processed and should be redelivered.
func (p *Processor) ProcessMessages(ctx context.Context, readings []models.Reading) error {
	for _, res := range p.ProcessBatch(ctx, readings) {
		if res.Err == nil {
			continue
		}
		if errors.Is(res.Err, ErrStopped) || errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
			return res.Err
		}
		if metrics.Reason(res.Err) == "internal" {
			return res.Err
		}
	}
	return nil
}

func (p *Processor) enqueue(ctx context.Context, r models.Reading, result chan Result) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrStopped
	}

	j := job{ctx: ctx, reading: r, result: result}
	select {
	case p.shards[shard.Index(r.AccountID, len(p.shards))] <- j:
		if p.metrics != nil {
			p.metrics.ReadingsInFlight.Inc()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker processes the readings of its shard in arrival order
func (p *Processor) worker(id int, queue <-chan job) {
	defer p.wg.Done()

	for j := range queue {
		res := p.handle(j.ctx, j.reading)
		if p.metrics != nil {
			p.metrics.ReadingsInFlight.Dec()
		}
		j.result <- res
	}
	p.logger.Debug().Int("worker", id).Msg("worker stopped")
}

func (p *Processor) handle(ctx context.Context, r models.Reading) Result {
	start := time.Now()
	res := Result{Reading: r}

	acc, err := p.ingestor.Check(ctx, r)
	if err != nil {
		p.reject(err)
	} else {
		// the resolver records its own rejections
		res.Outcome, err = p.resolver.ResolveWith(ctx, period.IntentSync, r.AccountID,
			func(latest *models.MonthlySummary) (models.Snapshot, error) {
				return rollup.Apply(latest, acc), nil
			})
		// the index only advances once the summary holds the delta, so a
		// reading whose summary write failed is accepted again on redelivery
		if err == nil {
			err = p.ingestor.Commit(ctx, acc)
		}
	}
	res.Err = err
	p.observe(start, err)

	if err != nil {
		event := p.logger.Warn()
		if metrics.Reason(err) == "internal" {
			event = p.logger.Error()
		}
		event.Err(err).Str("account_id", r.AccountID).Float64("cumulative_kwh", r.CumulativeConsumption).Msg("reading not applied")
		return res
	}

	if p.sink != nil {
		if err := p.sink.WriteReading(acc); err != nil {
			p.logger.Error().Err(err).Str("account_id", r.AccountID).Msg("report reading")
		}
		if err := p.sink.WriteSummary(res.Outcome.Summary); err != nil {
			p.logger.Error().Err(err).Str("account_id", r.AccountID).Msg("report summary")
		}
	}
	if p.activity != nil {
		p.activity.update(acc)
	}
	return res
}

func (p *Processor) observe(start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	p.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	switch metrics.Reason(err) {
	case "none":
		p.metrics.ReadingsProcessed.WithLabelValues("accepted").Inc()
	case "internal":
		p.metrics.ReadingsProcessed.WithLabelValues("failed").Inc()
	default:
		p.metrics.ReadingsProcessed.WithLabelValues("rejected").Inc()
	}
}

func (p *Processor) reject(err error) {
	if p.metrics != nil {
		p.metrics.ReadingRejections.WithLabelValues(metrics.Reason(err)).Inc()
	}
}

// Stop drains the queues, waits for the workers and flushes pending activity
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, q := range p.shards {
		close(q)
	}
	p.mu.Unlock()

	p.wg.Wait()

	if p.activity != nil {
		p.activity.stop()
	}
	p.logger.Info().Msg("processor stopped")
}
