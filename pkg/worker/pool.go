// Package worker runs packet processing off the connection's read goroutine.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

const (
	outcomeSubmitted = "submitted"
	outcomeProcessed = "processed"
	outcomeFailed    = "failed"
	outcomeDropped   = "dropped"
)

// Pool is a fixed set of goroutines draining a bounded queue of T.
type Pool[T any] struct {
	workers   int
	queueSize int
	handle    func(context.Context, T) error
	log       *logrus.Entry

	queue   chan T
	metrics *metrics
	wg      sync.WaitGroup

	// mu guards the lifecycle flags and every send on queue.
	mu      sync.Mutex
	started bool
	stopped bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

type metrics struct {
	items    *prometheus.CounterVec
	depth    prometheus.Gauge
	duration prometheus.Histogram
}

type Option[T any] func(*Pool[T])

// WithRegisterer exposes the pool counters under the given metric prefix.
func WithRegisterer[T any](registerer prometheus.Registerer, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.metrics = newMetrics(registerer, prefix)
	}
}

func WithLogger[T any](log *logrus.Entry) Option[T] {
	return func(p *Pool[T]) {
		p.log = log
	}
}

// NewPool panics with ErrNilProcessor when handle is nil. Non-positive sizes
// fall back to the defaults.
func NewPool[T any](workers, queueSize int, handle func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if handle == nil {
		panic(ErrNilProcessor)
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		handle:    handle,
		queue:     make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(pool)
	}
	return pool
}

func newMetrics(registerer prometheus.Registerer, prefix string) *metrics {
	m := &metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_items_total",
			Help: "Work items by outcome",
		}, []string{"outcome"}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Work items waiting for a worker",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent on one work item",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 7),
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.items, m.depth, m.duration)
	}
	return m
}

func (p *Pool[T]) count(counter *atomic.Int64, outcome string) {
	counter.Add(1)
	if p.metrics != nil {
		p.metrics.items.WithLabelValues(outcome).Inc()
		p.metrics.depth.Set(float64(len(p.queue)))
	}
}

// Submit enqueues work without blocking. A full queue drops the item.
func (p *Pool[T]) Submit(work T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case !p.started:
		return ErrPoolNotStarted
	case p.stopped:
		return ErrPoolStopped
	}

	select {
	case p.queue <- work:
		p.count(&p.submitted, outcomeSubmitted)
		return nil
	default:
		p.count(&p.dropped, outcomeDropped)
		return ErrQueueFull
	}
}

func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	p.started = true
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.run(ctx)
	}
	return nil
}

// Stop closes the queue and waits up to timeout for queued work to drain.
// Calling it again, or before Start, does nothing.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.queue),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, work)
		}
	}
}

// process runs one item. A panicking handler counts as a failure and the
// worker keeps running.
func (p *Pool[T]) process(ctx context.Context, work T) {
	start := time.Now()
	err := p.safeHandle(ctx, work)
	if p.metrics != nil {
		p.metrics.duration.Observe(time.Since(start).Seconds())
	}

	p.count(&p.processed, outcomeProcessed)
	if err != nil {
		p.count(&p.failed, outcomeFailed)
		if p.log != nil {
			p.log.WithError(err).Warn("Work item failed")
		}
	}
}

func (p *Pool[T]) safeHandle(ctx context.Context, work T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("work item panicked: %v", r)
		}
	}()
	return p.handle(ctx, work)
}
