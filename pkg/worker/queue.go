// Package worker runs jobs one at a time on a background goroutine that is
// started on demand and exits once the queue is drained.
package worker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/iracelog-tiretemp/log"
)

const DefaultYield = 100 * time.Millisecond

// Handler processes one job. ctx is canceled when the queue is stopped.
type Handler[T comparable] func(ctx context.Context, job T)

type Option[T comparable] func(*Queue[T])

// WithYield sets the pause between two jobs.
func WithYield[T comparable](d time.Duration) Option[T] {
	return func(q *Queue[T]) {
		q.yield = d
	}
}

func WithLogger[T comparable](l *log.Logger) Option[T] {
	return func(q *Queue[T]) {
		q.log = l
	}
}

// Queue is a FIFO of distinct pending jobs. Enqueuing a job that is
// already pending is a no-op.
type Queue[T comparable] struct {
	name   string
	handle Handler[T]
	yield  time.Duration
	log    *log.Logger

	mu        sync.Mutex
	pending   []T
	queued    map[T]struct{}
	running   bool
	stopped   bool
	done      chan struct{}
	processed int64

	ctx    context.Context
	cancel context.CancelFunc
}

func New[T comparable](name string, handle Handler[T], opts ...Option[T]) *Queue[T] {
	ctx, cancel := context.WithCancel(context.Background())
	ret := &Queue[T]{
		name:   name,
		handle: handle,
		yield:  DefaultYield,
		log:    log.Default().Named("worker"),
		queued: map[T]struct{}{},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.setupMetrics()
	return ret
}

func (q *Queue[T]) setupMetrics() {
	meter := otel.Meter("itt.worker")
	attrs := metric.WithAttributes(attribute.String("name", q.name))
	if _, err := meter.Int64ObservableGauge("itt.worker.pending",
		metric.WithDescription("jobs waiting in the queue"),
		metric.WithUnit("{count}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(q.Len()), attrs)
			return nil
		})); err != nil {
		q.log.Error("failed to register metric", log.ErrorField(err))
	}
}

// Enqueue adds job and starts the worker if needed. It returns false if the
// job is already pending or the queue is stopped.
func (q *Queue[T]) Enqueue(job T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	if _, ok := q.queued[job]; ok {
		return false
	}
	q.queued[job] = struct{}{}
	q.pending = append(q.pending, job)
	q.log.Debug("Enqueued", log.String("queue", q.name), log.Any("job", job))
	if !q.running {
		q.running = true
		q.done = make(chan struct{})
		go q.run(q.done)
	}
	return true
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue[T]) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *Queue[T]) Processed() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processed
}

// Stop discards pending jobs and waits up to timeout for the running job.
// It returns false if the worker did not finish in time.
func (q *Queue[T]) Stop(timeout time.Duration) bool {
	q.mu.Lock()
	q.stopped = true
	dropped := len(q.pending)
	q.pending = nil
	q.queued = map[T]struct{}{}
	running, done := q.running, q.done
	q.mu.Unlock()
	q.cancel()

	if !running {
		return true
	}
	select {
	case <-done:
		q.log.Info("Worker stopped", log.String("queue", q.name), log.Int("dropped", dropped))
		return true
	case <-time.After(timeout):
		q.log.Warn("Worker did not stop in time, abandoning",
			log.String("queue", q.name), log.Duration("timeout", timeout))
		return false
	}
}

func (q *Queue[T]) run(done chan struct{}) {
	defer close(done)
	for {
		job, ok := q.next()
		if !ok {
			return
		}
		q.process(job)
		select {
		case <-q.ctx.Done():
		case <-time.After(q.yield):
		}
	}
}

// next pops the head of the queue. When there is nothing left the worker is
// marked as not running while still holding the lock, so a concurrent
// Enqueue starts a new one.
func (q *Queue[T]) next() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.stopped || len(q.pending) == 0 {
		q.running = false
		return zero, false
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	delete(q.queued, job)
	return job, true
}

func (q *Queue[T]) process(job T) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("Job failed", log.String("queue", q.name), log.Any("job", job), log.Any("recovered", r))
		}
		q.mu.Lock()
		q.processed++
		q.mu.Unlock()
	}()
	q.handle(q.ctx, job)
}
