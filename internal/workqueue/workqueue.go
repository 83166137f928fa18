// Package workqueue runs background jobs on sharded workers. Jobs submitted
// under the same key run one at a time in submission order; jobs with
// different keys may run in parallel.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// A Job is one unit of background work.
type Job func(ctx context.Context) error

var (
	// ErrClosed is returned when submitting to a stopped queue.
	ErrClosed = errors.New("workqueue: closed")
	// ErrQueueFull is returned when the key's shard stays full for the
	// enqueue timeout.
	ErrQueueFull = errors.New("workqueue: queue full")
)

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Config tunes a Queue. Zero values are replaced with defaults.
type Config struct {
	Name           string
	Shards         int
	QueueSize      int
	EnqueueTimeout time.Duration
	// MaxAttempts bounds how often a failing job runs, first run included.
	MaxAttempts uint64
	BaseBackoff time.Duration
	MaxInterval time.Duration
	Logger      *slog.Logger
}

type queuedJob struct {
	ctx context.Context
	job Job
}

// Queue executes jobs partitioned by a stable hash of their key.
type Queue struct {
	cfg    Config
	queues []chan queuedJob

	stopCtx context.Context
	stop    context.CancelFunc
	closed  atomic.Bool
	wg      sync.WaitGroup

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
}

// New starts the shard workers of a Queue.
func New(cfg Config) *Queue {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 100 * time.Millisecond
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	stopCtx, stop := context.WithCancel(context.Background())
	q := &Queue{
		cfg:     cfg,
		queues:  make([]chan queuedJob, cfg.Shards),
		stopCtx: stopCtx,
		stop:    stop,
		timers:  make(map[*time.Timer]struct{}),
	}
	for i := range q.queues {
		ch := make(chan queuedJob, cfg.QueueSize)
		q.queues[i] = ch
		q.wg.Add(1)
		go q.runWorker(i, ch)
	}
	return q
}

// Submit enqueues job on the shard of key. The job runs with ctx, so callers
// scheduling fire-and-forget work should pass a context that outlives them.
func (q *Queue) Submit(ctx context.Context, key string, job Job) error {
	if q.closed.Load() {
		return ErrClosed
	}
	shard := q.shardFor(key)
	ch := q.queues[shard]

	timer := time.NewTimer(q.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- queuedJob{ctx: ctx, job: job}:
		jobsSubmitted.WithLabelValues(q.cfg.Name).Inc()
		return nil
	case <-q.stopCtx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("shard %d (%d/%d): %w", shard, len(ch), cap(ch), ErrQueueFull)
	}
}

// After submits job under key once delay has elapsed. The job is dropped if
// the queue stops first.
func (q *Queue) After(delay time.Duration, key string, job Job) {
	if q.closed.Load() {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()

		if err := q.Submit(context.Background(), key, job); err != nil {
			q.cfg.Logger.Warn("Could not submit delayed job", "queue", q.cfg.Name, "key", key, "error", err.Error())
		}
	})
	q.timers[t] = struct{}{}
}

// Barrier waits until every job submitted under key before the call has run.
func (q *Queue) Barrier(ctx context.Context, key string) error {
	done := make(chan struct{})
	if err := q.Submit(ctx, key, func(context.Context) error {
		close(done)
		return nil
	}); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop cancels pending delayed jobs, lets workers drain what is already
// queued and waits for them. It is safe to call more than once.
func (q *Queue) Stop() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	q.mu.Lock()
	for t := range q.timers {
		t.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	q.mu.Unlock()

	q.stop()
	q.wg.Wait()
}

func (q *Queue) runWorker(idx int, ch <-chan queuedJob) {
	defer q.wg.Done()
	for {
		select {
		case qj := <-ch:
			q.run(idx, qj)
		case <-q.stopCtx.Done():
			for {
				select {
				case qj := <-ch:
					q.runOnce(idx, qj)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) run(idx int, qj queuedJob) {
	if err := qj.ctx.Err(); err != nil {
		q.fail(idx, err)
		return
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = q.cfg.BaseBackoff
	exp.MaxInterval = q.cfg.MaxInterval
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, q.cfg.MaxAttempts-1), q.stopCtx)

	err := backoff.RetryNotify(func() error {
		return q.safeRun(qj)
	}, b, func(err error, wait time.Duration) {
		jobsRetried.WithLabelValues(q.cfg.Name).Inc()
		q.cfg.Logger.Debug("Retrying job", "queue", q.cfg.Name, "shard", idx, "wait", wait, "error", err.Error())
	})
	if err != nil {
		q.fail(idx, err)
	}
}

func (q *Queue) runOnce(idx int, qj queuedJob) {
	if err := q.safeRun(qj); err != nil {
		q.fail(idx, err)
	}
}

func (q *Queue) safeRun(qj queuedJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = backoff.Permanent(fmt.Errorf("job panic: %v", r))
		}
	}()
	return qj.job(qj.ctx)
}

func (q *Queue) fail(idx int, err error) {
	jobsFailed.WithLabelValues(q.cfg.Name).Inc()
	q.cfg.Logger.Warn("Background job failed", "queue", q.cfg.Name, "shard", strconv.Itoa(idx), "error", err.Error())
}

func (q *Queue) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(q.cfg.Shards))
}
