package playback

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duskbot/vocalcore/internal/metrics"
)

// Priority controls where a CommandQueue entry lands relative to other
// still-pending entries; it never preempts the command currently executing.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// CommandFunc is the unit of work a CommandQueue entry performs — typically
// a MixerController send. It receives a context carrying the entry's
// per-command timeout.
type CommandFunc func(ctx context.Context) error

// CommandOptions configures one CommandQueue.Submit call.
type CommandOptions struct {
	Label    string // for logs/observability, e.g. "load", "crossfade"
	Priority Priority
	Timeout  time.Duration // default CmdTimeoutMS if zero
	Retries  int           // additional attempts after a timed-out attempt
}

type commandEntry struct {
	id      string
	fn      CommandFunc
	opts    CommandOptions
	submit  time.Time
	done    chan error
}

// CommandQueueStats is the observability surface exposed for dashboards
// and metrics scraping.
type CommandQueueStats struct {
	Total        int
	Succeeded    int
	Failed       int
	AverageWait  time.Duration
	totalWait    time.Duration
}

// CommandQueue is a per-session FIFO serializer for mixer commands. Exactly
// one entry executes at a time; PriorityHigh entries are inserted at the
// front of the still-pending list but never interrupt the entry currently
// running.
type CommandQueue struct {
	defaultTimeout time.Duration
	aliveCheck     func() bool // IsAlive-style fast-fail gate

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*commandEntry
	closed  bool
	stats   CommandQueueStats
}

// NewCommandQueue creates a queue whose entries fail fast (MixerDead) when
// aliveCheck returns false. defaultTimeout applies to entries that don't
// set CommandOptions.Timeout.
func NewCommandQueue(defaultTimeout time.Duration, aliveCheck func() bool) *CommandQueue {
	q := &CommandQueue{defaultTimeout: defaultTimeout, aliveCheck: aliveCheck}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Submit enqueues fn and blocks until it has succeeded, permanently failed,
// or the queue was torn down. A fast-fail (ErrMixerDead) is returned
// immediately without queueing when aliveCheck reports the mixer is down.
func (q *CommandQueue) Submit(ctx context.Context, fn CommandFunc, opts CommandOptions) error {
	if q.aliveCheck != nil && !q.aliveCheck() {
		return ErrMixerDead
	}
	if opts.Timeout == 0 {
		opts.Timeout = q.defaultTimeout
	}

	entry := &commandEntry{
		id:     uuid.NewString(),
		fn:     fn,
		opts:   opts,
		submit: time.Now(),
		done:   make(chan error, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrGuildGone
	}
	if opts.Priority == PriorityHigh {
		q.pending = append([]*commandEntry{entry}, q.pending...)
	} else {
		q.pending = append(q.pending, entry)
	}
	q.cond.Signal()
	q.mu.Unlock()

	select {
	case err := <-entry.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of queue observability counters.
func (q *CommandQueue) Stats() CommandQueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	if s.Total > 0 {
		s.AverageWait = s.totalWait / time.Duration(s.Total)
	}
	return s
}

// Close rejects every pending entry with ErrGuildGone and stops the worker.
// The entry currently executing, if any, is allowed to finish.
func (q *CommandQueue) Close() {
	q.mu.Lock()
	q.closed = true
	pending := q.pending
	q.pending = nil
	q.cond.Broadcast()
	q.mu.Unlock()

	for _, e := range pending {
		e.done <- ErrGuildGone
	}
}

func (q *CommandQueue) run() {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed && len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		entry := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.execute(entry)
	}
}

func (q *CommandQueue) execute(entry *commandEntry) {
	wait := time.Since(entry.submit)

	ctx, cancel := context.WithTimeout(context.Background(), entry.opts.Timeout)
	err := entry.fn(ctx)
	cancel()

	if err == context.DeadlineExceeded && entry.opts.Retries > 0 {
		entry.opts.Retries--
		q.mu.Lock()
		if !q.closed {
			entry.submit = time.Now()
			q.pending = append([]*commandEntry{entry}, q.pending...)
			q.cond.Signal()
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()
	}

	q.mu.Lock()
	q.stats.Total++
	q.stats.totalWait += wait
	if err == nil {
		q.stats.Succeeded++
	} else {
		q.stats.Failed++
	}
	q.mu.Unlock()

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.CommandsTotal.WithLabelValues(entry.opts.Label, outcome).Inc()
	metrics.CommandWaitSeconds.WithLabelValues(entry.opts.Label).Observe(wait.Seconds())

	entry.done <- err
}
