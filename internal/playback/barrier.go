package playback

import (
	"context"
	"sync"
	"time"

	"github.com/duskbot/vocalcore/internal/metrics"
)

// BarrierFunc is the body of one user-visible audio operation.
type BarrierFunc func(ctx context.Context) error

// AudioOperationBarrier serializes user-visible intents (skip, prev,
// skip_to_index, pause_toggle, mixer_restart, shuffle) per session: strict
// FIFO, at most one executing at a time, with a synchronous reject for ops
// submitted too soon after the previous one's completion. This is distinct
// from CommandQueue, which serializes sidecar commands rather than user
// intents.
type AudioOperationBarrier struct {
	timeout     time.Duration
	minThrottle time.Duration

	mu       sync.Mutex
	queue    []chan struct{} // FIFO of tickets waiting for their turn
	lastDone time.Time       // completion time of the previous op
}

// NewAudioOperationBarrier creates a barrier with the given per-op timeout
// and minimum spacing between one operation's completion and the next
// operation's submission.
func NewAudioOperationBarrier(timeout, minThrottle time.Duration) *AudioOperationBarrier {
	return &AudioOperationBarrier{
		timeout:     timeout,
		minThrottle: minThrottle,
	}
}

// Do runs fn as a barrier-admitted operation named op. It returns
// ErrThrottled synchronously (without queuing) if called too soon after the
// previous operation completed, and ErrOperationTimeout if fn does not return
// within the barrier's timeout; a timed-out op does not poison the barrier for
// subsequent operations. Ops are admitted in strict FIFO order.
func (b *AudioOperationBarrier) Do(ctx context.Context, op string, fn BarrierFunc) error {
	b.mu.Lock()
	if !b.lastDone.IsZero() && time.Since(b.lastDone) < b.minThrottle {
		b.mu.Unlock()
		metrics.BarrierOpsTotal.WithLabelValues(op, "throttled").Inc()
		return ErrThrottled
	}

	ticket := make(chan struct{})
	myTurn := len(b.queue) == 0
	b.queue = append(b.queue, ticket)
	b.mu.Unlock()

	if !myTurn {
		<-ticket
	}

	defer b.advance()

	opCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(opCtx) }()

	select {
	case err := <-done:
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.BarrierOpsTotal.WithLabelValues(op, outcome).Inc()
		return err
	case <-opCtx.Done():
		metrics.BarrierOpsTotal.WithLabelValues(op, "timeout").Inc()
		return ErrOperationTimeout
	}
}

// advance records the completed op's finish time, pops its ticket and wakes
// the next in line, if any.
func (b *AudioOperationBarrier) advance() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastDone = time.Now()
	b.queue = b.queue[1:]
	if len(b.queue) > 0 {
		close(b.queue[0])
	}
}
