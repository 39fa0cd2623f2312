package playback

import "errors"

// Error taxonomy for the playback core. Callers distinguish these with
// errors.Is; none of them are thrown as panics or bare strings.
var (
	// ErrThrottled is returned synchronously by the Barrier when an
	// operation arrives before the minimum throttle window has elapsed.
	ErrThrottled = errors.New("playback: throttled")

	// ErrOperationTimeout is returned when a Barrier-admitted op exceeds
	// its per-operation timeout.
	ErrOperationTimeout = errors.New("playback: operation timed out")

	// ErrCrossfadeInProgress gates a new transition while one is fading.
	ErrCrossfadeInProgress = errors.New("playback: crossfade in progress")

	// ErrSkipInProgress gates a new transition while the skip lock is held.
	ErrSkipInProgress = errors.New("playback: skip already in progress")

	// ErrBufferTimeout is a tolerable outcome: a cold load did not buffer
	// in time, but the sidecar's pending-switch logic may still complete
	// the transition via auto_end_switch.
	ErrBufferTimeout = errors.New("playback: buffer wait timed out")

	// ErrMixerDead means the mixer process is not alive.
	ErrMixerDead = errors.New("playback: mixer is not alive")

	// ErrMixerStartFailed means the sidecar failed to spawn or never
	// produced output within its startup watchdog window.
	ErrMixerStartFailed = errors.New("playback: mixer failed to start")

	// ErrStreamUnplayable names the three-stream-errors-on-one-URL condition.
	// The engine handles that condition by auto-skipping; nothing in this
	// package returns this error.
	ErrStreamUnplayable = errors.New("playback: stream unplayable")

	// ErrGuildGone means the session has been torn down.
	ErrGuildGone = errors.New("playback: guild session is gone")

	// ErrPersistence wraps a failed persistence write; the triggering
	// mutation is rolled back.
	ErrPersistence = errors.New("playback: persistence failed")

	// ErrQueueFull guards MaxQueueSize.
	ErrQueueFull = errors.New("playback: queue is full")

	// ErrInvalidIndex is returned by queue operations given an
	// out-of-range index.
	ErrInvalidIndex = errors.New("playback: invalid queue index")

	// ErrNotLoaded names play_song's "nothing loaded yet" precondition;
	// nothing in this package returns it.
	ErrNotLoaded = errors.New("playback: no deck loaded")

	// ErrEmptyQueue is returned when an operation requires a non-empty
	// queue but songs is empty.
	ErrEmptyQueue = errors.New("playback: queue is empty")

	// ErrLockHeld is returned by TryAcquire when the named lock is
	// already held by another holder.
	ErrLockHeld = errors.New("playback: lock already held")

	// ErrLockTimeout is returned by Acquire when the lock could not be
	// obtained before the given timeout elapsed.
	ErrLockTimeout = errors.New("playback: lock acquisition timed out")
)
