package playback

import (
	"sync"
	"time"

	"github.com/duskbot/vocalcore/internal/ring"
)

// VersionEntry is one retained mutation record
type VersionEntry struct {
	Version   uint64
	Tag       string
	Details   string
	Timestamp time.Time
}

// StateVersion is a per-session monotonic counter with a bounded history,
// used both for stale-read detection (compare a snapshot's version against
// the current one) and for debugging via the retained entries.
type StateVersion struct {
	mu      sync.Mutex
	current uint64
	history *ring.Buffer[VersionEntry]
}

// NewStateVersion creates a StateVersion retaining the given number of
// recent entries; a non-positive historyLen retains one.
func NewStateVersion(historyLen int) *StateVersion {
	return &StateVersion{history: ring.New[VersionEntry](historyLen)}
}

// Bump increments the version and records the mutation under the given tag.
// It returns the new version number.
func (v *StateVersion) Bump(tag, details string) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current++
	v.history.Add(VersionEntry{
		Version:   v.current,
		Tag:       tag,
		Details:   details,
		Timestamp: time.Now(),
	})
	return v.current
}

// Current returns the current version without mutating it.
func (v *StateVersion) Current() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// History returns the retained recent entries, oldest first.
func (v *StateVersion) History() []VersionEntry {
	return v.history.All()
}

// lockEntry is the internal bookkeeping for one named exclusive lock.
type lockEntry struct {
	holder   *LockHandle
	expireAt time.Time
}

// LockHandle is returned by Acquire and released via Release.
type LockHandle struct {
	name  string
	locks *LockTable
}

// Release gives up the lock if this handle still owns it.
func (h *LockHandle) Release() {
	h.locks.release(h.name, h)
}

// LockTable holds named exclusive locks with a hard expiry, so a holder
// that crashes or forgets to release cannot wedge the session forever
//.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*lockEntry)}
}

// TryAcquire attempts to take the named lock immediately, failing with
// ErrLockHeld if it is already held and not expired.
func (t *LockTable) TryAcquire(name string, ttl time.Duration) (*LockHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if e, ok := t.locks[name]; ok && now.Before(e.expireAt) {
		return nil, ErrLockHeld
	}
	h := &LockHandle{name: name, locks: t}
	t.locks[name] = &lockEntry{holder: h, expireAt: now.Add(ttl)}
	return h, nil
}

// Acquire polls TryAcquire every 25ms until it succeeds or timeout elapses,
// returning ErrLockTimeout on expiry.
func (t *LockTable) Acquire(name string, ttl, timeout time.Duration) (*LockHandle, error) {
	deadline := time.Now().Add(timeout)
	for {
		h, err := t.TryAcquire(name, ttl)
		if err == nil {
			return h, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// HasActiveLock reports whether name is currently held and not expired.
func (t *LockTable) HasActiveLock(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.locks[name]
	return ok && time.Now().Before(e.expireAt)
}

func (t *LockTable) release(name string, handle *LockHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.locks[name]; ok && e.holder == handle {
		delete(t.locks, name)
	}
}
