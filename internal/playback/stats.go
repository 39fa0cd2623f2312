package playback

import (
	"sync"
	"time"
)

// StatsTracker accumulates per-user and global listening statistics in
// memory and writes to its StatsStore only when Flush is called, not on
// every update. It does not flush on its own, on disconnect or otherwise.
type StatsTracker struct {
	store *StatsStore

	mu    sync.Mutex
	rec   StatsRecord
	dirty bool
}

// NewStatsTracker loads the current stats document from store (starting
// empty if none exists yet).
func NewStatsTracker(store *StatsStore) (*StatsTracker, error) {
	rec, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &StatsTracker{store: store, rec: rec}, nil
}

// RecordSongStarted increments the global songs-started counter.
func (t *StatsTracker) RecordSongStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.Global.SongsStarted++
	t.dirty = true
}

// RecordSongCompleted increments the global songs-completed counter.
func (t *StatsTracker) RecordSongCompleted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.Global.SongsCompleted++
	t.dirty = true
}

// AddListeningTime credits userID with d of listening time.
func (t *StatsTracker) AddListeningTime(userID string, d time.Duration) {
	if userID == "" || d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.rec.Users[userID]
	u.ListeningTimeMS += d.Milliseconds()
	t.rec.Users[userID] = u
	t.dirty = true
}

// AddPlaylistAdd credits userID with one queue addition, to either the
// server-shared or personal playlist counter.
func (t *StatsTracker) AddPlaylistAdd(userID string, personal bool) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.rec.Users[userID]
	if personal {
		u.PersonalPlaylistAdds++
	} else {
		u.ServerPlaylistAdds++
	}
	t.rec.Users[userID] = u
	t.dirty = true
}

// Snapshot returns a copy of the current in-memory stats document.
func (t *StatsTracker) Snapshot() StatsRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := make(map[string]UserStats, len(t.rec.Users))
	for k, v := range t.rec.Users {
		users[k] = v
	}
	return StatsRecord{Users: users, Global: t.rec.Global, LastUpdated: t.rec.LastUpdated}
}

// Flush persists the in-memory stats document if it has changed since the
// last flush.
func (t *StatsTracker) Flush() error {
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return nil
	}
	t.rec.LastUpdated = time.Now().Unix()
	rec := t.rec
	t.dirty = false
	t.mu.Unlock()

	return t.store.Save(rec)
}
