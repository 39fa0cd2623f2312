package playback

import (
	"encoding/json"
	"os"
	"sync"
)

// QueueRecord is the per-guild persisted queue/playback snapshot.
// currentDeckLoaded is deliberately absent: it is never restored as
// "loaded".
type QueueRecord struct {
	Songs              []Song `json:"songs"`
	History            []Song `json:"history"`
	PlayIndex          int    `json:"playIndex"`
	IsPaused           bool   `json:"isPaused"`
	LoopEnabled        bool   `json:"loopEnabled"`
	FadeEnabled        bool   `json:"fadeEnabled"`
	DashboardMessageID string `json:"dashboardMessageId,omitempty"`
	TextChannelID      string `json:"textChannelId,omitempty"`
}

// Persister is the port Session uses to round-trip its queue to storage.
// SaveQueue failures surface as ErrPersistence and roll back the triggering
// mutation.
type Persister interface {
	SaveQueue(guildID string, rec QueueRecord) error
	LoadQueue(guildID string) (QueueRecord, bool, error)
	DeleteQueue(guildID string) error
}

// JSONFileStore persists all guilds' queues to a single JSON file, keyed by
// guild id It mirrors this codebase's
// plain-marshal-to-disk idiom rather than pulling in a database.
type JSONFileStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONFileStore creates a store backed by path, loading any pre-existing
// content lazily on first access.
func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{path: path}
}

func (j *JSONFileStore) readAll() (map[string]QueueRecord, error) {
	data, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return map[string]QueueRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return map[string]QueueRecord{}, nil
	}
	var all map[string]QueueRecord
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (j *JSONFileStore) writeAll(all map[string]QueueRecord) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(j.path, data, 0o644)
}

// SaveQueue writes rec under guildID. An empty songs and history both being
// empty deletes the entry instead
func (j *JSONFileStore) SaveQueue(guildID string, rec QueueRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	all, err := j.readAll()
	if err != nil {
		return err
	}
	if len(rec.Songs) == 0 && len(rec.History) == 0 {
		delete(all, guildID)
	} else {
		all[guildID] = rec
	}
	return j.writeAll(all)
}

// LoadQueue returns the stored record for guildID, if any.
func (j *JSONFileStore) LoadQueue(guildID string) (QueueRecord, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	all, err := j.readAll()
	if err != nil {
		return QueueRecord{}, false, err
	}
	rec, ok := all[guildID]
	return rec, ok, nil
}

// DeleteQueue removes guildID's entry entirely.
func (j *JSONFileStore) DeleteQueue(guildID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	all, err := j.readAll()
	if err != nil {
		return err
	}
	delete(all, guildID)
	return j.writeAll(all)
}

// UserStats is one user's accumulated listening/queueing activity.
type UserStats struct {
	ListeningTimeMS      int64 `json:"listeningTimeMs"`
	ServerPlaylistAdds   int64 `json:"serverPlaylistAdds"`
	PersonalPlaylistAdds int64 `json:"personalPlaylistAdds"`
}

// GlobalStats is the process-wide playback counters.
type GlobalStats struct {
	SongsStarted   int64 `json:"songsStarted"`
	SongsCompleted int64 `json:"songsCompleted"`
}

// StatsRecord is the full persisted stats document.
type StatsRecord struct {
	Users       map[string]UserStats `json:"users"`
	Global      GlobalStats          `json:"global"`
	LastUpdated int64                `json:"lastUpdated"`
}

// StatsStore persists StatsRecord to a single JSON file, written whenever a
// StatsTracker flushes.
type StatsStore struct {
	path string
	mu   sync.Mutex
}

// NewStatsStore creates a store backed by path.
func NewStatsStore(path string) *StatsStore {
	return &StatsStore{path: path}
}

// Load reads the current stats document, returning an empty one if the
// file does not yet exist.
func (s *StatsStore) Load() (StatsRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return StatsRecord{Users: map[string]UserStats{}}, nil
	}
	if err != nil {
		return StatsRecord{}, err
	}
	var rec StatsRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return StatsRecord{}, err
	}
	if rec.Users == nil {
		rec.Users = map[string]UserStats{}
	}
	return rec, nil
}

// Save writes rec to disk.
func (s *StatsStore) Save(rec StatsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
