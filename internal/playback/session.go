package playback

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/duskbot/vocalcore/internal/mixerproto"
)

// Mixer is the interface Session and its coordinators depend on, rather
// than the concrete MixerController, so the transition state machine is
// testable against an in-memory fake.
type Mixer interface {
	Start(ctx context.Context, onEvent EventHandler, onCrash CrashHandler) error
	Send(cmd mixerproto.Command) error
	Output() <-chan []byte
	IsAlive() bool
	Generation() uint64
	Stop()
}

// Session holds all per-guild playback state.
// All mutation goes through its exported methods, which take the lock. Queue,
// transition and toggle mutations also bump the version and persist before
// returning; the deck, buffer and mixer bookkeeping setters do neither.
type Session struct {
	GuildID string

	mu sync.Mutex

	songs      []Song
	history    []Song
	playIndex  int

	currentDeck       Deck
	currentDeckLoaded string // URL, "" if none
	nextDeckLoaded    string
	nextDeckTarget    Deck
	hasNextDeck       bool
	bufferReady       deckFlags

	isPaused     bool
	loopEnabled  bool
	fadeEnabled  bool

	isCrossfading      bool
	crossfadeStartTime time.Time

	songStartTime time.Time
	pauseStart    time.Time

	sessionRestored bool
	intentionalKill bool
	mixerGeneration uint64

	failedURLs   map[string]int // URL -> consecutive stream_error count

	dashboardMessageID string
	textChannelID      string

	crash crashState

	Version *StateVersion
	Locks   *LockTable

	persist Persister
}

// NewSession creates an empty session for guildID. currentDeck defaults to
// DeckA two-deck model.
func NewSession(guildID string, versionHistoryLen int, persist Persister) *Session {
	return &Session{
		GuildID:     guildID,
		currentDeck: DeckA,
		fadeEnabled: true,
		failedURLs:  make(map[string]int),
		Version:     NewStateVersion(versionHistoryLen),
		Locks:       NewLockTable(),
		persist:     persist,
	}
}

// otherDeckLocked returns the complement of currentDeck; callers hold s.mu.
func (s *Session) otherDeckLocked() Deck {
	return s.currentDeck.Other()
}

// snapshot is an immutable read-only copy used by callers that need to act
// on session fields without holding the lock across a blocking operation
// (e.g. waiting on a command, or comparing a preload decision against a
// later mutation).
type snapshot struct {
	playIndex  int
	songsLen   int
	nextURL    string
	haveNext   bool
}

func (s *Session) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn := snapshot{playIndex: s.playIndex, songsLen: len(s.songs)}
	if s.playIndex+1 < len(s.songs) {
		sn.nextURL = s.songs[s.playIndex+1].URL
		sn.haveNext = true
	}
	return sn
}

// stillValid reports whether sn still describes the current queue state.
func (s *Session) stillValid(sn snapshot) bool {
	cur := s.snapshot()
	return cur.playIndex == sn.playIndex && cur.songsLen == sn.songsLen && cur.nextURL == sn.nextURL
}

// Enqueue appends songs to the queue, clearing a finished queue first if
// needed
func (s *Session) Enqueue(songs []Song, maxQueueSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentDeckLoaded == "" && len(s.songs) > 0 && s.playIndex == len(s.songs)-1 {
		// finished state: nothing is loaded and playIndex is on the last track
		s.songs = nil
		s.playIndex = 0
	}

	if len(s.songs)+len(songs) > maxQueueSize {
		return ErrQueueFull
	}

	s.songs = append(s.songs, songs...)
	s.Version.Bump("enqueue", "")
	return s.persistLocked()
}

// InsertAt inserts song at index i, shifting playIndex if needed.
func (s *Session) InsertAt(song Song, i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i > len(s.songs) {
		return ErrInvalidIndex
	}

	before := append([]Song(nil), s.songs...)
	beforeIndex := s.playIndex

	s.songs = append(s.songs[:i:i], append([]Song{song}, s.songs[i:]...)...)
	if i <= s.playIndex {
		s.playIndex++
	}
	s.Version.Bump("insert_at", "")

	if err := s.persistLocked(); err != nil {
		s.songs = before
		s.playIndex = beforeIndex
		return err
	}
	return nil
}

// RemoveAt removes the song at index i, adjusting playIndex and
// invalidating an in-flight preload if it targeted the removed song.
func (s *Session) RemoveAt(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= len(s.songs) {
		return ErrInvalidIndex
	}

	before := append([]Song(nil), s.songs...)
	beforeIndex := s.playIndex
	removedURL := s.songs[i].URL

	s.songs = append(s.songs[:i:i], s.songs[i+1:]...)
	switch {
	case i < s.playIndex:
		s.playIndex--
	case i == s.playIndex:
		if s.playIndex >= len(s.songs) && len(s.songs) > 0 {
			s.playIndex = len(s.songs) - 1
		}
	}

	if s.hasNextDeck && s.nextDeckLoaded == removedURL {
		s.hasNextDeck = false
		s.nextDeckLoaded = ""
	}

	s.Version.Bump("remove_at", "")

	if err := s.persistLocked(); err != nil {
		s.songs = before
		s.playIndex = beforeIndex
		return err
	}
	return nil
}

// ShuffleUpcoming shuffles songs[playIndex+1:] with Fisher-Yates and
// invalidates any in-flight preload.
func (s *Session) ShuffleUpcoming() {
	s.mu.Lock()
	defer s.mu.Unlock()

	upcoming := s.songs[s.playIndex+1:]
	rand.Shuffle(len(upcoming), func(i, j int) {
		upcoming[i], upcoming[j] = upcoming[j], upcoming[i]
	})

	s.hasNextDeck = false
	s.nextDeckLoaded = ""
	s.Version.Bump("shuffle_upcoming", "")
	_ = s.persistLocked()
}

// ClearQueueExceptCurrent drops every song but the one currently playing.
func (s *Session) ClearQueueExceptCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.songs) == 0 {
		return
	}
	current := s.songs[s.playIndex]
	s.songs = []Song{current}
	s.playIndex = 0
	s.hasNextDeck = false
	s.nextDeckLoaded = ""
	s.Version.Bump("clear_queue_except_current", "")
	_ = s.persistLocked()
}

// CurrentSong returns the song at playIndex, if any.
func (s *Session) CurrentSong() (Song, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playIndex < 0 || s.playIndex >= len(s.songs) {
		return Song{}, false
	}
	return s.songs[s.playIndex], true
}

// NextSong returns the song immediately after playIndex, if any.
func (s *Session) NextSong() (Song, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playIndex+1 >= len(s.songs) {
		return Song{}, false
	}
	return s.songs[s.playIndex+1], true
}

// SongAt returns the song at queue index i, if in range.
func (s *Session) SongAt(i int) (Song, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.songs) {
		return Song{}, false
	}
	return s.songs[i], true
}

// QueueLen returns the number of songs remaining in the queue.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.songs)
}

// PlayIndex returns the index of the currently playing song.
func (s *Session) PlayIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playIndex
}

// CurrentDeck returns the deck currently assigned to playback.
func (s *Session) CurrentDeck() Deck {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentDeck
}

// CurrentDeckLoaded returns the URL loaded on the current deck, "" if none.
func (s *Session) CurrentDeckLoaded() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentDeckLoaded
}

// SetCurrentDeckLoaded records which URL is loaded on the current deck.
// Never persisted, per section 3 invariant 6.
func (s *Session) SetCurrentDeckLoaded(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentDeckLoaded = url
}

// NextDeckState reports the preloaded-next-deck bookkeeping.
func (s *Session) NextDeckState() (deck Deck, url string, have bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextDeckTarget, s.nextDeckLoaded, s.hasNextDeck
}

// SetNextDeck records that url has been (or is being) loaded onto deck as
// the preloaded next track.
func (s *Session) SetNextDeck(deck Deck, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDeckTarget = deck
	s.nextDeckLoaded = url
	s.hasNextDeck = true
}

// ClearNextDeck invalidates any in-flight or completed preload.
func (s *Session) ClearNextDeck() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDeckLoaded = ""
	s.hasNextDeck = false
	s.bufferReady.set(s.nextDeckTarget, false)
}

// BufferReady reports whether deck has signaled buffer_ready.
func (s *Session) BufferReady(deck Deck) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferReady.get(deck)
}

// SetBufferReady records a buffer_ready event for deck.
func (s *Session) SetBufferReady(deck Deck, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bufferReady.set(deck, ready)
}

// CommitTransition advances playIndex to the next song, swaps currentDeck to
// toDeck, archives the prior current song into history, and clears next-deck
// bookkeeping. Call this only after the mixer side of a transition has been
// confirmed (atomic commit step).
func (s *Session) CommitTransition(toDeck Deck, newDeckLoaded string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.playIndex >= len(s.songs) {
		return ErrEmptyQueue
	}
	if s.playIndex+1 >= len(s.songs) {
		return ErrInvalidIndex
	}

	s.history = append(s.history, s.songs[s.playIndex])
	s.playIndex++
	s.currentDeck = toDeck
	s.currentDeckLoaded = newDeckLoaded
	s.nextDeckLoaded = ""
	s.hasNextDeck = false
	s.bufferReady = deckFlags{}
	s.isCrossfading = false
	s.songStartTime = time.Now()

	s.Version.Bump("commit_transition", string(toDeck))
	return s.persistLocked()
}

// JumpToIndex sets playIndex directly (skip_to_index / select-from-queue),
// assigning toDeck as the now-current deck with newDeckLoaded as its URL.
// Entries between the old and new index are archived to history in order.
func (s *Session) JumpToIndex(i int, toDeck Deck, newDeckLoaded string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= len(s.songs) {
		return ErrInvalidIndex
	}

	if i > s.playIndex {
		s.history = append(s.history, s.songs[s.playIndex:i]...)
	}
	s.playIndex = i
	s.currentDeck = toDeck
	s.currentDeckLoaded = newDeckLoaded
	s.nextDeckLoaded = ""
	s.hasNextDeck = false
	s.bufferReady = deckFlags{}
	s.isCrossfading = false
	s.songStartTime = time.Now()

	s.Version.Bump("jump_to_index", "")
	return s.persistLocked()
}

// RestartInPlace replays the current song without advancing playIndex or
// swapping currentDeck: the loop-restart counterpart to CommitTransition,
// used when looping is on (whether or not a next song is queued), or when
// the mixer itself looped the current deck (auto_loop_restart).
func (s *Session) RestartInPlace(deckLoaded string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.playIndex < 0 || s.playIndex >= len(s.songs) {
		return ErrEmptyQueue
	}

	s.currentDeckLoaded = deckLoaded
	s.nextDeckLoaded = ""
	s.hasNextDeck = false
	s.bufferReady = deckFlags{}
	s.isCrossfading = false
	s.songStartTime = time.Now()

	s.Version.Bump("restart_in_place", "")
	return s.persistLocked()
}

// SongStartTime returns when the current song started playing.
func (s *Session) SongStartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.songStartTime
}

// MarkSongStarted resets songStartTime to now, e.g. on an initial play or a
// manual restart.
func (s *Session) MarkSongStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.songStartTime = time.Now()
}

// IsPaused reports the session's pause flag.
func (s *Session) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isPaused
}

// SetPaused updates the pause flag and, when pausing, records pauseStart so
// resume can account for elapsed pause duration.
func (s *Session) SetPaused(paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isPaused = paused
	if paused {
		s.pauseStart = time.Now()
	} else if !s.pauseStart.IsZero() {
		s.songStartTime = s.songStartTime.Add(time.Since(s.pauseStart))
		s.pauseStart = time.Time{}
	}
	s.Version.Bump("set_paused", "")
	return s.persistLocked()
}

// LoopEnabled reports the loop-current-song toggle.
func (s *Session) LoopEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopEnabled
}

// SetLoop updates the loop toggle.
func (s *Session) SetLoop(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loopEnabled = enabled
	s.Version.Bump("set_loop", "")
	return s.persistLocked()
}

// FadeEnabled reports the crossfade-on-transition toggle.
func (s *Session) FadeEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fadeEnabled
}

// SetFade updates the crossfade toggle.
func (s *Session) SetFade(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fadeEnabled = enabled
	s.Version.Bump("set_fade", "")
	return s.persistLocked()
}

// IsCrossfading reports whether a crossfade is currently in flight.
func (s *Session) IsCrossfading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isCrossfading
}

// BeginCrossfade marks a crossfade as started, recording its start time.
func (s *Session) BeginCrossfade() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isCrossfading = true
	s.crossfadeStartTime = time.Now()
	s.Version.Bump("begin_crossfade", "")
}

// MixerGeneration returns the last mixer instance generation this session
// has bound its event routing to.
func (s *Session) MixerGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mixerGeneration
}

// SetMixerGeneration records the mixer instance generation this session is
// now bound to, so stale events from a prior instance can be rejected.
func (s *Session) SetMixerGeneration(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mixerGeneration = gen
}

// IntentionalKill reports whether the next mixer exit is an expected
// teardown rather than a crash.
func (s *Session) IntentionalKill() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intentionalKill
}

// SetIntentionalKill arms or disarms the intentional-kill suppression flag.
func (s *Session) SetIntentionalKill(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intentionalKill = v
}

// RecordStreamError increments the consecutive stream_error count for url
// and returns the new count. treats 3 as terminal.
func (s *Session) RecordStreamError(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedURLs[url]++
	return s.failedURLs[url]
}

// ClearStreamError resets url's consecutive error count after a successful
// load.
func (s *Session) ClearStreamError(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failedURLs, url)
}

// CrashAttempts returns the current mixer-crash-recovery attempt count.
func (s *Session) CrashAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crash.attempts
}

// RecordCrash increments the recovery attempt count and records the crash
// time, returning the new attempt count.
func (s *Session) RecordCrash() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crash.attempts++
	s.crash.lastCrashAt = time.Now()
	return s.crash.attempts
}

// ResetCrashAttempts clears the recovery attempt count after a successful
// restart stays up.
func (s *Session) ResetCrashAttempts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crash.attempts = 0
}

// ArmDisconnect records when the session gave up on mixer recovery, for the
// caller to decide how long to wait before tearing down voice entirely.
func (s *Session) ArmDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crash.disconnectArmedAt = time.Now()
}

// DashboardInfo returns the message/channel the session's now-playing
// dashboard message lives in, if known.
func (s *Session) DashboardInfo() (messageID, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dashboardMessageID, s.textChannelID
}

// SetDashboardInfo records the dashboard message/channel ids.
func (s *Session) SetDashboardInfo(messageID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dashboardMessageID = messageID
	s.textChannelID = channelID
	return s.persistLocked()
}

// RestoreFromRecord rehydrates a session from a persisted QueueRecord on
// startup. currentDeckLoaded is deliberately left empty: the restored
// session must cold-load its current song, per section 3 invariant 6.
func (s *Session) RestoreFromRecord(rec QueueRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.songs = rec.Songs
	s.history = rec.History
	s.playIndex = rec.PlayIndex
	s.isPaused = rec.IsPaused
	s.loopEnabled = rec.LoopEnabled
	s.fadeEnabled = rec.FadeEnabled
	s.dashboardMessageID = rec.DashboardMessageID
	s.textChannelID = rec.TextChannelID
	s.sessionRestored = true
	s.Version.Bump("restore_from_record", "")
}

// WasRestored reports whether this session was rehydrated from persistence
// rather than created fresh.
func (s *Session) WasRestored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionRestored
}

// persistLocked must be called with s.mu held. It never persists
// currentDeckLoaded invariant 6.
func (s *Session) persistLocked() error {
	if s.persist == nil {
		return nil
	}
	rec := QueueRecord{
		Songs:              s.songs,
		History:            s.history,
		PlayIndex:          s.playIndex,
		IsPaused:           s.isPaused,
		LoopEnabled:        s.loopEnabled,
		FadeEnabled:        s.fadeEnabled,
		DashboardMessageID: s.dashboardMessageID,
		TextChannelID:      s.textChannelID,
	}
	if err := s.persist.SaveQueue(s.GuildID, rec); err != nil {
		return ErrPersistence
	}
	return nil
}
