package playback

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/duskbot/vocalcore/internal/mixerproto"
)

// skipLockName is the named exclusive lock guarding a session's transition
// commit step
const skipLockName = "skip"

// SkipManager is the transition state machine: it validates preconditions,
// classifies the target as a fast-path (already preloaded) or cold-load
// (not yet buffered) transition, drives the mixer through it, and commits
// the new session state atomically under the skip lock. Grounded on this
// codebase's session-driven command dispatch, generalized from a
// single-pipeline swap to a dual-deck handoff.
type SkipManager struct {
	mixer    Mixer
	commands *CommandQueue
	locks    *LockTable
	sink     EventSink
	stats    *StatsTracker
	logger   zerolog.Logger

	// engine is wired post-construction via SetEngine, since PlaybackEngine
	// already takes a *SkipManager and a constructor-level cycle isn't
	// possible.
	engine *PlaybackEngine

	crossfadeMS      int
	minCrossfadeMS   int
	cmdTimeout       time.Duration
	bufferWait       time.Duration
	lockTTL          time.Duration
}

// SkipConfig configures a SkipManager.
type SkipConfig struct {
	CrossfadeMS    int
	MinCrossfadeMS int
	CmdTimeout     time.Duration
	BufferWait     time.Duration
	LockTTL        time.Duration
	Stats          *StatsTracker
}

// NewSkipManager creates a SkipManager for one session's mixer and command
// queue.
func NewSkipManager(mixer Mixer, commands *CommandQueue, locks *LockTable, sink EventSink, logger zerolog.Logger, cfg SkipConfig) *SkipManager {
	if sink == nil {
		sink = NopEventSink{}
	}
	return &SkipManager{
		mixer:          mixer,
		commands:       commands,
		locks:          locks,
		sink:           sink,
		stats:          cfg.Stats,
		logger:         logger.With().Str("component", "skip").Logger(),
		crossfadeMS:    cfg.CrossfadeMS,
		minCrossfadeMS: cfg.MinCrossfadeMS,
		cmdTimeout:     cfg.CmdTimeout,
		bufferWait:     cfg.BufferWait,
		lockTTL:        cfg.LockTTL,
	}
}

// SetEngine wires the PlaybackEngine this manager's transitions commit
// into. Called once by the registry after both are constructed.
func (m *SkipManager) SetEngine(e *PlaybackEngine) {
	m.engine = e
}

// recordSongTransition credits the outgoing song's requester with its
// elapsed listening time and bumps songs_started for the incoming one.
// songs_completed is the caller's responsibility, since only some callers
// (auto_skip, auto_end_switch) bump it.
func (m *SkipManager) recordSongTransition(prev Song, prevStart time.Time) {
	if m.stats == nil {
		return
	}
	if prev.RequesterID != "" && !prevStart.IsZero() {
		m.stats.AddListeningTime(prev.RequesterID, time.Since(prevStart))
	}
	m.stats.RecordSongStarted()
}

// checkPreconditions enforces the transition guards:
// no transition may start while another is already committing, and none may
// start mid-crossfade.
func (m *SkipManager) checkPreconditions(s *Session) error {
	if s.IsCrossfading() {
		return ErrCrossfadeInProgress
	}
	if s.Locks.HasActiveLock(skipLockName) {
		return ErrSkipInProgress
	}
	if !m.mixer.IsAlive() {
		return ErrMixerDead
	}
	return nil
}

// SkipNext advances to the next queued song, using the preloaded next deck
// if ready (fast path) or cold-loading it now. If looping is enabled it
// instead restarts the current song in place.
func (m *SkipManager) SkipNext(ctx context.Context, s *Session, guildID string) error {
	if s.LoopEnabled() {
		return m.restartCurrent(ctx, s, guildID)
	}
	return m.transition(ctx, s, guildID, ReasonManual, s.PlayIndex()+1)
}

// SkipPrev transitions to the previous queued song, or no-ops if already at
// the head of the queue.
func (m *SkipManager) SkipPrev(ctx context.Context, s *Session, guildID string) error {
	if s.PlayIndex() <= 0 {
		return nil
	}
	return m.transition(ctx, s, guildID, ReasonManualPrev, s.PlayIndex()-1)
}

// AutoSkip is the auto_skip entry point used by handleEnd and a
// strike-limit stream error: it bumps songs_completed for the song that
// just ended, then behaves like SkipNext with reason auto.
func (m *SkipManager) AutoSkip(ctx context.Context, s *Session, guildID string) error {
	if m.stats != nil {
		m.stats.RecordSongCompleted()
	}
	if s.LoopEnabled() {
		return m.restartCurrent(ctx, s, guildID)
	}
	return m.transition(ctx, s, guildID, ReasonAuto, s.PlayIndex()+1)
}

// restartCurrent implements the loop-enabled branch shared by SkipNext and
// AutoSkip: replay the current song from the start rather than advancing
// play_index.
func (m *SkipManager) restartCurrent(ctx context.Context, s *Session, guildID string) error {
	if err := m.checkPreconditions(s); err != nil {
		return err
	}
	handle, err := s.Locks.Acquire(skipLockName, m.lockTTL, m.cmdTimeout)
	if err != nil {
		return err
	}
	defer handle.Release()

	cur, ok := s.CurrentSong()
	if !ok {
		return ErrEmptyQueue
	}

	deck := s.CurrentDeck()
	if err := m.commands.Submit(ctx, func(cctx context.Context) error {
		return m.mixer.Send(mixerproto.RestartDeckCommand(deck))
	}, CommandOptions{Label: "restart_deck", Timeout: m.cmdTimeout}); err != nil {
		return err
	}
	if err := s.RestartInPlace(cur.URL); err != nil {
		return err
	}
	if m.stats != nil {
		m.stats.RecordSongStarted()
	}
	if m.engine != nil {
		m.engine.OnSongStart()
	}
	return nil
}

// EndQueue is SkipNext's terminal case: there is no next song, so playback
// stops and the deck is released.
func (m *SkipManager) EndQueue(ctx context.Context, s *Session) error {
	deck := s.CurrentDeck()
	err := m.commands.Submit(ctx, func(cctx context.Context) error {
		return m.mixer.Send(mixerproto.StopDeckCommand(deck))
	}, CommandOptions{Label: "stop_deck", Timeout: m.cmdTimeout})
	if err != nil {
		return err
	}
	s.SetCurrentDeckLoaded("")
	s.ClearNextDeck()
	return nil
}

// SkipToIndex jumps directly to queue index i, the "manual-select"
// transition kind. It always cold-loads, since an arbitrary target index
// is not necessarily the preloaded one.
func (m *SkipManager) SkipToIndex(ctx context.Context, s *Session, guildID string, i int) error {
	if err := m.checkPreconditions(s); err != nil {
		return err
	}

	handle, err := s.Locks.Acquire(skipLockName, m.lockTTL, m.cmdTimeout)
	if err != nil {
		return err
	}
	defer handle.Release()

	if i < 0 || i >= s.QueueLen() {
		return ErrInvalidIndex
	}
	target, ok := s.SongAt(i)
	if !ok {
		return ErrInvalidIndex
	}
	toDeck := s.CurrentDeck().Other()

	if err := m.coldLoad(ctx, s, target.URL, toDeck); err != nil {
		return err
	}
	if err := m.commitSwitch(ctx, s, toDeck, ReasonManualSelect); err != nil {
		return err
	}

	prevSong, _ := s.CurrentSong()
	prevStart := s.SongStartTime()
	if err := s.JumpToIndex(i, toDeck, target.URL); err != nil {
		return err
	}
	m.recordSongTransition(prevSong, prevStart)
	if m.engine != nil {
		m.engine.OnSongStart()
	}
	return nil
}

// AutoAdvance reconciles session state after the mixer's auto_end_switch
// event: the sidecar has already performed the deck handoff itself, so
// this only updates bookkeeping to match, without sending any mixer
// command.
func (m *SkipManager) AutoAdvance(s *Session, guildID string) error {
	if m.stats != nil {
		m.stats.RecordSongCompleted()
	}
	next, ok := s.NextSong()
	if !ok {
		return m.EndQueue(context.Background(), s)
	}
	prevSong, _ := s.CurrentSong()
	prevStart := s.SongStartTime()
	toDeck := s.CurrentDeck().Other()
	if err := s.CommitTransition(toDeck, next.URL); err != nil {
		return err
	}
	m.recordSongTransition(prevSong, prevStart)
	return nil
}

// AutoLoopRestart reconciles session state after the mixer's
// auto_loop_restart event: the same song is looping on the same deck, so
// play_index is left untouched; only song_start_time and the completion
// counters move.
func (m *SkipManager) AutoLoopRestart(s *Session, guildID string) error {
	cur, ok := s.CurrentSong()
	if !ok {
		return ErrEmptyQueue
	}
	if err := s.RestartInPlace(cur.URL); err != nil {
		return err
	}
	if m.stats != nil {
		m.stats.RecordSongCompleted()
		m.stats.RecordSongStarted()
	}
	return nil
}

// transition implements the manual skip_next/skip_prev path: classify,
// fast-path or cold-load, commit.
func (m *SkipManager) transition(ctx context.Context, s *Session, guildID string, reason TransitionReason, targetIndex int) error {
	if err := m.checkPreconditions(s); err != nil {
		return err
	}

	handle, err := s.Locks.Acquire(skipLockName, m.lockTTL, m.cmdTimeout)
	if err != nil {
		return err
	}
	defer handle.Release()

	if targetIndex < 0 {
		return ErrInvalidIndex
	}
	if targetIndex >= s.QueueLen() {
		return m.EndQueue(ctx, s)
	}

	target, ok := s.SongAt(targetIndex)
	if !ok {
		return ErrInvalidIndex
	}
	toDeck, nextURL, hasNext := s.NextDeckState()

	fastPath := hasNext && toDeck == s.CurrentDeck().Other() && nextURL == target.URL && s.BufferReady(toDeck)

	if fastPath {
		if err := m.commitSwitch(ctx, s, toDeck, reason); err != nil {
			return err
		}
	} else {
		toDeck = s.CurrentDeck().Other()
		if err := m.coldLoad(ctx, s, target.URL, toDeck); err != nil {
			return err
		}
		if err := m.commitSwitch(ctx, s, toDeck, reason); err != nil {
			return err
		}
	}

	prevSong, _ := s.CurrentSong()
	prevStart := s.SongStartTime()

	if targetIndex == s.PlayIndex()+1 {
		if err := s.CommitTransition(toDeck, target.URL); err != nil {
			return err
		}
	} else if err := s.JumpToIndex(targetIndex, toDeck, target.URL); err != nil {
		return err
	}

	m.recordSongTransition(prevSong, prevStart)
	if m.engine != nil {
		m.engine.OnSongStart()
	}
	return nil
}

// coldLoad loads url onto deck and waits (bounded by bufferWait) for its
// buffer_ready event. A timeout here is tolerable: the sidecar's own
// pending-switch logic may still complete the transition later via
// auto_end_switch.
func (m *SkipManager) coldLoad(ctx context.Context, s *Session, url string, deck Deck) error {
	if err := m.commands.Submit(ctx, func(cctx context.Context) error {
		return m.mixer.Send(mixerproto.StopDeckCommand(deck))
	}, CommandOptions{Label: "stop_deck", Timeout: m.cmdTimeout}); err != nil {
		return err
	}

	s.SetBufferReady(deck, false)
	err := m.commands.Submit(ctx, func(cctx context.Context) error {
		return m.mixer.Send(mixerproto.LoadCommand(url, deck, false))
	}, CommandOptions{Label: "load", Timeout: m.cmdTimeout})
	if err != nil {
		return err
	}

	deadline := time.Now().Add(m.bufferWait)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		if s.BufferReady(deck) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return ErrBufferTimeout
}

// commitSwitch drives the mixer through crossfade (fade on) or skip_to
// (fade off) for toDeck.
func (m *SkipManager) commitSwitch(ctx context.Context, s *Session, toDeck Deck, reason TransitionReason) error {
	if s.FadeEnabled() {
		s.BeginCrossfade()
		err := m.commands.Submit(ctx, func(cctx context.Context) error {
			return m.mixer.Send(mixerproto.CrossfadeCommand(toDeck, m.crossfadeMS, m.minCrossfadeMS))
		}, CommandOptions{Label: "crossfade", Timeout: m.cmdTimeout})
		if err != nil {
			return err
		}
		return nil
	}
	return m.commands.Submit(ctx, func(cctx context.Context) error {
		return m.mixer.Send(mixerproto.SkipToCommand(toDeck))
	}, CommandOptions{Label: "skip_to", Timeout: m.cmdTimeout})
}
