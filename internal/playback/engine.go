package playback

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/duskbot/vocalcore/internal/mixerproto"
)

// streamErrorStrikeLimit is the number of consecutive stream_error events on
// the same URL that mark it unplayable (S7).
const streamErrorStrikeLimit = 3

// EngineConfig configures a PlaybackEngine.
type EngineConfig struct {
	PreloadDelay    time.Duration
	CmdTimeout      time.Duration
}

// PlaybackEngine owns one session's timers and sidecar event routing: it
// schedules the preload-next-song timer after a song starts, and dispatches
// decoded mixer events (buffer_ready, approaching_end, end, auto_end_switch,
// auto_loop_restart, deck_changed, stream_error) to the session and
// SkipManager. Grounded on this codebase's FFmpegPipeline output-reader
// loop, generalized from a single progress log to a typed event switch.
type PlaybackEngine struct {
	guildID  string
	session  *Session
	mixer    Mixer
	commands *CommandQueue
	skip     *SkipManager
	sink     EventSink
	logger   zerolog.Logger
	cfg      EngineConfig

	preloadTimer *time.Timer
}

// NewPlaybackEngine creates an engine bound to one session.
func NewPlaybackEngine(guildID string, session *Session, mixer Mixer, commands *CommandQueue, skip *SkipManager, sink EventSink, logger zerolog.Logger, cfg EngineConfig) *PlaybackEngine {
	if sink == nil {
		sink = NopEventSink{}
	}
	return &PlaybackEngine{
		guildID:  guildID,
		session:  session,
		mixer:    mixer,
		commands: commands,
		skip:     skip,
		sink:     sink,
		logger:   logger.With().Str("component", "engine").Str("guild", guildID).Logger(),
		cfg:      cfg,
	}
}

// OnSongStart arms the preload timer for the just-started song, per
// (default 5s after song start).
func (e *PlaybackEngine) OnSongStart() {
	if e.preloadTimer != nil {
		e.preloadTimer.Stop()
	}
	e.preloadTimer = time.AfterFunc(e.cfg.PreloadDelay, e.PreloadNext)
}

// Cancel stops any pending preload timer, e.g. on session teardown.
func (e *PlaybackEngine) Cancel() {
	if e.preloadTimer != nil {
		e.preloadTimer.Stop()
	}
}

// PreloadNext cold-loads the next queued song onto the idle deck, if one
// exists and isn't already loading/loaded there.
func (e *PlaybackEngine) PreloadNext() {
	next, ok := e.session.NextSong()
	if !ok {
		return
	}
	_, loadedURL, hasNext := e.session.NextDeckState()
	if hasNext && loadedURL == next.URL {
		return
	}
	if !e.mixer.IsAlive() {
		return
	}

	target := e.session.CurrentDeck().Other()
	e.session.SetNextDeck(target, next.URL)

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CmdTimeout)
	defer cancel()
	err := e.commands.Submit(ctx, func(cctx context.Context) error {
		return e.mixer.Send(mixerproto.LoadCommand(next.URL, target, false))
	}, CommandOptions{Label: "preload", Timeout: e.cfg.CmdTimeout})
	if err != nil {
		e.logger.Warn().Err(err).Str("url", next.URL).Msg("preload failed")
		e.session.ClearNextDeck()
	}
}

// HandleEvent dispatches one decoded mixer event. Events from a stale
// generation (a prior mixer instance) are dropped.
func (e *PlaybackEngine) HandleEvent(generation uint64, evt mixerproto.Event) {
	if generation != e.session.MixerGeneration() {
		return
	}

	switch evt.Kind {
	case mixerproto.EventBufferReady:
		e.handleBufferReady(evt)
	case mixerproto.EventApproachingEnd:
		e.handleApproachingEnd()
	case mixerproto.EventEnd:
		e.handleEnd()
	case mixerproto.EventAutoEndSwitch:
		e.handleAutoEndSwitch()
	case mixerproto.EventAutoLoopRestart:
		e.handleAutoLoopRestart()
	case mixerproto.EventDeckChanged:
		e.logger.Debug().Str("deck", evt.Data).Msg("deck changed")
	case mixerproto.EventCrossfadeStarted:
		e.sink.Publish(e.guildID, DashboardNowPlaying, DashboardPayload{"crossfading": true})
	case mixerproto.EventStreamError, mixerproto.EventYTError:
		e.handleStreamError(evt)
	case mixerproto.EventError:
		e.logger.Error().Str("data", evt.Data).Msg("mixer reported error")
	case mixerproto.EventInfo, mixerproto.EventDebug, mixerproto.EventLatency:
		e.logger.Debug().Str("kind", string(evt.Kind)).Str("data", evt.Data).Msg("mixer event")
	}
}

func (e *PlaybackEngine) handleBufferReady(evt mixerproto.Event) {
	deck := Deck(evt.Data)
	if deck != DeckA && deck != DeckB {
		return
	}
	e.session.SetBufferReady(deck, true)
}

// handleApproachingEnd reacts to the sidecar's early warning before a deck
// runs out of buffered audio. With a next song queued and fading on, it
// drives the crossfade itself via auto_skip rather than waiting for the
// sidecar's own auto_end_switch. With no next song, it loads the current
// song back onto the idle deck so a later loop or replay has no buffering
// gap. Fade-off with a next song queued is a no-op: the sidecar's own
// auto_end_switch will gapless-swap decks on its own.
func (e *PlaybackEngine) handleApproachingEnd() {
	next, hasNext := e.session.NextSong()
	if !hasNext {
		cur, ok := e.session.CurrentSong()
		if !ok {
			return
		}
		target := e.session.CurrentDeck().Other()
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CmdTimeout)
		defer cancel()
		err := e.commands.Submit(ctx, func(cctx context.Context) error {
			return e.mixer.Send(mixerproto.LoadCommand(cur.URL, target, false))
		}, CommandOptions{Label: "approaching_end_reload", Timeout: e.cfg.CmdTimeout})
		if err != nil {
			e.logger.Warn().Err(err).Msg("approaching end reload failed")
		}
		return
	}

	if !e.session.FadeEnabled() {
		return
	}

	e.logger.Debug().Str("next", next.URL).Msg("approaching end, driving auto_skip")
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CmdTimeout)
	defer cancel()
	if err := e.skip.AutoSkip(ctx, e.session, e.guildID); err != nil {
		e.logger.Warn().Err(err).Msg("approaching end auto_skip failed")
	}
}

// handleEnd handles a deck finishing with no explicit auto_end_switch or
// auto_loop_restart event having arrived. If a skip/auto_skip transition is
// already committing under the skip lock, that path owns the outcome and
// this is a no-op. Otherwise this is the fallback path: drive auto_skip
// directly so playback doesn't stall waiting for a sidecar event that may
// never come.
func (e *PlaybackEngine) handleEnd() {
	if e.session.Locks.HasActiveLock(skipLockName) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CmdTimeout)
	defer cancel()
	if err := e.skip.AutoSkip(ctx, e.session, e.guildID); err != nil {
		e.logger.Warn().Err(err).Msg("end fallback auto_skip failed")
		return
	}

	if song, ok := e.session.CurrentSong(); ok {
		e.OnSongStart()
		e.sink.Publish(e.guildID, DashboardNowPlaying, DashboardPayload{"title": song.Title, "url": song.URL})
	} else {
		e.sink.Publish(e.guildID, DashboardFinished, nil)
	}
}

// handleAutoEndSwitch mirrors the sidecar's own gapless deck handoff into
// session bookkeeping and rearms the preload timer.
func (e *PlaybackEngine) handleAutoEndSwitch() {
	if err := e.skip.AutoAdvance(e.session, e.guildID); err != nil {
		e.logger.Warn().Err(err).Msg("auto_end_switch commit failed")
		return
	}
	e.OnSongStart()
	if song, ok := e.session.CurrentSong(); ok {
		e.sink.Publish(e.guildID, DashboardNowPlaying, DashboardPayload{"title": song.Title, "url": song.URL})
	}
}

// handleAutoLoopRestart mirrors the sidecar looping the current deck's song
// in place: play_index is untouched, only song_start_time and the
// completion counters move, and the preload timer rearms for the same
// upcoming-next song.
func (e *PlaybackEngine) handleAutoLoopRestart() {
	if err := e.skip.AutoLoopRestart(e.session, e.guildID); err != nil {
		e.logger.Warn().Err(err).Msg("auto_loop_restart commit failed")
		return
	}
	e.OnSongStart()
}

// handleStreamError tracks consecutive failures per URL and, past the
// strike limit, skips past the unplayable song.
func (e *PlaybackEngine) handleStreamError(evt mixerproto.Event) {
	song, ok := e.session.CurrentSong()
	if !ok {
		return
	}
	count := e.session.RecordStreamError(song.URL)
	e.logger.Warn().Str("url", song.URL).Int("count", count).Msg("stream error")
	if count < streamErrorStrikeLimit {
		return
	}

	e.logger.Error().Str("url", song.URL).Msg("stream unplayable, skipping")
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CmdTimeout)
	defer cancel()
	if err := e.skip.AutoSkip(ctx, e.session, e.guildID); err != nil {
		e.logger.Warn().Err(err).Msg("skip past unplayable stream failed")
	}
}
