package playback

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/duskbot/vocalcore/internal/mixerproto"
)

// FacadeConfig configures a Facade's command timeouts and mixer-crash
// recovery policy.
type FacadeConfig struct {
	CmdTimeout            time.Duration
	StartupTimeout        time.Duration
	RestartCooldownBase   time.Duration // base added to attempts*step, per crash
	RestartCooldownStep   time.Duration
	CrashRecoveryMaxTries int
	LoadSettleDelay       time.Duration // gap between load and play, default 150ms
	Stats                 *StatsTracker
}

// DisconnectFunc is called when crash recovery has exhausted its attempts
// and the caller should tear down the voice connection entirely.
type DisconnectFunc func(guildID string)

// Facade is the user-facing playback operations surface: play_song,
// restart_current_song, toggle_pause_resume, resume_if_paused, plus the
// mixer crash-recovery policy (capped attempts, increasing cooldown,
// intentional-kill suppression). Grounded on this codebase's FFmpegPipeline
// Pause/Resume signal handling, generalized from SIGSTOP/SIGCONT on one
// process to pause_all/resume_all commands sent to the mixer sidecar.
type Facade struct {
	guildID  string
	session  *Session
	mixer    Mixer
	commands *CommandQueue
	engine   *PlaybackEngine
	sink     EventSink
	stats    *StatsTracker
	logger   zerolog.Logger
	cfg      FacadeConfig
	onDisc   DisconnectFunc
}

// NewFacade creates a Facade for one guild's session.
func NewFacade(guildID string, session *Session, mixer Mixer, commands *CommandQueue, engine *PlaybackEngine, sink EventSink, logger zerolog.Logger, cfg FacadeConfig, onDisconnect DisconnectFunc) *Facade {
	if sink == nil {
		sink = NopEventSink{}
	}
	return &Facade{
		guildID:  guildID,
		session:  session,
		mixer:    mixer,
		commands: commands,
		engine:   engine,
		sink:     sink,
		stats:    cfg.Stats,
		logger:   logger.With().Str("component", "facade").Str("guild", guildID).Logger(),
		cfg:      cfg,
		onDisc:   onDisconnect,
	}
}

// loadSettleDelay returns the configured gap between a load and its
// following play command, defaulting to 150ms.
func (f *Facade) loadSettleDelay() time.Duration {
	if f.cfg.LoadSettleDelay > 0 {
		return f.cfg.LoadSettleDelay
	}
	return 150 * time.Millisecond
}

// PlaySong loads and starts the song currently at playIndex onto the
// session's current deck, starting the mixer first if it is not alive. Used
// for the very first song of a session, and after a cold restart where
// currentDeckLoaded was not restored.
func (f *Facade) PlaySong(ctx context.Context) error {
	song, ok := f.session.CurrentSong()
	if !ok {
		return ErrEmptyQueue
	}
	if !f.mixer.IsAlive() {
		if err := f.StartMixer(ctx); err != nil {
			return err
		}
	}

	deck := f.session.CurrentDeck()
	err := f.commands.Submit(ctx, func(cctx context.Context) error {
		return f.mixer.Send(mixerproto.LoadCommand(song.URL, deck, false))
	}, CommandOptions{Label: "play_song_load", Timeout: f.cfg.CmdTimeout})
	if err != nil {
		return err
	}

	select {
	case <-time.After(f.loadSettleDelay()):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := f.commands.Submit(ctx, func(cctx context.Context) error {
		return f.mixer.Send(mixerproto.PlayCommand(deck))
	}, CommandOptions{Label: "play_song_play", Timeout: f.cfg.CmdTimeout}); err != nil {
		return err
	}
	if err := f.commands.Submit(ctx, func(cctx context.Context) error {
		return f.mixer.Send(mixerproto.SetProactiveCrossfadeCommand(false))
	}, CommandOptions{Label: "play_song_proactive_crossfade", Timeout: f.cfg.CmdTimeout}); err != nil {
		return err
	}
	if err := f.commands.Submit(ctx, func(cctx context.Context) error {
		return f.mixer.Send(mixerproto.SetLoopCommand(f.session.LoopEnabled()))
	}, CommandOptions{Label: "play_song_loop", Timeout: f.cfg.CmdTimeout}); err != nil {
		return err
	}

	f.session.SetCurrentDeckLoaded(song.URL)
	f.session.MarkSongStarted()
	f.engine.OnSongStart()
	if f.stats != nil {
		f.stats.RecordSongStarted()
	}
	f.sink.Publish(f.guildID, DashboardNowPlaying, DashboardPayload{"title": song.Title, "url": song.URL})
	return nil
}

// RestartCurrentSong restarts the current deck from the beginning, per
// restart_current_song.
func (f *Facade) RestartCurrentSong(ctx context.Context) error {
	if !f.mixer.IsAlive() {
		return ErrMixerDead
	}
	deck := f.session.CurrentDeck()
	err := f.commands.Submit(ctx, func(cctx context.Context) error {
		return f.mixer.Send(mixerproto.RestartDeckCommand(deck))
	}, CommandOptions{Label: "restart_deck", Timeout: f.cfg.CmdTimeout})
	if err != nil {
		return err
	}
	f.session.MarkSongStarted()
	f.engine.OnSongStart()
	if f.stats != nil {
		f.stats.RecordSongStarted()
	}
	return nil
}

// TogglePauseResume flips the session's pause state and tells the mixer to
// pause or resume both decks.
func (f *Facade) TogglePauseResume(ctx context.Context) error {
	if !f.mixer.IsAlive() {
		return ErrMixerDead
	}
	paused := f.session.IsPaused()
	var cmd mixerproto.Command
	var label string
	if paused {
		cmd, label = mixerproto.ResumeAllCommand(), "resume_all"
	} else {
		cmd, label = mixerproto.PauseAllCommand(), "pause_all"
	}

	err := f.commands.Submit(ctx, func(cctx context.Context) error {
		return f.mixer.Send(cmd)
	}, CommandOptions{Label: label, Timeout: f.cfg.CmdTimeout})
	if err != nil {
		return err
	}

	if err := f.session.SetPaused(!paused); err != nil {
		return err
	}
	if paused {
		f.sink.Publish(f.guildID, DashboardResumed, nil)
	} else {
		f.sink.Publish(f.guildID, DashboardPaused, nil)
	}
	return nil
}

// ResumeIfPaused resumes playback only if the session is currently paused;
// a no-op otherwise, for callers that are not sure of the current state.
func (f *Facade) ResumeIfPaused(ctx context.Context) error {
	if !f.session.IsPaused() {
		return nil
	}
	return f.TogglePauseResume(ctx)
}

// StartMixer spawns the sidecar and wires its event/crash handlers.
func (f *Facade) StartMixer(ctx context.Context) error {
	f.session.SetIntentionalKill(false)
	err := f.mixer.Start(ctx, f.engine.HandleEvent, f.OnMixerCrash)
	if err != nil {
		return err
	}
	f.session.SetMixerGeneration(f.mixer.Generation())
	f.session.ResetCrashAttempts()
	return nil
}

// StopMixer arms intentional-kill suppression and tears the sidecar down,
// so the ensuing process exit is not mistaken for a crash.
func (f *Facade) StopMixer() {
	f.session.SetIntentionalKill(true)
	f.engine.Cancel()
	f.mixer.Stop()
}

// OnMixerCrash implements the recovery policy: an intentional kill is
// suppressed outright; otherwise recovery is attempted up to
// CrashRecoveryMaxTries times with cooldown growing by RestartCooldownStep
// per attempt, and DisconnectFunc is invoked once attempts are exhausted.
func (f *Facade) OnMixerCrash(generation uint64, reason CrashReason) {
	if f.session.IntentionalKill() {
		return
	}
	if generation != f.session.MixerGeneration() {
		return
	}

	f.engine.Cancel()
	attempts := f.session.RecordCrash()
	f.logger.Warn().Str("reason", string(reason)).Int("attempt", attempts).Msg("mixer crashed, considering recovery")

	if attempts > f.cfg.CrashRecoveryMaxTries {
		f.session.ArmDisconnect()
		f.sink.Publish(f.guildID, DashboardCrashDisconnect, DashboardPayload{"reason": string(reason)})
		if f.onDisc != nil {
			f.onDisc(f.guildID)
		}
		return
	}

	f.sink.Publish(f.guildID, DashboardCrashRecovering, DashboardPayload{"attempt": attempts})
	cooldown := f.cfg.RestartCooldownBase + time.Duration(attempts)*f.cfg.RestartCooldownStep
	time.AfterFunc(cooldown, func() {
		ctx, cancel := context.WithTimeout(context.Background(), f.cfg.StartupTimeout)
		defer cancel()
		if err := f.StartMixer(ctx); err != nil {
			f.logger.Error().Err(err).Msg("mixer restart failed")
			return
		}
		if err := f.PlaySong(ctx); err != nil {
			f.logger.Error().Err(err).Msg("resume after mixer restart failed")
		}
	})
}
