package playback

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/duskbot/vocalcore/internal/metrics"
)

// GuildSession bundles one guild's fully-wired playback stack: its Session
// state, mixer sidecar, command/barrier serializers, and the
// skip/engine/facade coordinators that operate on them.
type GuildSession struct {
	GuildID  string
	Session  *Session
	Mixer    Mixer
	Commands *CommandQueue
	Barrier  *AudioOperationBarrier
	Skip     *SkipManager
	Engine   *PlaybackEngine
	Facade   *Facade
}

// Deps are the shared collaborators and tunables every GuildSession is
// wired from defaults.
type Deps struct {
	Logger zerolog.Logger
	Sink   EventSink
	Persist Persister

	NewMixer func(guildID string) Mixer
	Stats    *StatsTracker

	VersionHistoryLen int
	MaxQueueSize      int

	CrossfadeMS           int
	MinCrossfadeMS        int
	BarrierMinThrottle    time.Duration
	BarrierTimeout        time.Duration
	CmdTimeout            time.Duration
	BufferWait            time.Duration
	SkipLockTTL           time.Duration
	MixerStartupTimeout   time.Duration
	RestartCooldownBase   time.Duration
	RestartCooldownStep   time.Duration
	CrashRecoveryMaxTries int
	PreloadDelay          time.Duration

	OnDisconnect DisconnectFunc
}

// Registry is the guild-id-keyed session directory: one GuildSession per
// active voice connection. Grounded on this codebase family's playout
// manager (get-or-create under lock, unlock before the expensive start
// call, snapshot-then-stop-outside-lock on shutdown).
type Registry struct {
	deps Deps

	mu     sync.Mutex
	guilds map[string]*GuildSession
}

// NewRegistry creates an empty registry sharing deps across every guild it
// creates.
func NewRegistry(deps Deps) *Registry {
	if deps.Sink == nil {
		deps.Sink = NopEventSink{}
	}
	return &Registry{deps: deps, guilds: make(map[string]*GuildSession)}
}

// Get returns the existing GuildSession for guildID, if any, without
// creating one.
func (r *Registry) Get(guildID string) (*GuildSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gs, ok := r.guilds[guildID]
	return gs, ok
}

// All returns a snapshot of every active GuildSession.
func (r *Registry) All() []*GuildSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*GuildSession, 0, len(r.guilds))
	for _, gs := range r.guilds {
		out = append(out, gs)
	}
	return out
}

// EnsureSession returns the existing GuildSession for guildID, or builds and
// starts a new one — restoring persisted queue state first, if present.
// Construction happens outside the registry lock so one guild's mixer spawn
// never blocks another guild's lookup.
func (r *Registry) EnsureSession(ctx context.Context, guildID string) (*GuildSession, error) {
	r.mu.Lock()
	if gs, ok := r.guilds[guildID]; ok {
		r.mu.Unlock()
		return gs, nil
	}
	r.mu.Unlock()

	gs := r.build(guildID)

	if r.deps.Persist != nil {
		if rec, ok, err := r.deps.Persist.LoadQueue(guildID); err == nil && ok {
			gs.Session.RestoreFromRecord(rec)
		}
	}

	if err := gs.Facade.StartMixer(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.guilds[guildID]; ok {
		r.mu.Unlock()
		gs.Facade.StopMixer()
		return existing, nil
	}
	r.guilds[guildID] = gs
	r.mu.Unlock()
	metrics.ActiveSessions.Inc()

	return gs, nil
}

func (r *Registry) build(guildID string) *GuildSession {
	session := NewSession(guildID, r.deps.VersionHistoryLen, r.deps.Persist)
	mixer := r.deps.NewMixer(guildID)
	commands := NewCommandQueue(r.deps.CmdTimeout, mixer.IsAlive)
	barrier := NewAudioOperationBarrier(r.deps.BarrierTimeout, r.deps.BarrierMinThrottle)

	skip := NewSkipManager(mixer, commands, session.Locks, r.deps.Sink, r.deps.Logger, SkipConfig{
		CrossfadeMS:    r.deps.CrossfadeMS,
		MinCrossfadeMS: r.deps.MinCrossfadeMS,
		CmdTimeout:     r.deps.CmdTimeout,
		BufferWait:     r.deps.BufferWait,
		LockTTL:        r.deps.SkipLockTTL,
		Stats:          r.deps.Stats,
	})

	engine := NewPlaybackEngine(guildID, session, mixer, commands, skip, r.deps.Sink, r.deps.Logger, EngineConfig{
		PreloadDelay: r.deps.PreloadDelay,
		CmdTimeout:   r.deps.CmdTimeout,
	})
	skip.SetEngine(engine)

	facade := NewFacade(guildID, session, mixer, commands, engine, r.deps.Sink, r.deps.Logger, FacadeConfig{
		CmdTimeout:            r.deps.CmdTimeout,
		StartupTimeout:        r.deps.MixerStartupTimeout,
		RestartCooldownBase:   r.deps.RestartCooldownBase,
		RestartCooldownStep:   r.deps.RestartCooldownStep,
		CrashRecoveryMaxTries: r.deps.CrashRecoveryMaxTries,
		Stats:                 r.deps.Stats,
	}, r.deps.OnDisconnect)

	return &GuildSession{
		GuildID:  guildID,
		Session:  session,
		Mixer:    mixer,
		Commands: commands,
		Barrier:  barrier,
		Skip:     skip,
		Engine:   engine,
		Facade:   facade,
	}
}

// SkipNext runs a manual skip-to-next-song through the barrier, so it can
// never interleave with another in-flight user-visible operation on the
// same guild.
func (gs *GuildSession) SkipNext(ctx context.Context) error {
	return gs.Barrier.Do(ctx, "skip", func(opCtx context.Context) error {
		return gs.Skip.SkipNext(opCtx, gs.Session, gs.GuildID)
	})
}

// SkipPrev runs a manual skip-to-previous-song through the barrier.
func (gs *GuildSession) SkipPrev(ctx context.Context) error {
	return gs.Barrier.Do(ctx, "prev", func(opCtx context.Context) error {
		return gs.Skip.SkipPrev(opCtx, gs.Session, gs.GuildID)
	})
}

// SkipToIndex runs a manual jump to queue index i through the barrier.
func (gs *GuildSession) SkipToIndex(ctx context.Context, i int) error {
	return gs.Barrier.Do(ctx, "skip_to_index", func(opCtx context.Context) error {
		return gs.Skip.SkipToIndex(opCtx, gs.Session, gs.GuildID, i)
	})
}

// TogglePauseResume flips pause state through the barrier.
func (gs *GuildSession) TogglePauseResume(ctx context.Context) error {
	return gs.Barrier.Do(ctx, "pause_toggle", func(opCtx context.Context) error {
		return gs.Facade.TogglePauseResume(opCtx)
	})
}

// ShuffleUpcoming shuffles the not-yet-played tail of the queue through the
// barrier, so it can't race a concurrent skip's read of playIndex.
func (gs *GuildSession) ShuffleUpcoming(ctx context.Context) error {
	return gs.Barrier.Do(ctx, "shuffle", func(opCtx context.Context) error {
		gs.Session.ShuffleUpcoming()
		return nil
	})
}

// RestartMixer stops and respawns the sidecar in place, through the
// barrier, then resumes the current song on the fresh process.
func (gs *GuildSession) RestartMixer(ctx context.Context) error {
	return gs.Barrier.Do(ctx, "mixer_restart", func(opCtx context.Context) error {
		gs.Facade.StopMixer()
		if err := gs.Facade.StartMixer(opCtx); err != nil {
			return err
		}
		return gs.Facade.PlaySong(opCtx)
	})
}

// StopSession tears down and removes guildID's session, if present.
func (r *Registry) StopSession(guildID string) {
	r.mu.Lock()
	gs, ok := r.guilds[guildID]
	if ok {
		delete(r.guilds, guildID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	gs.Facade.StopMixer()
	gs.Commands.Close()
	metrics.ActiveSessions.Dec()
}

// Shutdown tears down every active session. Stopping happens outside the
// registry lock so one guild's slow teardown cannot stall another's.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	snapshot := make([]*GuildSession, 0, len(r.guilds))
	for _, gs := range r.guilds {
		snapshot = append(snapshot, gs)
	}
	r.guilds = make(map[string]*GuildSession)
	r.mu.Unlock()

	for _, gs := range snapshot {
		gs.Facade.StopMixer()
		gs.Commands.Close()
	}
}
