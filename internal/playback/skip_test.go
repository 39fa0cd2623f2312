package playback

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/duskbot/vocalcore/internal/mixerproto"
)

// routeBufferReady stands in for the PlaybackEngine that a Start call would
// wire up: a fakeMixer with no handler yet delivers buffer_ready into s.
func routeBufferReady(mixer Mixer, s *Session) {
	fm, ok := mixer.(*fakeMixer)
	if !ok {
		return
	}
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.onEvent == nil {
		fm.onEvent = func(_ uint64, evt mixerproto.Event) {
			if evt.Kind == mixerproto.EventBufferReady {
				s.SetBufferReady(Deck(evt.Data), true)
			}
		}
	}
}

func newTestSkipManager(mixer Mixer, s *Session) *SkipManager {
	routeBufferReady(mixer, s)
	commands := NewCommandQueue(time.Second, mixer.IsAlive)
	return NewSkipManager(mixer, commands, s.Locks, NopEventSink{}, zerolog.Nop(), SkipConfig{
		CrossfadeMS:    6000,
		MinCrossfadeMS: 6000,
		CmdTimeout:     time.Second,
		BufferWait:     200 * time.Millisecond,
		LockTTL:        time.Second,
	})
}

func TestSkipNextFastPathUsesPreloadedDeck(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}, {URL: "b"}}, 10)
	s.SetCurrentDeckLoaded("a")
	s.SetNextDeck(DeckB, "b")
	s.SetBufferReady(DeckB, true)
	_ = s.SetFade(false)

	mixer := newFakeMixer()
	sm := newTestSkipManager(mixer, s)

	if err := sm.SkipNext(context.Background(), s, "guild-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.PlayIndex(); got != 1 {
		t.Fatalf("playIndex = %d, want 1", got)
	}
	if got := s.CurrentDeck(); got != DeckB {
		t.Fatalf("currentDeck = %v, want DeckB", got)
	}

	cmd, ok := mixer.lastSent()
	if !ok || cmd.Op != mixerproto.OpSkipTo {
		t.Fatalf("expected a skip_to command sent, got %+v ok=%v", cmd, ok)
	}
}

func TestSkipNextColdLoadsWhenNotPreloaded(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}, {URL: "b"}}, 10)
	s.SetCurrentDeckLoaded("a")
	s.SetFade(false)

	mixer := newFakeMixer()
	sm := newTestSkipManager(mixer, s)

	// fire buffer_ready shortly after the load command would have gone out
	go func() {
		time.Sleep(20 * time.Millisecond)
		mixer.fireBufferReady(DeckB)
	}()

	if err := sm.SkipNext(context.Background(), s, "guild-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.PlayIndex(); got != 1 {
		t.Fatalf("playIndex = %d, want 1", got)
	}
}

func TestSkipNextColdLoadTimesOutGracefully(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}, {URL: "b"}}, 10)
	s.SetCurrentDeckLoaded("a")

	mixer := newFakeMixer()
	sm := newTestSkipManager(mixer, s)
	// never fire buffer_ready: the cold load must time out, not hang forever

	err := sm.SkipNext(context.Background(), s, "guild-1")
	if !errors.Is(err, ErrBufferTimeout) {
		t.Fatalf("expected ErrBufferTimeout, got %v", err)
	}
}

func TestSkipNextAtEndOfQueueStopsDeck(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}}, 10)
	s.SetCurrentDeckLoaded("a")

	mixer := newFakeMixer()
	sm := newTestSkipManager(mixer, s)

	if err := sm.SkipNext(context.Background(), s, "guild-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cmd, ok := mixer.lastSent()
	if !ok || cmd.Op != mixerproto.OpStopDeck {
		t.Fatalf("expected stop_deck command, got %+v ok=%v", cmd, ok)
	}
	if got := s.CurrentDeckLoaded(); got != "" {
		t.Fatalf("currentDeckLoaded = %q, want empty after EndQueue", got)
	}
}

func TestSkipRejectsWhileCrossfading(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}, {URL: "b"}}, 10)
	s.BeginCrossfade()

	mixer := newFakeMixer()
	sm := newTestSkipManager(mixer, s)

	if err := sm.SkipNext(context.Background(), s, "guild-1"); !errors.Is(err, ErrCrossfadeInProgress) {
		t.Fatalf("expected ErrCrossfadeInProgress, got %v", err)
	}
}

func TestSkipRejectsWhenMixerDead(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}, {URL: "b"}}, 10)

	mixer := newFakeMixer()
	mixer.alive = false
	sm := newTestSkipManager(mixer, s)

	if err := sm.SkipNext(context.Background(), s, "guild-1"); !errors.Is(err, ErrMixerDead) {
		t.Fatalf("expected ErrMixerDead, got %v", err)
	}
}

func TestAutoLoopRestartReplaysCurrentSongInPlace(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}}, 10)
	s.SetCurrentDeckLoaded("a")
	_ = s.SetLoop(true)

	mixer := newFakeMixer()
	sm := newTestSkipManager(mixer, s)

	if err := sm.AutoLoopRestart(s, "guild-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.CurrentDeckLoaded(); got != "a" {
		t.Fatalf("currentDeckLoaded = %q, want a (looped)", got)
	}
	if got := s.PlayIndex(); got != 0 {
		t.Fatalf("playIndex = %d, want unchanged 0", got)
	}
}

func TestAutoAdvanceCommitsSidecarDrivenHandoff(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}, {URL: "b"}}, 10)
	s.SetCurrentDeckLoaded("a")

	mixer := newFakeMixer()
	sm := newTestSkipManager(mixer, s)

	if err := sm.AutoAdvance(s, "guild-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.PlayIndex(); got != 1 {
		t.Fatalf("playIndex = %d, want 1", got)
	}
	if got := s.CurrentDeck(); got != DeckB {
		t.Fatalf("currentDeck = %v, want DeckB", got)
	}
	if mixer.sentCount() != 0 {
		t.Fatalf("AutoAdvance must not send mixer commands, got %d", mixer.sentCount())
	}
}

func TestAutoAdvanceEndsQueueWhenNoNextSong(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}}, 10)
	s.SetCurrentDeckLoaded("a")

	mixer := newFakeMixer()
	sm := newTestSkipManager(mixer, s)

	if err := sm.AutoAdvance(s, "guild-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cmd, ok := mixer.lastSent()
	if !ok || cmd.Op != mixerproto.OpStopDeck {
		t.Fatalf("expected stop_deck command from end_queue fallback, got %+v ok=%v", cmd, ok)
	}
}

func TestSkipPrevNoopsAtQueueHead(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}, {URL: "b"}}, 10)
	s.SetCurrentDeckLoaded("a")

	mixer := newFakeMixer()
	sm := newTestSkipManager(mixer, s)

	if err := sm.SkipPrev(context.Background(), s, "guild-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mixer.sentCount() != 0 {
		t.Fatalf("SkipPrev at queue head must not send any mixer command, got %d", mixer.sentCount())
	}
	if got := s.PlayIndex(); got != 0 {
		t.Fatalf("playIndex = %d, want unchanged 0", got)
	}
}

func TestSkipPrevTransitionsBackward(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}, {URL: "b"}}, 10)
	_ = s.JumpToIndex(1, DeckB, "b")

	mixer := newFakeMixer()
	sm := newTestSkipManager(mixer, s)

	// deck A is cold-loaded for the previous song
	go func() {
		time.Sleep(20 * time.Millisecond)
		mixer.fireBufferReady(DeckA)
	}()

	if err := sm.SkipPrev(context.Background(), s, "guild-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.PlayIndex(); got != 0 {
		t.Fatalf("playIndex = %d, want 0", got)
	}
}

func TestAutoSkipBumpsCompletionAndAdvances(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}, {URL: "b"}}, 10)
	s.SetCurrentDeckLoaded("a")
	s.SetFade(false)

	mixer := newFakeMixer()
	routeBufferReady(mixer, s)
	store := NewStatsStore(filepath.Join(t.TempDir(), "stats.json"))
	stats, err := NewStatsTracker(store)
	if err != nil {
		t.Fatalf("NewStatsTracker: %v", err)
	}
	commands := NewCommandQueue(time.Second, mixer.IsAlive)
	sm := NewSkipManager(mixer, commands, s.Locks, NopEventSink{}, zerolog.Nop(), SkipConfig{
		CrossfadeMS:    6000,
		MinCrossfadeMS: 6000,
		CmdTimeout:     time.Second,
		BufferWait:     200 * time.Millisecond,
		LockTTL:        time.Second,
		Stats:          stats,
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		mixer.fireBufferReady(DeckB)
	}()

	if err := sm.AutoSkip(context.Background(), s, "guild-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.PlayIndex(); got != 1 {
		t.Fatalf("playIndex = %d, want 1", got)
	}
	snap := stats.Snapshot()
	if snap.Global.SongsCompleted != 1 {
		t.Fatalf("songsCompleted = %d, want 1", snap.Global.SongsCompleted)
	}
}

func TestColdLoadStopsDeckBeforeLoading(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}, {URL: "b"}}, 10)
	s.SetCurrentDeckLoaded("a")
	s.SetFade(false)

	mixer := newFakeMixer()
	sm := newTestSkipManager(mixer, s)

	go func() {
		time.Sleep(20 * time.Millisecond)
		mixer.fireBufferReady(DeckB)
	}()

	if err := sm.SkipNext(context.Background(), s, "guild-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mixer.sent) < 2 {
		t.Fatalf("expected at least stop_deck and load commands, got %d", len(mixer.sent))
	}
	if mixer.sent[0].Op != mixerproto.OpStopDeck {
		t.Fatalf("first command = %v, want stop_deck", mixer.sent[0].Op)
	}
	if mixer.sent[1].Op != mixerproto.OpLoad {
		t.Fatalf("second command = %v, want load", mixer.sent[1].Op)
	}
}
