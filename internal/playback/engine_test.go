package playback

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/duskbot/vocalcore/internal/mixerproto"
)

func newTestEngine(mixer Mixer, s *Session) *PlaybackEngine {
	commands := NewCommandQueue(time.Second, mixer.IsAlive)
	skip := newTestSkipManager(mixer, s)
	return NewPlaybackEngine("guild-1", s, mixer, commands, skip, NopEventSink{}, zerolog.Nop(), EngineConfig{
		PreloadDelay: 10 * time.Millisecond,
		CmdTimeout:   time.Second,
	})
}

func TestHandleEventDropsStaleGeneration(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}}, 10)
	s.SetMixerGeneration(2)

	mixer := newFakeMixer()
	e := newTestEngine(mixer, s)

	e.HandleEvent(1, mixerproto.Event{Kind: mixerproto.EventBufferReady, Data: string(DeckB)})
	if s.BufferReady(DeckB) {
		t.Fatal("stale-generation event must not mutate session state")
	}

	e.HandleEvent(2, mixerproto.Event{Kind: mixerproto.EventBufferReady, Data: string(DeckB)})
	if !s.BufferReady(DeckB) {
		t.Fatal("current-generation event should mutate session state")
	}
}

func TestHandleEndStopsWhenNoNextAndNoLoop(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}}, 10)
	s.SetCurrentDeckLoaded("a")
	s.SetMixerGeneration(1)

	mixer := newFakeMixer()
	e := newTestEngine(mixer, s)

	e.HandleEvent(1, mixerproto.Event{Kind: mixerproto.EventEnd})
	if got := s.CurrentDeckLoaded(); got != "" {
		t.Fatalf("currentDeckLoaded = %q, want empty after end with nothing queued", got)
	}
}

func TestHandleEndAdvancesWhenNoSkipLockHeld(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}, {URL: "b"}}, 10)
	s.SetCurrentDeckLoaded("a")
	s.SetMixerGeneration(1)
	_ = s.SetFade(false)

	mixer := newFakeMixer()
	e := newTestEngine(mixer, s)

	go func() {
		time.Sleep(20 * time.Millisecond)
		mixer.fireBufferReady(DeckB)
	}()

	e.HandleEvent(1, mixerproto.Event{Kind: mixerproto.EventEnd})
	if got := s.PlayIndex(); got != 1 {
		t.Fatalf("playIndex = %d, want 1 (handleEnd must fall back to auto_skip when no auto_end_switch arrives)", got)
	}
	if got := s.CurrentDeck(); got != DeckB {
		t.Fatalf("currentDeck = %v, want DeckB", got)
	}
}

func TestHandleEndNoopsWhileSkipLockHeld(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}, {URL: "b"}}, 10)
	s.SetCurrentDeckLoaded("a")
	s.SetMixerGeneration(1)

	mixer := newFakeMixer()
	e := newTestEngine(mixer, s)

	handle, err := s.Locks.Acquire(skipLockName, time.Second, time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer handle.Release()

	e.HandleEvent(1, mixerproto.Event{Kind: mixerproto.EventEnd})
	if got := s.PlayIndex(); got != 0 {
		t.Fatalf("playIndex = %d, want unchanged 0 while another transition owns the skip lock", got)
	}
	if got := s.CurrentDeckLoaded(); got != "a" {
		t.Fatalf("currentDeckLoaded = %q, want unchanged", got)
	}
}

func TestHandleStreamErrorSkipsPastUnplayableSongAfterStrikeLimit(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "bad"}, {URL: "good"}}, 10)
	s.SetCurrentDeckLoaded("bad")
	s.SetMixerGeneration(1)
	_ = s.SetFade(false)

	mixer := newFakeMixer()
	e := newTestEngine(mixer, s)

	for i := 0; i < streamErrorStrikeLimit-1; i++ {
		e.HandleEvent(1, mixerproto.Event{Kind: mixerproto.EventStreamError})
		if got := s.PlayIndex(); got != 0 {
			t.Fatalf("playIndex = %d after %d strikes, should not have skipped yet", got, i+1)
		}
	}

	// simulate a cold-load buffer_ready so the final strike's SkipNext
	// doesn't block on the bufferWait timeout
	go func() {
		time.Sleep(20 * time.Millisecond)
		mixer.fireBufferReady(DeckB)
	}()
	e.HandleEvent(1, mixerproto.Event{Kind: mixerproto.EventStreamError})

	if got := s.PlayIndex(); got != 1 {
		t.Fatalf("playIndex = %d, want 1 after strike limit reached", got)
	}
}

func TestHandleApproachingEndReloadsCurrentWhenNoNextSong(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}}, 10)
	s.SetCurrentDeckLoaded("a")
	s.SetMixerGeneration(1)

	mixer := newFakeMixer()
	e := newTestEngine(mixer, s)

	e.HandleEvent(1, mixerproto.Event{Kind: mixerproto.EventApproachingEnd})
	cmd, ok := mixer.lastSent()
	if !ok || cmd.Op != mixerproto.OpLoad || cmd.URL != "a" || cmd.Deck != DeckB {
		t.Fatalf("expected a reload of 'a' onto DeckB, got %+v ok=%v", cmd, ok)
	}
}

func TestHandleApproachingEndDrivesAutoSkipWhenFadeEnabled(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}, {URL: "b"}}, 10)
	s.SetCurrentDeckLoaded("a")
	s.SetMixerGeneration(1)
	_ = s.SetFade(true)

	mixer := newFakeMixer()
	e := newTestEngine(mixer, s)

	go func() {
		time.Sleep(20 * time.Millisecond)
		mixer.fireBufferReady(DeckB)
	}()

	e.HandleEvent(1, mixerproto.Event{Kind: mixerproto.EventApproachingEnd})
	if got := s.PlayIndex(); got != 1 {
		t.Fatalf("playIndex = %d, want 1 (approaching_end should drive auto_skip when fade is on)", got)
	}
}

func TestHandleApproachingEndNoopsWhenFadeDisabledAndNextQueued(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}, {URL: "b"}}, 10)
	s.SetCurrentDeckLoaded("a")
	s.SetMixerGeneration(1)
	_ = s.SetFade(false)

	mixer := newFakeMixer()
	e := newTestEngine(mixer, s)

	e.HandleEvent(1, mixerproto.Event{Kind: mixerproto.EventApproachingEnd})
	if got := mixer.sentCount(); got != 0 {
		t.Fatalf("sent %d commands, want 0 (gapless auto_end_switch owns this case)", got)
	}
	if got := s.PlayIndex(); got != 0 {
		t.Fatalf("playIndex = %d, want unchanged 0", got)
	}
}

func TestHandleAutoLoopRestartReplaysInPlace(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}}, 10)
	s.SetCurrentDeckLoaded("a")
	s.SetMixerGeneration(1)

	mixer := newFakeMixer()
	e := newTestEngine(mixer, s)

	e.HandleEvent(1, mixerproto.Event{Kind: mixerproto.EventAutoLoopRestart})
	if got := s.PlayIndex(); got != 0 {
		t.Fatalf("playIndex = %d, want unchanged 0 for an in-place loop restart", got)
	}
	if got := s.CurrentDeckLoaded(); got != "a" {
		t.Fatalf("currentDeckLoaded = %q, want unchanged a", got)
	}
}

func TestPreloadNextSkipsWhenAlreadyPreloaded(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}, {URL: "b"}}, 10)
	s.SetCurrentDeckLoaded("a")
	s.SetNextDeck(DeckB, "b")
	s.SetMixerGeneration(1)

	mixer := newFakeMixer()
	e := newTestEngine(mixer, s)

	e.PreloadNext()
	if got := mixer.sentCount(); got != 0 {
		t.Fatalf("sent %d commands, want 0 (next deck already preloaded)", got)
	}
}

func TestPreloadNextLoadsIdleDeck(t *testing.T) {
	s := newTestSession()
	_ = s.Enqueue([]Song{{URL: "a"}, {URL: "b"}}, 10)
	s.SetCurrentDeckLoaded("a")
	s.SetMixerGeneration(1)

	mixer := newFakeMixer()
	e := newTestEngine(mixer, s)

	e.PreloadNext()
	cmd, ok := mixer.lastSent()
	if !ok || cmd.Op != mixerproto.OpLoad || cmd.URL != "b" {
		t.Fatalf("expected a load command for 'b', got %+v ok=%v", cmd, ok)
	}
}
