package playback

import (
	"context"
	"sync"

	"github.com/duskbot/vocalcore/internal/mixerproto"
)

// fakeMixer is an in-memory Mixer double used across this package's tests,
// letting SkipManager/PlaybackEngine/Facade be exercised without spawning a
// real sidecar process (DI boundary).
type fakeMixer struct {
	mu      sync.Mutex
	alive   bool
	gen     uint64
	sent    []mixerproto.Command
	sendErr error

	onEvent EventHandler
	onCrash CrashHandler

	startErr error
}

func newFakeMixer() *fakeMixer {
	return &fakeMixer{alive: true, gen: 1}
}

func (f *fakeMixer) Start(ctx context.Context, onEvent EventHandler, onCrash CrashHandler) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.alive = true
	f.gen++
	f.onEvent = onEvent
	f.onCrash = onCrash
	f.mu.Unlock()
	return nil
}

func (f *fakeMixer) Send(cmd mixerproto.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeMixer) Output() <-chan []byte { return nil }

func (f *fakeMixer) IsAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeMixer) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen
}

func (f *fakeMixer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
}

func (f *fakeMixer) lastSent() (mixerproto.Command, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return mixerproto.Command{}, false
	}
	return f.sent[len(f.sent)-1], true
}

func (f *fakeMixer) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fireBufferReady simulates the sidecar's buffer_ready event for deck,
// as readStderr would deliver it in the real MixerController.
func (f *fakeMixer) fireBufferReady(deck Deck) {
	f.mu.Lock()
	handler := f.onEvent
	gen := f.gen
	f.mu.Unlock()
	if handler != nil {
		handler(gen, mixerproto.Event{Kind: mixerproto.EventBufferReady, Data: string(deck)})
	}
}
