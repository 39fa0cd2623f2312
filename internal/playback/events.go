package playback

import "sync"

// DashboardEventKind enumerates the dashboard-relevant playback transitions.
type DashboardEventKind string

const (
	DashboardNowPlaying       DashboardEventKind = "now_playing"
	DashboardQueueUpdated     DashboardEventKind = "queue_updated"
	DashboardPaused           DashboardEventKind = "paused"
	DashboardResumed          DashboardEventKind = "resumed"
	DashboardFinished         DashboardEventKind = "finished"
	DashboardCrashRecovering  DashboardEventKind = "crash_recovering"
	DashboardCrashDisconnect  DashboardEventKind = "crash_disconnected"
)

// DashboardPayload is a JSON-serializable snapshot published alongside a
// dashboard event; fields are populated as relevant to the event kind.
type DashboardPayload map[string]any

// EventSink is the narrow port a dashboard publisher plugs into. Publish is
// fire-and-forget: it must never block or fail the playback operation that
// triggered it.
type EventSink interface {
	Publish(guildID string, kind DashboardEventKind, payload DashboardPayload)
}

// NopEventSink discards every event. Used when no sink is configured.
type NopEventSink struct{}

func (NopEventSink) Publish(string, DashboardEventKind, DashboardPayload) {}

// Subscriber receives every message published on its bus. Buffered so a
// slow consumer cannot stall a publisher.
type Subscriber chan dashboardMessage

type dashboardMessage struct {
	GuildID string
	Kind    DashboardEventKind
	Payload DashboardPayload
}

// MemoryBus is an in-process EventSink with fan-out subscription, used in
// tests and single-process deployments where no external message bus is
// configured. Grounded on the publish/subscribe shape of an in-memory event
// bus seen elsewhere in this codebase family: non-blocking best-effort
// delivery to bounded per-subscriber channels.
type MemoryBus struct {
	mu   sync.RWMutex
	subs []Subscriber
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Subscribe registers a new subscriber with a small buffer.
func (b *MemoryBus) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 8)
	b.subs = append(b.subs, sub)
	return sub
}

// Publish implements EventSink. Delivery is non-blocking per subscriber: a
// full subscriber channel drops the message rather than stalling playback.
func (b *MemoryBus) Publish(guildID string, kind DashboardEventKind, payload DashboardPayload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	msg := dashboardMessage{GuildID: guildID, Kind: kind, Payload: payload}
	for _, sub := range b.subs {
		select {
		case sub <- msg:
		default:
		}
	}
}
