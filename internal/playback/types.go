package playback

import (
	"time"

	"github.com/duskbot/vocalcore/internal/mixerproto"
)

// Deck re-exports the mixer protocol's deck identifier so package
// consumers don't need to import mixerproto directly for basic use.
type Deck = mixerproto.Deck

const (
	DeckA = mixerproto.DeckA
	DeckB = mixerproto.DeckB
)

// Song is one queue entry. Identity for equality uses ResolverKey when
// present (e.g. an extracted platform video id); otherwise exact URL
// equality
type Song struct {
	Title        string `json:"title"`
	URL          string `json:"url"`
	Thumbnail    string `json:"thumbnail,omitempty"`
	IsLive       bool   `json:"isLive"`
	DurationS    uint32 `json:"duration"`
	RequesterID  string `json:"requester"`
	ResolverKey  string `json:"resolverKey,omitempty"`
}

// Equal compares two songs by resolver key when both have one, else by URL.
func (s Song) Equal(other Song) bool {
	if s.ResolverKey != "" && other.ResolverKey != "" {
		return s.ResolverKey == other.ResolverKey
	}
	return s.URL == other.URL
}

// TransitionReason tags why a SkipManager transition was initiated.
type TransitionReason string

const (
	ReasonManual       TransitionReason = "manual"
	ReasonManualPrev   TransitionReason = "manual-prev"
	ReasonManualSelect TransitionReason = "manual-select"
	ReasonAuto         TransitionReason = "auto"
)

// deckFlags tracks per-deck buffer readiness, keyed by the two decks.
type deckFlags struct {
	a bool
	b bool
}

func (d *deckFlags) get(deck Deck) bool {
	if deck == DeckA {
		return d.a
	}
	return d.b
}

func (d *deckFlags) set(deck Deck, v bool) {
	if deck == DeckA {
		d.a = v
	} else {
		d.b = v
	}
}

// crashState tracks the mixer-crash-recovery bookkeeping of section 4.9.
type crashState struct {
	attempts          int
	lastCrashAt       time.Time
	disconnectArmedAt time.Time
}
