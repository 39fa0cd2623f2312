// Package mixerproto defines the line-delimited JSON protocol spoken with
// the external mixer sidecar process: commands written to its stdin and
// events read from its stderr.
package mixerproto

import "encoding/json"

// Deck identifies one of the mixer's two playback slots.
type Deck string

const (
	DeckA Deck = "A"
	DeckB Deck = "B"
)

// Other returns the complementary deck.
func (d Deck) Other() Deck {
	if d == DeckA {
		return DeckB
	}
	return DeckA
}

// Op identifies a command sent to the sidecar over stdin.
type Op string

const (
	OpLoad                  Op = "load"
	OpPlay                  Op = "play"
	OpPauseAll              Op = "pause_all"
	OpResumeAll             Op = "resume_all"
	OpStopDeck              Op = "stop_deck"
	OpCrossfade             Op = "crossfade"
	OpSkipTo                Op = "skip_to"
	OpRestartDeck           Op = "restart_deck"
	OpSetProactiveCrossfade Op = "set_proactive_crossfade"
	OpSetLoop               Op = "set_loop"
	OpStop                  Op = "stop"
)

// Command is one line written to the sidecar's stdin. Only the fields
// relevant to Op are populated; the rest are omitted from the wire form.
type Command struct {
	Op          Op     `json:"op"`
	URL         string `json:"url,omitempty"`
	Deck        Deck   `json:"deck,omitempty"`
	Autoplay    bool   `json:"autoplay,omitempty"`
	ToDeck      Deck   `json:"to_deck,omitempty"`
	DurationMS  int    `json:"duration_ms,omitempty"`
	TargetDeck  Deck   `json:"target_deck,omitempty"`
	Enabled     bool   `json:"enabled,omitempty"`
}

// LoadCommand builds a load command.
func LoadCommand(url string, deck Deck, autoplay bool) Command {
	return Command{Op: OpLoad, URL: url, Deck: deck, Autoplay: autoplay}
}

// PlayCommand builds a play command.
func PlayCommand(deck Deck) Command { return Command{Op: OpPlay, Deck: deck} }

// PauseAllCommand builds a pause_all command.
func PauseAllCommand() Command { return Command{Op: OpPauseAll} }

// ResumeAllCommand builds a resume_all command.
func ResumeAllCommand() Command { return Command{Op: OpResumeAll} }

// StopDeckCommand builds a stop_deck command.
func StopDeckCommand(deck Deck) Command { return Command{Op: OpStopDeck, Deck: deck} }

// CrossfadeCommand builds a crossfade command, clamping duration to the
// caller-provided minimum.
func CrossfadeCommand(toDeck Deck, durationMS, minDurationMS int) Command {
	if durationMS < minDurationMS {
		durationMS = minDurationMS
	}
	return Command{Op: OpCrossfade, ToDeck: toDeck, DurationMS: durationMS}
}

// SkipToCommand builds a skip_to command.
func SkipToCommand(targetDeck Deck) Command { return Command{Op: OpSkipTo, TargetDeck: targetDeck} }

// RestartDeckCommand builds a restart_deck command.
func RestartDeckCommand(deck Deck) Command { return Command{Op: OpRestartDeck, Deck: deck} }

// SetProactiveCrossfadeCommand builds a set_proactive_crossfade command.
func SetProactiveCrossfadeCommand(enabled bool) Command {
	return Command{Op: OpSetProactiveCrossfade, Enabled: enabled}
}

// SetLoopCommand builds a set_loop command.
func SetLoopCommand(enabled bool) Command { return Command{Op: OpSetLoop, Enabled: enabled} }

// StopCommand builds a full sidecar shutdown command.
func StopCommand() Command { return Command{Op: OpStop} }

// EventKind identifies the type of event the sidecar emits on stderr.
type EventKind string

const (
	EventBufferReady      EventKind = "buffer_ready"
	EventCrossfadeStarted EventKind = "crossfade_started"
	EventApproachingEnd   EventKind = "approaching_end"
	EventEnd              EventKind = "end"
	EventDeckChanged      EventKind = "deck_changed"
	EventAutoEndSwitch    EventKind = "auto_end_switch"
	EventAutoLoopRestart  EventKind = "auto_loop_restart"
	EventStreamError      EventKind = "stream_error"
	EventYTError          EventKind = "yt_error"
	EventError            EventKind = "error"
	EventInfo             EventKind = "info"
	EventDebug            EventKind = "debug"
	EventLatency          EventKind = "latency"
)

// Event is one line read from the sidecar's stderr.
type Event struct {
	Kind EventKind `json:"event"`
	Data string    `json:"data,omitempty"`
}

// UnmarshalEvent parses one newline-terminated JSON event line.
func UnmarshalEvent(line []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(line, &e)
	return e, err
}

// MarshalJSON writes autoplay for load and enabled for the two toggle
// commands even when false; other zero-valued fields are omitted.
func (c Command) MarshalJSON() ([]byte, error) {
	type wire Command
	out := struct {
		wire
		Autoplay *bool `json:"autoplay,omitempty"`
		Enabled  *bool `json:"enabled,omitempty"`
	}{wire: wire(c)}
	switch c.Op {
	case OpLoad:
		out.Autoplay = &c.Autoplay
	case OpSetProactiveCrossfade, OpSetLoop:
		out.Enabled = &c.Enabled
	}
	return json.Marshal(out)
}

// Marshal serializes a command to a single newline-terminated JSON line.
func (c Command) Marshal() ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
