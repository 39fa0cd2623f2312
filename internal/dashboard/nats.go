// Package dashboard publishes playback transitions to external dashboard
// subscribers over NATS. Its circuit-breaker fallback shape is grounded on
// this codebase family's Redis-backed event bus (always publish locally first,
// trip to fallback-only after a run of publish failures, reset the failure
// count on success) — ported here to the nats-io/nats.go client instead.
package dashboard

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/duskbot/vocalcore/internal/playback"
)

// Config configures a NATSSink.
type Config struct {
	URL           string
	SubjectPrefix string // default "vocalcore.dashboard"
	MaxFailures   int    // consecutive publish failures before tripping, default 5
	CheckInterval time.Duration // how often to probe for recovery, default 30s
}

// wireMessage is the JSON envelope published to NATS.
type wireMessage struct {
	GuildID string                       `json:"guildId"`
	Kind    playback.DashboardEventKind  `json:"kind"`
	Payload playback.DashboardPayload    `json:"payload,omitempty"`
	SentAt  int64                        `json:"sentAt"`
}

// NATSSink implements playback.EventSink over a NATS connection, always
// publishing locally to an in-memory fallback bus first (so a same-process
// dashboard consumer keeps working even with NATS down), then additionally
// publishing to NATS unless the circuit breaker is tripped.
type NATSSink struct {
	conn          *nats.Conn
	subjectPrefix string
	logger        zerolog.Logger
	fallback      *playback.MemoryBus

	mu          sync.Mutex
	useFallback bool
	failCount   int
	maxFails    int
	checkEvery  time.Duration
	lastCheck   time.Time
}

// NewNATSSink connects to cfg.URL. If the connection attempt fails, the
// sink starts tripped (fallback-only) rather than erroring the caller; it
// does not try to connect again later.
func NewNATSSink(cfg Config, logger zerolog.Logger) *NATSSink {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "vocalcore.dashboard"
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}

	sink := &NATSSink{
		subjectPrefix: cfg.SubjectPrefix,
		logger:        logger.With().Str("component", "dashboard").Logger(),
		fallback:      playback.NewMemoryBus(),
		maxFails:      cfg.MaxFailures,
		checkEvery:    cfg.CheckInterval,
	}

	conn, err := nats.Connect(cfg.URL, nats.Name("vocalcore-dashboard"), nats.MaxReconnects(-1))
	if err != nil {
		sink.logger.Warn().Err(err).Msg("NATS connection failed, using in-memory fallback")
		sink.useFallback = true
		sink.lastCheck = time.Now()
		return sink
	}
	sink.conn = conn
	return sink
}

// Subscribe registers an in-process subscriber against the fallback bus,
// for a same-process dashboard consumer (e.g. the debug HTTP surface).
func (s *NATSSink) Subscribe() playback.Subscriber {
	return s.fallback.Subscribe()
}

// Publish implements playback.EventSink.
func (s *NATSSink) Publish(guildID string, kind playback.DashboardEventKind, payload playback.DashboardPayload) {
	s.fallback.Publish(guildID, kind, payload)

	s.mu.Lock()
	tripped := s.useFallback
	if tripped && time.Since(s.lastCheck) > s.checkEvery {
		tripped = false // allow one retry attempt to probe recovery
	}
	s.mu.Unlock()
	if tripped {
		return
	}
	if s.conn == nil {
		return
	}

	msg := wireMessage{GuildID: guildID, Kind: kind, Payload: payload, SentAt: time.Now().UnixMilli()}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal dashboard message")
		return
	}

	subject := fmt.Sprintf("%s.%s", s.subjectPrefix, guildID)
	if err := s.conn.Publish(subject, data); err != nil {
		s.handleFailure(err)
		return
	}

	s.mu.Lock()
	s.failCount = 0
	s.useFallback = false
	s.mu.Unlock()
}

func (s *NATSSink) handleFailure(err error) {
	s.logger.Error().Err(err).Msg("failed to publish dashboard event to NATS")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCount++
	if s.failCount >= s.maxFails {
		s.useFallback = true
		s.lastCheck = time.Now()
	}
}

// Close drains and closes the NATS connection, if any.
func (s *NATSSink) Close() {
	if s.conn != nil {
		s.conn.Drain()
	}
}
