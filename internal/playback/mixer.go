package playback

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/duskbot/vocalcore/internal/metrics"
	"github.com/duskbot/vocalcore/internal/mixerproto"
)

// CrashReason tags why MixerController fired its crash callback.
type CrashReason string

const (
	CrashStdoutClosed CrashReason = "stdout_closed"
	CrashStdoutError  CrashReason = "stdout_error"
	CrashStdinError   CrashReason = "stdin_error"
	CrashProcessExited CrashReason = "process_exited"
	CrashStartTimeout CrashReason = "start_timeout"
)

// EventHandler receives one decoded sidecar event, tagged with the
// generation of the MixerController instance that produced it. Consumers
// must drop events whose generation is older than the session's current one.
type EventHandler func(generation uint64, event mixerproto.Event)

// CrashHandler is invoked at most once per MixerController instance.
type CrashHandler func(generation uint64, reason CrashReason)

// outputBufferFrames bounds the low-latency stdout buffer to roughly two
// 20ms Discord frames (48kHz, stereo, 16-bit: 3840 bytes/frame).
const outputBufferFrames = 2

// MixerController owns one external mixer sidecar process and speaks the
// line-delimited JSON protocol with it. Adapted
// from this codebase's ffmpeg subprocess pipeline: spawn via
// exec.CommandContext, drain stdout into a bounded channel on a reader
// goroutine, signal-based stop — generalized from a single media stream to
// stdin commands + stderr events + stdout audio.
type MixerController struct {
	binaryPath     string
	startupTimeout time.Duration
	startLimiter   *rate.Limiter
	logger         zerolog.Logger

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	cancel     context.CancelFunc
	generation uint64
	alive      bool
	stdoutDone bool
	output     chan []byte
	onEvent    EventHandler
	onCrash    CrashHandler

	crashed atomic.Bool
}

// NewMixerController creates a controller for the sidecar binary at path.
func NewMixerController(binaryPath string, startupTimeout, restartCooldown time.Duration, logger zerolog.Logger) *MixerController {
	return &MixerController{
		binaryPath:     binaryPath,
		startupTimeout: startupTimeout,
		startLimiter:   rate.NewLimiter(rate.Every(restartCooldown), 1),
		logger:         logger.With().Str("component", "mixer").Logger(),
	}
}

// Start spawns the sidecar, wiring its stdin/stdout/stderr. onEvent and
// onCrash are called from the controller's reader goroutines for the
// lifetime of this instance. Returns ErrMixerStartFailed if called before
// the restart cooldown has elapsed or if the process fails to spawn.
func (m *MixerController) Start(ctx context.Context, onEvent EventHandler, onCrash CrashHandler) error {
	if !m.startLimiter.Allow() {
		return ErrMixerStartFailed
	}

	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.crashed.Store(false)
	m.onEvent = onEvent
	m.onCrash = onCrash

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.cmd = exec.CommandContext(runCtx, m.binaryPath)

	stdin, err := m.cmd.StdinPipe()
	if err != nil {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: stdin pipe: %v", ErrMixerStartFailed, err)
	}
	stdout, err := m.cmd.StdoutPipe()
	if err != nil {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: stdout pipe: %v", ErrMixerStartFailed, err)
	}
	stderr, err := m.cmd.StderrPipe()
	if err != nil {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: stderr pipe: %v", ErrMixerStartFailed, err)
	}

	if err := m.cmd.Start(); err != nil {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %v", ErrMixerStartFailed, err)
	}

	m.stdin = stdin
	m.alive = true
	m.stdoutDone = false
	m.output = make(chan []byte, outputBufferFrames)
	m.mu.Unlock()

	m.logger.Info().Uint64("generation", gen).Int("pid", m.cmd.Process.Pid).Msg("mixer started")

	firstByte := make(chan struct{}, 1)
	go m.readStdout(gen, stdout, firstByte)
	go m.readStderr(gen, stderr, firstByte)
	go m.waitExit(gen)
	go m.watchStartup(gen, firstByte)

	return nil
}

func (m *MixerController) watchStartup(gen uint64, firstByte <-chan struct{}) {
	select {
	case <-firstByte:
		return
	case <-time.After(m.startupTimeout):
		m.fireCrash(gen, CrashStartTimeout)
	}
}

func (m *MixerController) readStdout(gen uint64, stdout io.ReadCloser, firstByte chan<- struct{}) {
	defer func() {
		m.mu.Lock()
		m.stdoutDone = true
		m.alive = false
		ch := m.output
		m.mu.Unlock()
		if ch != nil {
			close(ch)
		}
	}()

	buf := make([]byte, 3840) // one 20ms frame per chunk
	notified := false
	for {
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			if !notified {
				notified = true
				select {
				case firstByte <- struct{}{}:
				default:
				}
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			m.pushOutput(chunk)
		}
		if err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				m.fireCrash(gen, CrashStdoutError)
			} else {
				m.fireCrash(gen, CrashStdoutClosed)
			}
			return
		}
	}
}

// pushOutput drops the oldest buffered chunk when the bounded channel is
// full, keeping stdout-to-voice latency near outputBufferFrames frames
// rather than letting a slow consumer accumulate a growing backlog.
func (m *MixerController) pushOutput(chunk []byte) {
	m.mu.Lock()
	ch := m.output
	m.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- chunk:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- chunk:
		default:
		}
	}
}

func (m *MixerController) readStderr(gen uint64, stderr io.ReadCloser, firstByte chan<- struct{}) {
	var lastBufferReady [2]time.Time // indexed by deck: A=0, B=1

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		evt, err := mixerproto.UnmarshalEvent(line)
		if err != nil {
			m.logger.Warn().Err(err).Bytes("line", line).Msg("unparseable mixer event")
			continue
		}

		select {
		case firstByte <- struct{}{}:
		default:
		}

		if evt.Kind == mixerproto.EventBufferReady {
			idx := 0
			if evt.Data == string(mixerproto.DeckB) {
				idx = 1
			}
			now := time.Now()
			if !lastBufferReady[idx].IsZero() && now.Sub(lastBufferReady[idx]) < 100*time.Millisecond {
				continue
			}
			lastBufferReady[idx] = now
		}

		m.mu.Lock()
		handler := m.onEvent
		m.mu.Unlock()
		if handler != nil {
			handler(gen, evt)
		}
	}
}

func (m *MixerController) waitExit(gen uint64) {
	err := m.cmd.Wait()
	m.mu.Lock()
	m.alive = false
	m.mu.Unlock()
	if err != nil {
		m.fireCrash(gen, CrashProcessExited)
	}
}

// fireCrash invokes onCrash at most once per instance; subsequent events
// for that instance are discarded.
func (m *MixerController) fireCrash(gen uint64, reason CrashReason) {
	if m.crashed.Swap(true) {
		return
	}
	m.mu.Lock()
	handler := m.onCrash
	m.mu.Unlock()
	metrics.MixerCrashesTotal.WithLabelValues(string(reason)).Inc()
	m.logger.Warn().Uint64("generation", gen).Str("reason", string(reason)).Msg("mixer crashed")
	if handler != nil {
		handler(gen, reason)
	}
}

// Send writes one command to the sidecar's stdin. Intended as a
// CommandQueue CommandFunc target.
func (m *MixerController) Send(cmd mixerproto.Command) error {
	m.mu.Lock()
	stdin := m.stdin
	alive := m.alive
	gen := m.generation
	m.mu.Unlock()

	if !alive || stdin == nil {
		return ErrMixerDead
	}

	line, err := cmd.Marshal()
	if err != nil {
		return err
	}
	if _, err := stdin.Write(line); err != nil {
		m.fireCrash(gen, CrashStdinError)
		return fmt.Errorf("%w: %v", ErrMixerDead, err)
	}
	return nil
}

// Output returns the low-latency PCM byte stream for the current instance.
func (m *MixerController) Output() <-chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.output
}

// IsAlive reports is_process_alive = is_alive AND process_exists AND NOT
// stdout_closed
func (m *MixerController) IsAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive && m.cmd != nil && m.cmd.Process != nil && !m.stdoutDone
}

// Generation returns the current instance's monotonic generation id.
func (m *MixerController) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Stop terminates the sidecar process. Callers that are intentionally
// tearing down a session should set the session's intentional_kill flag
// before calling Stop so the crash handler suppresses recovery.
func (m *MixerController) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.alive = false
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
