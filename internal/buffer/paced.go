// Package buffer paces a bursty byte-chunk stream into a steady cadence
// suitable for a real-time audio sink, with a small prebuffer to absorb
// sidecar jitter without adding perceptible latency.
package buffer

import (
	"context"
	"time"
)

// PCM format emitted by the mixer sidecar's stdout:
// 48 kHz stereo, signed 16-bit little-endian. One Discord voice frame is
// 3840 bytes (20 ms).
const (
	SampleRate     = 48000
	Channels       = 2
	BytesPerSample = 2
	FrameBytes     = 3840
	FrameDuration  = 20 * time.Millisecond
)

// BytesPerSecond is the raw PCM byte rate implied by the format constants
// above; Config.Interval should normally be left at FrameDuration instead of
// relying on this for callers that already chunk input at FrameBytes.
const BytesPerSecond = SampleRate * Channels * BytesPerSample

// Config tunes a PacedBuffer. Interval is the playout duration represented
// by one chunk; leave it at buffer.FrameDuration when the input is already
// split into Discord-sized frames. Prebuffer trades startup latency for
// jitter resilience — low-latency stdout pipe keeps at most
// two frames (40 ms) of internal buffering on the sidecar side, so this
// layer should not add materially more.
type Config struct {
	Interval    time.Duration
	Prebuffer   time.Duration
	MinDelay    time.Duration
	MaxDelay    time.Duration
	MaxBuffer   time.Duration
	Passthrough bool
}

// PacedBuffer smooths a channel of PCM chunks into an output channel that
// releases one chunk per Interval, buffering up to MaxBuffer of audio and
// dropping the oldest chunks beyond that to keep latency bounded.
type PacedBuffer struct {
	cfg Config
}

func NewPacedBuffer(cfg Config) *PacedBuffer {
	return &PacedBuffer{cfg: cfg}
}

// Start begins pacing input into the returned channel, which closes once
// input closes and drains or ctx is canceled.
func (p *PacedBuffer) Start(ctx context.Context, input <-chan []byte) <-chan []byte {
	output := make(chan []byte)

	go func() {
		defer close(output)

		var queue [][]byte
		var buffered time.Duration
		var timer *time.Timer
		inputOpen := true
		ready := false
		started := false

		for {
			if !ready {
				if !inputOpen && len(queue) == 0 {
					return
				}

				select {
				case <-ctx.Done():
					return
				case chunk, ok := <-input:
					if !ok {
						inputOpen = false
						if len(queue) > 0 {
							ready = true
						}
						continue
					}
					queue = append(queue, chunk)
					buffered += p.durationFor(chunk)
					p.trimQueue(&queue, &buffered)
					if buffered >= p.cfg.Prebuffer {
						ready = true
					}
				}
				continue
			}

			if len(queue) == 0 {
				if !inputOpen {
					return
				}
				select {
				case <-ctx.Done():
					return
				case chunk, ok := <-input:
					if !ok {
						inputOpen = false
						continue
					}
					queue = append(queue, chunk)
					buffered += p.durationFor(chunk)
				}
				continue
			}

			if p.cfg.Passthrough {
				chunk := queue[0]
				queue = queue[1:]
				buffered -= p.durationFor(chunk)
				if buffered < 0 {
					buffered = 0
				}
				select {
				case <-ctx.Done():
					return
				case output <- chunk:
				}
				continue
			}

			if timer == nil {
				delay := time.Duration(0)
				if started {
					delay = p.durationFor(queue[0])
					if delay < time.Millisecond {
						delay = time.Millisecond
					}
				}
				timer = time.NewTimer(delay)
			}

			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case chunk, ok := <-input:
				if !ok {
					inputOpen = false
					continue
				}
				queue = append(queue, chunk)
				buffered += p.durationFor(chunk)
				p.trimQueue(&queue, &buffered)
			case <-timer.C:
				timer = nil
				chunk := queue[0]
				queue = queue[1:]
				buffered -= p.durationFor(chunk)
				if buffered < 0 {
					buffered = 0
				}
				started = true
				select {
				case <-ctx.Done():
					return
				case output <- chunk:
				}
			}
		}
	}()

	return output
}

func (p *PacedBuffer) trimQueue(queue *[][]byte, buffered *time.Duration) {
	if p.cfg.MaxBuffer <= 0 {
		return
	}

	for *buffered > p.cfg.MaxBuffer && len(*queue) > 0 {
		dropped := (*queue)[0]
		*queue = (*queue)[1:]
		*buffered -= p.durationFor(dropped)
		if *buffered < 0 {
			*buffered = 0
			break
		}
	}
}

func (p *PacedBuffer) durationFor(chunk []byte) time.Duration {
	if p.cfg.Interval > 0 {
		return p.cfg.Interval
	}
	if len(chunk) == 0 {
		return FrameDuration
	}
	seconds := float64(len(chunk)) / float64(BytesPerSecond)
	duration := time.Duration(seconds * float64(time.Second))
	if p.cfg.MinDelay > 0 && duration < p.cfg.MinDelay {
		return p.cfg.MinDelay
	}
	if p.cfg.MaxDelay > 0 && duration > p.cfg.MaxDelay {
		return p.cfg.MaxDelay
	}
	return duration
}
