package playback

import (
	"context"

	"github.com/duskbot/vocalcore/internal/buffer"
)

// VoiceGateway is the narrow port this package needs from a Discord voice
// connection: somewhere to write the mixer's raw PCM output, and a way to
// know when that connection has dropped. Establishing and maintaining the
// Discord voice connection itself is out of scope — concrete
// implementations (e.g. wrapping disgoorg/disgo's voice.Conn) live outside
// this package.
type VoiceGateway interface {
	// WritePCM sends one frame of mixed PCM audio to the voice connection.
	WritePCM(ctx context.Context, frame []byte) error
	// Connected reports whether the underlying voice connection is live.
	Connected() bool
	// Close tears down the voice connection.
	Close() error
}

// pacerConfig mirrors the sidecar's own ≤2-frame (40ms) internal stdout
// buffer so this layer absorbs scheduling jitter without adding materially
// more end-to-end latency than the sidecar already carries.
var pacerConfig = buffer.Config{
	Interval:  buffer.FrameDuration,
	Prebuffer: 2 * buffer.FrameDuration,
	MaxBuffer: 6 * buffer.FrameDuration,
}

// PumpOutput paces the mixer's output channel through a PacedBuffer and
// copies the result to gw until the channel closes or ctx is canceled,
// dropping frames if gw briefly refuses a write rather than blocking the
// mixer's low-latency output buffer.
func PumpOutput(ctx context.Context, mixer Mixer, gw VoiceGateway) {
	paced := buffer.NewPacedBuffer(pacerConfig).Start(ctx, mixer.Output())
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-paced:
			if !ok {
				return
			}
			if !gw.Connected() {
				continue
			}
			_ = gw.WritePCM(ctx, frame)
		}
	}
}
