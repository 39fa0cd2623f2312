package playback

import (
	"context"
	"testing"
	"time"
)

type outputMixer struct {
	fakeMixer
	out chan []byte
}

func (o *outputMixer) Output() <-chan []byte { return o.out }

type fakeGateway struct {
	connected bool
	written   [][]byte
}

func (g *fakeGateway) WritePCM(ctx context.Context, frame []byte) error {
	g.written = append(g.written, frame)
	return nil
}

func (g *fakeGateway) Connected() bool { return g.connected }

func (g *fakeGateway) Close() error { return nil }

func TestPumpOutputForwardsFramesWhileConnected(t *testing.T) {
	out := make(chan []byte, 2)
	mixer := &outputMixer{out: out}
	gw := &fakeGateway{connected: true}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		PumpOutput(ctx, mixer, gw)
		close(done)
	}()

	out <- []byte{1, 2, 3}
	time.Sleep(10 * time.Millisecond)
	close(out)
	<-done

	if len(gw.written) != 1 {
		t.Fatalf("written = %d frames, want 1", len(gw.written))
	}
}

func TestPumpOutputDropsFramesWhenGatewayDisconnected(t *testing.T) {
	out := make(chan []byte, 2)
	mixer := &outputMixer{out: out}
	gw := &fakeGateway{connected: false}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		PumpOutput(ctx, mixer, gw)
		close(done)
	}()

	out <- []byte{1, 2, 3}
	close(out)
	<-done

	if len(gw.written) != 0 {
		t.Fatalf("written = %d frames, want 0 (gateway disconnected)", len(gw.written))
	}
}
