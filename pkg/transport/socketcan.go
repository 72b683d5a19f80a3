package transport

import (
	"context"
	"fmt"

	"github.com/brutella/can"
	"github.com/marel/canmaster/pkg/canerr"
)

func init() {
	Register("socketcan", newSocketCANBus)
}

// socketCANBus binds to a real SocketCAN interface (e.g. "can0") through
// brutella/can, the corpus' SocketCAN binding.
type socketCANBus struct {
	bus    *can.Bus
	frames chan Frame
	done   chan struct{}
}

func newSocketCANBus(channel string) (Bus, error) {
	bus, err := can.NewBusForInterfaceWithName(channel)
	if err != nil {
		return nil, &canerr.TransportError{Op: fmt.Sprintf("open %s", channel), Err: err}
	}

	b := &socketCANBus{
		bus:    bus,
		frames: make(chan Frame, 256),
		done:   make(chan struct{}),
	}
	bus.SubscribeFunc(func(f can.Frame) {
		select {
		case b.frames <- fromCanFrame(f):
		case <-b.done:
		}
	})
	go func() {
		_ = bus.ConnectAndPublish()
	}()
	return b, nil
}

func (b *socketCANBus) Send(f Frame) error {
	return b.bus.Publish(toCanFrame(f))
}

func (b *socketCANBus) Receive(ctx context.Context) (Frame, error) {
	select {
	case f := <-b.frames:
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-b.done:
		return Frame{}, &canerr.TransportError{Op: "receive", Err: fmt.Errorf("bus closed")}
	}
}

func (b *socketCANBus) Close() error {
	close(b.done)
	return b.bus.Disconnect()
}

func toCanFrame(f Frame) can.Frame {
	out := can.Frame{ID: f.ID, Length: f.DLC, Data: f.Data}
	if f.RTR {
		out.ID |= 0x40000000
	}
	return out
}

func fromCanFrame(f can.Frame) Frame {
	rtr := f.ID&0x40000000 != 0
	return Frame{ID: f.ID &^ 0x40000000, RTR: rtr, DLC: f.Length, Data: f.Data}
}
