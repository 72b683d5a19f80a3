// Package transport abstracts the CAN interface the master runs against.
// Concrete bindings (SocketCAN, a TCP tunnel) are external collaborators;
// the rest of the module only depends on the Bus interface.
package transport

import (
	"context"
	"fmt"

	"github.com/marel/canmaster/pkg/canerr"
)

// Frame is a classic (non-FD) CAN frame.
type Frame struct {
	ID   uint32
	RTR  bool
	DLC  uint8
	Data [8]byte
}

// Bus is a framed byte channel: send a frame, receive a frame, close.
// Receive blocks until a frame arrives or ctx is done.
type Bus interface {
	Send(f Frame) error
	Receive(ctx context.Context) (Frame, error)
	Close() error
}

// Factory constructs a Bus bound to channel (an interface name for
// SocketCAN, or a host:port for the TCP tunnel).
type Factory func(channel string) (Bus, error)

var registry = make(map[string]Factory)

// Register adds a Bus implementation under name. Transports call this from
// an init function; device drivers use the same pattern through
// pkg/driver.Register.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// Open constructs the bus registered under name.
func Open(name, channel string) (Bus, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("transport: unknown interface %q: %w", name, canerr.ErrConfig)
	}
	return factory(channel)
}
