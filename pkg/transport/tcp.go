package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/marel/canmaster/pkg/canerr"
)

func init() {
	Register("tcp", newTCPBus)
	Register("virtual", newTCPBus)
}

// tcpBus tunnels CAN frames over a plain TCP connection to a broker,
// primarily for development and tests where no real CAN hardware is
// present. Each frame is length-prefixed: a 4-byte big-endian length
// followed by the fixed-size wire encoding below.
type tcpBus struct {
	mu     sync.Mutex
	conn   net.Conn
	frames chan tcpFrameOrErr
	done   chan struct{}
}

type tcpFrameOrErr struct {
	frame Frame
	err   error
}

const tcpWireSize = 4 + 1 + 1 + 8 // id + rtr/dlc byte pair + data

func newTCPBus(channel string) (Bus, error) {
	conn, err := net.Dial("tcp", channel)
	if err != nil {
		return nil, &canerr.TransportError{Op: fmt.Sprintf("dial %s", channel), Err: err}
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	b := &tcpBus{
		conn:   conn,
		frames: make(chan tcpFrameOrErr, 256),
		done:   make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

func (b *tcpBus) readLoop() {
	header := make([]byte, 4)
	for {
		if _, err := readFull(b.conn, header); err != nil {
			b.frames <- tcpFrameOrErr{err: err}
			return
		}
		size := binary.BigEndian.Uint32(header)
		if size != tcpWireSize {
			b.frames <- tcpFrameOrErr{err: &canerr.TransportError{Op: "decode frame", Err: fmt.Errorf("unexpected frame size %d", size)}}
			return
		}
		payload := make([]byte, size)
		if _, err := readFull(b.conn, payload); err != nil {
			b.frames <- tcpFrameOrErr{err: err}
			return
		}
		b.frames <- tcpFrameOrErr{frame: decodeTCPFrame(payload)}
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func encodeTCPFrame(f Frame) []byte {
	buf := make([]byte, 4+tcpWireSize)
	binary.BigEndian.PutUint32(buf[0:4], tcpWireSize)
	binary.BigEndian.PutUint32(buf[4:8], f.ID)
	flags := byte(0)
	if f.RTR {
		flags = 1
	}
	buf[8] = flags
	buf[9] = f.DLC
	copy(buf[10:18], f.Data[:])
	return buf
}

func decodeTCPFrame(payload []byte) Frame {
	var f Frame
	f.ID = binary.BigEndian.Uint32(payload[0:4])
	f.RTR = payload[4] != 0
	f.DLC = payload[5]
	copy(f.Data[:], payload[6:14])
	return f
}

func (b *tcpBus) Send(f Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.conn.Write(encodeTCPFrame(f))
	return err
}

func (b *tcpBus) Receive(ctx context.Context) (Frame, error) {
	select {
	case item := <-b.frames:
		return item.frame, item.err
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-b.done:
		return Frame{}, &canerr.TransportError{Op: "receive", Err: fmt.Errorf("bus closed")}
	}
}

func (b *tcpBus) Close() error {
	close(b.done)
	return b.conn.Close()
}
