package master

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marel/canmaster/pkg/canerr"
	"github.com/marel/canmaster/pkg/eds"
	"github.com/marel/canmaster/pkg/frame"
	"github.com/marel/canmaster/pkg/sdo"
	"github.com/marel/canmaster/pkg/supervisor"
	"github.com/marel/canmaster/pkg/transport"
)

// loopbackBus is a fake transport.Bus that lets a test inject frames as if
// received from the wire and inspect frames sent by the master.
type loopbackBus struct {
	mu   sync.Mutex
	in   chan transport.Frame
	sent []transport.Frame
	onSend func(transport.Frame) *transport.Frame
}

func newLoopbackBus() *loopbackBus {
	return &loopbackBus{in: make(chan transport.Frame, 16)}
}

func (b *loopbackBus) Send(f transport.Frame) error {
	b.mu.Lock()
	b.sent = append(b.sent, f)
	reply := b.onSend
	b.mu.Unlock()
	if reply != nil {
		if r := reply(f); r != nil {
			b.in <- *r
		}
	}
	return nil
}

func (b *loopbackBus) Receive(ctx context.Context) (transport.Frame, error) {
	select {
	case f := <-b.in:
		return f, nil
	case <-ctx.Done():
		return transport.Frame{}, ctx.Err()
	}
}

func (b *loopbackBus) Close() error { return nil }

func (b *loopbackBus) inject(f transport.Frame) { b.in <- f }

func TestUploadExpeditedRoundTrip(t *testing.T) {
	bus := newLoopbackBus()
	bus.onSend = func(req transport.Frame) *transport.Frame {
		if req.ID != fcSDORx|5 {
			return nil
		}
		reqFrame := frame.Frame(req.Data)
		if frame.GetCs(reqFrame) != frame.UlInitReq {
			return nil
		}
		var out frame.Frame
		out = frame.SetCs(out, frame.UlInitRes)
		out = frame.SetMux(out, frame.Index(reqFrame), frame.Sub(reqFrame))
		out = frame.SetExpedited(out, true)
		out = frame.SetIndicatedSize(out, true)
		out = frame.SetInitSize(out, 3)
		out = frame.SetData(out, []byte{1})
		reply := transport.Frame{ID: fcSDOTx | 5, DLC: 8, Data: [8]byte(out)}
		return &reply
	}

	m := New(bus, nil, Config{Workers: 1, WorkerQueueLen: 4}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go m.Run(ctx) // dispatches the replies onSend injects back to Upload

	data, err := m.Upload(ctx, 5, 0x1018, 1)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if len(data) != 1 || data[0] != 1 {
		t.Fatalf("data = %v, want [1]", data)
	}
}

func TestUploadAbortReturnsSdoAbort(t *testing.T) {
	bus := newLoopbackBus()
	bus.onSend = func(req transport.Frame) *transport.Frame {
		if req.ID != fcSDORx|5 {
			return nil
		}
		reqFrame := frame.Frame(req.Data)
		if frame.GetCs(reqFrame) != frame.UlInitReq {
			return nil
		}
		var out frame.Frame
		out = frame.SetCs(out, frame.Abort)
		out = frame.SetMux(out, frame.Index(reqFrame), frame.Sub(reqFrame))
		out = frame.SetAbortCode(out, sdo.AbortNotFound)
		reply := transport.Frame{ID: fcSDOTx | 5, DLC: 8, Data: [8]byte(out)}
		return &reply
	}

	m := New(bus, nil, Config{Workers: 1, WorkerQueueLen: 4}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go m.Run(ctx) // dispatches the replies onSend injects back to Upload

	_, err := m.Upload(ctx, 5, 0x1018, 1)
	var abort *canerr.SdoAbort
	if !errors.As(err, &abort) {
		t.Fatalf("expected a *canerr.SdoAbort, got %v", err)
	}
	if abort.NodeID != 5 || abort.Index != 0x1018 || abort.Sub != 1 || abort.Code != sdo.AbortNotFound {
		t.Fatalf("unexpected abort fields: %+v", abort)
	}
}

func TestDispatchRoutesHeartbeat(t *testing.T) {
	bus := newLoopbackBus()
	m := New(bus, &eds.Database{}, Config{Workers: 1, WorkerQueueLen: 4}, nil)
	m.dispatch(context.Background(), transport.Frame{ID: fcHB | 9, DLC: 1, Data: [8]byte{5}})

	node, _ := m.table.Node(9)
	time.Sleep(50 * time.Millisecond) // boot sequence runs in its own goroutine
	if node.HeartbeatSupported != true {
		t.Fatal("expected heartbeat to mark node as heartbeat-supported")
	}
}

func TestManagedRangeRestriction(t *testing.T) {
	bus := newLoopbackBus()
	m := New(bus, nil, Config{Workers: 1, WorkerQueueLen: 4, RangeLo: 10, RangeHi: 20}, nil)
	if m.managed(5) {
		t.Fatal("node 5 should be outside the configured range")
	}
	if !m.managed(15) {
		t.Fatal("node 15 should be inside the configured range")
	}
}

func TestPostTimerEventForwardsToChannel(t *testing.T) {
	bus := newLoopbackBus()
	m := New(bus, nil, Config{Workers: 1, WorkerQueueLen: 4}, nil)
	ev := supervisor.TimerEvent{Kind: supervisor.TimerGuardPoll, NodeID: 7}
	m.postTimerEvent(ev)
	select {
	case got := <-m.timerEvents:
		if got != ev {
			t.Fatalf("event = %+v, want %+v", got, ev)
		}
	default:
		t.Fatal("expected event to be forwarded to the timerEvents channel")
	}
}

func TestSendNMTBuildsBroadcastFrame(t *testing.T) {
	bus := newLoopbackBus()
	m := New(bus, nil, Config{Workers: 1, WorkerQueueLen: 4}, nil)
	if err := m.SendNMT(5, 0); err != nil {
		t.Fatalf("SendNMT failed: %v", err)
	}
	if len(bus.sent) != 1 || bus.sent[0].ID != fcNMT {
		t.Fatalf("unexpected sent frames: %+v", bus.sent)
	}
}
