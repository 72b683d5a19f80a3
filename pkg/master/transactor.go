package master

import (
	"context"
	"fmt"

	"github.com/marel/canmaster/pkg/canerr"
	"github.com/marel/canmaster/pkg/frame"
	"github.com/marel/canmaster/pkg/sdo"
	"github.com/marel/canmaster/pkg/transport"
)

// Upload implements sdoengine.Transactor by driving a ClientUpload state
// machine against the bus, bounded by the master's per-job SDO timeout.
func (m *Master) Upload(ctx context.Context, nodeID uint8, index uint16, sub uint8) ([]byte, error) {
	sm := sdo.NewClientUpload(index, sub)
	sm, out := sm.Start()
	if err := m.sendSDORequest(nodeID, out); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.sdoTimeout)
	defer cancel()

	for {
		in, err := m.awaitSDOReply(ctx, nodeID)
		if err != nil {
			m.abortSDO(nodeID, index, sub)
			m.table.OnTimeout(nodeID)
			return nil, err
		}

		var next frame.Frame
		var hasOut bool
		sm, next, hasOut = sm.Step(in)

		// An abort answering the initiate request re-arms the machine to
		// START; it still ends this transfer as an abort.
		if sm.State.Done() || sm.State == sdo.StateStart {
			if sm.State != sdo.StateDone {
				return nil, &canerr.SdoAbort{NodeID: nodeID, Index: index, Sub: sub, Code: frame.GetAbortCode(in)}
			}
			return sm.Data, nil
		}
		if hasOut {
			if err := m.sendSDORequest(nodeID, next); err != nil {
				return nil, err
			}
		}
	}
}

// Download implements sdoengine.Transactor by driving a ClientDownload
// state machine against the bus.
func (m *Master) Download(ctx context.Context, nodeID uint8, index uint16, sub uint8, data []byte) error {
	sm := sdo.NewClientDownload(index, sub, data)
	sm, out := sm.Start()
	if err := m.sendSDORequest(nodeID, out); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.sdoTimeout)
	defer cancel()

	for {
		in, err := m.awaitSDOReply(ctx, nodeID)
		if err != nil {
			m.abortSDO(nodeID, index, sub)
			m.table.OnTimeout(nodeID)
			return err
		}

		var next frame.Frame
		var hasOut bool
		sm, next, hasOut = sm.Step(in)

		// An abort answering the initiate request re-arms the machine to
		// START; it still ends this transfer as an abort.
		if sm.State.Done() || sm.State == sdo.StateStart {
			if sm.State != sdo.StateDone {
				return &canerr.SdoAbort{NodeID: nodeID, Index: index, Sub: sub, Code: frame.GetAbortCode(in)}
			}
			return nil
		}
		if hasOut {
			if err := m.sendSDORequest(nodeID, next); err != nil {
				return err
			}
		}
	}
}

func (m *Master) sendSDORequest(nodeID uint8, f frame.Frame) error {
	var out transport.Frame
	out.ID = fcSDORx | uint32(nodeID)
	out.DLC = 8
	out.Data = [8]byte(f)
	return m.bus.Send(out)
}

func (m *Master) awaitSDOReply(ctx context.Context, nodeID uint8) (frame.Frame, error) {
	select {
	case tf := <-m.replyChan(nodeID):
		return frame.Frame(tf.Data), nil
	case <-ctx.Done():
		return frame.Frame{}, fmt.Errorf("sdo: node %d: %w: %w", nodeID, canerr.ErrTimeout, ctx.Err())
	}
}

// abortSDO emits a client-side ABORT frame with TIMEOUT on cancellation.
func (m *Master) abortSDO(nodeID uint8, index uint16, sub uint8) {
	var f frame.Frame
	f = frame.SetCs(f, frame.Abort)
	f = frame.SetMux(f, index, sub)
	f = frame.SetAbortCode(f, sdo.AbortTimeout)
	_ = m.sendSDORequest(nodeID, f)
}
