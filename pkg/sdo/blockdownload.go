package sdo

import (
	"github.com/marel/canmaster/internal/crc"
	"github.com/marel/canmaster/internal/fifo"
	"github.com/marel/canmaster/pkg/frame"
)

// BlockSize is the number of sub-block segments acknowledged per round, the
// CiA 301 maximum.
const BlockSize = 127

// Block transfer command specifiers. Unlike expedited/segmented transfer,
// sub-block segments carry no command specifier at all: the first byte is
// a sequence number (see frame.SetSeqno). This fast path is not required to
// be bit-exact against CiA 301 (see Non-goals); it exists to exercise the
// teacher's CRC and staging-buffer machinery in the new domain.
const (
	BlockDlInitReq uint8 = 6 // CCS: initiate block download
	BlockDlRes     uint8 = 5 // SCS: initiate/sub-block response
	BlockDlEnd     uint8 = 6 // CCS: end block download (same cs as init, distinct state)
)

// ServerBlockDownload receives a block-transfer download: a run of
// unacknowledged sub-block segments followed by a single ack, repeated
// until the client signals end-of-block, then a final CRC check.
type ServerBlockDownload struct {
	State      State
	Index      uint16
	Sub        uint8
	CRCEnabled bool
	Data       []byte // populated once State == StateDone

	buf   *fifo.Fifo
	sum   crc.CRC16
	seqno uint8
}

// NewServerBlockDownload allocates a server-side block download with a
// staging buffer capacity of capacity bytes.
func NewServerBlockDownload(capacity int) *ServerBlockDownload {
	return &ServerBlockDownload{State: StateStart, buf: fifo.New(capacity)}
}

// drain moves everything staged in buf into Data.
func (sm *ServerBlockDownload) drain() {
	chunk := make([]byte, sm.buf.Occupied())
	sm.buf.Read(chunk)
	sm.Data = append(sm.Data, chunk...)
}

// Step advances the machine by one received frame, the same (state, frame)
// -> (state, frame) shape as the other SDO machines; it is not a pure
// function because the staging buffer and CRC accumulator are owned by the
// machine, but no state outside the receiver is touched.
func (sm *ServerBlockDownload) Step(in frame.Frame) (frame.Frame, bool) {
	switch sm.State {
	case StateStart:
		return sm.stepInit(in)
	case StateSeg:
		return sm.stepSubBlock(in)
	case StateSegToggled:
		return sm.stepEnd(in)
	default:
		return frame.Frame{}, false
	}
}

func (sm *ServerBlockDownload) stepInit(in frame.Frame) (frame.Frame, bool) {
	if frame.GetCs(in) == frame.Abort {
		sm.State = StateRemoteAbort
		return frame.Frame{}, false
	}
	if frame.GetCs(in) != BlockDlInitReq {
		sm.State = StateAbort
		return abortFrame(frame.Index(in), frame.Sub(in), AbortInvalidCs), true
	}
	sm.Index = frame.Index(in)
	sm.Sub = frame.Sub(in)
	sm.CRCEnabled = frame.IsToggled(in) // crc-enabled bit reuses the toggle-bit position on init
	sm.seqno = 0

	var out frame.Frame
	out = frame.SetCs(out, BlockDlRes)
	out = frame.SetMux(out, sm.Index, sm.Sub)
	out[4] = BlockSize
	sm.State = StateSeg
	return out, true
}

func (sm *ServerBlockDownload) stepSubBlock(in frame.Frame) (frame.Frame, bool) {
	last, seqno := frame.Seqno(in)
	if seqno == sm.seqno+1 {
		sm.seqno = seqno
		payload := in[1:8]
		sm.buf.Write(payload)
		sm.sum.Block(payload)
	}
	if !last && seqno < BlockSize {
		return frame.Frame{}, false // more segments expected before an ack
	}
	sm.drain()

	var out frame.Frame
	out = frame.SetCs(out, BlockDlRes)
	out[1] = sm.seqno
	out[2] = BlockSize
	if last {
		sm.State = StateSegToggled
	}
	sm.seqno = 0
	return out, true
}

func (sm *ServerBlockDownload) stepEnd(in frame.Frame) (frame.Frame, bool) {
	if frame.GetCs(in) == frame.Abort {
		sm.State = StateRemoteAbort
		return frame.Frame{}, false
	}
	if frame.GetCs(in) != BlockDlEnd {
		sm.State = StateAbort
		return abortFrame(sm.Index, sm.Sub, AbortInvalidCs), true
	}
	if sm.CRCEnabled {
		expected := uint16(in[1]) | uint16(in[2])<<8
		if uint16(sm.sum) != expected {
			sm.State = StateAbort
			return abortFrame(sm.Index, sm.Sub, AbortGeneral), true
		}
	}
	if unused := int(in[3]); unused > 0 && unused <= len(sm.Data) {
		sm.Data = sm.Data[:len(sm.Data)-unused]
	}
	var out frame.Frame
	out = frame.SetCs(out, BlockDlRes)
	sm.State = StateDone
	return out, true
}
