package sdo

import "github.com/marel/canmaster/pkg/frame"

// ClientDownload is the client side of an SDO download: it issues the
// initiate and segment requests and validates the server's acknowledgments.
// Unlike the server machines it must also produce the first outgoing frame
// before any input exists, hence Start.
type ClientDownload struct {
	State  State
	Index  uint16
	Sub    uint8
	Data   []byte
	Offset int
}

// NewClientDownload returns a machine that will write data to the given
// object once Start is called.
func NewClientDownload(index uint16, sub uint8, data []byte) ClientDownload {
	return ClientDownload{State: StateStart, Index: index, Sub: sub, Data: data}
}

// Start produces the initiate-download request. Call it once before feeding
// any responses to Step.
func (sm ClientDownload) Start() (ClientDownload, frame.Frame) {
	var out frame.Frame
	out = frame.SetCs(out, frame.DlInitReq)
	out = frame.SetMux(out, sm.Index, sm.Sub)
	if len(sm.Data) <= 4 {
		out = frame.SetExpedited(out, true)
		out = frame.SetIndicatedSize(out, true)
		out = frame.SetInitSize(out, uint8(4-len(sm.Data)))
		out = frame.SetData(out, sm.Data)
	}
	sm.State = StateInit
	return sm, out
}

// Step consumes the server's response to the last request and, unless the
// transfer is finished or aborted, returns the next request to send.
func (sm ClientDownload) Step(in frame.Frame) (ClientDownload, frame.Frame, bool) {
	cs := frame.GetCs(in)
	if cs == frame.Abort {
		if sm.State == StateInit {
			// No segment exchange has started yet: re-arm rather than latch
			// a terminal state, so the transfer can be retried from Start.
			sm.State = StateStart
			return sm, frame.Frame{}, false
		}
		sm.State = StateRemoteAbort
		return sm, frame.Frame{}, false
	}

	switch sm.State {
	case StateInit:
		if cs != frame.DlInitRes {
			sm.State = StateAbort
			return sm, abortFrame(sm.Index, sm.Sub, AbortInvalidCs), true
		}
		if len(sm.Data) <= 4 {
			sm.State = StateDone
			return sm, frame.Frame{}, false
		}
		return sm.sendSegment(false)

	case StateSeg, StateSegToggled:
		if cs != frame.DlSegRes {
			sm.State = StateAbort
			return sm, abortFrame(sm.Index, sm.Sub, AbortInvalidCs), true
		}
		sentToggle := sm.State == StateSegToggled
		if frame.IsToggled(in) != sentToggle {
			sm.State = StateAbort
			return sm, abortFrame(sm.Index, sm.Sub, AbortToggleMismatch), true
		}
		if sm.Offset >= len(sm.Data) {
			sm.State = StateDone
			return sm, frame.Frame{}, false
		}
		return sm.sendSegment(!sentToggle)

	default:
		return sm, frame.Frame{}, false
	}
}

func (sm ClientDownload) sendSegment(toggle bool) (ClientDownload, frame.Frame, bool) {
	remaining := sm.Data[sm.Offset:]
	chunk := remaining
	if len(chunk) > 7 {
		chunk = chunk[:7]
	}
	sm.Offset += len(chunk)
	last := sm.Offset >= len(sm.Data)

	var out frame.Frame
	out = frame.SetCs(out, frame.DlSegReq)
	out = frame.SetToggle(out, toggle)
	out = frame.SetSegmentData(out, chunk)
	if last {
		out = frame.SetSegmentSize(out, uint8(7-len(chunk)))
		out = frame.SetEndSegment(out, true)
	}

	if toggle {
		sm.State = StateSegToggled
	} else {
		sm.State = StateSeg
	}
	return sm, out, true
}
