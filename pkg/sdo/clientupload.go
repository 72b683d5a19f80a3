package sdo

import "github.com/marel/canmaster/pkg/frame"

// ClientUpload is the client side of an SDO upload: it requests an object
// and accumulates the server's segments into Data.
type ClientUpload struct {
	State State
	Index uint16
	Sub   uint8
	Data  []byte
}

// NewClientUpload returns a machine that will read the given object once
// Start is called.
func NewClientUpload(index uint16, sub uint8) ClientUpload {
	return ClientUpload{State: StateStart, Index: index, Sub: sub}
}

// Start produces the initiate-upload request.
func (sm ClientUpload) Start() (ClientUpload, frame.Frame) {
	var out frame.Frame
	out = frame.SetCs(out, frame.UlInitReq)
	out = frame.SetMux(out, sm.Index, sm.Sub)
	sm.State = StateInit
	return sm, out
}

// Step consumes the server's response to the last request and returns the
// next request to send, if the transfer is not yet complete or aborted.
func (sm ClientUpload) Step(in frame.Frame) (ClientUpload, frame.Frame, bool) {
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
		if cs != frame.UlInitRes {
			sm.State = StateAbort
			return sm, abortFrame(sm.Index, sm.Sub, AbortInvalidCs), true
		}
		if frame.IsExpedited(in) {
			n := 4 - int(frame.InitSize(in))
			if n < 0 {
				n = 0
			}
			d := frame.Data(in)
			sm.Data = append([]byte{}, d[:n]...)
			sm.State = StateDone
			return sm, frame.Frame{}, false
		}
		return sm.requestSegment(false)

	case StateSeg, StateSegToggled:
		if cs != frame.UlSegRes {
			sm.State = StateAbort
			return sm, abortFrame(sm.Index, sm.Sub, AbortInvalidCs), true
		}
		expectedToggle := sm.State == StateSegToggled
		if frame.IsToggled(in) != expectedToggle {
			sm.State = StateAbort
			return sm, abortFrame(sm.Index, sm.Sub, AbortToggleMismatch), true
		}
		sm.Data = append(sm.Data, frame.SegmentData(in)...)
		if frame.IsEndSegment(in) {
			sm.State = StateDone
			return sm, frame.Frame{}, false
		}
		return sm.requestSegment(!expectedToggle)

	default:
		return sm, frame.Frame{}, false
	}
}

func (sm ClientUpload) requestSegment(toggle bool) (ClientUpload, frame.Frame, bool) {
	var out frame.Frame
	out = frame.SetCs(out, frame.UlSegReq)
	out = frame.SetToggle(out, toggle)
	if toggle {
		sm.State = StateSegToggled
	} else {
		sm.State = StateSeg
	}
	return sm, out, true
}
