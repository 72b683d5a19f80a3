package sdo

import "github.com/marel/canmaster/pkg/frame"

// ServerDownload is the server side of an SDO download (client writes an
// object, server acknowledges each segment). It is the canonical exemplar
// of the four transfer machines: every transition is a pure function of the
// current state and the incoming frame.
type ServerDownload struct {
	State State
	Index uint16
	Sub   uint8
}

// NewServerDownload returns a machine ready to receive the initiate-download
// request.
func NewServerDownload() ServerDownload {
	return ServerDownload{State: StateStart}
}

// Step feeds one incoming frame to the machine and returns the next state
// along with the frame to send back, if any. It dispatches to the init or
// segment transition depending on where the machine currently sits.
func (sm ServerDownload) Step(in frame.Frame) (ServerDownload, frame.Frame, bool) {
	if sm.State == StateStart {
		return sm.stepInit(in)
	}
	return sm.stepSegment(in)
}

func (sm ServerDownload) stepInit(in frame.Frame) (ServerDownload, frame.Frame, bool) {
	cs := frame.GetCs(in)
	if cs == frame.Abort {
		// No segment exchange has started yet: re-arm rather than latch a
		// terminal state, so the next initiate-download request is served.
		sm.State = StateStart
		return sm, frame.Frame{}, false
	}
	if cs != frame.DlInitReq {
		sm.State = StateAbort
		return sm, abortFrame(frame.Index(in), frame.Sub(in), AbortInvalidCs), true
	}

	sm.Index = frame.Index(in)
	sm.Sub = frame.Sub(in)

	var out frame.Frame
	out = frame.SetCs(out, frame.DlInitRes)
	out = frame.SetMux(out, sm.Index, sm.Sub)
	sm.State = StateSeg
	return sm, out, true
}

func (sm ServerDownload) stepSegment(in frame.Frame) (ServerDownload, frame.Frame, bool) {
	cs := frame.GetCs(in)
	if cs == frame.Abort {
		sm.State = StateRemoteAbort
		return sm, frame.Frame{}, false
	}
	if cs != frame.DlSegReq {
		sm.State = StateAbort
		return sm, abortFrame(sm.Index, sm.Sub, AbortInvalidCs), true
	}

	expectedToggle := sm.State == StateSegToggled
	if frame.IsToggled(in) != expectedToggle {
		sm.State = StateAbort
		return sm, abortFrame(sm.Index, sm.Sub, AbortToggleMismatch), true
	}

	var out frame.Frame
	out = frame.SetCs(out, frame.DlSegRes)
	out = frame.SetToggle(out, expectedToggle)

	if frame.IsEndSegment(in) {
		out = frame.SetEndSegment(out, true)
		sm.State = StateDone
		return sm, out, true
	}

	if sm.State == StateSeg {
		sm.State = StateSegToggled
	} else {
		sm.State = StateSeg
	}
	return sm, out, true
}
