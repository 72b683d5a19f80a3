package sdo

import "github.com/marel/canmaster/pkg/frame"

// ServerUpload is the server side of an SDO upload (client reads an object,
// server streams it back). Structurally identical to ServerDownload with
// producer and consumer swapped: the server emits data instead of
// acknowledging it.
type ServerUpload struct {
	State  State
	Index  uint16
	Sub    uint8
	Data   []byte
	Offset int
}

// NewServerUpload returns a machine that will serve data to the client once
// the initiate-upload request arrives.
func NewServerUpload(data []byte) ServerUpload {
	return ServerUpload{State: StateStart, Data: data}
}

func (sm ServerUpload) Step(in frame.Frame) (ServerUpload, frame.Frame, bool) {
	if sm.State == StateStart {
		return sm.stepInit(in)
	}
	return sm.stepSegment(in)
}

func (sm ServerUpload) stepInit(in frame.Frame) (ServerUpload, frame.Frame, bool) {
	cs := frame.GetCs(in)
	if cs == frame.Abort {
		// No segment exchange has started yet: re-arm rather than latch a
		// terminal state, so the next initiate-upload request is served.
		sm.State = StateStart
		return sm, frame.Frame{}, false
	}
	if cs != frame.UlInitReq {
		sm.State = StateAbort
		return sm, abortFrame(frame.Index(in), frame.Sub(in), AbortInvalidCs), true
	}

	sm.Index = frame.Index(in)
	sm.Sub = frame.Sub(in)

	var out frame.Frame
	out = frame.SetCs(out, frame.UlInitRes)
	out = frame.SetMux(out, sm.Index, sm.Sub)

	if len(sm.Data) <= 4 {
		out = frame.SetExpedited(out, true)
		out = frame.SetIndicatedSize(out, true)
		out = frame.SetInitSize(out, uint8(4-len(sm.Data)))
		out = frame.SetData(out, sm.Data)
		sm.State = StateDone
		return sm, out, true
	}

	sm.State = StateSeg
	return sm, out, true
}

func (sm ServerUpload) stepSegment(in frame.Frame) (ServerUpload, frame.Frame, bool) {
	cs := frame.GetCs(in)
	if cs == frame.Abort {
		sm.State = StateRemoteAbort
		return sm, frame.Frame{}, false
	}
	if cs != frame.UlSegReq {
		sm.State = StateAbort
		return sm, abortFrame(sm.Index, sm.Sub, AbortInvalidCs), true
	}

	expectedToggle := sm.State == StateSegToggled
	if frame.IsToggled(in) != expectedToggle {
		sm.State = StateAbort
		return sm, abortFrame(sm.Index, sm.Sub, AbortToggleMismatch), true
	}

	remaining := sm.Data[sm.Offset:]
	chunk := remaining
	if len(chunk) > 7 {
		chunk = chunk[:7]
	}
	sm.Offset += len(chunk)
	last := sm.Offset >= len(sm.Data)

	var out frame.Frame
	out = frame.SetCs(out, frame.UlSegRes)
	out = frame.SetToggle(out, expectedToggle)
	out = frame.SetSegmentData(out, chunk)
	if last {
		out = frame.SetSegmentSize(out, uint8(7-len(chunk)))
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
