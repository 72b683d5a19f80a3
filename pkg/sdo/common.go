// Package sdo implements the four CANopen SDO transfer state machines —
// server download, server upload, client download, client upload, each in
// both expedited and segmented form — as pure functions of
// (state, input frame) -> (next state, output frame). None of the types
// here touch the bus, a clock, or any other external state; that is left to
// pkg/master's Upload/Download, which drive the client machines against a
// real transport on behalf of pkg/sdoengine's workers.
package sdo

import "github.com/marel/canmaster/pkg/frame"

// State is a node in one of the four SDO transfer state machines. All four
// machines share the same shape (see State constants below), which is why
// a single type serves all of them.
type State uint8

const (
	StateStart State = iota
	StateInit
	StateSeg
	StateSegToggled
	StateDone
	StateAbort
	StateRemoteAbort
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateInit:
		return "INIT"
	case StateSeg:
		return "SEG"
	case StateSegToggled:
		return "SEG_TOGGLED"
	case StateDone:
		return "DONE"
	case StateAbort:
		return "ABORT"
	case StateRemoteAbort:
		return "REMOTE_ABORT"
	default:
		return "UNKNOWN"
	}
}

// Done reports whether the state machine has stopped producing further
// transitions (successfully or not).
func (s State) Done() bool {
	return s == StateDone || s == StateAbort || s == StateRemoteAbort
}

// Abort codes used by the state machines. Values are the 32-bit CANopen SDO
// abort codes from CiA 301.
const (
	AbortToggleMismatch   uint32 = 0x05030000
	AbortTimeout          uint32 = 0x05040000
	AbortInvalidCs        uint32 = 0x05040001
	AbortOutOfMemory      uint32 = 0x05040005
	AbortUnsupportedAccess uint32 = 0x06010000
	AbortWriteOnly        uint32 = 0x06010001
	AbortReadOnly         uint32 = 0x06010002
	AbortNotFound         uint32 = 0x06020000
	AbortDataTypeMismatch uint32 = 0x06070010
	AbortDataLong         uint32 = 0x06070012
	AbortDataShort        uint32 = 0x06070013
	AbortGeneral          uint32 = 0x08000000
)

var abortDescriptions = map[uint32]string{
	AbortToggleMismatch:    "toggle bit not alternated",
	AbortTimeout:           "SDO protocol timed out",
	AbortInvalidCs:         "command specifier not valid or unknown",
	AbortOutOfMemory:       "out of memory",
	AbortUnsupportedAccess: "unsupported access to an object",
	AbortWriteOnly:         "attempt to read a write-only object",
	AbortReadOnly:          "attempt to write a read-only object",
	AbortNotFound:          "object does not exist in the object dictionary",
	AbortDataTypeMismatch:  "data type does not match",
	AbortDataLong:          "data type does not match, length too high",
	AbortDataShort:         "data type does not match, length too short",
	AbortGeneral:           "general error",
}

// AbortDescription returns a human-readable description of an abort code,
// falling back to a generic message for codes not in the standard table.
func AbortDescription(code uint32) string {
	if desc, ok := abortDescriptions[code]; ok {
		return desc
	}
	return "unknown abort code"
}

// abortFrame builds a CS=Abort frame carrying mux and code, used by every
// machine's abort paths.
func abortFrame(index uint16, sub uint8, code uint32) frame.Frame {
	var f frame.Frame
	f = frame.SetCs(f, frame.Abort)
	f = frame.SetMux(f, index, sub)
	f = frame.SetAbortCode(f, code)
	return f
}
