// Package canerr collects the errors a caller needs to distinguish with
// errors.Is/errors.As, shared across the master, the SDO engine, the node
// supervisor, the EDS loader, and the CLI. Sentinel errors cover conditions
// with no extra data; typed errors carry the fields a caller needs to act
// on (an abort code, a file position, a wrapped cause).
package canerr

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when an SDO transfer exceeds its deadline,
	// including one issued by a boot step.
	ErrTimeout = errors.New("canmaster: operation timed out")

	// ErrQueueFull is returned when a node's SDO job queue is already at
	// capacity and Submit refuses to block.
	ErrQueueFull = errors.New("canmaster: job queue full")

	// ErrConfig is returned for a rejected command-line flag or an
	// out-of-range runtime parameter.
	ErrConfig = errors.New("canmaster: invalid configuration")
)

// SdoAbort reports an SDO transfer the remote terminated with an ABORT
// frame, carrying the CANopen abort code it gave.
type SdoAbort struct {
	NodeID uint8
	Index  uint16
	Sub    uint8
	Code   uint32
}

func (e *SdoAbort) Error() string {
	return fmt.Sprintf("sdo: node %d object %#x.%x aborted, code %#08x", e.NodeID, e.Index, e.Sub, e.Code)
}

// TransportError wraps a failure surfaced by the underlying CAN transport
// (SocketCAN, TCP tunnel), identifying which operation failed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// EdsParseError pins a malformed .eds file to the path that produced it and,
// where the parser can determine one, the offending line. Line is 0 when
// the underlying failure (e.g. a missing deviceinfo key) has no single
// line to blame.
type EdsParseError struct {
	Path string
	Line int
	Err  error
}

func (e *EdsParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("eds: %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("eds: %s: %v", e.Path, e.Err)
}
func (e *EdsParseError) Unwrap() error { return e.Err }
