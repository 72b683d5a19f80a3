// Package emergency decodes EMCY frames and dispatches them to the
// offending node's bound driver.
package emergency

import (
	"encoding/binary"
	"fmt"
)

// ServiceId is the CANopen function code for EMCY; the low 7 bits of the
// frame's arbitration id carry the source node.
const ServiceId uint32 = 0x080

// Error register bits, CiA 301 §7.2.7.
const (
	ErrRegGeneric       = 0x01
	ErrRegCurrent       = 0x02
	ErrRegVoltage       = 0x04
	ErrRegTemperature   = 0x08
	ErrRegCommunication = 0x10
	ErrRegDevProfile    = 0x20
	ErrRegManufacturer  = 0x80
)

// Event is one decoded EMCY frame.
type Event struct {
	NodeID        uint8
	ErrorCode     uint16
	ErrorRegister uint8
	VendorData    [5]byte
}

// Decode parses an 8-byte EMCY payload: bytes 0-1 error code (LE), byte 2
// error register, bytes 3-7 manufacturer-specific data.
func Decode(nodeID uint8, payload [8]byte) (Event, error) {
	return Event{
		NodeID:        nodeID,
		ErrorCode:     binary.LittleEndian.Uint16(payload[0:2]),
		ErrorRegister: payload[2],
		VendorData:    [5]byte(payload[3:8]),
	}, nil
}

func (e Event) String() string {
	return fmt.Sprintf("EMCY node=%d code=%#04x register=%#02x", e.NodeID, e.ErrorCode, e.ErrorRegister)
}

// IsCommunicationError reports whether the error register's communication
// bit is set, the signal the supervisor treats as an implicit timeout.
func (e Event) IsCommunicationError() bool {
	return e.ErrorRegister&ErrRegCommunication != 0
}
