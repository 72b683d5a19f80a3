package emergency

import "github.com/marel/canmaster/pkg/driver"

// Dispatch decodes an EMCY frame and forwards it to the node's bound
// driver. A communication-error EMCY additionally signals the supervisor
// via onTimeout, mirroring how a lost-communication EMCY implies the same
// escalation path as a heartbeat timeout.
func Dispatch(nodeID uint8, payload [8]byte, d driver.Driver, onTimeout func(nodeID uint8)) (Event, error) {
	event, err := Decode(nodeID, payload)
	if err != nil {
		return Event{}, err
	}
	if d != nil {
		d.Emergency(event.ErrorCode, event.ErrorRegister, event.VendorData)
	}
	if event.IsCommunicationError() && onTimeout != nil {
		onTimeout(nodeID)
	}
	return event, nil
}
