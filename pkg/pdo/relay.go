package pdo

import "github.com/marel/canmaster/pkg/driver"

// Relay dispatches a received RPDO frame straight to the bound driver's
// matching callback, by slot, without reinterpreting the payload. Decoding
// individual mapped variables (via Slice/DecodeU32LE) is left to the
// driver or the REST admin interface.
func Relay(d driver.Driver, slot int, data [8]byte, dlc uint8) {
	if d == nil {
		return
	}
	switch slot {
	case 0:
		d.RPDO1(data, dlc)
	case 1:
		d.RPDO2(data, dlc)
	case 2:
		d.RPDO3(data, dlc)
	case 3:
		d.RPDO4(data, dlc)
	}
}
