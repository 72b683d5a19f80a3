// Package pdo relays Process Data Objects: cyclic, unconfirmed I/O frames
// dispatched straight to a bound driver's RPDO callbacks, plus a decode
// helper for displaying a TPDO/RPDO's mapped variables (used by the REST
// admin interface).
package pdo

import (
	"encoding/binary"
	"fmt"
)

// Number of PDO slots this master relays, mirroring the corpus' own
// MinRpdoNumber/MaxRpdoNumber range restricted to the four standard slots
// (0x1400-0x1403 / 0x1800-0x1803) most devices implement.
const (
	NumSlots = 4

	RPDOCommBase    uint16 = 0x1400
	RPDOMappingBase uint16 = 0x1600
	TPDOCommBase    uint16 = 0x1800
	TPDOMappingBase uint16 = 0x1A00
)

// MappedVariable is one entry of a PDO's mapping table: an object
// dictionary reference packed as (index, sub, length in bits).
type MappedVariable struct {
	Index      uint16
	Sub        uint8
	LengthBits uint8
}

// Mapping describes one configured PDO: its COB-ID, transmission type, and
// the variables packed into its up-to-8-byte payload in order.
type Mapping struct {
	CobID            uint32
	TransmissionType uint8
	InhibitTimeUs    uint32
	EventTimerUs     uint32
	Mapped           []MappedVariable
}

// DecodeMappingEntry unpacks one of a PDO's 0x16xx/0x1Axx sub-entries: the
// 32-bit value packs index (bits 31:16), sub-index (bits 15:8), and length
// in bits (bits 7:0), per CiA 301.
func DecodeMappingEntry(raw uint32) MappedVariable {
	return MappedVariable{
		Index:      uint16(raw >> 16),
		Sub:        uint8(raw >> 8),
		LengthBits: uint8(raw),
	}
}

// EncodeMappingEntry is the inverse of DecodeMappingEntry.
func EncodeMappingEntry(v MappedVariable) uint32 {
	return uint32(v.Index)<<16 | uint32(v.Sub)<<8 | uint32(v.LengthBits)
}

// Slice returns the bytes of payload that mapped variable index i occupies,
// given the mapping's variable list in order. Bit-level (sub-byte) mappings
// are not split further: LengthBits is expected to be a multiple of 8 for
// every mapped variable this master relays, matching the Non-goal that
// excludes bit-packed PDO mapping.
func Slice(mapped []MappedVariable, i int, payload []byte) ([]byte, error) {
	if i < 0 || i >= len(mapped) {
		return nil, fmt.Errorf("pdo: mapped variable index %d out of range", i)
	}
	offset := 0
	for j := 0; j < i; j++ {
		offset += int(mapped[j].LengthBits) / 8
	}
	length := int(mapped[i].LengthBits) / 8
	if offset+length > len(payload) {
		return nil, fmt.Errorf("pdo: mapping overruns %d-byte payload", len(payload))
	}
	return payload[offset : offset+length], nil
}

// DecodeU32LE is a convenience used by the REST admin interface to render
// a mapped variable's value for display.
func DecodeU32LE(b []byte) uint32 {
	var buf [4]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint32(buf[:])
}

// CobIDToSlot maps a received COB-ID to one of the four RPDO slots this
// master relays (0-3), or -1 if it does not match any configured RPDO.
func CobIDToSlot(cobID uint32, mappings [NumSlots]*Mapping) int {
	for i, m := range mappings {
		if m != nil && m.CobID == cobID {
			return i
		}
	}
	return -1
}
