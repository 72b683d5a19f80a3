// Package frame implements the fixed 8-byte SDO frame layout from CiA 301:
// command specifier byte, multiplexer (index/subindex), and a data or abort
// code payload. Every helper here is a pure function over a value type so
// the SDO state machines built on top of it (pkg/sdo) stay pure themselves.
package frame

import "encoding/binary"

// SDO command specifiers. Client-to-server (CCS) and server-to-client (SCS)
// share the same numeric space except where CiA 301 assigns them
// differently (upload/download responses swap 0 and 1, 2 and 3).
const (
	DlInitReq = 1 // CCS: initiate download
	DlSegReq  = 0 // CCS: download segment
	UlInitReq = 2 // CCS: initiate upload
	UlSegReq  = 3 // CCS: upload segment
	Abort     = 4 // CCS/SCS: abort transfer

	UlInitRes = 2 // SCS: initiate upload response
	UlSegRes  = 0 // SCS: upload segment response
	DlInitRes = 3 // SCS: initiate download response
	DlSegRes  = 1 // SCS: download segment response
)

// Frame is the 8-byte SDO payload. Byte 0 is the command specifier byte;
// bytes 1-2 are the object index (little-endian); byte 3 is the sub-index;
// bytes 4-7 are either data or a little-endian abort code.
type Frame [8]byte

// SetCs writes the 3-bit command specifier into bits 7:5 of byte 0.
func SetCs(f Frame, cs uint8) Frame {
	f[0] = (f[0] &^ 0xE0) | ((cs & 0x07) << 5)
	return f
}

// GetCs reads the 3-bit command specifier from byte 0.
func GetCs(f Frame) uint8 {
	return (f[0] >> 5) & 0x07
}

// SetSegmentSize writes the 3-bit "number of bytes not used" field (0..7)
// into bits 3:1 of byte 0.
func SetSegmentSize(f Frame, n uint8) Frame {
	f[0] = (f[0] &^ 0x0E) | ((n & 0x07) << 1)
	return f
}

// GetSegmentSize reads the 3-bit segment-size field.
func GetSegmentSize(f Frame) uint8 {
	return (f[0] >> 1) & 0x07
}

// SetToggle sets or clears the toggle bit (bit 4).
func SetToggle(f Frame, toggled bool) Frame {
	if toggled {
		f[0] |= 1 << 4
	} else {
		f[0] &^= 1 << 4
	}
	return f
}

// IsToggled reports the toggle bit.
func IsToggled(f Frame) bool {
	return f[0]&(1<<4) != 0
}

// SetEndSegment sets or clears the segment "no more data" bit (bit 0).
func SetEndSegment(f Frame, end bool) Frame {
	return setBit0(f, end)
}

// IsEndSegment reports the segment "no more data" bit.
func IsEndSegment(f Frame) bool {
	return f[0]&0x01 != 0
}

// SetExpedited sets or clears the expedited-transfer bit (bit 1).
func SetExpedited(f Frame, expedited bool) Frame {
	if expedited {
		f[0] |= 1 << 1
	} else {
		f[0] &^= 1 << 1
	}
	return f
}

// IsExpedited reports the expedited-transfer bit.
func IsExpedited(f Frame) bool {
	return f[0]&(1<<1) != 0
}

// SetIndicatedSize sets or clears the "size indicated" bit (bit 0), shared
// bit position with SetEndSegment since the two never apply to the same
// frame kind (initiate vs. segment).
func SetIndicatedSize(f Frame, indicated bool) Frame {
	return setBit0(f, indicated)
}

// IsSizeIndicated reports the "size indicated" bit.
func IsSizeIndicated(f Frame) bool {
	return f[0]&0x01 != 0
}

// SetInitSize writes the 2-bit "number of bytes not used" field (0..3) an
// expedited initiate frame carries, into bits 3:2 of byte 0. It is distinct
// from SetSegmentSize (bits 3:1) so the two never collide with the
// expedited bit (bit 1), which only initiate frames set.
func SetInitSize(f Frame, n uint8) Frame {
	f[0] = (f[0] &^ 0x0C) | ((n & 0x03) << 2)
	return f
}

// InitSize reads the 2-bit initiate-frame size field.
func InitSize(f Frame) uint8 {
	return (f[0] >> 2) & 0x03
}

func setBit0(f Frame, set bool) Frame {
	if set {
		f[0] |= 0x01
	} else {
		f[0] &^= 0x01
	}
	return f
}

// SetSeqno writes a block-transfer sub-block segment header: the 7-bit
// sequence number and the "last segment of this sub-block" bit (bit 7).
// Sub-block segments carry no command specifier; the seqno occupies all of
// byte 0.
func SetSeqno(f Frame, last bool, seqno uint8) Frame {
	b := seqno & 0x7F
	if last {
		b |= 0x80
	}
	f[0] = b
	return f
}

// Seqno reads a block-transfer sub-block segment header.
func Seqno(f Frame) (last bool, seqno uint8) {
	return f[0]&0x80 != 0, f[0] & 0x7F
}

// SetMux writes the object index and sub-index (bytes 1-3).
func SetMux(f Frame, index uint16, sub uint8) Frame {
	binary.LittleEndian.PutUint16(f[1:3], index)
	f[3] = sub
	return f
}

// Index reads the object index (bytes 1-2).
func Index(f Frame) uint16 {
	return binary.LittleEndian.Uint16(f[1:3])
}

// Sub reads the sub-index (byte 3).
func Sub(f Frame) uint8 {
	return f[3]
}

// SetAbortCode writes a 32-bit abort code into bytes 4-7 (little-endian).
func SetAbortCode(f Frame, code uint32) Frame {
	binary.LittleEndian.PutUint32(f[4:8], code)
	return f
}

// GetAbortCode reads the 32-bit abort code from bytes 4-7.
func GetAbortCode(f Frame) uint32 {
	return binary.LittleEndian.Uint32(f[4:8])
}

// SetData copies up to 4 expedited data bytes into bytes 4-7, zero-padding
// the remainder.
func SetData(f Frame, data []byte) Frame {
	var buf [4]byte
	copy(buf[:], data)
	copy(f[4:8], buf[:])
	return f
}

// Data returns the 4 expedited data bytes (bytes 4-7).
func Data(f Frame) [4]byte {
	var buf [4]byte
	copy(buf[:], f[4:8])
	return buf
}

// SetSegmentData copies up to 7 segment data bytes into bytes 1-7,
// zero-padding the remainder.
func SetSegmentData(f Frame, data []byte) Frame {
	var buf [7]byte
	copy(buf[:], data)
	copy(f[1:8], buf[:])
	return f
}

// SegmentData returns the up-to-7 segment data bytes (bytes 1-7), trimmed to
// the length implied by the segment-size field when end is set, or the full
// 7 bytes otherwise.
func SegmentData(f Frame) []byte {
	length := 7
	if IsEndSegment(f) {
		length = 7 - int(GetSegmentSize(f))
		if length < 0 {
			length = 0
		}
	}
	out := make([]byte, length)
	copy(out, f[1:1+length])
	return out
}
