// Package eds loads CANopen Electronic Data Sheet files and answers
// object-dictionary lookups by device identity. Parsing uses the same
// gopkg.in/ini.v1 tokenizer the rest of the corpus reaches for; the package
// owns only the CANopen-specific section/key decoding on top of it.
package eds

import (
	"fmt"
	"sort"
)

// Access describes how a host may reach an object.
type Access uint8

const (
	AccessNone Access = iota
	AccessR
	AccessW
	AccessRW
	AccessConst
)

func (a Access) String() string {
	switch a {
	case AccessR:
		return "R"
	case AccessW:
		return "W"
	case AccessRW:
		return "RW"
	case AccessConst:
		return "Const"
	default:
		return "none"
	}
}

func decodeAccess(s string) Access {
	switch s {
	case "ro":
		return AccessR
	case "wo":
		return AccessW
	case "rw", "rwr", "rww":
		return AccessRW
	case "const":
		return AccessConst
	default:
		return AccessNone
	}
}

// ObjectDescriptor describes one entry (or sub-entry) of a device's object
// dictionary.
type ObjectDescriptor struct {
	DataType     uint16
	Access       Access
	Name         string
	DefaultValue string
	LowLimit     string
	HighLimit    string
	Unit         string
	Scaling      string
}

// packedKey orders the object tree by (index<<8)|sub, matching the index
// ahead of its sub-indices and sub-indices in ascending order.
func packedKey(index uint16, sub uint8) uint32 {
	return uint32(index)<<8 | uint32(sub)
}

// Record is one parsed .eds file: a device identity plus its object tree.
// The tree is an ordered map keyed by packedKey; duplicate keys (e.g. a
// [2000] and a [2000sub0] section in the same file) are last-writer-wins:
// the section parsed later replaces the earlier one.
type Record struct {
	Vendor   uint32
	Product  uint32
	Revision uint32
	Name     string

	keys []uint32
	objs map[uint32]ObjectDescriptor
}

func newRecord() *Record {
	return &Record{objs: make(map[uint32]ObjectDescriptor)}
}

// put inserts or overwrites the descriptor at (index, sub), inserting the
// key into the ascending key list only the first time it is seen.
func (r *Record) put(index uint16, sub uint8, desc ObjectDescriptor) {
	key := packedKey(index, sub)
	if _, exists := r.objs[key]; !exists {
		i := sort.Search(len(r.keys), func(i int) bool { return r.keys[i] >= key })
		r.keys = append(r.keys, 0)
		copy(r.keys[i+1:], r.keys[i:])
		r.keys[i] = key
	}
	r.objs[key] = desc
}

// Find packs (index, sub) and performs the ordered-map lookup.
func (r *Record) Find(index uint16, sub uint8) (ObjectDescriptor, bool) {
	desc, ok := r.objs[packedKey(index, sub)]
	return desc, ok
}

// Objects iterates the object tree in ascending packed-key order.
func (r *Record) Objects(fn func(index uint16, sub uint8, desc ObjectDescriptor)) {
	for _, key := range r.keys {
		fn(uint16(key>>8), uint8(key), r.objs[key])
	}
}

func (r *Record) String() string {
	return fmt.Sprintf("eds(%s vendor=%#x product=%#x revision=%d)", r.Name, r.Vendor, r.Product, r.Revision)
}
