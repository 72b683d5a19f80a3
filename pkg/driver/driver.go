// Package driver defines the contract a device driver implements and the
// static registry the master consults to bind one to a booted node. The
// spec allows a static registry keyed by (vendor, product) in place of
// dynamic plugin loading; this package is that substitute, grounded on the
// corpus' own RegisterInterface pattern for CAN bus bindings.
package driver

import (
	"fmt"

	"github.com/marel/canmaster/pkg/eds"
)

// SDOClient is the subset of the SDO request engine a driver is allowed to
// use: queue a blocking transfer on behalf of the node it was bound to.
type SDOClient interface {
	Upload(index uint16, sub uint8) ([]byte, error)
	Download(index uint16, sub uint8, data []byte) error
}

// Node is what a driver sees of the node it was bound to.
type Node struct {
	ID  uint8
	EDS *eds.Record
	SDO SDOClient
}

// Driver is a bound device driver instance: callbacks the master invokes as
// PDOs and emergency frames for the node arrive, plus a teardown hook. It
// exposes one receive callback per RPDO slot (1-4) rather than a single
// callback keyed by COB-ID, matching how the corpus' own driver plugins
// expose one method per PDO number.
type Driver interface {
	RPDO1(data [8]byte, dlc uint8)
	RPDO2(data [8]byte, dlc uint8)
	RPDO3(data [8]byte, dlc uint8)
	RPDO4(data [8]byte, dlc uint8)
	// Emergency is called once per EMCY frame from this node.
	Emergency(errorCode uint16, errorRegister uint8, vendorData [5]byte)
	// Close releases any resources the driver holds.
	Close()
}

// Factory constructs a Driver bound to node.
type Factory func(node Node) (Driver, error)

// key packs vendor and product into the registry's lookup key.
type key struct {
	vendor  uint32
	product uint32
}

var registry = make(map[key]Factory)

// Register adds a driver factory for the given (vendor, product) pair. As
// with the CAN interface registry, drivers register from an init function.
func Register(vendor, product uint32, factory Factory) {
	registry[key{vendor, product}] = factory
}

// Bind looks up the factory registered for (vendor, product) and, if
// found, constructs a driver bound to node.
func Bind(vendor, product uint32, node Node) (Driver, error) {
	factory, ok := registry[key{vendor, product}]
	if !ok {
		return nil, fmt.Errorf("driver: no driver registered for vendor %#x product %#x", vendor, product)
	}
	return factory(node)
}

// Registered reports whether a driver is available for (vendor, product)
// without constructing one.
func Registered(vendor, product uint32) bool {
	_, ok := registry[key{vendor, product}]
	return ok
}
