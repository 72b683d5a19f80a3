package supervisor

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/marel/canmaster/pkg/canerr"
	"github.com/marel/canmaster/pkg/driver"
	"github.com/marel/canmaster/pkg/eds"
)

// Uploader is the SDO client capability the supervisor needs to run the
// boot sequence and to hand drivers an SDO handle; pkg/sdoengine.Engine
// satisfies it.
type Uploader interface {
	Upload(ctx context.Context, nodeID uint8, index uint16, sub uint8) ([]byte, error)
	Download(ctx context.Context, nodeID uint8, index uint16, sub uint8, data []byte) error
}

// Sender emits NMT command and node-guard frames. pkg/master supplies the
// real implementation bound to the transport.
type Sender interface {
	SendNMT(cmd Command, nodeID uint8) error
	SendNodeGuard(nodeID uint8) error
}

// Table is the master's fixed node table: 127 addressable slots, dormant
// until a node announces itself.
type Table struct {
	nodes [128]*Node // index 0 unused; NodeId is in [1,127]

	eds         *eds.Database
	sdo         Uploader
	sender      Sender
	logger      *slog.Logger
	ntimeoutsMax uint32

	heartbeatTimeout time.Duration
	guardPeriod      time.Duration
	driverSDOTimeout time.Duration
	bootRetryBase    time.Duration
	bootRetryMax     time.Duration

	sink TimerSink
}

// Config bundles the tunables the CLI exposes for node supervision.
type Config struct {
	NTimeoutsMax     uint32
	HeartbeatTimeout time.Duration
	GuardPeriod      time.Duration
	DriverSDOTimeout time.Duration
	BootRetryBase    time.Duration
	BootRetryMax     time.Duration
}

// NewTable builds a node table backed by the given EDS database and SDO
// uploader, ready to have nodes booted into it.
func NewTable(db *eds.Database, sdo Uploader, sender Sender, cfg Config, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = 2 * time.Second
	}
	if cfg.GuardPeriod == 0 {
		cfg.GuardPeriod = time.Second
	}
	if cfg.DriverSDOTimeout == 0 {
		cfg.DriverSDOTimeout = 2 * time.Second
	}
	if cfg.BootRetryBase == 0 {
		cfg.BootRetryBase = time.Second
	}
	if cfg.BootRetryMax == 0 {
		cfg.BootRetryMax = 30 * time.Second
	}
	t := &Table{
		eds:              db,
		sdo:              sdo,
		sender:           sender,
		logger:           logger,
		ntimeoutsMax:     cfg.NTimeoutsMax,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		guardPeriod:      cfg.GuardPeriod,
		driverSDOTimeout: cfg.DriverSDOTimeout,
		bootRetryBase:    cfg.BootRetryBase,
		bootRetryMax:     cfg.BootRetryMax,
	}
	return t
}

// Node returns the slot for id, addressable only within [1, 127].
func (t *Table) Node(id uint8) (*Node, bool) {
	if id < 1 || id > 127 {
		return nil, false
	}
	if t.nodes[id] == nil {
		t.nodes[id] = NewNode(id)
	}
	return t.nodes[id], true
}

// Each calls fn for every non-dormant node, in ascending id order.
func (t *Table) Each(fn func(*Node)) {
	for id := 1; id <= 127; id++ {
		if n := t.nodes[id]; n != nil && n.State != StateDormant {
			fn(n)
		}
	}
}

// mandatoryIdentityObjects are the objects the boot sequence uploads before
// a driver can be bound. 0x1018 sub1-3 (vendor, product, revision) are
// mandatory: without them the EDS lookup cannot run. sub4 (serial number)
// is best-effort and its failure does not fail the boot.
var mandatoryIdentityObjects = []struct {
	index uint16
	sub   uint8
}{
	{0x1000, 0}, // device type
	{0x1008, 0}, // product name
	{0x1009, 0}, // hardware version
	{0x100A, 0}, // software version
	{0x1018, 1}, // vendor id
	{0x1018, 2}, // product code
	{0x1018, 3}, // revision number
	{0x1018, 4}, // serial number, best-effort
}

// Boot runs the boot sequence for a node that has just announced itself
// via a boot-up or first heartbeat frame: it fetches the mandatory identity
// objects, then binds a driver by consulting the EDS database. On any
// failure the node is left in Loading for the caller to retry.
func (t *Table) Boot(ctx context.Context, nodeID uint8) error {
	node, ok := t.Node(nodeID)
	if !ok {
		return fmt.Errorf("supervisor: node id %d out of range: %w", nodeID, canerr.ErrConfig)
	}
	node.MarkLoading()

	values := make(map[uint16]map[uint8][]byte)
	for _, obj := range mandatoryIdentityObjects {
		data, err := t.sdo.Upload(ctx, nodeID, obj.index, obj.sub)
		if err != nil {
			if obj.index == 0x1018 && obj.sub == 4 {
				continue // serial number is best-effort, not every stack implements it
			}
			t.logger.Warn("supervisor: boot upload failed", "node", nodeID, "index", obj.index, "sub", obj.sub, "error", err)
			node.MarkBootFailed(time.Now(), t.bootRetryBase, t.bootRetryMax)
			return err
		}
		if values[obj.index] == nil {
			values[obj.index] = make(map[uint8][]byte)
		}
		values[obj.index][obj.sub] = data
	}

	identity := Identity{
		DeviceType:   le32(values[0x1000][0]),
		Name:         string(values[0x1008][0]),
		HwVersion:    string(values[0x1009][0]),
		SwVersion:    string(values[0x100A][0]),
		VendorID:     le32(values[0x1018][1]),
		ProductCode:  le32(values[0x1018][2]),
		Revision:     le32(values[0x1018][3]),
		SerialNumber: le32(values[0x1018][4]),
	}

	var bound driver.Driver
	var matched *eds.Record
	if t.eds != nil {
		if rec, ok := t.eds.Find(int64(identity.VendorID), int64(identity.ProductCode), int64(identity.Revision)); ok {
			matched = rec
			handle := sdoHandle{nodeID: nodeID, sdo: t.sdo, timeout: t.driverSDOTimeout}
			d, err := driver.Bind(identity.VendorID, identity.ProductCode, driver.Node{ID: nodeID, EDS: rec, SDO: handle})
			if err != nil {
				t.logger.Warn("supervisor: no driver bound", "node", nodeID, "vendor", identity.VendorID, "product", identity.ProductCode, "error", err)
			} else {
				bound = d
			}
		}
	}

	node.CompleteBoot(identity, matched, bound)
	t.armGuardPoll(node, nodeID)
	return nil
}

// sdoHandle adapts the context-aware Uploader to the context-free
// driver.SDOClient a bound driver calls into, per §4.7's SdoQueueHandle.
type sdoHandle struct {
	nodeID  uint8
	sdo     Uploader
	timeout time.Duration
}

func (h sdoHandle) Upload(index uint16, sub uint8) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	return h.sdo.Upload(ctx, h.nodeID, index, sub)
}

func (h sdoHandle) Download(index uint16, sub uint8, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	return h.sdo.Download(ctx, h.nodeID, index, sub, data)
}

func le32(b []byte) uint32 {
	var buf [4]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint32(buf[:])
}

// OnHeartbeat is called when a heartbeat (or boot-up) frame arrives from
// nodeID carrying the given NMT state byte.
func (t *Table) OnHeartbeat(ctx context.Context, nodeID uint8, nmtState uint8) {
	node, ok := t.Node(nodeID)
	if !ok {
		return
	}
	node.MarkHeartbeatSupported()
	t.armHeartbeatTimer(node, nodeID)
	t.stopGuardPoll(node)

	if node.State == StateDormant {
		go func() {
			if err := t.Boot(ctx, nodeID); err != nil {
				t.logger.Warn("supervisor: boot sequence failed, will retry after backoff", "node", nodeID, "error", err)
			}
		}()
		return
	}

	switch nmtState {
	case 0x05: // CiA 301 heartbeat state: operational
		node.SetOperational()
	case 0x04: // CiA 301 heartbeat state: stopped
		node.SetStopped()
	default:
		node.SetPreOperational()
	}
}

// OnGuardReply handles a node-guarding status byte, applying the
// ZeroGuardStatus quirk where configured.
func (t *Table) OnGuardReply(nodeID uint8, status uint8) {
	node, ok := t.Node(nodeID)
	if !ok {
		return
	}
	if status == 0 {
		if !node.HasQuirk(ZeroGuardStatus) {
			t.OnTimeout(nodeID)
			return
		}
		node.SetOperational()
		return
	}
	node.SetOperational()
}

// OnTimeout records an SDO or heartbeat timeout against nodeID, escalating
// to a forced Reset-Node once NTimeoutsMax is crossed.
func (t *Table) OnTimeout(nodeID uint8) {
	node, ok := t.Node(nodeID)
	if !ok {
		return
	}
	if node.RecordTimeout(t.ntimeoutsMax) {
		t.logger.Warn("supervisor: ntimeouts exceeded, forcing reset", "node", nodeID)
		_ = t.sender.SendNMT(CommandResetNode, nodeID)
		node.Demote()
	}
}

// Command issues an NMT command to one node (nodeID > 0) or broadcast
// (nodeID == 0).
func (t *Table) Command(cmd Command, nodeID uint8) error {
	return t.sender.SendNMT(cmd, nodeID)
}
