package supervisor

import (
	"sync"
	"time"

	"github.com/marel/canmaster/pkg/driver"
	"github.com/marel/canmaster/pkg/eds"
)

// Quirk is a per-node tolerance bit the supervisor applies to otherwise
// strict protocol handling.
type Quirk uint8

const (
	// ZeroGuardStatus tolerates a zero node-guarding status byte as
	// "Operational" instead of rejecting it. Some older slave stacks send
	// an uninitialized zero byte on their first guard reply.
	ZeroGuardStatus Quirk = 1 << iota
)

// Identity is the device identity fetched during boot, mirroring 0x1000,
// 0x1008-0x100A and 0x1018's sub-entries.
type Identity struct {
	DeviceType   uint32
	VendorID     uint32
	ProductCode  uint32
	Revision     uint32
	SerialNumber uint32
	Name         string
	HwVersion    string
	SwVersion    string
}

// Node is one slot in the master's fixed node table, addressable by NodeId
// in [1, 127]. Its identity is its slot, not an allocation: a dormant slot
// simply has no driver bound.
type Node struct {
	mu sync.Mutex

	ID    uint8
	State NMTState
	Identity

	HeartbeatSupported bool
	Quirks             Quirk

	IsLoading bool
	NTimeouts uint32

	Driver driver.Driver
	eds    *eds.Record

	heartbeatTimer *time.Timer
	pingTimer      *time.Timer

	bootAttempts  uint32
	nextBootRetry time.Time
}

// EDSRecord returns the EDS record bound to this node during boot, or nil
// if the node is dormant or no matching record was found.
func (n *Node) EDSRecord() *eds.Record {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.eds
}

// NewNode returns a dormant node record for the given slot.
func NewNode(id uint8) *Node {
	return &Node{ID: id, State: StateDormant}
}

func (n *Node) HasQuirk(q Quirk) bool {
	return n.Quirks&q != 0
}

// MarkHeartbeatSupported records that this node produces heartbeats on its
// own, so the node-guarding fallback poll should not run against it.
func (n *Node) MarkHeartbeatSupported() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.HeartbeatSupported = true
}

// MarkBootFailed records a failed boot attempt and schedules the next retry
// with exponential backoff (base, doubling per attempt, capped at max). The
// node is left in Loading; retryLoadingBoots is what actually retries it.
func (n *Node) MarkBootFailed(now time.Time, base, max time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bootAttempts++
	backoff := base << (n.bootAttempts - 1)
	if backoff <= 0 || backoff > max {
		backoff = max
	}
	n.nextBootRetry = now.Add(backoff)
}

// DueForBootRetry reports whether a node still stuck in Loading has crossed
// its scheduled retry time.
func (n *Node) DueForBootRetry(now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.State == StateLoading && !n.nextBootRetry.IsZero() && !now.Before(n.nextBootRetry)
}

// MarkLoading transitions the node into Loading, the state it occupies
// while the boot sequence's mandatory SDO reads are outstanding. Driver
// state must not be mutated while IsLoading is set.
func (n *Node) MarkLoading() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.IsLoading = true
	n.State = StateLoading
}

// CompleteBoot binds identity, the matched EDS record (may be nil), and
// driver, clearing IsLoading.
func (n *Node) CompleteBoot(identity Identity, rec *eds.Record, d driver.Driver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Identity = identity
	n.eds = rec
	n.Driver = d
	n.IsLoading = false
	n.bootAttempts = 0
	n.nextBootRetry = time.Time{}
	n.State = StatePreOperational
}

// Demote moves the node back to Dormant, releasing its driver. Used on
// ntimeouts_max escalation and on explicit Reset-Node.
func (n *Node) Demote() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Driver != nil {
		n.Driver.Close()
		n.Driver = nil
	}
	n.eds = nil
	n.IsLoading = false
	n.NTimeouts = 0
	n.bootAttempts = 0
	n.nextBootRetry = time.Time{}
	n.State = StateDormant
}

// RecordTimeout increments NTimeouts and reports whether it has now crossed
// max, at which point the caller must force a Reset-Node.
func (n *Node) RecordTimeout(max uint32) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.NTimeouts++
	return n.NTimeouts > max
}

// SetOperational moves a booted node to Operational, typically on receipt
// of the NMT start-remote-node broadcast or an Enter-Operational echo.
func (n *Node) SetOperational() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.State == StatePreOperational || n.State == StateStopped {
		n.State = StateOperational
	}
}

func (n *Node) SetStopped() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.State = StateStopped
}

func (n *Node) SetPreOperational() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.State != StateDormant && n.State != StateLoading {
		n.State = StatePreOperational
	}
}
