// Package master implements the single-threaded event loop that owns node
// state, timer programming, and driver-callback dispatch, flanked by the
// SDO worker pool which performs blocking transfers on separate goroutines.
// Master is the one explicit value this process holds its global state in;
// nothing here is an ambient singleton.
package master

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marel/canmaster/pkg/eds"
	"github.com/marel/canmaster/pkg/emergency"
	"github.com/marel/canmaster/pkg/pdo"
	"github.com/marel/canmaster/pkg/sdoengine"
	"github.com/marel/canmaster/pkg/supervisor"
	"github.com/marel/canmaster/pkg/transport"
)

// Function codes forming the high bits of a CANopen arbitration id; the
// low 7 bits carry the source/destination node id.
const (
	fcNMT   uint32 = 0x000
	fcSync  uint32 = 0x080
	fcEmcy  uint32 = 0x080
	fcPDO1  uint32 = 0x180
	fcPDO2  uint32 = 0x280
	fcPDO3  uint32 = 0x380
	fcPDO4  uint32 = 0x480
	fcSDOTx uint32 = 0x580 // server -> client (reply)
	fcSDORx uint32 = 0x600 // client -> server (request)
	fcHB    uint32 = 0x700
)

// Config bundles the tunables the CLI exposes.
type Config struct {
	Workers          int
	WorkerQueueLen   int
	RangeLo, RangeHi uint8
	Supervisor       supervisor.Config
	SDOTimeout       time.Duration
	BootRetryPeriod  time.Duration
	StatsTickPeriod  time.Duration
}

// Master owns every piece of process-wide state: the node table, the EDS
// database, the SDO engine, and the transport. It is constructed once by
// cmd/canmaster and passed explicitly to whatever needs it.
type Master struct {
	bus    transport.Bus
	eds    *eds.Database
	table  *supervisor.Table
	engine *sdoengine.Engine
	logger *slog.Logger

	rangeLo, rangeHi uint8
	sdoTimeout       time.Duration
	bootRetryPeriod  time.Duration
	statsTickPeriod  time.Duration

	mu      sync.Mutex
	replies map[uint8]chan transport.Frame

	timerEvents chan supervisor.TimerEvent
}

// New wires a Master together: the SDO engine's transactor sends and
// receives through bus, and the node table's sender issues NMT/guard
// frames through the same bus.
func New(bus transport.Bus, db *eds.Database, cfg Config, logger *slog.Logger) *Master {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("service", "master")
	if cfg.RangeHi == 0 {
		cfg.RangeLo, cfg.RangeHi = 1, 127
	}
	if cfg.SDOTimeout == 0 {
		cfg.SDOTimeout = 2 * time.Second
	}
	if cfg.BootRetryPeriod == 0 {
		cfg.BootRetryPeriod = time.Second
	}
	if cfg.StatsTickPeriod == 0 {
		cfg.StatsTickPeriod = 30 * time.Second
	}

	m := &Master{
		bus:             bus,
		eds:             db,
		logger:          logger,
		rangeLo:         cfg.RangeLo,
		rangeHi:         cfg.RangeHi,
		sdoTimeout:      cfg.SDOTimeout,
		bootRetryPeriod: cfg.BootRetryPeriod,
		statsTickPeriod: cfg.StatsTickPeriod,
		replies:         make(map[uint8]chan transport.Frame),
		timerEvents:     make(chan supervisor.TimerEvent, 64),
	}
	m.engine = sdoengine.New(m, cfg.Workers, cfg.WorkerQueueLen, logger.With("component", "sdoengine"))
	m.table = supervisor.NewTable(db, m.engine, m, cfg.Supervisor, logger.With("component", "supervisor"))
	m.table.SetTimerSink(m.postTimerEvent)
	return m
}

// postTimerEvent forwards a TimerEvent raised by one of the supervisor's
// own timer goroutines into the event loop's merged select, so that only
// Run's goroutine ever acts on it.
func (m *Master) postTimerEvent(ev supervisor.TimerEvent) {
	select {
	case m.timerEvents <- ev:
	default:
		m.logger.Warn("timer event dropped, event loop backlogged", "kind", ev.Kind, "node", ev.NodeID)
	}
}

// Table exposes the node table for the REST admin interface.
func (m *Master) Table() *supervisor.Table { return m.table }

// managed reports whether nodeID falls within the --range restriction.
func (m *Master) managed(nodeID uint8) bool {
	return nodeID >= m.rangeLo && nodeID <= m.rangeHi
}

// Run drives the event loop until ctx is cancelled or the transport fails.
// It is the only goroutine that ever calls bus.Send for NMT/guard traffic
// or mutates node state directly; SDO sends from the engine's workers go
// through the same bus but are demuxed back to the waiting worker, never
// touching driver callbacks directly. Besides inbound frames, the loop
// merges two recurring timers — a boot-retry sweep and a stats tick — and
// the supervisor's per-node heartbeat/guard timer events, so there is a
// single select-loop entry point for everything that can touch node state.
func (m *Master) Run(ctx context.Context) error {
	frames := make(chan transport.Frame)
	recvErr := make(chan error, 1)
	go func() {
		for {
			f, err := m.bus.Receive(ctx)
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	bootRetry := time.NewTicker(m.bootRetryPeriod)
	defer bootRetry.Stop()
	statsTick := time.NewTicker(m.statsTickPeriod)
	defer statsTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-recvErr:
			m.logger.Error("transport receive failed", "error", err)
			return err

		case f := <-frames:
			m.dispatch(ctx, f)

		case ev := <-m.timerEvents:
			m.table.HandleTimerEvent(ctx, ev)

		case <-bootRetry.C:
			m.table.HandleTimerEvent(ctx, supervisor.TimerEvent{Kind: supervisor.TimerBootRetry})

		case <-statsTick.C:
			m.logStats()
		}
	}
}

// logStats is the stats-tick timer's payload: a periodic structured summary
// of node states. The REST admin surface itself always reads live state on
// request (see pkg/restapi), so this tick's job is operational visibility
// in the logs rather than a separate push channel.
func (m *Master) logStats() {
	var loading, preop, operational, stopped int
	m.table.Each(func(n *supervisor.Node) {
		switch n.State {
		case supervisor.StateLoading:
			loading++
		case supervisor.StatePreOperational:
			preop++
		case supervisor.StateOperational:
			operational++
		case supervisor.StateStopped:
			stopped++
		}
	})
	m.logger.Info("node stats", "loading", loading, "pre_operational", preop, "operational", operational, "stopped", stopped)
}

func (m *Master) dispatch(ctx context.Context, f transport.Frame) {
	nodeID := uint8(f.ID & 0x7F)
	fc := f.ID &^ 0x7F

	if !m.managed(nodeID) && fc != fcNMT {
		return
	}

	switch fc {
	case fcHB:
		var status uint8
		if f.DLC > 0 {
			status = f.Data[0]
		}
		m.table.OnHeartbeat(ctx, nodeID, status)

	case fcEmcy:
		node, ok := m.table.Node(nodeID)
		if !ok {
			return
		}
		_, err := emergency.Dispatch(nodeID, f.Data, node.Driver, m.table.OnTimeout)
		if err != nil {
			m.logger.Warn("malformed EMCY frame", "node", nodeID, "error", err)
		}

	case fcPDO1, fcPDO2, fcPDO3, fcPDO4:
		node, ok := m.table.Node(nodeID)
		if !ok || node.Driver == nil {
			return
		}
		slot := map[uint32]int{fcPDO1: 0, fcPDO2: 1, fcPDO3: 2, fcPDO4: 3}[fc]
		pdo.Relay(node.Driver, slot, f.Data, f.DLC)

	case fcSDOTx:
		m.deliverReply(nodeID, f)
	}
}

func (m *Master) replyChan(nodeID uint8) chan transport.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.replies[nodeID]
	if !ok {
		ch = make(chan transport.Frame, 4)
		m.replies[nodeID] = ch
	}
	return ch
}

func (m *Master) deliverReply(nodeID uint8, f transport.Frame) {
	select {
	case m.replyChan(nodeID) <- f:
	default:
	}
}

// SendNMT implements supervisor.Sender.
func (m *Master) SendNMT(cmd supervisor.Command, nodeID uint8) error {
	var f transport.Frame
	f.ID = fcNMT
	f.DLC = 2
	f.Data[0] = byte(cmd)
	f.Data[1] = nodeID
	return m.bus.Send(f)
}

// SendNodeGuard implements supervisor.Sender: an RTR frame on the node's
// heartbeat COB-ID requests its guard status byte.
func (m *Master) SendNodeGuard(nodeID uint8) error {
	var f transport.Frame
	f.ID = fcHB | uint32(nodeID)
	f.RTR = true
	return m.bus.Send(f)
}

// Engine exposes the SDO engine for drivers and the REST admin interface.
func (m *Master) Engine() *sdoengine.Engine { return m.engine }
