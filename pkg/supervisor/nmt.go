package supervisor

// Command is an NMT command, broadcast or addressed to one node.
type Command uint8

const (
	CommandEnterOperational    Command = 1
	CommandEnterStopped        Command = 2
	CommandEnterPreOperational Command = 128
	CommandResetNode           Command = 129
	CommandResetCommunication  Command = 130
)

// NMTState is one of the five states a node cycles through under this
// master's supervision. It intentionally collapses CiA 301's Initializing
// sub-states into Dormant/Loading, which this master tracks separately via
// Node.IsLoading.
type NMTState uint8

const (
	StateDormant NMTState = iota
	StateLoading
	StatePreOperational
	StateOperational
	StateStopped
)

func (s NMTState) String() string {
	switch s {
	case StateDormant:
		return "DORMANT"
	case StateLoading:
		return "LOADING"
	case StatePreOperational:
		return "PRE_OPERATIONAL"
	case StateOperational:
		return "OPERATIONAL"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// cobID for NMT command frames, per CiA 301 §4.6.
const NMTCobID uint32 = 0x000

// HeartbeatCobIDBase is the base COB-ID for the heartbeat/boot-up service;
// the low 7 bits carry the node id.
const HeartbeatCobIDBase uint32 = 0x700
