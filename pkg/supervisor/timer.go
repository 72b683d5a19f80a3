package supervisor

import (
	"context"
	"time"
)

// TimerKind identifies which recurring or one-shot per-node timer fired.
type TimerKind uint8

const (
	// TimerHeartbeatTimeout fires when heartbeat_timeout elapses without a
	// fresh heartbeat frame from the node.
	TimerHeartbeatTimeout TimerKind = iota
	// TimerGuardPoll fires periodically for a node that has not yet proven
	// it produces heartbeats, prompting a node-guard request.
	TimerGuardPoll
	// TimerBootRetry is a broadcast sweep: the event loop asks the table to
	// retry any node stuck in Loading whose backoff has elapsed.
	TimerBootRetry
)

// TimerEvent is what an armed timer's own goroutine posts. It carries no
// behavior itself — the sink is expected to forward it into the owning
// event loop, which is the only goroutine allowed to act on it, preserving
// the invariant that node-state mutation happens on one goroutine.
type TimerEvent struct {
	Kind   TimerKind
	NodeID uint8 // unused (0) for TimerBootRetry, a table-wide sweep
}

// TimerSink forwards a TimerEvent out of the timer goroutine that raised it
// and into whatever drives the event loop. pkg/master wires this to its
// merged select loop.
type TimerSink func(TimerEvent)

// SetTimerSink installs the sink timers post to. Must be called before any
// node reaches a state that arms a timer (i.e. before the table starts
// processing frames).
func (t *Table) SetTimerSink(sink TimerSink) {
	t.sink = sink
}

func (t *Table) postTimer(ev TimerEvent) {
	if t.sink != nil {
		t.sink(ev)
	}
}

// armHeartbeatTimer (re)arms node's heartbeat-loss timer for heartbeatTimeout,
// grounded on the teacher's hbConsumerEntry.restartTimeoutTimer.
func (t *Table) armHeartbeatTimer(node *Node, nodeID uint8) {
	node.mu.Lock()
	defer node.mu.Unlock()
	if node.heartbeatTimer == nil {
		node.heartbeatTimer = time.AfterFunc(t.heartbeatTimeout, func() {
			t.postTimer(TimerEvent{Kind: TimerHeartbeatTimeout, NodeID: nodeID})
		})
	} else {
		node.heartbeatTimer.Reset(t.heartbeatTimeout)
	}
}

// stopGuardPoll halts a node's periodic node-guard poll, called once it is
// known to produce its own heartbeats.
func (t *Table) stopGuardPoll(node *Node) {
	node.mu.Lock()
	defer node.mu.Unlock()
	if node.pingTimer != nil {
		node.pingTimer.Stop()
	}
}

// armGuardPoll (re)arms the node-guarding fallback timer for guardPeriod,
// unless the node has since proven it produces its own heartbeats.
func (t *Table) armGuardPoll(node *Node, nodeID uint8) {
	node.mu.Lock()
	defer node.mu.Unlock()
	if node.HeartbeatSupported {
		return
	}
	fire := func() { t.postTimer(TimerEvent{Kind: TimerGuardPoll, NodeID: nodeID}) }
	if node.pingTimer == nil {
		node.pingTimer = time.AfterFunc(t.guardPeriod, fire)
	} else {
		node.pingTimer.Reset(t.guardPeriod)
	}
}

// HandleTimerEvent runs on the event-loop goroutine in response to a
// TimerEvent forwarded through the sink. This is the only place timer
// expiry is allowed to mutate node state or emit bus traffic.
func (t *Table) HandleTimerEvent(ctx context.Context, ev TimerEvent) {
	switch ev.Kind {
	case TimerHeartbeatTimeout:
		t.OnTimeout(ev.NodeID)

	case TimerGuardPoll:
		node, ok := t.Node(ev.NodeID)
		if !ok {
			return
		}
		if err := t.sender.SendNodeGuard(ev.NodeID); err != nil {
			t.logger.Warn("supervisor: node-guard poll failed", "node", ev.NodeID, "error", err)
		}
		t.armGuardPoll(node, ev.NodeID)

	case TimerBootRetry:
		t.retryLoadingBoots(ctx)
	}
}

// retryLoadingBoots sweeps every slot for a node stuck in Loading whose
// backoff has elapsed and retries its boot sequence. Each retry runs in its
// own goroutine, matching how the first boot attempt is already kicked off
// from OnHeartbeat: the event loop only ever decides *that* a retry is due,
// never blocks waiting for its SDO traffic.
func (t *Table) retryLoadingBoots(ctx context.Context) {
	now := time.Now()
	for id := 1; id <= 127; id++ {
		node := t.nodes[id]
		if node == nil || !node.DueForBootRetry(now) {
			continue
		}
		nodeID := uint8(id)
		go func() {
			if err := t.Boot(ctx, nodeID); err != nil {
				t.logger.Warn("supervisor: boot retry failed", "node", nodeID, "error", err)
			}
		}()
	}
}
