// Package sdoengine schedules SDO transfers on behalf of drivers: exactly
// one outstanding request per node, queued behind a small worker pool that
// performs the actual blocking transfer. It knows nothing about frame
// layout or the bus; that is delegated to a Transactor, so the engine
// itself stays testable with a fake.
package sdoengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/marel/canmaster/pkg/canerr"
)

// Transactor performs one blocking SDO transfer against a node. Real
// implementations drive the pkg/sdo client state machines against the
// transport; tests can supply a fake.
type Transactor interface {
	Upload(ctx context.Context, nodeID uint8, index uint16, sub uint8) ([]byte, error)
	Download(ctx context.Context, nodeID uint8, index uint16, sub uint8, data []byte) error
}

// Job is one queued SDO request.
type Job struct {
	NodeID  uint8
	Index   uint16
	Sub     uint8
	Upload  bool
	Data    []byte
	Result  chan Result
}

// Result is delivered on Job.Result once the transfer completes.
type Result struct {
	Data []byte
	Err  error
}

type nodeState struct {
	mu       sync.Mutex
	queue    []*Job
	inFlight bool
}

// Engine is the per-process SDO scheduler. One Engine serves every node the
// master manages.
type Engine struct {
	transactor Transactor
	logger     *slog.Logger
	queueLen   int

	mu    sync.Mutex
	nodes map[uint8]*nodeState
	order []uint8
	rr    int

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// New starts an Engine with nworkers worker goroutines, each request queue
// bounded to queueLen entries.
func New(transactor Transactor, nworkers, queueLen int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if nworkers < 1 {
		nworkers = 1
	}
	if queueLen < 1 {
		queueLen = 1024
	}
	e := &Engine{
		transactor: transactor,
		logger:     logger,
		queueLen:   queueLen,
		nodes:      make(map[uint8]*nodeState),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
	for i := 0; i < nworkers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// RegisterNode adds nodeID to the round-robin order. Submitting a job for
// an unregistered node registers it implicitly.
func (e *Engine) RegisterNode(nodeID uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registerLocked(nodeID)
}

func (e *Engine) registerLocked(nodeID uint8) *nodeState {
	if ns, ok := e.nodes[nodeID]; ok {
		return ns
	}
	ns := &nodeState{}
	e.nodes[nodeID] = ns
	e.order = append(e.order, nodeID)
	return ns
}

// Submit enqueues a job for its node, returning an error if that node's
// queue is already at capacity.
func (e *Engine) Submit(job *Job) error {
	e.mu.Lock()
	ns := e.registerLocked(job.NodeID)
	e.mu.Unlock()

	ns.mu.Lock()
	if len(ns.queue) >= e.queueLen {
		ns.mu.Unlock()
		return fmt.Errorf("sdoengine: node %d: %w", job.NodeID, canerr.ErrQueueFull)
	}
	ns.queue = append(ns.queue, job)
	ns.mu.Unlock()

	e.signal()
	return nil
}

// Upload is the convenience blocking form drivers use.
func (e *Engine) Upload(ctx context.Context, nodeID uint8, index uint16, sub uint8) ([]byte, error) {
	result := make(chan Result, 1)
	if err := e.Submit(&Job{NodeID: nodeID, Index: index, Sub: sub, Upload: true, Result: result}); err != nil {
		return nil, err
	}
	select {
	case r := <-result:
		return r.Data, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Download is the convenience blocking form drivers use.
func (e *Engine) Download(ctx context.Context, nodeID uint8, index uint16, sub uint8, data []byte) error {
	result := make(chan Result, 1)
	if err := e.Submit(&Job{NodeID: nodeID, Index: index, Sub: sub, Data: data, Result: result}); err != nil {
		return err
	}
	select {
	case r := <-result:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Stop halts the worker pool. Jobs already queued are abandoned.
func (e *Engine) Stop() {
	close(e.stop)
	e.wg.Wait()
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		nodeID, job, ok := e.next()
		if !ok {
			select {
			case <-e.wake:
				continue
			case <-e.stop:
				return
			}
		}

		var result Result
		ctx := context.Background()
		if job.Upload {
			result.Data, result.Err = e.transactor.Upload(ctx, nodeID, job.Index, job.Sub)
		} else {
			result.Err = e.transactor.Download(ctx, nodeID, job.Index, job.Sub, job.Data)
		}
		if job.Result != nil {
			job.Result <- result
		}
		e.complete(nodeID)
		e.signal()
	}
}

// next picks the next job to run, advancing the round-robin cursor past
// nodes with no queued work or an in-flight transfer.
func (e *Engine) next() (uint8, *Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.order)
	for i := 0; i < n; i++ {
		idx := (e.rr + i) % n
		nodeID := e.order[idx]
		ns := e.nodes[nodeID]

		ns.mu.Lock()
		if !ns.inFlight && len(ns.queue) > 0 {
			job := ns.queue[0]
			ns.queue = ns.queue[1:]
			ns.inFlight = true
			ns.mu.Unlock()
			e.rr = (idx + 1) % n
			return nodeID, job, true
		}
		ns.mu.Unlock()
	}
	return 0, nil, false
}

func (e *Engine) complete(nodeID uint8) {
	e.mu.Lock()
	ns := e.nodes[nodeID]
	e.mu.Unlock()

	ns.mu.Lock()
	ns.inFlight = false
	ns.mu.Unlock()
}
