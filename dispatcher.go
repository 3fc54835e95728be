package go_netdbreq

import (
	"sync"
	"sync/atomic"

	"github.com/gammazero/workerpool"
)

// dispatcher hands built lookups to the transport on a bounded worker pool,
// so a slow transport never holds up the maintenance pass.
type dispatcher struct {
	wp       *workerpool.WorkerPool
	inflight sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	submitted atomic.Int64
	completed atomic.Int64
}

func newDispatcher(workers int) *dispatcher {
	if workers <= 0 {
		workers = DEFAULT_DISPATCH_WORKERS
	}
	return &dispatcher{wp: workerpool.New(workers)}
}

// Submit queues task. Returns ErrManagerStopped once Stop has been called.
func (d *dispatcher) Submit(task func()) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrManagerStopped
	}
	d.submitted.Add(1)
	d.inflight.Add(1)
	d.wp.Submit(func() {
		defer d.inflight.Done()
		defer d.completed.Add(1)
		task()
	})
	return nil
}

// Flush blocks until every task submitted so far has run.
func (d *dispatcher) Flush() {
	d.inflight.Wait()
}

// Stop rejects new tasks and waits for queued ones to finish.
func (d *dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()
	d.wp.StopWait()
}

// Counts returns how many tasks were submitted and how many have run.
func (d *dispatcher) Counts() (submitted, completed uint64) {
	return uint64(d.submitted.Load()), uint64(d.completed.Load())
}

// Stopped reports whether Stop has been called.
func (d *dispatcher) Stopped() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stopped
}
