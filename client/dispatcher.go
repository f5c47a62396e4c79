package client

import (
	"sync"

	"github.com/pkg/errors"

	"httpcore/lib/ds/queue"
)

const (
	DefaultMaxRequests        = 64
	DefaultMaxRequestsPerHost = 5
)

// Dispatcher schedules asynchronous calls. Calls run immediately when
// both the global and the per-host cap allow it; the rest wait in
// arrival order. Synchronous calls are only registered so they count
// and can be cancelled by tag.
//
// Per-host counting keys on the URL host string, not the resolved IP,
// so concurrency against one IP serving many names may exceed the cap.
type Dispatcher struct {
	mu                 sync.Mutex
	maxRequests        int
	maxRequestsPerHost int

	ready        *queue.Deque[*AsyncCall]
	running      *queue.Deque[*AsyncCall]
	executedSync *queue.Deque[*Call]
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		maxRequests:        DefaultMaxRequests,
		maxRequestsPerHost: DefaultMaxRequestsPerHost,
		ready:              queue.New[*AsyncCall](0),
		running:            queue.New[*AsyncCall](0),
		executedSync:       queue.New[*Call](0),
	}
}

func (d *Dispatcher) enqueue(call *AsyncCall) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Len() < uint(d.maxRequests) && d.runningPerHostLocked(call.host()) < d.maxRequestsPerHost {
		d.running.PushBack(call)
		go call.run()
		return
	}
	d.ready.PushBack(call)
}

// finished removes a completed async call and promotes waiters.
func (d *Dispatcher) finished(call *AsyncCall) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.running.Remove(call)
	d.promoteCallsLocked()
}

func (d *Dispatcher) executed(call *Call) {
	d.mu.Lock()
	d.executedSync.PushBack(call)
	d.mu.Unlock()
}

func (d *Dispatcher) finishedSync(call *Call) {
	d.mu.Lock()
	d.executedSync.Remove(call)
	d.mu.Unlock()
}

func (d *Dispatcher) promoteCallsLocked() {
	if d.running.Len() >= uint(d.maxRequests) {
		return
	}

	for _, call := range d.ready.Snapshot() {
		if d.runningPerHostLocked(call.host()) >= d.maxRequestsPerHost {
			continue
		}

		d.ready.Remove(call)
		d.running.PushBack(call)
		go call.run()

		if d.running.Len() >= uint(d.maxRequests) {
			return
		}
	}
}

func (d *Dispatcher) runningPerHostLocked(host string) int {
	count := 0
	for _, call := range d.running.Snapshot() {
		if call.host() == host {
			count++
		}
	}
	return count
}

// CancelTag cancels every waiting, running, and synchronously
// executing call whose request carries the tag.
func (d *Dispatcher) CancelTag(tag any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, call := range d.ready.Snapshot() {
		if call.call.request.Tag() == tag {
			call.call.Cancel()
		}
	}
	for _, call := range d.running.Snapshot() {
		if call.call.request.Tag() == tag {
			call.call.Cancel()
		}
	}
	for _, call := range d.executedSync.Snapshot() {
		if call.request.Tag() == tag {
			call.Cancel()
		}
	}
}

// SetMaxRequests adjusts the global cap. Running calls over a lowered
// cap are not preempted.
func (d *Dispatcher) SetMaxRequests(n int) error {
	if n < 1 {
		return errors.Errorf("max requests must be positive: %d", n)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxRequests = n
	d.promoteCallsLocked()
	return nil
}

// SetMaxRequestsPerHost adjusts the per-host cap. Running calls over a
// lowered cap are not preempted.
func (d *Dispatcher) SetMaxRequestsPerHost(n int) error {
	if n < 1 {
		return errors.Errorf("max requests per host must be positive: %d", n)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxRequestsPerHost = n
	d.promoteCallsLocked()
	return nil
}

func (d *Dispatcher) MaxRequests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxRequests
}

func (d *Dispatcher) MaxRequestsPerHost() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxRequestsPerHost
}

func (d *Dispatcher) RunningCallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.running.Len()) + int(d.executedSync.Len())
}

func (d *Dispatcher) QueuedCallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.ready.Len())
}
